package connection

import "sync/atomic"

// LinkState gives Link implementations close-once semantics. Build it with
// NewLinkState.
type LinkState struct {
	identity Identity
	closed   *atomic.Bool
}

func NewLinkState(id Identity) LinkState {
	return LinkState{identity: id, closed: new(atomic.Bool)}
}

func (s LinkState) Identity() Identity {
	return s.identity
}

func (s LinkState) IsActive() bool {
	return !s.closed.Load()
}

// MarkClosed reports whether this call performed the close.
func (s LinkState) MarkClosed() bool {
	return s.closed.CompareAndSwap(false, true)
}
