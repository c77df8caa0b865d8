package connection

import (
	"time"

	"github.com/rs/zerolog/log"
)

// armTimeout replaces any pending timeout. The timer fires on its own
// goroutine and only posts; the generation check discards stale firings.
func (c *Connection) armTimeout(d time.Duration) {
	c.cancelTimeout()
	if d <= 0 {
		return
	}
	gen := c.generation
	c.timer = time.AfterFunc(d, func() {
		c.Post(func() { c.handleTimeout(gen) })
	})
}

func (c *Connection) cancelTimeout() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connection) handleTimeout(gen uint64) {
	if gen != c.generation || c.connectivity != Connecting {
		return
	}
	log.Error().Msg("connection.Connection.handleTimeout establishment failed after timeout")
	c.HandleConnectionEstablishmentFailed(NoIdentity)
}

// Post queues fn to run on the goroutine that calls Dispatch. It is safe
// for concurrent use.
func (c *Connection) Post(fn func()) {
	c.mu.Lock()
	c.mailbox = append(c.mailbox, fn)
	c.mu.Unlock()
}

// Dispatch runs posted callbacks in order and returns how many ran.
func (c *Connection) Dispatch() int {
	c.mu.Lock()
	pending := c.mailbox
	c.mailbox = nil
	c.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return len(pending)
}
