// Package sample holds small network objects used by lockstepd and by
// integration tests.
package sample

import (
	"github.com/danmuck/lockstep/internal/function"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/payload"
	"github.com/danmuck/lockstep/internal/registry"
	"github.com/rs/zerolog/log"
)

var boardType = function.TypeName[Board]()

var (
	// IncrementDef runs everywhere, reliably.
	IncrementDef = function.New1[int](boardType, "Increment", function.Policy{})
	// PingDef is best-effort and skipped by its sender.
	PingDef = function.New1[string](boardType, "Ping", function.Policy{
		Recipients:   protocol.RecipientsOthers,
		Transmission: protocol.Unreliable,
	})
	// AnnounceDef may only be originated by the host.
	AnnounceDef = function.New1[string](boardType, "Announce", function.Policy{Authority: protocol.AuthorityHost})
	// MoveDef waits for queue processing even on its sender.
	MoveDef  = function.New1[payload.Vec2](boardType, "Move", function.Policy{Deferred: true})
	LinkDef  = function.New1[*Board](boardType, "Link", function.Policy{})
	ResetDef = function.New0(boardType, "Reset", function.Policy{Authority: protocol.AuthorityHost})
)

// Board is a replicated counter with a small amount of extra state.
type Board struct {
	Name          string
	Total         int
	Pings         []string
	Announcements []string
	Position      payload.Vec2
	Linked        *Board
}

func NewBoard(name string) *Board {
	return &Board{Name: name}
}

func (b *Board) NetworkObject() {}

func (b *Board) NetworkFunctions() []function.Binding {
	return []function.Binding{
		function.Method1(IncrementDef, (*Board).Increment),
		function.Method1(PingDef, (*Board).Ping),
		function.Method1(AnnounceDef, (*Board).Announce),
		function.Method1(MoveDef, (*Board).Move),
		function.Method1(LinkDef, (*Board).Link),
		function.Method0(ResetDef, (*Board).Reset),
	}
}

func (b *Board) Increment(n int) {
	b.Total += n
	log.Debug().Msgf("sample.Board.Increment name=%s n=%d total=%d", b.Name, n, b.Total)
}

func (b *Board) Ping(from string) {
	b.Pings = append(b.Pings, from)
}

func (b *Board) Announce(msg string) {
	b.Announcements = append(b.Announcements, msg)
	log.Info().Msgf("sample.Board.Announce name=%s msg=%q", b.Name, msg)
}

func (b *Board) Move(to payload.Vec2) {
	b.Position = to
}

func (b *Board) Link(other *Board) {
	b.Linked = other
}

func (b *Board) Reset() {
	b.Total = 0
	b.Pings = nil
	b.Announcements = nil
}

// Candidates orders boards by name for registration.
func Candidates(boards ...*Board) []registry.Candidate {
	out := make([]registry.Candidate, 0, len(boards))
	for _, b := range boards {
		out = append(out, registry.NewCandidate(b.Name, b))
	}
	return out
}
