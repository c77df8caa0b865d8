package sample

import (
	"testing"

	"github.com/danmuck/lockstep/internal/registry"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
)

func TestCandidatesRegisterByName(t *testing.T) {
	testlog.Start(t)
	r := registry.New()
	west, east := NewBoard("west"), NewBoard("east")

	n, err := r.RegisterAll(Candidates(west, east))
	if err != nil || n != 2 {
		t.Fatalf("unexpected n=%d err=%v", n, err)
	}
	if id, _ := r.GetRegisteredObjectId(east); id != 1 {
		t.Fatalf("unexpected east id=%d", id)
	}
	if id, _ := r.GetRegisteredObjectId(west); id != 2 {
		t.Fatalf("unexpected west id=%d", id)
	}
	objs := r.Objects()
	if len(objs) != 2 || len(objs[0].Functions) != len(east.NetworkFunctions()) {
		t.Fatalf("unexpected objects=%+v", objs)
	}
}

func TestDefinitionsAreDistinct(t *testing.T) {
	testlog.Start(t)
	seen := map[string]bool{}
	for _, b := range NewBoard("x").NetworkFunctions() {
		id := b.ID().String()
		if seen[id] {
			t.Fatalf("duplicate function id for %s", b.Name())
		}
		seen[id] = true
	}
}
