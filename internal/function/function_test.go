package function

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
)

type counter struct {
	total int
	last  string
	peer  *counter
}

var (
	addDef   = New1[int]("function.counter", "Add", Policy{})
	labelDef = New2[string, *counter]("function.counter", "Label", Policy{Transmission: protocol.Unreliable})
	resetDef = New0("function.counter", "Reset", Policy{Authority: protocol.AuthorityHost, Deferred: true})
)

func (c *counter) Add(n int)                  { c.total += n }
func (c *counter) Label(s string, p *counter) { c.last = s; c.peer = p }
func (c *counter) Reset()                     { c.total = 0 }

type panel struct {
	counter
	title string
}

func TestDefIdentity(t *testing.T) {
	if addDef.ID() != hashing.Function("function.counter", "Add") {
		t.Fatalf("unexpected id for %s", addDef.Name())
	}
	if addDef.Name() != "function.counter@Add" {
		t.Fatalf("unexpected name=%q", addDef.Name())
	}
	if resetDef.Policy.Authority != protocol.AuthorityHost || !resetDef.Policy.Deferred {
		t.Fatalf("policy not retained: %+v", resetDef.Policy)
	}
}

func TestTypeName(t *testing.T) {
	want := "github.com/danmuck/lockstep/internal/function.counter"
	if got := TypeName[*counter](); got != want {
		t.Fatalf("unexpected type name got=%q want=%q", got, want)
	}
	if got := TypeName[int](); got != "int" {
		t.Fatalf("unexpected builtin type name=%q", got)
	}
}

func TestMethodBindingsInvoke(t *testing.T) {
	c := &counter{}
	peer := &counter{}
	add := Method1(addDef, (*counter).Add)
	label := Method2(labelDef, (*counter).Label)
	reset := Method0(resetDef, (*counter).Reset)

	if add.Receiver() != reflect.TypeFor[*counter]() || add.NumParams() != 1 {
		t.Fatalf("unexpected binding shape receiver=%s params=%d", add.Receiver(), add.NumParams())
	}
	if err := add.Invoke(c, []any{5}); err != nil {
		t.Fatalf("invoke add: %v", err)
	}
	if err := label.Invoke(c, []any{"x", peer}); err != nil {
		t.Fatalf("invoke label: %v", err)
	}
	if c.total != 5 || c.last != "x" || c.peer != peer {
		t.Fatalf("unexpected state: %+v", c)
	}
	if err := label.Invoke(c, []any{"y", nil}); err != nil {
		t.Fatalf("invoke label with nil peer: %v", err)
	}
	if c.peer != nil {
		t.Fatalf("expected nil peer")
	}
	if err := reset.Invoke(c, nil); err != nil || c.total != 0 {
		t.Fatalf("unexpected reset total=%d err=%v", c.total, err)
	}
}

func TestInvokeChecks(t *testing.T) {
	add := Method1(addDef, (*counter).Add)
	if err := add.Invoke(&counter{}, nil); !errors.Is(err, ErrArity) {
		t.Fatalf("expected ErrArity, got %v", err)
	}
	if err := add.Invoke(&panel{}, []any{1}); !errors.Is(err, ErrReceiverType) {
		t.Fatalf("expected ErrReceiverType, got %v", err)
	}
	if err := add.Invoke(&counter{}, []any{"1"}); !errors.Is(err, ErrArgumentType) {
		t.Fatalf("expected ErrArgumentType, got %v", err)
	}
	if err := (Binding{}).Invoke(&counter{}, nil); !errors.Is(err, ErrUnboundBinding) {
		t.Fatalf("expected ErrUnboundBinding, got %v", err)
	}
}

func TestEmbedLiftsReceiver(t *testing.T) {
	p := &panel{title: "p"}
	lifted := Embed(func(p *panel) *counter { return &p.counter }, []Binding{Method1(addDef, (*counter).Add)})
	if len(lifted) != 1 || lifted[0].Receiver() != reflect.TypeFor[*panel]() {
		t.Fatalf("unexpected lifted bindings: %+v", lifted)
	}
	if lifted[0].ID() != addDef.ID() {
		t.Fatalf("embedding must keep the declaring id")
	}
	if err := lifted[0].Invoke(p, []any{3}); err != nil {
		t.Fatalf("invoke lifted: %v", err)
	}
	if p.total != 3 {
		t.Fatalf("unexpected total=%d", p.total)
	}
}
