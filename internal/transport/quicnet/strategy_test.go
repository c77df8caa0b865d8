package quicnet

import (
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
)

type inbox struct {
	calls []call.Call
}

func (i *inbox) EnqueueCall(c call.Call, _ protocol.Role, _ bool) {
	i.calls = append(i.calls, c)
}

type node struct {
	strategy *Strategy
	conn     *connection.Connection
	queue    *inbox
	events   []connection.Event
}

func newNode(t *testing.T, id connection.Identity, listen string) *node {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.DialAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: 50 * time.Millisecond, Multiplier: 1}
	n := &node{strategy: New(id, listen, cfg), queue: &inbox{}}
	n.conn = connection.New(n.strategy, n.queue)
	n.conn.OnEvent(func(e connection.Event) { n.events = append(n.events, e) })
	t.Cleanup(n.strategy.Close)
	return n
}

// pump runs every node's tick loop until done reports true.
func pump(t *testing.T, done func() bool, nodes ...*node) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for condition")
		}
		for _, n := range nodes {
			n.conn.Dispatch()
			n.conn.Poll()
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoopbackSession(t *testing.T) {
	testlog.Start(t)
	host := newNode(t, "host", "127.0.0.1:0")
	client := newNode(t, "a", "")

	host.conn.Establish(connection.HostConfig([]connection.Identity{"a"}, 0))
	addr := host.strategy.Addr()
	if addr == nil {
		t.Fatalf("host is not listening")
	}
	client.strategy.AddHost("host", addr.String())
	client.conn.Establish(connection.ClientConfig("host", 0))

	pump(t, func() bool {
		return host.conn.Connectivity() == connection.Connected && client.conn.Connectivity() == connection.Connected
	}, host, client)

	fn := hashing.Function("quicnet.test", "Run")
	reliable, _ := call.New(1, fn, protocol.Reliable, []byte("stream"))
	unreliable, _ := call.New(2, fn, protocol.Unreliable, []byte("datagram"))
	client.conn.Send(reliable)
	client.conn.Send(unreliable)
	pump(t, func() bool { return len(host.queue.calls) == 2 }, host, client)

	seen := map[uint64]string{}
	for _, c := range host.queue.calls {
		seen[c.ObjectID] = string(c.Payload)
	}
	if seen[1] != "stream" || seen[2] != "datagram" {
		t.Fatalf("unexpected delivery=%v", seen)
	}

	host.conn.Send(reliable)
	pump(t, func() bool { return len(client.queue.calls) == 1 }, host, client)

	client.conn.Drop()
	pump(t, func() bool { return host.conn.ActiveClientCount() == 0 }, host, client)
	last := host.events[len(host.events)-1]
	if last.Type != connection.ConnectionToClientLost || last.Target != "a" {
		t.Fatalf("unexpected host event=%+v", last)
	}
}

func TestDialUnknownHostFails(t *testing.T) {
	testlog.Start(t)
	client := newNode(t, "a", "")
	client.conn.Establish(connection.ClientConfig("host", 0))
	pump(t, func() bool { return client.conn.Connectivity() == connection.Disconnected }, client)
}

func TestDialUnreachableHostFails(t *testing.T) {
	testlog.Start(t)
	client := newNode(t, "a", "")
	client.strategy.AddHost("host", "127.0.0.1:1")
	client.strategy.cfg.HandshakeTimeout = 200 * time.Millisecond
	client.conn.Establish(connection.ClientConfig("host", 0))
	pump(t, func() bool { return client.conn.Connectivity() == connection.Disconnected }, client)
}
