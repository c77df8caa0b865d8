package connection

import (
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
)

type sent struct {
	data         []byte
	transmission protocol.Transmission
}

type fakeLink struct {
	LinkState
	inbox  [][]byte
	outbox []sent
}

func newFakeLink(id Identity) *fakeLink {
	return &fakeLink{LinkState: NewLinkState(id)}
}

func (l *fakeLink) Send(data []byte, tr protocol.Transmission) error {
	if l.IsActive() {
		l.outbox = append(l.outbox, sent{data: data, transmission: tr})
	}
	return nil
}

func (l *fakeLink) Receive() ([]byte, bool) {
	if !l.IsActive() || len(l.inbox) == 0 {
		return nil, false
	}
	next := l.inbox[0]
	l.inbox = l.inbox[1:]
	return next, true
}

func (l *fakeLink) Close() { l.MarkClosed() }

type fakeStrategy struct {
	handler   Handler
	dialed    []Identity
	listening bool
	starts    int
	stops     int
}

func (s *fakeStrategy) Attach(h Handler)                     { s.handler = h }
func (s *fakeStrategy) EstablishConnectionToHost(h Identity) { s.dialed = append(s.dialed, h) }
func (s *fakeStrategy) StartListeningForClientConnections()  { s.listening = true; s.starts++ }
func (s *fakeStrategy) StopListeningForClientConnections()   { s.listening = false; s.stops++ }

type enqueued struct {
	call     call.Call
	role     protocol.Role
	isSender bool
}

type fakeQueue struct {
	calls []enqueued
}

func (q *fakeQueue) EnqueueCall(c call.Call, role protocol.Role, isSender bool) {
	q.calls = append(q.calls, enqueued{call: c, role: role, isSender: isSender})
}

type fakeRecorder struct {
	incoming []Identity
	outgoing []Identity
	events   []Event
}

func (r *fakeRecorder) RecordIncomingCall(sender Identity, _ call.Call) {
	r.incoming = append(r.incoming, sender)
}
func (r *fakeRecorder) RecordOutgoingCall(target Identity, _ call.Call) {
	r.outgoing = append(r.outgoing, target)
}
func (r *fakeRecorder) RecordEvent(e Event) { r.events = append(r.events, e) }

func newTestConnection() (*Connection, *fakeStrategy, *fakeQueue) {
	s := &fakeStrategy{}
	q := &fakeQueue{}
	return New(s, q), s, q
}

func testCall(t *testing.T, tr protocol.Transmission) call.Call {
	t.Helper()
	c, err := call.New(7, hashing.Function("connection.test", "Run"), tr, nil)
	if err != nil {
		t.Fatalf("call.New: %v", err)
	}
	return c
}

func recordEvents(c *Connection) *[]Event {
	var got []Event
	c.OnEvent(func(e Event) { got = append(got, e) })
	return &got
}

func TestNewConnectionDefaults(t *testing.T) {
	testlog.Start(t)

	c, s, _ := newTestConnection()
	if s.handler != c {
		t.Fatalf("connection not attached to strategy")
	}
	if c.Connectivity() != Disconnected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
	if c.Role() != protocol.RoleHost {
		t.Fatalf("unexpected default role=%s", c.Role())
	}
}

func TestSoloHostConnectsImmediately(t *testing.T) {
	testlog.Start(t)

	c, s, _ := newTestConnection()
	events := recordEvents(c)
	c.Establish(HostConfig(nil, time.Second))

	if c.Connectivity() != Connected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
	if s.starts != 0 || len(s.dialed) != 0 {
		t.Fatalf("solo host touched strategy starts=%d dialed=%v", s.starts, s.dialed)
	}
	if len(*events) != 1 || (*events)[0].Type != ConnectionEstablished {
		t.Fatalf("unexpected events=%v", *events)
	}
}

func TestHostWaitsForAllClients(t *testing.T) {
	testlog.Start(t)

	c, s, _ := newTestConnection()
	c.Establish(HostConfig([]Identity{"a", "b"}, 0))
	if !s.listening {
		t.Fatalf("host is not listening")
	}
	if c.ClientCount() != 2 {
		t.Fatalf("unexpected client count=%d", c.ClientCount())
	}

	c.ReceiveNewActiveNetworkLink(newFakeLink("a"))
	if c.Connectivity() != Connecting {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
	if got := c.ActiveClients(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected active clients=%v", got)
	}

	c.ReceiveNewActiveNetworkLink(newFakeLink("b"))
	if c.Connectivity() != Connected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
	if s.stops != 0 {
		t.Fatalf("host stopped listening after establishment")
	}
}

func TestInactiveClientLinkIsReplaced(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(HostConfig([]Identity{"a", "b"}, 0))

	first := newFakeLink("a")
	c.ReceiveNewActiveNetworkLink(first)
	first.Close()

	c.ReceiveNewActiveNetworkLink(newFakeLink("b"))
	if c.Connectivity() != Connecting {
		t.Fatalf("finalized with inactive link connectivity=%s", c.Connectivity())
	}

	replacement := newFakeLink("a")
	c.ReceiveNewActiveNetworkLink(replacement)
	if c.Connectivity() != Connected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
	if !replacement.IsActive() {
		t.Fatalf("replacement link was closed")
	}
}

func TestRejectedLinksAreClosed(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name  string
		cfg   *Config
		setup func(*Connection)
		link  Identity
	}{
		{name: "not connecting", link: "a"},
		{name: "unknown client", cfg: ptr(HostConfig([]Identity{"a"}, 0)), link: "z"},
		{name: "client receiving client", cfg: ptr(ClientConfig("h", 0)), link: "a"},
		{
			name: "duplicate client",
			cfg:  ptr(HostConfig([]Identity{"a", "b"}, 0)),
			setup: func(c *Connection) {
				c.ReceiveNewActiveNetworkLink(newFakeLink("a"))
			},
			link: "a",
		},
	}
	for _, tt := range tests {
		c, _, _ := newTestConnection()
		if tt.cfg != nil {
			c.Establish(*tt.cfg)
		}
		if tt.setup != nil {
			tt.setup(c)
		}
		link := newFakeLink(tt.link)
		c.ReceiveNewActiveNetworkLink(link)
		if link.IsActive() {
			t.Fatalf("%s: link left active", tt.name)
		}
	}
}

func TestHostLinkRejections(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(ClientConfig("h", 0))
	c.ReceiveNewActiveNetworkLink(newFakeLink("h"))
	late := newFakeLink("h")
	c.ReceiveNewActiveNetworkLink(late)
	if late.IsActive() {
		t.Fatalf("second host link accepted while connected")
	}

	c.Drop()
	c.Establish(HostConfig([]Identity{"a"}, 0))
	stray := newFakeLink(NoIdentity)
	c.ReceiveNewActiveNetworkLink(stray)
	if stray.IsActive() {
		t.Fatalf("host accepted link with empty identity")
	}
}

func TestClientConnectsToHost(t *testing.T) {
	testlog.Start(t)

	c, s, _ := newTestConnection()
	c.Establish(ClientConfig("h", 0))
	if len(s.dialed) != 1 || s.dialed[0] != "h" {
		t.Fatalf("unexpected dial=%v", s.dialed)
	}
	if s.starts != 0 {
		t.Fatalf("client started listening")
	}
	if c.Role() != protocol.RoleClient {
		t.Fatalf("unexpected role=%s", c.Role())
	}
	c.ReceiveNewActiveNetworkLink(newFakeLink("h"))
	if c.Connectivity() != Connected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
}

func TestDropClosesLinksAndStopsListening(t *testing.T) {
	testlog.Start(t)

	c, s, _ := newTestConnection()
	events := recordEvents(c)
	c.Establish(HostConfig([]Identity{"a", "b"}, 0))
	a := newFakeLink("a")
	c.ReceiveNewActiveNetworkLink(a)

	c.Drop()
	if a.IsActive() {
		t.Fatalf("client link still active")
	}
	if s.listening || s.stops != 1 {
		t.Fatalf("unexpected listening=%v stops=%d", s.listening, s.stops)
	}
	if len(c.Clients()) != 0 {
		t.Fatalf("config not cleared clients=%v", c.Clients())
	}
	if c.Role() != protocol.RoleHost {
		t.Fatalf("unexpected role after drop=%s", c.Role())
	}
	if len(*events) != 1 || (*events)[0].Type != ConnectionEstablishmentFailed {
		t.Fatalf("unexpected events=%v", *events)
	}
}

func TestDropAfterConnectedReportsLost(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	events := recordEvents(c)
	c.Establish(ClientConfig("h", 0))
	host := newFakeLink("h")
	c.ReceiveNewActiveNetworkLink(host)
	c.Drop()

	if host.IsActive() {
		t.Fatalf("host link still active")
	}
	want := []EventType{ConnectionEstablished, ConnectionLost}
	if len(*events) != len(want) {
		t.Fatalf("unexpected events=%v", *events)
	}
	for i, e := range *events {
		if e.Type != want[i] {
			t.Fatalf("unexpected event[%d]=%s", i, e.Type)
		}
	}
}

func TestPollOnlyWhenConnected(t *testing.T) {
	testlog.Start(t)

	c, _, q := newTestConnection()
	c.Establish(HostConfig([]Identity{"a", "b"}, 0))
	a := newFakeLink("a")
	a.inbox = append(a.inbox, testCall(t, protocol.Reliable).Bytes())
	c.ReceiveNewActiveNetworkLink(a)

	c.Poll()
	if len(q.calls) != 0 {
		t.Fatalf("polled while connecting calls=%d", len(q.calls))
	}
}

func TestHostRelaysToOtherClients(t *testing.T) {
	testlog.Start(t)

	c, _, q := newTestConnection()
	rec := &fakeRecorder{}
	c.SetRecorder(rec)
	c.Establish(HostConfig([]Identity{"a", "b", "c"}, 0))
	a, b, cl := newFakeLink("a"), newFakeLink("b"), newFakeLink("c")
	for _, l := range []*fakeLink{a, b, cl} {
		c.ReceiveNewActiveNetworkLink(l)
	}

	fc := testCall(t, protocol.Unreliable)
	a.inbox = append(a.inbox, fc.Bytes(), fc.Bytes())
	c.Poll()

	if len(q.calls) != 2 {
		t.Fatalf("unexpected enqueued=%d", len(q.calls))
	}
	if q.calls[0].role != protocol.RoleHost || q.calls[0].isSender {
		t.Fatalf("unexpected enqueue=%+v", q.calls[0])
	}
	if len(a.outbox) != 0 {
		t.Fatalf("relayed back to sender")
	}
	for _, l := range []*fakeLink{b, cl} {
		if len(l.outbox) != 2 {
			t.Fatalf("unexpected relay count=%d to=%s", len(l.outbox), l.Identity())
		}
		if l.outbox[0].transmission != protocol.Unreliable {
			t.Fatalf("relay changed transmission=%s", l.outbox[0].transmission)
		}
	}
	if len(rec.incoming) != 2 || rec.incoming[0] != "a" {
		t.Fatalf("unexpected incoming=%v", rec.incoming)
	}
	if len(rec.outgoing) != 4 {
		t.Fatalf("unexpected outgoing=%v", rec.outgoing)
	}
}

func TestClientDoesNotRelay(t *testing.T) {
	testlog.Start(t)

	c, _, q := newTestConnection()
	c.Establish(ClientConfig("h", 0))
	h := newFakeLink("h")
	h.inbox = append(h.inbox, testCall(t, protocol.Reliable).Bytes())
	c.ReceiveNewActiveNetworkLink(h)
	c.Poll()

	if len(q.calls) != 1 || q.calls[0].role != protocol.RoleClient {
		t.Fatalf("unexpected enqueued=%+v", q.calls)
	}
	if len(h.outbox) != 0 {
		t.Fatalf("client relayed to host")
	}
}

func TestPollSkipsMalformedRecords(t *testing.T) {
	testlog.Start(t)

	c, _, q := newTestConnection()
	c.Establish(ClientConfig("h", 0))
	h := newFakeLink("h")
	h.inbox = append(h.inbox, []byte{1, 2, 3}, testCall(t, protocol.Reliable).Bytes())
	c.ReceiveNewActiveNetworkLink(h)
	c.Poll()

	if len(q.calls) != 1 {
		t.Fatalf("unexpected enqueued=%d", len(q.calls))
	}
}

func TestSendRoutesByRole(t *testing.T) {
	testlog.Start(t)

	fc := testCall(t, protocol.Reliable)

	c, _, _ := newTestConnection()
	c.Establish(ClientConfig("h", 0))
	h := newFakeLink("h")
	c.Send(fc)
	c.ReceiveNewActiveNetworkLink(h)
	c.Send(fc)
	if len(h.outbox) != 1 {
		t.Fatalf("unexpected sends to host=%d", len(h.outbox))
	}

	host, _, _ := newTestConnection()
	host.Establish(HostConfig([]Identity{"a", "b"}, 0))
	a, b := newFakeLink("a"), newFakeLink("b")
	host.ReceiveNewActiveNetworkLink(a)
	host.ReceiveNewActiveNetworkLink(b)
	host.Send(fc)
	if len(a.outbox) != 1 || len(b.outbox) != 1 {
		t.Fatalf("unexpected broadcast a=%d b=%d", len(a.outbox), len(b.outbox))
	}
}

func TestDisruptionToHostDrops(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(ClientConfig("h", 0))
	c.HandleConnectionDisrupted("x")
	if c.Connectivity() != Connecting {
		t.Fatalf("unrelated disruption changed connectivity=%s", c.Connectivity())
	}

	h := newFakeLink("h")
	c.ReceiveNewActiveNetworkLink(h)
	c.HandleConnectionDisrupted("h")
	if c.Connectivity() != Disconnected || h.IsActive() {
		t.Fatalf("unexpected connectivity=%s host active=%v", c.Connectivity(), h.IsActive())
	}
}

func TestDisruptionToClient(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	events := recordEvents(c)
	c.Establish(HostConfig([]Identity{"a"}, 0))
	a := newFakeLink("a")
	c.ReceiveNewActiveNetworkLink(a)

	c.HandleConnectionDisrupted("a")
	c.HandleConnectionDisrupted("a")
	if a.IsActive() {
		t.Fatalf("client link still active")
	}
	if c.Connectivity() != Connected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
	lost := 0
	for _, e := range *events {
		if e.Type == ConnectionToClientLost {
			lost++
			if e.Target != "a" {
				t.Fatalf("unexpected target=%s", e.Target)
			}
		}
	}
	if lost != 1 {
		t.Fatalf("unexpected client lost events=%d", lost)
	}
}

func TestDisruptionDuringEstablishmentAborts(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(HostConfig([]Identity{"a", "b"}, 0))
	c.HandleConnectionDisrupted("z")
	if c.Connectivity() != Connecting {
		t.Fatalf("unknown client disruption changed connectivity=%s", c.Connectivity())
	}

	c.ReceiveNewActiveNetworkLink(newFakeLink("a"))
	c.HandleConnectionDisrupted("a")
	if c.Connectivity() != Disconnected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
}

func TestEstablishmentFailure(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(HostConfig([]Identity{"a", "b"}, 0))
	c.HandleConnectionEstablishmentFailed("z")
	if c.Connectivity() != Connecting {
		t.Fatalf("unknown client failure changed connectivity=%s", c.Connectivity())
	}
	a := newFakeLink("a")
	c.ReceiveNewActiveNetworkLink(a)
	c.HandleConnectionEstablishmentFailed("b")
	if c.Connectivity() != Disconnected || a.IsActive() {
		t.Fatalf("unexpected connectivity=%s link active=%v", c.Connectivity(), a.IsActive())
	}

	client, _, _ := newTestConnection()
	client.Establish(ClientConfig("h", 0))
	client.HandleConnectionEstablishmentFailed(NoIdentity)
	if client.Connectivity() != Disconnected {
		t.Fatalf("unexpected connectivity=%s", client.Connectivity())
	}

	connected, _, _ := newTestConnection()
	connected.Establish(HostConfig([]Identity{"a"}, 0))
	connected.ReceiveNewActiveNetworkLink(newFakeLink("a"))
	connected.HandleConnectionEstablishmentFailed("a")
	if connected.Connectivity() != Connected {
		t.Fatalf("failure after establishment dropped connection")
	}
}

func TestEstablishmentTimeout(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	events := recordEvents(c)
	c.Establish(ClientConfig("h", 20*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for c.Connectivity() == Connecting && time.Now().Before(deadline) {
		c.Dispatch()
		time.Sleep(5 * time.Millisecond)
	}
	if c.Connectivity() != Disconnected {
		t.Fatalf("timeout did not abort connectivity=%s", c.Connectivity())
	}
	if len(*events) != 1 || (*events)[0].Type != ConnectionEstablishmentFailed {
		t.Fatalf("unexpected events=%v", *events)
	}
}

func TestTimeoutCancelledByEstablishment(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(ClientConfig("h", 20*time.Millisecond))
	c.ReceiveNewActiveNetworkLink(newFakeLink("h"))

	time.Sleep(60 * time.Millisecond)
	c.Dispatch()
	if c.Connectivity() != Connected {
		t.Fatalf("unexpected connectivity=%s", c.Connectivity())
	}
}

func TestTimeoutCancelledByReestablish(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	c.Establish(ClientConfig("h", 20*time.Millisecond))
	c.Drop()
	c.Establish(ClientConfig("h", 0))

	time.Sleep(60 * time.Millisecond)
	c.Dispatch()
	if c.Connectivity() != Connecting {
		t.Fatalf("stale timeout fired connectivity=%s", c.Connectivity())
	}
}

func TestEstablishDropsCurrentAttempt(t *testing.T) {
	testlog.Start(t)

	c, s, _ := newTestConnection()
	c.Establish(HostConfig([]Identity{"a"}, 0))
	c.Establish(ClientConfig("h", 0))
	if s.stops != 1 {
		t.Fatalf("unexpected stops=%d", s.stops)
	}
	if c.Role() != protocol.RoleClient || c.Connectivity() != Connecting {
		t.Fatalf("unexpected role=%s connectivity=%s", c.Role(), c.Connectivity())
	}
}

func TestRecorderSeesEvents(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	rec := &fakeRecorder{}
	c.SetRecorder(rec)
	c.Establish(HostConfig(nil, 0))
	c.Drop()
	if len(rec.events) != 2 {
		t.Fatalf("unexpected recorded events=%v", rec.events)
	}
}

func TestPostRunsOnDispatch(t *testing.T) {
	testlog.Start(t)

	c, _, _ := newTestConnection()
	done := make(chan struct{})
	ran := 0
	go func() {
		c.Post(func() { ran++ })
		close(done)
	}()
	<-done
	if ran != 0 {
		t.Fatalf("callback ran before dispatch")
	}
	if n := c.Dispatch(); n != 1 || ran != 1 {
		t.Fatalf("unexpected dispatched=%d ran=%d", n, ran)
	}
}

func ptr[T any](v T) *T { return &v }
