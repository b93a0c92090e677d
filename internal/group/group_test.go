package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gezibash/arc-cluster/internal/wire"
	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/logging"
)

type testHandler struct {
	name string

	mu        sync.Mutex
	joined    []string
	left      []string
	connected string
	down      bool
}

func (h *testHandler) HandleRequest(_ context.Context, from string, msgType wire.MessageType, payload []byte) ([]byte, error) {
	if string(payload) == "fail" {
		return nil, errors.New("refused")
	}
	return []byte(fmt.Sprintf("%s:%s:%s", h.name, msgType, payload)), nil
}

func (h *testHandler) NodeJoined(addr string) {
	h.mu.Lock()
	h.joined = append(h.joined, addr)
	h.mu.Unlock()
}

func (h *testHandler) NodeLeft(addr string) {
	h.mu.Lock()
	h.left = append(h.left, addr)
	h.mu.Unlock()
}

func (h *testHandler) Connected(self string) {
	h.mu.Lock()
	h.connected = self
	h.mu.Unlock()
}

func (h *testHandler) Disconnected() {
	h.mu.Lock()
	h.down = true
	h.mu.Unlock()
}

func (h *testHandler) hasLeft(addr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range h.left {
		if a == addr {
			return true
		}
	}
	return false
}

func startNode(t *testing.T, name string, seeds ...string) (*Group, *testHandler) {
	t.Helper()
	h := &testHandler{name: name}
	g, err := New(Config{
		GroupName: "test-group",
		Profile:   ProfileLocal,
		NodeName:  name,
		BindAddr:  "127.0.0.1",
		BindPort:  0,
		Seeds:     seeds,
	}, h)
	if err != nil {
		t.Fatalf("new %s: %v", name, err)
	}
	t.Cleanup(func() { _ = g.Close() })
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	return g, h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}, nil); !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Errorf("nil handler err = %v, want ErrInvalidInput", err)
	}
	_, err := New(Config{Profile: "mars", BindAddr: "127.0.0.1"}, &testHandler{})
	if err == nil || !strings.Contains(err.Error(), "unknown transport profile") {
		t.Errorf("bad profile err = %v", err)
	}
}

func TestBroadcastBeforeConnect(t *testing.T) {
	g, err := New(Config{NodeName: "solo", Profile: ProfileLocal, BindAddr: "127.0.0.1"}, &testHandler{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer g.Close()

	if _, err := g.BroadcastAsync(context.Background(), wire.MsgPing, nil, nil); !errors.Is(err, pkgerrors.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSingleNodeBroadcastCompletesEmpty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	g, h := startNode(t, "alone")

	h.mu.Lock()
	connected := h.connected
	h.mu.Unlock()
	if connected != "alone" {
		t.Errorf("connected = %q, want alone", connected)
	}

	fut, err := g.BroadcastAsync(context.Background(), wire.MsgSearch, []byte("x"), nil)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	resps, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(resps) != 0 {
		t.Errorf("responses = %v, want none (self excluded)", resps)
	}
}

func TestGroupIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a, ha := startNode(t, "node-a")
	b, _ := startNode(t, "node-b", a.Addr())
	c, _ := startNode(t, "node-c", a.Addr())

	waitFor(t, "three members", func() bool {
		return a.NumMembers() == 3 && b.NumMembers() == 3 && c.NumMembers() == 3
	})

	t.Run("broadcast reaches all but self", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fut, err := a.BroadcastAsync(ctx, wire.MsgSearch, []byte("q"), nil)
		if err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		resps, err := fut.Wait(ctx)
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		senders := resps.Senders()
		if len(senders) != 2 || senders[0] != "node-b" || senders[1] != "node-c" {
			t.Fatalf("senders = %v, want [node-b node-c]", senders)
		}
		rb, _ := resps.Get("node-b")
		if string(rb.Payload) != "node-b:search:q" {
			t.Errorf("payload = %q, want node-b:search:q", rb.Payload)
		}
	})

	t.Run("exclude", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fut, err := a.BroadcastAsync(ctx, wire.MsgPing, nil, []string{"node-b"})
		if err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		if got := fut.Targets(); len(got) != 1 || got[0] != "node-c" {
			t.Errorf("targets = %v, want [node-c]", got)
		}
		if _, err := fut.Wait(ctx); err != nil {
			t.Errorf("wait: %v", err)
		}
	})

	t.Run("unicast request", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		got, err := b.Request(ctx, "node-a", uint8(wire.MsgPing), []byte("hi"))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if string(got) != "node-a:ping:hi" {
			t.Errorf("reply = %q, want node-a:ping:hi", got)
		}

		_, err = b.Request(ctx, "node-a", uint8(wire.MsgPing), []byte("fail"))
		var re *RemoteError
		if !errors.As(err, &re) || re.From != "node-a" {
			t.Errorf("err = %v, want RemoteError from node-a", err)
		}

		if _, err := b.Request(ctx, "nobody", uint8(wire.MsgPing), nil); !errors.Is(err, pkgerrors.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("members", func(t *testing.T) {
		members := a.Members()
		if len(members) != 3 {
			t.Fatalf("members = %d, want 3", len(members))
		}
		locals := 0
		for _, m := range members {
			if m.IsLocal {
				locals++
				if m.Name != "node-a" {
					t.Errorf("local member = %s, want node-a", m.Name)
				}
			}
			if m.Status != "alive" {
				t.Errorf("%s status = %s, want alive", m.Name, m.Status)
			}
		}
		if locals != 1 {
			t.Errorf("local members = %d, want 1", locals)
		}
	})

	t.Run("leave notifies", func(t *testing.T) {
		if err := c.Close(); err != nil {
			t.Fatalf("close c: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Errorf("second close: %v", err)
		}
		waitFor(t, "node-c leave", func() bool { return ha.hasLeft("node-c") })
		if _, err := c.BroadcastAsync(context.Background(), wire.MsgPing, nil, nil); !errors.Is(err, pkgerrors.ErrClosed) {
			t.Errorf("broadcast after close err = %v, want ErrClosed", err)
		}
	})
}

func TestSuspectSettlesPending(t *testing.T) {
	g := &Group{pending: make(map[string]*Future)}
	f := NewFuture("r1", []string{"x", "y"})
	g.track(f)
	g.suspect("x")
	g.suspect("y")

	select {
	case <-f.Done():
	default:
		t.Fatal("future should complete once all targets are suspected")
	}
	g.mu.Lock()
	n := len(g.pending)
	g.mu.Unlock()
	if n != 0 {
		t.Errorf("pending = %d, want 0 after completion", n)
	}
}

func TestSlogWriterStripsPrefix(t *testing.T) {
	got := stripLevel("2026/02/04 14:13:51 [ERR] memberlist: Failed to send", "[ERR]")
	if got != "memberlist: Failed to send" {
		t.Errorf("stripLevel = %q", got)
	}

	w := &slogWriter{log: logging.Discard()}
	n, err := w.Write([]byte("2026/02/04 14:13:51 [DEBUG] memberlist: probe\n"))
	if err != nil || n == 0 {
		t.Errorf("write = %d, %v", n, err)
	}
}

type blockingHandler struct {
	testHandler
	started  chan struct{}
	release  chan struct{}
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (h *blockingHandler) HandleRequest(context.Context, string, wire.MessageType, []byte) ([]byte, error) {
	h.calls.Add(1)
	n := h.inflight.Add(1)
	defer h.inflight.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	h.started <- struct{}{}
	<-h.release
	return nil, nil
}

func TestRequestQueueBoundsWork(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := &blockingHandler{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	g, err := New(Config{
		GroupName:  "test-group",
		Profile:    ProfileLocal,
		NodeName:   "busy",
		BindAddr:   "127.0.0.1",
		Workers:    1,
		QueueDepth: 2,
	}, h)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer g.Close()
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	request := func(i int) []byte {
		return (&wire.Frame{
			Kind:      wire.KindRequest,
			RequestID: fmt.Sprintf("r%d", i),
			From:      "ghost",
			Type:      wire.MsgPing,
		}).Encode()
	}

	g.receive(request(0))
	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the handler")
	}

	// One request is being served; two fit the queue, the rest are dropped.
	for i := 1; i <= 5; i++ {
		g.receive(request(i))
	}
	close(h.release)

	waitFor(t, "queued requests served", func() bool { return h.calls.Load() == 3 })
	time.Sleep(100 * time.Millisecond)
	if got := h.calls.Load(); got != 3 {
		t.Errorf("handled = %d, want 3", got)
	}
	if got := h.peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
}

func TestReplyToRequesterOutsideView(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	// Two single-node groups with the same label that never joined each other.
	a, _ := startNode(t, "node-a")
	b, _ := startNode(t, "node-b")
	if _, ok := a.node("node-b"); ok {
		t.Fatal("node-b should not be in node-a's view")
	}

	fut := NewFuture("req-outside", []string{"node-a"})
	b.track(fut)
	a.receive((&wire.Frame{
		Kind:      wire.KindRequest,
		RequestID: fut.ID(),
		From:      "node-b",
		Type:      wire.MsgPing,
		Payload:   []byte("hello"),
		ReplyTo:   b.Addr(),
	}).Encode())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resps, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	r, _ := resps.Get("node-a")
	if !r.Received || string(r.Payload) != "node-a:ping:hello" {
		t.Errorf("response = %+v, want node-a:ping:hello", r)
	}
}

func TestReplyNode(t *testing.T) {
	tests := []struct {
		replyTo string
		ok      bool
	}{
		{"127.0.0.1:7946", true},
		{"[::1]:7946", true},
		{"", false},
		{"localhost:7946", false},
		{"127.0.0.1", false},
		{"127.0.0.1:0", false},
		{"127.0.0.1:70000", false},
	}
	for _, tt := range tests {
		t.Run(tt.replyTo, func(t *testing.T) {
			n, ok := replyNode(&wire.Frame{From: "peer", ReplyTo: tt.replyTo})
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (n.Name != "peer" || n.Address() != tt.replyTo) {
				t.Errorf("node = %s %s, want peer %s", n.Name, n.Address(), tt.replyTo)
			}
		})
	}
}
