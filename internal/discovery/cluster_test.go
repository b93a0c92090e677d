package discovery

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gezibash/arc-cluster/internal/group"
	"github.com/gezibash/arc-cluster/internal/handlestore"
	"github.com/gezibash/arc-cluster/internal/handlestore/physical/memory"
	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/registry"
	"github.com/gezibash/arc-cluster/internal/wire"
	"github.com/gezibash/arc-cluster/pkg/remote"
)

// fakeCluster routes broadcasts between in-process receivers.
type fakeCluster struct {
	mu        sync.Mutex
	receivers map[string]*Receiver
	silent    map[string]bool
	order     []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		receivers: make(map[string]*Receiver),
		silent:    make(map[string]bool),
	}
}

// addNode registers a node whose responder answers from reg.
func (c *fakeCluster) addNode(addr string, reg *registry.Registry) *Receiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := NewReceiver(NewSearchResponder(reg, nil), nil, nil, nil)
	c.receivers[addr] = r
	c.order = append(c.order, addr)
	return r
}

// addSilent registers a node that never answers.
func (c *fakeCluster) addSilent(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.silent[addr] = true
	c.order = append(c.order, addr)
}

// endpoint is one node's view of the cluster.
type endpoint struct {
	cluster *fakeCluster
	self    string

	mu       sync.Mutex
	excludes [][]string
	rounds   atomic.Int64
	err      error
}

func (c *fakeCluster) endpoint(self string) *endpoint {
	return &endpoint{cluster: c, self: self}
}

func (e *endpoint) BroadcastAsync(ctx context.Context, msgType wire.MessageType, payload []byte, exclude []string) (*group.Future, error) {
	e.mu.Lock()
	e.excludes = append(e.excludes, slices.Clone(exclude))
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.cluster.mu.Lock()
	var targets []string
	for _, addr := range e.cluster.order {
		if addr == e.self || slices.Contains(exclude, addr) {
			continue
		}
		targets = append(targets, addr)
	}
	receivers := make(map[string]*Receiver, len(targets))
	for _, addr := range targets {
		if r, ok := e.cluster.receivers[addr]; ok && !e.cluster.silent[addr] {
			receivers[addr] = r
		}
	}
	e.cluster.mu.Unlock()

	n := e.rounds.Add(1)
	fut := group.NewFuture(fmt.Sprintf("%s-%d", e.self, n), targets)
	for addr, r := range receivers {
		go func() {
			reply, err := r.HandleRequest(ctx, e.self, msgType, payload)
			if err != nil {
				fut.Deliver(addr, nil, &group.RemoteError{From: addr, Message: err.Error()})
				return
			}
			fut.Deliver(addr, reply, nil)
		}()
	}
	return fut, nil
}

func (e *endpoint) lastExclude() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.excludes) == 0 {
		return nil
	}
	return e.excludes[len(e.excludes)-1]
}

type coordinatorFixture struct {
	coord   *Coordinator
	cache   *MemoryQueryCache
	store   *handlestore.Store
	metrics *observability.Metrics
}

func newCoordinator(t *testing.T, b Broadcaster, timeout time.Duration) *coordinatorFixture {
	t.Helper()
	return newCoordinatorWithStore(t, b, timeout, handlestore.New(memory.New()))
}

func newCoordinatorWithStore(t *testing.T, b Broadcaster, timeout time.Duration, store *handlestore.Store) *coordinatorFixture {
	t.Helper()
	cache := NewMemoryQueryCache()
	metrics := observability.NewMetrics()
	coord, err := NewCoordinator(CoordinatorConfig{
		Group:        b,
		Cache:        cache,
		Store:        store,
		Factory:      remote.NewFactory(nil),
		ReplyTimeout: timeout,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { coord.Close() })
	return &coordinatorFixture{coord: coord, cache: cache, store: store, metrics: metrics}
}

func registryWith(t *testing.T, impls map[string]int) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for k, count := range impls {
		for i := 0; i < count; i++ {
			if _, err := reg.RegisterInstance(mustParse(t, k), fmt.Sprintf("%s#%d", k, i)); err != nil {
				t.Fatalf("register: %v", err)
			}
		}
	}
	return reg
}
