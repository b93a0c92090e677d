package discovery

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gezibash/arc-cluster/internal/handlestore"
	"github.com/gezibash/arc-cluster/internal/handlestore/physical/memory"
	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/registry"
	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/metadata"
	"github.com/gezibash/arc-cluster/pkg/remote"
)

func mustParse(t *testing.T, s string) metadata.Key {
	t.Helper()
	k, err := metadata.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return k
}

var greeter = metadata.New("Greeter", "IGreeter")

func TestLookupColdReturnsEmptyWithoutBlocking(t *testing.T) {
	c := newFakeCluster()
	c.addSilent("node-2")
	c.addSilent("node-3")
	fx := newCoordinator(t, c.endpoint("node-1"), time.Hour)

	start := time.Now()
	got, err := fx.coord.Lookup(context.Background(), greeter)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("handles = %v, want none", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lookup took %v, should not wait for replies", elapsed)
	}
	if got := testutil.ToFloat64(fx.metrics.LookupsTotal); got != 1 {
		t.Errorf("lookups = %v, want 1", got)
	}
}

func TestLookupRejectsInvalidKey(t *testing.T) {
	fx := newCoordinator(t, newFakeCluster().endpoint("node-1"), time.Second)
	_, err := fx.coord.Lookup(context.Background(), metadata.New("NoType", ""))
	if !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRoundUpdatesCacheAndStore(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-a", registryWith(t, map[string]int{"Greeter:IGreeter": 1}))
	c.addNode("node-b", registryWith(t, nil))
	ep := c.endpoint("node-1")
	fx := newCoordinator(t, ep, 5*time.Second)
	ctx := context.Background()

	got, err := fx.coord.Discover(ctx, greeter)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("handles = %v, want 1", got)
	}
	if got[0].Address() != "node-a" || got[0].Handle() != 1 {
		t.Errorf("handle = %s, want node-a/1", got[0].ID())
	}

	queried := fx.cache.AlreadyQueried(greeter)
	if !slices.Equal(queried, []string{"node-a", "node-b"}) {
		t.Errorf("cache = %v, want [node-a node-b]", queried)
	}

	// The next round skips both nodes.
	got, err = fx.coord.Lookup(ctx, greeter)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("lookup snapshot = %v, want the stored handle", got)
	}
	if ex := ep.lastExclude(); !slices.Equal(ex, []string{"node-a", "node-b"}) {
		t.Errorf("exclude = %v, want [node-a node-b]", ex)
	}
}

func TestCacheIsPerKey(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-a", registryWith(t, nil))
	ep := c.endpoint("node-1")
	fx := newCoordinator(t, ep, 5*time.Second)
	ctx := context.Background()

	if _, err := fx.coord.Discover(ctx, greeter); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, err := fx.coord.Discover(ctx, metadata.New("Greeter", "IGreeter", "eu")); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if ex := ep.lastExclude(); len(ex) != 0 {
		t.Errorf("exclude for a different key = %v, want none", ex)
	}
}

func TestAmbiguousResponderYieldsNoHandle(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-a", registryWith(t, map[string]int{"Greeter:IGreeter": 2}))
	fx := newCoordinator(t, c.endpoint("node-1"), 5*time.Second)

	got, err := fx.coord.Discover(context.Background(), greeter)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("handles = %v, want none for an ambiguous node", got)
	}
	if v := testutil.ToFloat64(fx.metrics.RepliesTotal.WithLabelValues("error")); v != 1 {
		t.Errorf("error replies = %v, want 1", v)
	}
	// The error reply arrived, so the node is not asked again.
	if q := fx.cache.AlreadyQueried(greeter); !slices.Equal(q, []string{"node-a"}) {
		t.Errorf("cache = %v, want [node-a]", q)
	}
}

func TestTimedOutRoundAppliesPartialResults(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-a", registryWith(t, map[string]int{"Greeter:IGreeter": 1}))
	c.addSilent("node-b")
	c.addSilent("node-c")
	ep := c.endpoint("node-1")
	fx := newCoordinator(t, ep, 100*time.Millisecond)
	ctx := context.Background()

	got, err := fx.coord.Discover(ctx, greeter)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 || got[0].Address() != "node-a" {
		t.Fatalf("handles = %v, want node-a", got)
	}
	if q := fx.cache.AlreadyQueried(greeter); !slices.Equal(q, []string{"node-a"}) {
		t.Errorf("cache = %v, want only node-a", q)
	}
	if v := testutil.ToFloat64(fx.metrics.RoundsTotal.WithLabelValues(outcomeTimeout)); v != 1 {
		t.Errorf("timeout rounds = %v, want 1", v)
	}
	if v := testutil.ToFloat64(fx.metrics.RepliesTotal.WithLabelValues("missing")); v != 2 {
		t.Errorf("missing replies = %v, want 2", v)
	}

	// Silent nodes stay eligible.
	if _, err := fx.coord.Lookup(ctx, greeter); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ex := ep.lastExclude(); !slices.Equal(ex, []string{"node-a"}) {
		t.Errorf("exclude = %v, want [node-a]", ex)
	}
}

func TestStoreDeduplicatesAcrossCoordinators(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-a", registryWith(t, map[string]int{"Greeter:IGreeter": 1}))
	store := handlestore.New(memory.New())
	ctx := context.Background()

	for _, self := range []string{"node-1", "node-3"} {
		fx := newCoordinatorWithStore(t, c.endpoint(self), 5*time.Second, store)
		if _, err := fx.coord.Discover(ctx, greeter); err != nil {
			t.Fatalf("discover from %s: %v", self, err)
		}
	}
	ids, err := store.Get(ctx, greeter)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("stored ids = %v, want exactly one", ids)
	}
}

func TestGreeterScenarioThreeNodes(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-1", registryWith(t, nil))
	c.addNode("node-2", registryWith(t, map[string]int{"Greeter:IGreeter": 1}))
	c.addNode("node-3", registryWith(t, nil))

	fx1 := newCoordinator(t, c.endpoint("node-1"), 5*time.Second)
	fx3 := newCoordinator(t, c.endpoint("node-3"), 5*time.Second)

	var wg sync.WaitGroup
	results := make([][]*remote.Handle, 2)
	for i, fx := range []*coordinatorFixture{fx1, fx3} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := fx.coord.Discover(context.Background(), greeter)
			if err != nil {
				t.Errorf("discover: %v", err)
			}
			results[i] = h
		}()
	}
	wg.Wait()

	for i, hs := range results {
		if len(hs) != 1 {
			t.Fatalf("[%d] handles = %v, want 1", i, hs)
		}
		if hs[0].Address() != "node-2" {
			t.Errorf("[%d] address = %s, want node-2", i, hs[0].Address())
		}
		if hs[0].Key() != greeter {
			t.Errorf("[%d] key = %s, want %s", i, hs[0].Key(), greeter)
		}
	}
}

func TestBroadcastFailureDegradesToSnapshot(t *testing.T) {
	c := newFakeCluster()
	ep := c.endpoint("node-1")
	ep.err = errors.New("transport down")
	fx := newCoordinator(t, ep, time.Second)
	ctx := context.Background()

	_, _ = fx.store.Add(ctx, greeter, []remote.ID{{Address: "node-9", Handle: 3}})

	got, err := fx.coord.Lookup(ctx, greeter)
	if err != nil {
		t.Fatalf("lookup err = %v, want nil", err)
	}
	if len(got) != 1 || got[0].Address() != "node-9" {
		t.Errorf("handles = %v, want stored node-9 handle", got)
	}
	if v := testutil.ToFloat64(fx.metrics.RoundsTotal.WithLabelValues(outcomeError)); v != 1 {
		t.Errorf("error rounds = %v, want 1", v)
	}
}

func TestDiscoverHonoursContext(t *testing.T) {
	c := newFakeCluster()
	c.addSilent("node-2")
	fx := newCoordinator(t, c.endpoint("node-1"), time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := fx.coord.Discover(ctx, greeter); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestCloseCancelsRoundsAndClearsCache(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-a", registryWith(t, nil))
	c.addSilent("node-b")
	fx := newCoordinator(t, c.endpoint("node-1"), time.Hour)
	ctx := context.Background()

	fx.cache.MarkQueried(greeter, []string{"node-z"})
	if _, err := fx.coord.Lookup(ctx, greeter); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	done := make(chan struct{})
	go func() {
		fx.coord.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not cancel the pending round")
	}

	if fx.cache.Len() != 0 {
		t.Errorf("cache entries = %d, want 0 after close", fx.cache.Len())
	}
	if _, err := fx.coord.Lookup(ctx, greeter); !errors.Is(err, pkgerrors.ErrClosed) {
		t.Errorf("lookup after close err = %v, want ErrClosed", err)
	}
	if err := fx.coord.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestNewCoordinatorRequiresCollaborators(t *testing.T) {
	if _, err := NewCoordinator(CoordinatorConfig{}); !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRejoinedMemberIsAskedAgain(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-2", registryWith(t, map[string]int{"Greeter:IGreeter": 1}))
	ep := c.endpoint("node-1")
	fx := newCoordinator(t, ep, 5*time.Second)
	self := NewReceiver(NewSearchResponder(registry.New(), nil), fx.store, fx.cache, nil)
	ctx := context.Background()

	if got, err := fx.coord.Discover(ctx, greeter); err != nil || len(got) != 1 {
		t.Fatalf("first discover = %v, %v; want one handle", got, err)
	}

	self.NodeLeft("node-2")
	self.Wait()
	self.NodeJoined("node-2")

	if ids, err := fx.store.Get(ctx, greeter); err != nil || len(ids) != 0 {
		t.Errorf("stored after leave = %v, %v; want the handle purged", ids, err)
	}
	got, err := fx.coord.Discover(ctx, greeter)
	if err != nil {
		t.Fatalf("discover after rejoin: %v", err)
	}
	if len(got) != 1 || got[0].Address() != "node-2" {
		t.Errorf("handles = %v, want node-2 found again", got)
	}
	if ex := ep.lastExclude(); slices.Contains(ex, "node-2") {
		t.Errorf("exclude = %v, rejoined node-2 was skipped", ex)
	}
}

// flakyStore fails the first Add it sees.
type flakyStore struct {
	*handlestore.Store
	calls atomic.Int32
}

func (s *flakyStore) Add(ctx context.Context, key metadata.Key, ids []remote.ID) (int, error) {
	if s.calls.Add(1) == 1 {
		return 0, errors.New("backend unavailable")
	}
	return s.Store.Add(ctx, key, ids)
}

func TestFailedStoreKeepsRepliersEligible(t *testing.T) {
	c := newFakeCluster()
	c.addNode("node-2", registryWith(t, map[string]int{"Greeter:IGreeter": 1}))
	c.addNode("node-3", registryWith(t, nil))
	ep := c.endpoint("node-1")
	store := &flakyStore{Store: handlestore.New(memory.New())}
	cache := NewMemoryQueryCache()
	metrics := observability.NewMetrics()
	coord, err := NewCoordinator(CoordinatorConfig{
		Group:        ep,
		Cache:        cache,
		Store:        store,
		Factory:      remote.NewFactory(nil),
		ReplyTimeout: 5 * time.Second,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { coord.Close() })
	ctx := context.Background()

	got, err := coord.Discover(ctx, greeter)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("handles = %v, want none while the store is failing", got)
	}
	if v := testutil.ToFloat64(metrics.RoundsTotal.WithLabelValues(outcomeError)); v != 1 {
		t.Errorf("error rounds = %v, want 1", v)
	}
	if q := cache.AlreadyQueried(greeter); !slices.Equal(q, []string{"node-3"}) {
		t.Errorf("cache = %v, want only node-3", q)
	}

	got, err = coord.Discover(ctx, greeter)
	if err != nil {
		t.Fatalf("second discover: %v", err)
	}
	if len(got) != 1 || got[0].Address() != "node-2" {
		t.Errorf("handles = %v, want node-2 once the store recovers", got)
	}
	if ex := ep.lastExclude(); !slices.Equal(ex, []string{"node-3"}) {
		t.Errorf("exclude = %v, want [node-3]", ex)
	}
}
