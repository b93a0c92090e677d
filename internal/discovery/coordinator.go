package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gezibash/arc-cluster/internal/group"
	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/wire"
	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/logging"
	"github.com/gezibash/arc-cluster/pkg/metadata"
	"github.com/gezibash/arc-cluster/pkg/remote"
)

// DefaultReplyTimeout bounds how long a round waits for replies.
const DefaultReplyTimeout = 10 * time.Second

// Broadcaster sends a request to the group and returns a future of the
// per-member replies.
type Broadcaster interface {
	BroadcastAsync(ctx context.Context, msgType wire.MessageType, payload []byte, exclude []string) (*group.Future, error)
}

// HandleStore holds discovered remote handle ids per key. Add must be an
// additive union and safe for concurrent callers.
type HandleStore interface {
	Add(ctx context.Context, key metadata.Key, ids []remote.ID) (int, error)
	Get(ctx context.Context, key metadata.Key) ([]remote.ID, error)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Group   Broadcaster
	Cache   QueryCache
	Store   HandleStore
	Factory *remote.Factory

	// ReplyTimeout bounds each round's wait (default: 10s).
	ReplyTimeout time.Duration
	Metrics      *observability.Metrics
}

// Coordinator drives discovery rounds: it broadcasts a search for a key to
// the members that have not answered for it yet, and folds the replies into
// the query cache and the handle store in the background.
type Coordinator struct {
	group   Broadcaster
	cache   QueryCache
	store   HandleStore
	factory *remote.Factory
	timeout time.Duration
	metrics *observability.Metrics
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Round outcomes.
const (
	outcomeComplete  = "complete"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Group == nil || cfg.Cache == nil || cfg.Store == nil || cfg.Factory == nil {
		return nil, fmt.Errorf("coordinator: group, cache, store and factory are required: %w", pkgerrors.ErrInvalidInput)
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		group:   cfg.Group,
		cache:   cfg.Cache,
		store:   cfg.Store,
		factory: cfg.Factory,
		timeout: cfg.ReplyTimeout,
		metrics: cfg.Metrics,
		log:     logging.New(nil).WithComponent("coordinator"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Lookup starts a discovery round for key and returns the handles already
// known for it without waiting for the round. The result is a snapshot and
// may be empty on a cold lookup. Network failures never surface here.
func (c *Coordinator) Lookup(ctx context.Context, key metadata.Key) ([]*remote.Handle, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("lookup: %w: %w", pkgerrors.ErrInvalidInput, err)
	}
	c.metrics.LookupsTotal.Inc()
	if _, err := c.startRound(key); err != nil {
		return nil, err
	}
	return c.snapshot(ctx, key)
}

// Discover starts a round like Lookup, then waits for it to settle (or for
// ctx to end) before returning the handles known for key.
func (c *Coordinator) Discover(ctx context.Context, key metadata.Key) ([]*remote.Handle, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("discover: %w: %w", pkgerrors.ErrInvalidInput, err)
	}
	c.metrics.LookupsTotal.Inc()
	done, err := c.startRound(key)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.snapshot(ctx, key)
}

func (c *Coordinator) snapshot(ctx context.Context, key metadata.Key) ([]*remote.Handle, error) {
	ids, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	handles := make([]*remote.Handle, 0, len(ids))
	for _, id := range ids {
		h, err := c.factory.New(key, id.Address, id.Handle)
		if err != nil {
			c.log.WithKey(key).Warn("skip stored handle", "address", id.Address, "error", err)
			continue
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// startRound broadcasts a search for key and aggregates it in the
// background. The returned channel closes when the round has been applied.
func (c *Coordinator) startRound(key metadata.Key) (<-chan struct{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, pkgerrors.ErrClosed
	}

	done := make(chan struct{})
	exclude := c.cache.AlreadyQueried(key)
	start := time.Now()

	fut, err := c.group.BroadcastAsync(c.ctx, wire.MsgSearch, wire.EncodeSearchRequest(key), exclude)
	if err != nil {
		fault := NewClusterError(CodeTransport, fmt.Sprintf("broadcast search for %s", key), err)
		c.metrics.RoundsTotal.WithLabelValues(outcomeError).Inc()
		c.log.WithKey(key).Warn("discovery round failed", "error", fault)
		close(done)
		return done, nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		c.aggregate(key, fut, exclude, start)
	}()
	return done, nil
}

// aggregate waits for the round's replies, bounded by the reply timeout, and
// applies whatever arrived.
func (c *Coordinator) aggregate(key metadata.Key, fut *group.Future, exclude []string, start time.Time) {
	targets := fut.Targets()
	ctx, span := observability.StartRoundSpan(c.ctx, key, len(targets), len(exclude))
	log := c.log.WithKey(key)

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	resps, waitErr := fut.Wait(waitCtx)
	cancel()
	fut.Cancel()

	if errors.Is(waitErr, context.Canceled) {
		c.metrics.RoundsTotal.WithLabelValues(outcomeCancelled).Inc()
		observability.EndRoundSpan(span, 0, 0, outcomeCancelled, nil)
		return
	}

	found, replied := c.collect(ctx, key, resps)

	var fault error
	if len(found) > 0 {
		added, err := c.store.Add(ctx, key, found)
		if err != nil {
			fault = NewClusterError(CodeAggregation, fmt.Sprintf("store handles for %s", key), err)
			// Nodes whose handles were not stored stay eligible for the
			// next round.
			replied = withoutHosts(replied, found)
		}
		c.metrics.HandlesAddedTotal.Add(float64(added))
	}
	c.cache.MarkQueried(key, replied)

	outcome := outcomeComplete
	if waitErr != nil {
		outcome = outcomeTimeout
		fault = NewClusterError(CodeAggregation,
			fmt.Sprintf("waiting for search replies for %s", key), waitErr)
	} else if fault != nil {
		outcome = outcomeError
	}
	c.metrics.RoundsTotal.WithLabelValues(outcome).Inc()
	c.metrics.RoundDuration.Observe(time.Since(start).Seconds())

	observability.EndRoundSpan(span, len(replied), len(found), outcome, fault)

	if fault != nil {
		log.WarnContext(ctx, "discovery round incomplete",
			"targets", len(targets),
			"replied", len(replied),
			"found", len(found),
			"error", fault,
		)
		return
	}
	log.DebugContext(ctx, "discovery round complete",
		"targets", len(targets),
		"replied", len(replied),
		"found", len(found),
		"duration", time.Since(start),
	)
}

// collect interprets the replies. Every member that answered, with any
// result, is returned in replied. Only found results become handles.
func (c *Coordinator) collect(ctx context.Context, key metadata.Key, resps group.Responses) (found []remote.ID, replied []string) {
	var handles []*remote.Handle
	for _, r := range resps {
		if !r.Received {
			c.metrics.RepliesTotal.WithLabelValues("missing").Inc()
			continue
		}
		replied = append(replied, r.From)

		if r.Err != nil {
			c.metrics.RepliesTotal.WithLabelValues("error").Inc()
			c.log.WithKey(key).DebugContext(ctx, "search error reply", "from", r.From, "error", r.Err)
			continue
		}
		sr, err := wire.DecodeSearchResponse(r.Payload)
		if err != nil {
			c.metrics.RepliesTotal.WithLabelValues("error").Inc()
			c.log.WithKey(key).WarnContext(ctx, "undecodable search reply", "from", r.From, "error", err)
			continue
		}
		if sr.Status != wire.StatusFound {
			c.metrics.RepliesTotal.WithLabelValues("not_found").Inc()
			continue
		}
		c.metrics.RepliesTotal.WithLabelValues("found").Inc()

		h, err := c.factory.New(key, r.From, sr.Handle)
		if err != nil {
			continue
		}
		handles = append(handles, h)
	}

	for _, h := range remote.Dedup(handles) {
		found = append(found, h.ID())
	}
	return found, replied
}

func withoutHosts(addrs []string, ids []remote.ID) []string {
	hosts := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		hosts[id.Address] = struct{}{}
	}
	out := addrs[:0:0]
	for _, a := range addrs {
		if _, ok := hosts[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// Close cancels in-flight rounds, waits for them, and clears the query
// cache. Close is idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.cache.Clear()
	return nil
}
