// Package provider runs the clustering side of a node: it joins the group,
// answers searches from the local registry, and discovers remote
// implementations on behalf of local callers.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-cluster/internal/cel"
	"github.com/gezibash/arc-cluster/internal/discovery"
	"github.com/gezibash/arc-cluster/internal/group"
	"github.com/gezibash/arc-cluster/internal/handlestore"
	"github.com/gezibash/arc-cluster/internal/observability"
	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/logging"
	"github.com/gezibash/arc-cluster/pkg/metadata"
	"github.com/gezibash/arc-cluster/pkg/remote"
)

// State is a provider lifecycle state. Transitions are linear.
type State int32

const (
	StateUninitialized State = iota
	StateConnected
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// defaultStopTimeout bounds the shutdown run by Run when its context ends.
const defaultStopTimeout = 10 * time.Second

// Config configures a provider.
type Config struct {
	Group group.Config
	// ReplyTimeout bounds how long a discovery round waits for replies.
	ReplyTimeout time.Duration
}

// Provider owns the group transport and the discovery coordinator of a node.
type Provider struct {
	cfg      Config
	resolver discovery.LocalResolver
	store    *handlestore.Store
	metrics  *observability.Metrics
	log      *logging.Logger

	mu       sync.Mutex
	state    State
	group    *group.Group
	receiver *discovery.Receiver
	coord    *discovery.Coordinator
	shutdown *observability.ShutdownCoordinator

	// closeGroup leaves the group on Stop.
	closeGroup func(*group.Group) error
}

// New creates an uninitialized provider. The store is shared with the
// caller, which remains responsible for closing it.
func New(cfg Config, resolver discovery.LocalResolver, store *handlestore.Store, metrics *observability.Metrics) (*Provider, error) {
	if resolver == nil || store == nil {
		return nil, fmt.Errorf("provider: resolver and store are required: %w", pkgerrors.ErrInvalidInput)
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Provider{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		metrics:  metrics,
		log:      logging.New(nil).WithComponent("provider"),
		shutdown: observability.NewShutdownCoordinator(metrics),

		closeGroup: (*group.Group).Close,
	}, nil
}

// Initialize connects to the group and wires the responder as its handler.
// Any failure aborts startup with a CodeStartup fault.
func (p *Provider) Initialize(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateUninitialized {
		return fmt.Errorf("initialize from %s: %w", p.state, pkgerrors.ErrInvalidState)
	}

	op, ctx := observability.StartOperation(ctx, p.metrics, "provider.initialize",
		observability.AttrGroup.String(p.cfg.Group.GroupName),
		observability.AttrNode.String(p.cfg.Group.NodeName),
	)
	defer func() { op.End(err) }()

	cache := discovery.NewMemoryQueryCache()
	responder := discovery.NewSearchResponder(p.resolver, p.metrics)
	receiver := discovery.NewReceiver(responder, p.store, cache, p.metrics)

	g, err := group.New(p.cfg.Group, receiver)
	if err != nil {
		return discovery.NewClusterError(discovery.CodeStartup, "create group transport", err)
	}
	if err := g.Connect(ctx); err != nil {
		_ = g.Close()
		return discovery.NewClusterError(discovery.CodeStartup,
			fmt.Sprintf("connect to group %q", p.cfg.Group.GroupName), err)
	}
	op.Step("group joined", attribute.Int("members", g.NumMembers()))

	coord, err := discovery.NewCoordinator(discovery.CoordinatorConfig{
		Group:        g,
		Cache:        cache,
		Store:        p.store,
		Factory:      remote.NewFactory(g),
		ReplyTimeout: p.cfg.ReplyTimeout,
		Metrics:      p.metrics,
	})
	if err != nil {
		_ = g.Close()
		return discovery.NewClusterError(discovery.CodeStartup, "create coordinator", err)
	}

	// LIFO: the coordinator stops before the transport it broadcasts on.
	p.shutdown.Register("group", func(context.Context) error {
		err := p.closeGroup(g)
		receiver.Wait()
		return err
	})
	p.shutdown.Register("coordinator", func(context.Context) error {
		return coord.Close()
	})

	p.group = g
	p.receiver = receiver
	p.coord = coord
	p.state = StateConnected
	p.log.Info("provider connected", "self", g.LocalAddress(), "members", g.NumMembers())
	return nil
}

// Start marks a connected provider as running; lookups become available.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConnected {
		return fmt.Errorf("start from %s: %w", p.state, pkgerrors.ErrInvalidState)
	}
	p.state = StateRunning
	p.log.Info("provider running")
	return nil
}

// Run initializes and starts the provider if needed, then blocks until ctx
// ends. The provider is stopped on every return path.
func (p *Provider) Run(ctx context.Context) (err error) {
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
		if stopErr := p.Stop(stopCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if p.State() == StateUninitialized {
		if err := p.Initialize(ctx); err != nil {
			return err
		}
	}
	if p.State() == StateConnected {
		if err := p.Start(); err != nil {
			return err
		}
	}
	if s := p.State(); s != StateRunning {
		return fmt.Errorf("run from %s: %w", s, pkgerrors.ErrInvalidState)
	}

	<-ctx.Done()
	return nil
}

// Stop closes the coordinator and leaves the group. Stop is idempotent; a
// transport failure is reported as a CodeShutdown fault after every
// component has been given the chance to release its resources.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	prev := p.state
	p.state = StateStopped
	p.mu.Unlock()

	if prev == StateUninitialized {
		return nil
	}
	if err := p.shutdown.Shutdown(ctx); err != nil {
		return discovery.NewClusterError(discovery.CodeShutdown, "stop provider", err)
	}
	p.log.Info("provider stopped")
	return nil
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) running() (*discovery.Coordinator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return nil, fmt.Errorf("provider is %s: %w", p.state, pkgerrors.ErrInvalidState)
	}
	return p.coord, nil
}

// LookupOption adjusts a single lookup.
type LookupOption func(*lookupOptions)

type lookupOptions struct {
	wait   bool
	filter *cel.Filter
}

// WithWait makes the lookup wait for its discovery round before reading the
// known handles.
func WithWait() LookupOption {
	return func(o *lookupOptions) { o.wait = true }
}

// WithFilter keeps only handles matching f.
func WithFilter(f *cel.Filter) LookupOption {
	return func(o *lookupOptions) { o.filter = f }
}

// Lookup returns the remote handles known for key and starts a discovery
// round in the background. Network problems never fail a lookup.
func (p *Provider) Lookup(ctx context.Context, key metadata.Key, opts ...LookupOption) ([]*remote.Handle, error) {
	coord, err := p.running()
	if err != nil {
		return nil, err
	}
	var o lookupOptions
	for _, opt := range opts {
		opt(&o)
	}

	var handles []*remote.Handle
	if o.wait {
		handles, err = coord.Discover(ctx, key)
	} else {
		handles, err = coord.Lookup(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	return cel.FilterHandles(o.filter, handles), nil
}

// LookupLocal always returns no handles: local resolution belongs to the
// registry.
func (p *Provider) LookupLocal(context.Context, metadata.Key) ([]*remote.Handle, error) {
	return nil, nil
}

// Members returns the group view, or nil before Initialize.
func (p *Provider) Members() []group.MemberInfo {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Members()
}

// Self returns this node's address in the group, or "" before Initialize.
func (p *Provider) Self() string {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return ""
	}
	return g.LocalAddress()
}

// Group returns the underlying transport, or nil before Initialize.
func (p *Provider) Group() *group.Group {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.group
}
