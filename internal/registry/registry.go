// Package registry is the node-local service registry. Implementations are
// registered under a metadata key and instantiated lazily the first time a
// query resolves them.
package registry

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/logging"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// Factory creates the implementation registered under key.
type Factory func(ctx context.Context, key metadata.Key) (any, error)

// Instance is an instantiated local implementation.
type Instance struct {
	// ID is the opaque handle exposed to other nodes. It is assigned at
	// registration and never reused.
	ID      uint64
	Key     metadata.Key
	Service any
}

type entry struct {
	id      uint64
	key     metadata.Key
	factory Factory

	mu       sync.Mutex
	instance *Instance
}

// instantiate runs the factory once. A failed factory is retried on the
// next resolution.
func (e *entry) instantiate(ctx context.Context) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance != nil {
		return e.instance, nil
	}
	svc, err := e.factory(ctx, e.key)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", e.key, err)
	}
	e.instance = &Instance{ID: e.id, Key: e.key, Service: svc}
	return e.instance, nil
}

// Registry holds local registrations in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byID    map[uint64]*entry
	nextID  uint64
	log     *logging.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[uint64]*entry),
		nextID: 1,
		log:    logging.New(nil).WithComponent("registry"),
	}
}

// Register adds an implementation of key and returns its handle id.
// Several implementations may share a key; resolving such a key yields all
// of them.
func (r *Registry) Register(key metadata.Key, factory Factory) (uint64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if factory == nil {
		return 0, fmt.Errorf("register %s: nil factory: %w", key, pkgerrors.ErrInvalidInput)
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	e := &entry{id: id, key: key, factory: factory}
	r.entries = append(r.entries, e)
	r.byID[id] = e
	r.mu.Unlock()

	r.log.WithKey(key).Debug("registered implementation", "handle", id)
	return id, nil
}

// RegisterInstance registers an already constructed implementation.
func (r *Registry) RegisterInstance(key metadata.Key, svc any) (uint64, error) {
	return r.Register(key, func(context.Context, metadata.Key) (any, error) {
		return svc, nil
	})
}

// ResolveLocal instantiates and returns every registration whose key matches
// query, in registration order.
func (r *Registry) ResolveLocal(ctx context.Context, query metadata.Key) ([]*Instance, error) {
	r.mu.RLock()
	var matched []*entry
	for _, e := range r.entries {
		if e.key.Matches(query) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	out := make([]*Instance, 0, len(matched))
	for _, e := range matched {
		inst, err := e.instantiate(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Instance returns the implementation behind a handle id, instantiating it
// if needed.
func (r *Registry) Instance(ctx context.Context, id uint64) (*Instance, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", id, pkgerrors.ErrNotFound)
	}
	return e.instantiate(ctx)
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []metadata.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]metadata.Key, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.key
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
