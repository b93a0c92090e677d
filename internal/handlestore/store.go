// Package handlestore keeps the remote handles discovered for each metadata
// key. It stores (address, handle) pairs only; the sender capability is
// attached again when handles are read back.
package handlestore

import (
	"context"
	"fmt"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/pkg/logging"
	"github.com/gezibash/arc-cluster/pkg/metadata"
	"github.com/gezibash/arc-cluster/pkg/remote"
)

// Store is a concurrency-safe, additive set of remote handle ids per key.
type Store struct {
	backend physical.Backend
	log     *logging.Logger
}

// New wraps an open backend.
func New(backend physical.Backend) *Store {
	return &Store{
		backend: backend,
		log:     logging.New(nil).WithComponent("handlestore"),
	}
}

// Open creates the named backend and wraps it.
func Open(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (*Store, error) {
	backend, err := physical.New(ctx, name, config, metrics)
	if err != nil {
		return nil, fmt.Errorf("open handlestore: %w", err)
	}
	return New(backend), nil
}

// Add merges ids into the set for key and returns how many were new.
func (s *Store) Add(ctx context.Context, key metadata.Key, ids []remote.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	entries := make([]physical.Entry, len(ids))
	for i, id := range ids {
		entries[i] = physical.Entry{Address: id.Address, Handle: id.Handle}
	}
	n, err := s.backend.Add(ctx, key.ID(), entries)
	if err != nil {
		return 0, fmt.Errorf("add handles for %s: %w", key, err)
	}
	if n > 0 {
		s.log.WithKey(key).Debug("handles added", "added", n)
	}
	return n, nil
}

// Get returns the ids known for key, ordered by address then handle.
func (s *Store) Get(ctx context.Context, key metadata.Key) ([]remote.ID, error) {
	entries, err := s.backend.List(ctx, key.ID())
	if err != nil {
		return nil, fmt.Errorf("get handles for %s: %w", key, err)
	}
	ids := make([]remote.ID, len(entries))
	for i, e := range entries {
		ids[i] = remote.ID{Address: e.Address, Handle: e.Handle}
	}
	return ids, nil
}

// PurgeAddress drops every handle hosted at addr.
func (s *Store) PurgeAddress(ctx context.Context, addr string) (int, error) {
	n, err := s.backend.PurgeAddress(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("purge handles at %s: %w", addr, err)
	}
	if n > 0 {
		s.log.WithAddress("node", addr).Info("handles purged", "removed", n)
	}
	return n, nil
}

// Stats returns backend statistics.
func (s *Store) Stats(ctx context.Context) (*physical.Stats, error) {
	return s.backend.Stats(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
