// Package memory provides an in-process handle storage backend.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{}
}

// NewFactory creates a new memory backend. The configuration is ignored.
func NewFactory(_ context.Context, _ map[string]string) (physical.Backend, error) {
	return New(), nil
}

type entryID struct {
	address string
	handle  uint64
}

// Backend is an in-memory implementation of physical.Backend.
type Backend struct {
	mu     sync.RWMutex
	byKey  map[string]map[entryID]int64
	byAddr map[string]map[string]struct{} // address -> key ids
	closed atomic.Bool
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{
		byKey:  make(map[string]map[entryID]int64),
		byAddr: make(map[string]map[string]struct{}),
	}
}

func (b *Backend) Add(_ context.Context, keyID string, entries []physical.Entry) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	now := time.Now().UnixMilli()

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.byKey[keyID]
	if !ok {
		set = make(map[entryID]int64)
		b.byKey[keyID] = set
	}
	added := 0
	for _, e := range entries {
		id := entryID{address: e.Address, handle: e.Handle}
		if _, exists := set[id]; exists {
			continue
		}
		at := e.AddedAt
		if at == 0 {
			at = now
		}
		set[id] = at
		keys, ok := b.byAddr[e.Address]
		if !ok {
			keys = make(map[string]struct{})
			b.byAddr[e.Address] = keys
		}
		keys[keyID] = struct{}{}
		added++
	}
	return added, nil
}

func (b *Backend) List(_ context.Context, keyID string) ([]physical.Entry, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	b.mu.RLock()
	set := b.byKey[keyID]
	out := make([]physical.Entry, 0, len(set))
	for id, at := range set {
		out = append(out, physical.Entry{Address: id.address, Handle: id.handle, AddedAt: at})
	}
	b.mu.RUnlock()

	physical.SortEntries(out)
	return out, nil
}

func (b *Backend) PurgeAddress(_ context.Context, addr string) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for keyID := range b.byAddr[addr] {
		set := b.byKey[keyID]
		for id := range set {
			if id.address == addr {
				delete(set, id)
				removed++
			}
		}
		if len(set) == 0 {
			delete(b.byKey, keyID)
		}
	}
	delete(b.byAddr, addr)
	return removed, nil
}

func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int64
	for _, set := range b.byKey {
		n += int64(len(set))
	}
	return &physical.Stats{
		Keys:        int64(len(b.byKey)),
		Entries:     n,
		BackendType: "memory",
	}, nil
}

func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}
