package discovery

import (
	"slices"
	"sync"

	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// AddressForgetter drops a node from every cached query.
type AddressForgetter interface {
	ForgetAddress(addr string)
}

// QueryCache remembers which nodes already answered a query for a key, so
// later rounds for that key skip them.
type QueryCache interface {
	AddressForgetter
	// AlreadyQueried returns the addresses that answered for key, sorted.
	AlreadyQueried(key metadata.Key) []string
	// MarkQueried merges addrs into the set for key. It never removes.
	MarkQueried(key metadata.Key, addrs []string)
	// Clear forgets everything.
	Clear()
}

// MemoryQueryCache is an in-process QueryCache.
type MemoryQueryCache struct {
	mu      sync.RWMutex
	entries map[metadata.Key]map[string]struct{}
}

var _ QueryCache = (*MemoryQueryCache)(nil)

// NewMemoryQueryCache creates an empty cache.
func NewMemoryQueryCache() *MemoryQueryCache {
	return &MemoryQueryCache{entries: make(map[metadata.Key]map[string]struct{})}
}

func (c *MemoryQueryCache) AlreadyQueried(key metadata.Key) []string {
	c.mu.RLock()
	set := c.entries[key]
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (c *MemoryQueryCache) MarkQueried(key metadata.Key, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.entries[key]
	if !ok {
		set = make(map[string]struct{}, len(addrs))
		c.entries[key] = set
	}
	for _, a := range addrs {
		set[a] = struct{}{}
	}
}

// ForgetAddress removes addr from every key. A node that left the group
// loses its stored handles, so it has to be asked again if it returns.
func (c *MemoryQueryCache) ForgetAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, set := range c.entries {
		delete(set, addr)
		if len(set) == 0 {
			delete(c.entries, key)
		}
	}
}

func (c *MemoryQueryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[metadata.Key]map[string]struct{})
	c.mu.Unlock()
}

// Len returns the number of keys with at least one queried address.
func (c *MemoryQueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
