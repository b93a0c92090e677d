// Package physical provides the storage backend interface for discovered
// remote handles.
package physical

import (
	"cmp"
	"context"
	"errors"
	"slices"
)

// ErrClosed indicates the backend has been closed.
var ErrClosed = errors.New("backend closed")

// Entry is one remote handle discovered for a metadata key.
type Entry struct {
	Address string
	Handle  uint64
	// AddedAt is the unix millisecond time the entry was first stored.
	AddedAt int64
}

// Stats contains storage statistics.
type Stats struct {
	Keys        int64
	Entries     int64
	BackendType string
}

// Backend is the physical storage interface for remote handles, keyed by a
// metadata key id. Entries are unique per (key id, address, handle); adding
// an existing entry keeps the original. All implementations must be
// thread-safe.
type Backend interface {
	// Add stores entries under keyID and returns how many were new.
	Add(ctx context.Context, keyID string, entries []Entry) (int, error)
	// List returns the entries under keyID ordered by address then handle.
	List(ctx context.Context, keyID string) ([]Entry, error)
	// PurgeAddress removes every entry hosted at addr, under any key.
	PurgeAddress(ctx context.Context, addr string) (int, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// SortEntries orders entries by address then handle.
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(a.Address, b.Address); c != 0 {
			return c
		}
		return cmp.Compare(a.Handle, b.Handle)
	})
}
