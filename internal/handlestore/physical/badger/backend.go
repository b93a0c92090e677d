// Package badger provides a BadgerDB-backed handle storage backend.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
	"github.com/gezibash/arc-cluster/internal/storage"
)

// Key layout:
//
//	h/<key id>/<address>\x00<handle:8>  -> added_at:8
//	a/<address>\x00<key id>/<handle:8>  -> (empty)
const (
	prefixHandle  = "h/"
	prefixAddress = "a/"
	sep           = 0x00

	maxConflictRetries = 16
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.arc-cluster/handles",
		KeySyncWrites:       "false",
		KeyValueLogFileSize: strconv.FormatInt(64<<20, 10),
		KeyMemTableSize:     strconv.FormatInt(16<<20, 10),
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("badger", config)

	inMemory, err := o.Bool(KeyInMemory, false)
	if err != nil {
		return nil, err
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path, err := o.Path(KeyPath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, o.Invalid(KeyPath, "failed to create directory", err)
		}
		opts = badger.DefaultOptions(path)

		if opts.SyncWrites, err = o.Bool(KeySyncWrites, false); err != nil {
			return nil, err
		}
		valueLogFileSize, err := o.Int64(KeyValueLogFileSize, 64<<20)
		if err != nil {
			return nil, err
		}
		if valueLogFileSize > 0 {
			opts.ValueLogFileSize = valueLogFileSize
		}
	}

	memTableSize, err := o.Int64(KeyMemTableSize, 16<<20)
	if err != nil {
		return nil, err
	}
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, o.Invalid(KeyPath, "failed to open database", err)
	}

	slog.Info("badger handlestore initialized", "path", opts.Dir, "in_memory", inMemory)
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

func handleKey(keyID, addr string, handle uint64) []byte {
	k := make([]byte, 0, len(prefixHandle)+len(keyID)+1+len(addr)+1+8)
	k = append(k, prefixHandle...)
	k = append(k, keyID...)
	k = append(k, '/')
	k = append(k, addr...)
	k = append(k, sep)
	return binary.BigEndian.AppendUint64(k, handle)
}

func addressKey(addr, keyID string, handle uint64) []byte {
	k := make([]byte, 0, len(prefixAddress)+len(addr)+1+len(keyID)+1+8)
	k = append(k, prefixAddress...)
	k = append(k, addr...)
	k = append(k, sep)
	k = append(k, keyID...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, handle)
}

// splitTail parses "<text>\x00<handle:8>" or "<text>/<handle:8>" suffixes.
func splitTail(rest []byte, delim byte) (string, uint64, bool) {
	if len(rest) < 9 || rest[len(rest)-9] != delim {
		return "", 0, false
	}
	return string(rest[:len(rest)-9]), binary.BigEndian.Uint64(rest[len(rest)-8:]), true
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (b *Backend) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Add stores entries under keyID.
func (b *Backend) Add(_ context.Context, keyID string, entries []physical.Entry) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	now := time.Now().UnixMilli()

	var added int
	err := b.update(func(txn *badger.Txn) error {
		added = 0
		for _, e := range entries {
			hk := handleKey(keyID, e.Address, e.Handle)
			if _, err := txn.Get(hk); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			at := e.AddedAt
			if at == 0 {
				at = now
			}
			if err := txn.Set(hk, binary.BigEndian.AppendUint64(nil, uint64(at))); err != nil {
				return err
			}
			if err := txn.Set(addressKey(e.Address, keyID, e.Handle), nil); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger add: %w", err)
	}
	return added, nil
}

// List returns the entries under keyID.
func (b *Backend) List(_ context.Context, keyID string) ([]physical.Entry, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	prefix := []byte(prefixHandle + keyID + "/")

	var out []physical.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			addr, handle, ok := splitTail(bytes.TrimPrefix(item.Key(), prefix), sep)
			if !ok {
				continue
			}
			var at int64
			if err := item.Value(func(v []byte) error {
				if len(v) == 8 {
					at = int64(binary.BigEndian.Uint64(v))
				}
				return nil
			}); err != nil {
				return err
			}
			out = append(out, physical.Entry{Address: addr, Handle: handle, AddedAt: at})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}
	physical.SortEntries(out)
	return out, nil
}

// PurgeAddress removes every entry hosted at addr.
func (b *Backend) PurgeAddress(_ context.Context, addr string) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	prefix := append([]byte(prefixAddress+addr), sep)

	var removed int
	err := b.update(func(txn *badger.Txn) error {
		removed = 0
		var doomed [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			ak := it.Item().KeyCopy(nil)
			keyID, handle, ok := splitTail(bytes.TrimPrefix(ak, prefix), '/')
			if !ok {
				continue
			}
			doomed = append(doomed, ak, handleKey(keyID, addr, handle))
			removed++
		}
		it.Close()

		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger purge: %w", err)
	}
	return removed, nil
}

// Stats returns entry and key counts.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	st := &physical.Stats{BackendType: "badger"}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixHandle)})
		defer it.Close()
		var lastKey []byte
		for it.Rewind(); it.Valid(); it.Next() {
			k := bytes.TrimPrefix(it.Item().Key(), []byte(prefixHandle))
			i := bytes.IndexByte(k, '/')
			if i < 0 {
				continue
			}
			st.Entries++
			if !bytes.Equal(lastKey, k[:i]) {
				st.Keys++
				lastKey = append(lastKey[:0], k[:i]...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger stats: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
