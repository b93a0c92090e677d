// Package redis provides a Redis-backed handle storage backend, so several
// processes can share discovered handles.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
	"github.com/gezibash/arc-cluster/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	defaultPrefix = "arc-cluster:"
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    defaultPrefix,
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("redis", config)

	addr, err := o.Required(KeyAddr)
	if err != nil {
		return nil, err
	}
	db, err := o.NonNegativeInt(KeyDB, 0)
	if err != nil {
		return nil, err
	}
	maxRetries, err := o.Int(KeyMaxRetries, 3)
	if err != nil {
		return nil, err
	}
	poolSize, err := o.NonNegativeInt(KeyPoolSize, 0)
	if err != nil {
		return nil, err
	}

	dialTimeout, err := o.Duration(KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	readTimeout, err := o.Duration(KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := o.Duration(KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         addr,
		Password:     o.String(KeyPassword, ""),
		DB:           db,
		MaxRetries:   maxRetries,
		PoolSize:     poolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, o.Invalid(KeyAddr, "failed to connect", err)
	}

	keyPrefix := o.String(KeyKeyPrefix, defaultPrefix)
	slog.Info("redis handlestore initialized", "addr", addr, "db", db, "key_prefix", keyPrefix)
	return NewWithClient(client, keyPrefix), nil
}

// Backend is a Redis implementation of physical.Backend.
//
// Layout, under the key prefix:
//
//	h:<key id>   hash   "<handle>|<address>" -> added_at
//	a:<address>  set    "<key id>|<handle>"
//	keys         set    key ids with at least one entry
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a new backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) handlesKey(keyID string) string { return b.prefix + "h:" + keyID }
func (b *Backend) addressKey(addr string) string  { return b.prefix + "a:" + addr }
func (b *Backend) keysKey() string                { return b.prefix + "keys" }

func joinField(left, right string) string { return left + "|" + right }

// Add stores entries under keyID.
func (b *Backend) Add(ctx context.Context, keyID string, entries []physical.Entry) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	if len(entries) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()

	pipe := b.client.Pipeline()
	results := make([]*redis.BoolCmd, len(entries))
	for i, e := range entries {
		at := e.AddedAt
		if at == 0 {
			at = now
		}
		handle := strconv.FormatUint(e.Handle, 10)
		results[i] = pipe.HSetNX(ctx, b.handlesKey(keyID), joinField(handle, e.Address), at)
		pipe.SAdd(ctx, b.addressKey(e.Address), joinField(keyID, handle))
	}
	pipe.SAdd(ctx, b.keysKey(), keyID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis add: %w", err)
	}

	added := 0
	for _, r := range results {
		if r.Val() {
			added++
		}
	}
	return added, nil
}

// List returns the entries under keyID.
func (b *Backend) List(ctx context.Context, keyID string) ([]physical.Entry, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	fields, err := b.client.HGetAll(ctx, b.handlesKey(keyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	out := make([]physical.Entry, 0, len(fields))
	for field, val := range fields {
		handleStr, addr, ok := strings.Cut(field, "|")
		if !ok {
			continue
		}
		handle, err := strconv.ParseUint(handleStr, 10, 64)
		if err != nil {
			continue
		}
		at, _ := strconv.ParseInt(val, 10, 64)
		out = append(out, physical.Entry{Address: addr, Handle: handle, AddedAt: at})
	}
	physical.SortEntries(out)
	return out, nil
}

// PurgeAddress removes every entry hosted at addr.
func (b *Backend) PurgeAddress(ctx context.Context, addr string) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	members, err := b.client.SMembers(ctx, b.addressKey(addr)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis purge: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	touched := make(map[string]struct{})
	pipe := b.client.TxPipeline()
	dels := make([]*redis.IntCmd, 0, len(members))
	for _, m := range members {
		keyID, handle, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		touched[keyID] = struct{}{}
		dels = append(dels, pipe.HDel(ctx, b.handlesKey(keyID), joinField(handle, addr)))
	}
	pipe.Del(ctx, b.addressKey(addr))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis purge: %w", err)
	}

	removed := 0
	for _, d := range dels {
		removed += int(d.Val())
	}

	for keyID := range touched {
		n, err := b.client.HLen(ctx, b.handlesKey(keyID)).Result()
		if err == nil && n == 0 {
			b.client.SRem(ctx, b.keysKey(), keyID)
		}
	}
	return removed, nil
}

// Stats returns entry and key counts.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	keyIDs, err := b.client.SMembers(ctx, b.keysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}

	pipe := b.client.Pipeline()
	lens := make([]*redis.IntCmd, len(keyIDs))
	for i, keyID := range keyIDs {
		lens[i] = pipe.HLen(ctx, b.handlesKey(keyID))
	}
	if len(keyIDs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis stats: %w", err)
		}
	}

	st := &physical.Stats{BackendType: "redis"}
	for _, l := range lens {
		if l.Val() > 0 {
			st.Keys++
			st.Entries += l.Val()
		}
	}
	return st, nil
}

// Close closes the Redis client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
