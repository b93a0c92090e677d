// Package sqlite provides a SQLite-backed handle storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
	"github.com/gezibash/arc-cluster/internal/storage"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.arc-cluster/handles.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
	}
}

var journalModes = []string{"delete", "truncate", "persist", "memory", "wal", "off"}

const schema = `
CREATE TABLE IF NOT EXISTS handles (
    key_id    TEXT    NOT NULL,
    address   TEXT    NOT NULL,
    handle    INTEGER NOT NULL,
    added_at  INTEGER NOT NULL,
    PRIMARY KEY (key_id, address, handle)
);

CREATE INDEX IF NOT EXISTS idx_handles_address ON handles(address);
`

// NewFactory creates a new SQLite backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("sqlite", config)

	path, err := o.Path(KeyPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, o.Invalid(KeyPath, "failed to create directory", err)
	}

	journalMode := strings.ToLower(o.String(KeyJournalMode, "wal"))
	if !slices.Contains(journalModes, journalMode) {
		return nil, o.Invalid(KeyJournalMode, fmt.Sprintf("must be one of %v", journalModes), nil)
	}
	busyTimeout, err := o.NonNegativeInt(KeyBusyTimeout, 5000)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout))
	q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journalMode))
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, o.Invalid(KeyPath, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, o.Invalid(KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite handlestore initialized", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Add stores entries under keyID in one transaction.
func (b *Backend) Add(ctx context.Context, keyID string, entries []physical.Entry) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	now := time.Now().UnixMilli()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite add: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO handles (key_id, address, handle, added_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite add: prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, e := range entries {
		at := e.AddedAt
		if at == 0 {
			at = now
		}
		res, err := stmt.ExecContext(ctx, keyID, e.Address, int64(e.Handle), at)
		if err != nil {
			return 0, fmt.Errorf("sqlite add: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite add: commit: %w", err)
	}
	return added, nil
}

// List returns the entries under keyID.
func (b *Backend) List(ctx context.Context, keyID string) ([]physical.Entry, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT address, handle, added_at FROM handles WHERE key_id = ?`, keyID)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var out []physical.Entry
	for rows.Next() {
		var e physical.Entry
		var handle int64
		if err := rows.Scan(&e.Address, &handle, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("sqlite list: scan: %w", err)
		}
		e.Handle = uint64(handle)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	// Handles are stored as signed integers, so sort in Go.
	physical.SortEntries(out)
	return out, nil
}

// PurgeAddress removes every entry hosted at addr.
func (b *Backend) PurgeAddress(ctx context.Context, addr string) (int, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	res, err := b.db.ExecContext(ctx, `DELETE FROM handles WHERE address = ?`, addr)
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return int(n), nil
}

// Stats returns entry and key counts.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	st := &physical.Stats{BackendType: "sqlite"}
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT key_id), COUNT(*) FROM handles`).Scan(&st.Keys, &st.Entries)
	if err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	return st, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
