package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
	"github.com/gezibash/arc-cluster/internal/handlestore/physical/physicaltest"
	"github.com/gezibash/arc-cluster/internal/storage"
)

func TestBackendInMemory(t *testing.T) {
	physicaltest.Run(t, func(t *testing.T) physical.Backend {
		be, err := NewFactory(context.Background(), map[string]string{KeyInMemory: "true"})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { be.Close() })
		return be
	})
}

func TestBackendPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping on-disk badger test in short mode")
	}
	dir := filepath.Join(t.TempDir(), "handles")
	cfg := map[string]string{KeyPath: dir}
	ctx := context.Background()

	be, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := be.Add(ctx, "k1", []physical.Entry{{Address: "node-a", Handle: 42}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	be, err = NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer be.Close()
	got, err := be.List(ctx, "k1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Handle != 42 {
		t.Errorf("entries = %v, want node-a/42", got)
	}
}

func TestFactoryConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]string
	}{
		{"bad in_memory", map[string]string{KeyInMemory: "maybe"}},
		{"empty path", map[string]string{KeyPath: ""}},
		{"bad mem table", map[string]string{KeyInMemory: "true", KeyMemTableSize: "big"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(context.Background(), tt.cfg)
			var ce *storage.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if ce.Backend != "badger" {
				t.Errorf("backend = %q, want badger", ce.Backend)
			}
		})
	}
}

func TestKeyLayoutRoundTrip(t *testing.T) {
	keyID := "0123456789abcdef0123456789abcdef"
	hk := handleKey(keyID, "node/with/slashes", 7)
	addr, handle, ok := splitTail(hk[len(prefixHandle)+len(keyID)+1:], sep)
	if !ok || addr != "node/with/slashes" || handle != 7 {
		t.Errorf("handle key parsed = %q, %d, %v", addr, handle, ok)
	}

	ak := addressKey("node-a", keyID, 9)
	gotKey, gotHandle, ok := splitTail(ak[len(prefixAddress)+len("node-a")+1:], '/')
	if !ok || gotKey != keyID || gotHandle != 9 {
		t.Errorf("address key parsed = %q, %d, %v", gotKey, gotHandle, ok)
	}
}
