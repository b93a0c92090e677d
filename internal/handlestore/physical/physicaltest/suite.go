// Package physicaltest provides the shared behavioral tests every handlestore
// backend must pass.
package physicaltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
)

const (
	keyA = "0123456789abcdef0123456789abcdef"
	keyB = "fedcba9876543210fedcba9876543210"
)

// Run executes the suite against fresh backends from newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) physical.Backend) {
	t.Helper()

	t.Run("AddAndList", func(t *testing.T) {
		be := newBackend(t)
		ctx := context.Background()

		n, err := be.Add(ctx, keyA, []physical.Entry{
			{Address: "node-b", Handle: 2},
			{Address: "node-a", Handle: 7},
			{Address: "node-b", Handle: 1},
		})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if n != 3 {
			t.Errorf("added = %d, want 3", n)
		}

		got, err := be.List(ctx, keyA)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []struct {
			addr   string
			handle uint64
		}{{"node-a", 7}, {"node-b", 1}, {"node-b", 2}}
		if len(got) != len(want) {
			t.Fatalf("entries = %d, want %d", len(got), len(want))
		}
		for i, w := range want {
			if got[i].Address != w.addr || got[i].Handle != w.handle {
				t.Errorf("[%d] = %s/%d, want %s/%d", i, got[i].Address, got[i].Handle, w.addr, w.handle)
			}
			if got[i].AddedAt == 0 {
				t.Errorf("[%d] AddedAt not set", i)
			}
		}
	})

	t.Run("AddIsIdempotent", func(t *testing.T) {
		be := newBackend(t)
		ctx := context.Background()

		entries := []physical.Entry{{Address: "node-a", Handle: 1}}
		if _, err := be.Add(ctx, keyA, entries); err != nil {
			t.Fatalf("Add: %v", err)
		}
		first, _ := be.List(ctx, keyA)

		n, err := be.Add(ctx, keyA, append(entries, physical.Entry{Address: "node-a", Handle: 2}))
		if err != nil {
			t.Fatalf("second Add: %v", err)
		}
		if n != 1 {
			t.Errorf("added = %d, want 1", n)
		}
		got, _ := be.List(ctx, keyA)
		if len(got) != 2 {
			t.Fatalf("entries = %d, want 2", len(got))
		}
		if got[0].AddedAt != first[0].AddedAt {
			t.Errorf("AddedAt changed on re-add: %d -> %d", first[0].AddedAt, got[0].AddedAt)
		}
	})

	t.Run("KeysAreIsolated", func(t *testing.T) {
		be := newBackend(t)
		ctx := context.Background()

		_, _ = be.Add(ctx, keyA, []physical.Entry{{Address: "node-a", Handle: 1}})
		_, _ = be.Add(ctx, keyB, []physical.Entry{{Address: "node-a", Handle: 1}, {Address: "node-c", Handle: 9}})

		a, _ := be.List(ctx, keyA)
		b, _ := be.List(ctx, keyB)
		if len(a) != 1 || len(b) != 2 {
			t.Errorf("len(a) = %d, len(b) = %d, want 1 and 2", len(a), len(b))
		}
		missing, err := be.List(ctx, "ffffffffffffffffffffffffffffffff")
		if err != nil {
			t.Fatalf("List unknown key: %v", err)
		}
		if len(missing) != 0 {
			t.Errorf("unknown key entries = %d, want 0", len(missing))
		}
	})

	t.Run("PurgeAddress", func(t *testing.T) {
		be := newBackend(t)
		ctx := context.Background()

		_, _ = be.Add(ctx, keyA, []physical.Entry{{Address: "node-a", Handle: 1}, {Address: "node-b", Handle: 1}})
		_, _ = be.Add(ctx, keyB, []physical.Entry{{Address: "node-a", Handle: 3}})

		n, err := be.PurgeAddress(ctx, "node-a")
		if err != nil {
			t.Fatalf("PurgeAddress: %v", err)
		}
		if n != 2 {
			t.Errorf("purged = %d, want 2", n)
		}
		a, _ := be.List(ctx, keyA)
		if len(a) != 1 || a[0].Address != "node-b" {
			t.Errorf("keyA after purge = %v, want only node-b", a)
		}
		b, _ := be.List(ctx, keyB)
		if len(b) != 0 {
			t.Errorf("keyB after purge = %v, want empty", b)
		}

		n, err = be.PurgeAddress(ctx, "node-a")
		if err != nil || n != 0 {
			t.Errorf("second purge = %d, %v, want 0, nil", n, err)
		}

		// Purged entries can be re-added.
		n, _ = be.Add(ctx, keyB, []physical.Entry{{Address: "node-a", Handle: 3}})
		if n != 1 {
			t.Errorf("re-add after purge = %d, want 1", n)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		be := newBackend(t)
		ctx := context.Background()

		_, _ = be.Add(ctx, keyA, []physical.Entry{{Address: "node-a", Handle: 1}, {Address: "node-b", Handle: 1}})
		_, _ = be.Add(ctx, keyB, []physical.Entry{{Address: "node-a", Handle: 3}})

		st, err := be.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Keys != 2 || st.Entries != 3 {
			t.Errorf("stats = %+v, want 2 keys and 3 entries", st)
		}
		if st.BackendType == "" {
			t.Error("backend type empty")
		}
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		be := newBackend(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					_, err := be.Add(ctx, keyA, []physical.Entry{{Address: fmt.Sprintf("node-%d", i), Handle: 1}})
					if err != nil {
						t.Errorf("Add: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got, _ := be.List(ctx, keyA)
		if len(got) != 10 {
			t.Errorf("entries = %d, want 10", len(got))
		}
	})

	t.Run("Closed", func(t *testing.T) {
		be := newBackend(t)
		if err := be.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, err := be.List(context.Background(), keyA); !errors.Is(err, physical.ErrClosed) {
			t.Errorf("List after close err = %v, want ErrClosed", err)
		}
		if _, err := be.Add(context.Background(), keyA, nil); !errors.Is(err, physical.ErrClosed) {
			t.Errorf("Add after close err = %v, want ErrClosed", err)
		}
	})
}
