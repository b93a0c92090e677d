package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/registry"
	"github.com/gezibash/arc-cluster/internal/wire"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

type failingResolver struct{ err error }

func (f failingResolver) ResolveLocal(context.Context, metadata.Key) ([]*registry.Instance, error) {
	return nil, f.err
}

func TestSearchResponder(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		m := observability.NewMetrics()
		r := NewSearchResponder(registry.New(), m)
		res, err := r.Respond(ctx, "node-1", greeter)
		if err != nil {
			t.Fatalf("respond: %v", err)
		}
		if res.Status != wire.StatusNotFound {
			t.Errorf("status = %s, want not_found", res.Status)
		}
		if v := testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("not_found")); v != 1 {
			t.Errorf("not_found responses = %v, want 1", v)
		}
	})

	t.Run("found", func(t *testing.T) {
		reg := registry.New()
		if _, err := reg.RegisterInstance(metadata.New("Other", "IOther"), "x"); err != nil {
			t.Fatal(err)
		}
		id, err := reg.RegisterInstance(metadata.New("Greeter", "IGreeter", "eu"), "greeter")
		if err != nil {
			t.Fatal(err)
		}
		r := NewSearchResponder(reg, nil)
		res, err := r.Respond(ctx, "node-1", greeter)
		if err != nil {
			t.Fatalf("respond: %v", err)
		}
		if res.Status != wire.StatusFound || res.Handle != id {
			t.Errorf("response = %+v, want found handle %d", res, id)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		m := observability.NewMetrics()
		r := NewSearchResponder(registryWith(t, map[string]int{"Greeter:IGreeter": 2}), m)
		_, err := r.Respond(ctx, "node-1", greeter)
		if !errors.Is(err, ErrAmbiguous) {
			t.Fatalf("err = %v, want ErrAmbiguous", err)
		}
		if code, ok := CodeOf(err); !ok || code != CodeMultipleImplementations {
			t.Errorf("code = %q, %v; want %q", code, ok, CodeMultipleImplementations)
		}
		if v := testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("ambiguous")); v != 1 {
			t.Errorf("ambiguous responses = %v, want 1", v)
		}
	})

	t.Run("resolver error", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewSearchResponder(failingResolver{err: boom}, nil)
		if _, err := r.Respond(ctx, "node-1", greeter); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})
}

func TestClusterError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewClusterError(CodeStartup, "join group", cause)

	if !errors.Is(err, ErrStartup) {
		t.Error("errors.Is(err, ErrStartup) = false, want true")
	}
	if errors.Is(err, ErrShutdown) {
		t.Error("errors.Is(err, ErrShutdown) = true, want false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if code, ok := CodeOf(err); !ok || code != CodeStartup {
		t.Errorf("CodeOf = %q, %v", code, ok)
	}
	if _, ok := CodeOf(cause); ok {
		t.Error("CodeOf on a plain error reported a code")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}
}
