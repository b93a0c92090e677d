package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ShutdownCoordinator releases a node's components in LIFO order: what was
// started last, and may depend on the rest, stops first. The zero value is
// ready to use; handlers run at most once.
type ShutdownCoordinator struct {
	// Metrics, when set, records each handler as a "shutdown.<name>"
	// operation.
	Metrics *Metrics

	mu       sync.Mutex
	handlers []namedHandler
}

type namedHandler struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownCoordinator creates a coordinator recording into m.
func NewShutdownCoordinator(m *Metrics) *ShutdownCoordinator {
	return &ShutdownCoordinator{Metrics: m}
}

// Register adds a shutdown handler. Handlers run in LIFO order.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, namedHandler{name: name, fn: fn})
}

// Shutdown runs the registered handlers in reverse order and forgets them.
// A failing handler does not stop the others; every failure is returned,
// prefixed with its handler name.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	var errs error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		start := time.Now()
		err := h.fn(ctx)
		elapsed := time.Since(start)
		s.record(h.name, elapsed, err)
		if err != nil {
			slog.Error("shutdown error", "component", h.name, "error", err, "duration", elapsed)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		slog.Debug("component stopped", "component", h.name, "duration", elapsed)
	}
	return errs
}

func (s *ShutdownCoordinator) record(name string, elapsed time.Duration, err error) {
	if s.Metrics == nil {
		return
	}
	op, status := "shutdown."+name, OperationStatus(err)
	s.Metrics.OperationDuration.WithLabelValues(op, status).Observe(elapsed.Seconds())
	s.Metrics.OperationTotal.WithLabelValues(op, status).Inc()
}
