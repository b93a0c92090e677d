package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation statuses used as the status label of the operation metrics.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Operation tracks one node lifecycle step, such as joining the group or
// opening the handle store, with a span, log lines and the operation metrics.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
	logger  *slog.Logger
}

// StartOperation begins tracking the step name. attrs are set on the span
// and repeated on every log line of the operation.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := startSpan(ctx, name, trace.SpanKindInternal, attrs...)
	logger := slog.Default().With("operation", name)
	for _, a := range attrs {
		logger = logger.With(string(a.Key), a.Value.AsInterface())
	}
	logger.DebugContext(ctx, "operation started")

	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
		logger:  logger,
	}, ctx
}

// Step marks a milestone inside the operation.
func (o *Operation) Step(msg string, attrs ...attribute.KeyValue) {
	o.span.AddEvent(msg, trace.WithAttributes(attrs...))
	args := make([]any, 0, 2*len(attrs)+2)
	args = append(args, "elapsed", time.Since(o.start))
	for _, a := range attrs {
		args = append(args, string(a.Key), a.Value.AsInterface())
	}
	o.logger.DebugContext(o.ctx, msg, args...)
}

// End finishes the operation, recording duration and status.
func (o *Operation) End(err error) {
	duration := time.Since(o.start)
	status := OperationStatus(err)
	if err != nil {
		o.logger.ErrorContext(o.ctx, "operation failed", "status", status, "error", err, "duration", duration)
	} else {
		o.logger.InfoContext(o.ctx, "operation completed", "duration", duration)
	}

	EndSpan(o.span, err)
	if o.metrics == nil {
		return
	}
	o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(duration.Seconds())
	o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
	if err != nil {
		o.metrics.ErrorsTotal.WithLabelValues(o.name, status).Inc()
	}
}

// OperationStatus classifies err for the status label. Context expiry is
// reported apart from other failures.
func OperationStatus(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusError
	}
}
