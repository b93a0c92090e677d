package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AdminServerOptions instruments a node's admin gRPC server. Every call gets
// a server span tagged with the node and is counted per full method and
// status code.
func AdminServerOptions(m *Metrics, node string) []grpc.ServerOption {
	o := &rpcObserver{metrics: m, node: node}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(o.unary),
		grpc.ChainStreamInterceptor(o.stream),
	}
}

type rpcObserver struct {
	metrics *Metrics
	node    string
}

func (o *rpcObserver) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := o.begin(ctx, info.FullMethod)
	start := time.Now()
	resp, err := handler(ctx, req)
	o.finish(span, info.FullMethod, start, err)
	return resp, err
}

// stream instruments server streams such as health Watch, which stay open
// until the client goes away and end with Canceled.
func (o *rpcObserver) stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, span := o.begin(ss.Context(), info.FullMethod)
	start := time.Now()
	counted := &countingStream{ServerStream: ss, ctx: ctx}
	err := handler(srv, counted)
	o.finish(span, info.FullMethod, start, err, attribute.Int64("rpc.messages_sent", counted.sent.Load()))
	return err
}

func (o *rpcObserver) begin(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx = extractTraceContext(ctx)
	return otel.Tracer(tracerName).Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(AttrNode.String(o.node)),
	)
}

func (o *rpcObserver) finish(span trace.Span, method string, start time.Time, err error, attrs ...attribute.KeyValue) {
	code := status.Code(err)
	span.SetAttributes(append(attrs, attribute.String("rpc.grpc.status_code", code.String()))...)
	if isRPCFailure(code) {
		EndSpan(span, err)
		o.metrics.ErrorsTotal.WithLabelValues(method, code.String()).Inc()
	} else {
		span.End()
	}
	o.metrics.OperationDuration.WithLabelValues(method, code.String()).Observe(time.Since(start).Seconds())
	o.metrics.OperationTotal.WithLabelValues(method, code.String()).Inc()
}

// isRPCFailure reports whether code counts as a server-side error. A client
// hanging up is not one.
func isRPCFailure(code grpccodes.Code) bool {
	return code != grpccodes.OK && code != grpccodes.Canceled
}

func extractTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	prop := otel.GetTextMapPropagator()
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return prop.Extract(ctx, propagation.HeaderCarrier(md))
}

type countingStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent atomic.Int64
}

func (c *countingStream) Context() context.Context { return c.ctx }

func (c *countingStream) SendMsg(m any) error {
	err := c.ServerStream.SendMsg(m)
	if err == nil {
		c.sent.Add(1)
	}
	return err
}
