package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "arc-cluster"

// Attribute keys shared by the tracer resource and cluster spans.
const (
	AttrGroup     = attribute.Key("cluster.group")
	AttrNode      = attribute.Key("cluster.node")
	AttrTransport = attribute.Key("cluster.transport")
	AttrMetadata  = attribute.Key("cluster.metadata")
	AttrPeer      = attribute.Key("cluster.peer")

	AttrTargets  = attribute.Key("cluster.round.targets")
	AttrExcluded = attribute.Key("cluster.round.excluded")
	AttrReplied  = attribute.Key("cluster.round.replied")
	AttrFound    = attribute.Key("cluster.round.found")
	AttrOutcome  = attribute.Key("cluster.round.outcome")
)

// StartRoundSpan opens the span of one discovery round for key, broadcast to
// targets members while excluded members were skipped as already queried.
func StartRoundSpan(ctx context.Context, key fmt.Stringer, targets, excluded int) (context.Context, trace.Span) {
	return startSpan(ctx, "discovery.round", trace.SpanKindClient,
		AttrMetadata.String(key.String()),
		AttrTargets.Int(targets),
		AttrExcluded.Int(excluded),
	)
}

// EndRoundSpan records what the round gathered and ends its span.
func EndRoundSpan(span trace.Span, replied, found int, outcome string, err error) {
	span.SetAttributes(
		AttrReplied.Int(replied),
		AttrFound.Int(found),
		AttrOutcome.String(outcome),
	)
	EndSpan(span, err)
}

// StartRespondSpan opens the span answering a search for key sent by peer.
func StartRespondSpan(ctx context.Context, peer string, key fmt.Stringer) (context.Context, trace.Span) {
	return startSpan(ctx, "discovery.respond", trace.SpanKindServer,
		AttrMetadata.String(key.String()),
		AttrPeer.String(peer),
	)
}

func startSpan(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan ends a span, recording any error.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
