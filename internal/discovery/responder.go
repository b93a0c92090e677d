package discovery

import (
	"context"
	"fmt"

	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/registry"
	"github.com/gezibash/arc-cluster/internal/wire"
	"github.com/gezibash/arc-cluster/pkg/logging"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// LocalResolver resolves a key to the local implementations matching it.
type LocalResolver interface {
	ResolveLocal(ctx context.Context, key metadata.Key) ([]*registry.Instance, error)
}

// SearchResponder answers other nodes' search requests from the local
// registry. It holds no mutable state and is safe for concurrent use.
type SearchResponder struct {
	resolver LocalResolver
	metrics  *observability.Metrics
	log      *logging.Logger
}

// NewSearchResponder creates a responder over resolver.
func NewSearchResponder(resolver LocalResolver, metrics *observability.Metrics) *SearchResponder {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &SearchResponder{
		resolver: resolver,
		metrics:  metrics,
		log:      logging.New(nil).WithComponent("responder"),
	}
}

// Respond evaluates a query from requester. Exactly one local match yields
// StatusFound with its handle, none yields StatusNotFound, and more than one
// fails with a CodeMultipleImplementations fault instead of picking one.
func (r *SearchResponder) Respond(ctx context.Context, requester string, key metadata.Key) (res wire.SearchResponse, err error) {
	ctx, span := observability.StartRespondSpan(ctx, requester, key)
	defer func() { observability.EndSpan(span, err) }()

	log := r.log.WithKey(key).WithAddress("requester", requester)

	instances, err := r.resolver.ResolveLocal(ctx, key)
	if err != nil {
		r.metrics.ResponsesTotal.WithLabelValues("error").Inc()
		log.WarnContext(ctx, "resolve local implementations failed", "error", err)
		return wire.SearchResponse{}, fmt.Errorf("resolve %s: %w", key, err)
	}

	switch len(instances) {
	case 0:
		r.metrics.ResponsesTotal.WithLabelValues("not_found").Inc()
		log.DebugContext(ctx, "no local implementation")
		return wire.SearchResponse{Status: wire.StatusNotFound}, nil
	case 1:
		r.metrics.ResponsesTotal.WithLabelValues("found").Inc()
		log.DebugContext(ctx, "local implementation found", "handle", instances[0].ID)
		return wire.SearchResponse{Status: wire.StatusFound, Handle: instances[0].ID}, nil
	default:
		r.metrics.ResponsesTotal.WithLabelValues("ambiguous").Inc()
		ids := make([]uint64, len(instances))
		for i, inst := range instances {
			ids[i] = inst.ID
		}
		fault := NewClusterError(CodeMultipleImplementations,
			fmt.Sprintf("%d local implementations of %s", len(instances), key), nil)
		log.ErrorContext(ctx, "ambiguous local implementation", "handles", ids)
		return wire.SearchResponse{}, fault
	}
}
