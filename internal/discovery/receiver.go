package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gezibash/arc-cluster/internal/group"
	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/wire"
	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/logging"
)

// purgeTimeout bounds the store cleanup after a member leaves.
const purgeTimeout = 10 * time.Second

// AddressPurger drops the handles hosted at a departed member.
type AddressPurger interface {
	PurgeAddress(ctx context.Context, addr string) (int, error)
}

// Receiver is the transport-facing handler of a node. It answers requests
// (search and ping), tracks membership, and observes the node's own
// connection state.
type Receiver struct {
	responder *SearchResponder
	purger    AddressPurger
	cache     AddressForgetter
	metrics   *observability.Metrics
	log       *logging.Logger

	self      atomic.Value // string
	connected atomic.Bool
	members   atomic.Int64

	// purges tracks in-flight store cleanups started from NodeLeft.
	purges sync.WaitGroup
}

var _ group.Handler = (*Receiver)(nil)

// NewReceiver creates a receiver. purger may be nil to keep handles of
// departed members; cache, when set, forgets departed members so they are
// asked again after rejoining.
func NewReceiver(responder *SearchResponder, purger AddressPurger, cache AddressForgetter, metrics *observability.Metrics) *Receiver {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	r := &Receiver{
		responder: responder,
		purger:    purger,
		cache:     cache,
		metrics:   metrics,
		log:       logging.New(nil).WithComponent("receiver"),
	}
	r.self.Store("")
	return r
}

// HandleRequest dispatches an inbound request by message type.
func (r *Receiver) HandleRequest(ctx context.Context, from string, msgType wire.MessageType, payload []byte) ([]byte, error) {
	switch msgType {
	case wire.MsgSearch:
		key, err := wire.DecodeSearchRequest(payload)
		if err != nil {
			return nil, err
		}
		res, err := r.responder.Respond(ctx, from, key)
		if err != nil {
			return nil, err
		}
		return res.Encode(), nil
	case wire.MsgPing:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported message type %s: %w", msgType, pkgerrors.ErrInvalidInput)
	}
}

// NodeJoined records a new member.
func (r *Receiver) NodeJoined(addr string) {
	r.metrics.Members.Set(float64(r.members.Add(1)))
	r.log.WithAddress("node", addr).Debug("member joined")
}

// NodeLeft records a departed member, drops it from the query cache and
// purges its handles from the store in the background.
func (r *Receiver) NodeLeft(addr string) {
	n := r.members.Add(-1)
	if n < 0 {
		r.members.Store(0)
		n = 0
	}
	r.metrics.Members.Set(float64(n))
	r.log.WithAddress("node", addr).Debug("member left")

	r.forget(addr)
	if r.purger == nil {
		return
	}
	r.purges.Add(1)
	go func() {
		defer r.purges.Done()
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		removed, err := r.purger.PurgeAddress(ctx, addr)
		// A round that completed while the purge ran may have cached addr
		// again with handles that are now gone.
		r.forget(addr)
		if err != nil {
			r.log.WithAddress("node", addr).Warn("purge departed member handles failed", "error", err)
			return
		}
		r.metrics.HandlesPurgedTotal.Add(float64(removed))
	}()
}

func (r *Receiver) forget(addr string) {
	if r.cache != nil {
		r.cache.ForgetAddress(addr)
	}
}

// Connected records this node's own address.
func (r *Receiver) Connected(self string) {
	r.self.Store(self)
	r.connected.Store(true)
	r.log.WithAddress("self", self).Info("connected to group")
}

// Disconnected marks this node as having left the group.
func (r *Receiver) Disconnected() {
	r.connected.Store(false)
	r.members.Store(0)
	r.metrics.Members.Set(0)
	r.log.WithAddress("self", r.Self()).Info("disconnected from group")
}

// Self returns this node's address, or "" before Connected.
func (r *Receiver) Self() string {
	return r.self.Load().(string)
}

// IsConnected reports whether the node is currently connected.
func (r *Receiver) IsConnected() bool {
	return r.connected.Load()
}

// Wait blocks until background purges have finished.
func (r *Receiver) Wait() {
	r.purges.Wait()
}
