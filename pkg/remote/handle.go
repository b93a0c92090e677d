// Package remote provides references to capability implementations hosted on
// other cluster nodes.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// ErrNoSender is returned when a handle has no capability to reach its node.
var ErrNoSender = errors.New("remote handle has no sender")

// Sender delivers a request to a single node and waits for its reply.
// It is implemented by the group transport and shared by every handle built
// from it; handles never own or close it.
type Sender interface {
	Request(ctx context.Context, to string, msgType uint8, payload []byte) ([]byte, error)
}

// ID identifies a handle for deduplication: the node that answered and the
// opaque handle value it returned.
type ID struct {
	Address string
	Handle  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%d", id.Address, id.Handle)
}

// Handle is an invocable reference to an implementation on a remote node.
type Handle struct {
	id     ID
	key    metadata.Key
	sender Sender
}

// ID returns the (address, handle) identity.
func (h *Handle) ID() ID { return h.id }

// Address returns the node hosting the implementation.
func (h *Handle) Address() string { return h.id.Address }

// Handle returns the opaque handle value the remote node returned.
func (h *Handle) Handle() uint64 { return h.id.Handle }

// Key returns the metadata the handle was discovered for.
func (h *Handle) Key() metadata.Key { return h.key }

// Sender returns the capability used to reach the hosting node.
func (h *Handle) Sender() Sender { return h.sender }

// Equal reports whether both handles point at the same remote implementation.
func (h *Handle) Equal(other *Handle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.id == other.id
}

// Request sends payload to the hosting node through the shared sender.
func (h *Handle) Request(ctx context.Context, msgType uint8, payload []byte) ([]byte, error) {
	if h.sender == nil {
		return nil, ErrNoSender
	}
	return h.sender.Request(ctx, h.id.Address, msgType, payload)
}

func (h *Handle) String() string {
	return h.key.String() + "@" + h.id.String()
}
