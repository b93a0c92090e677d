package group

import (
	"context"

	"github.com/gezibash/arc-cluster/internal/wire"
)

// RequestHandler answers requests sent by other members. It is called from a
// worker goroutine and may block; the returned payload (or error) is sent back
// to the requester.
type RequestHandler interface {
	HandleRequest(ctx context.Context, from string, msgType wire.MessageType, payload []byte) ([]byte, error)
}

// MembershipListener observes the group view. Calls must not block.
type MembershipListener interface {
	NodeJoined(addr string)
	NodeLeft(addr string)
}

// LifecycleListener observes this node's own connection state.
type LifecycleListener interface {
	Connected(self string)
	Disconnected()
}

// Handler bundles the three roles the transport dispatches to.
type Handler interface {
	RequestHandler
	MembershipListener
	LifecycleListener
}
