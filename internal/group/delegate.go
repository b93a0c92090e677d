package group

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
)

// delegate implements memberlist.Delegate. Only direct messages are used;
// there is no gossiped state.
type delegate struct {
	group *Group
}

var _ memberlist.Delegate = (*delegate)(nil)

func (d *delegate) NodeMeta(limit int) []byte { return nil }

// NotifyMsg is called for every reliable or best-effort user message.
// Must not block. msg is only valid for the duration of the call.
func (d *delegate) NotifyMsg(msg []byte) {
	if len(msg) == 0 {
		return
	}
	d.group.receive(msg)
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *delegate) LocalState(join bool) []byte { return nil }

func (d *delegate) MergeRemoteState(buf []byte, join bool) {}

// eventDelegate forwards membership changes to the handler.
type eventDelegate struct {
	group *Group
}

var _ memberlist.EventDelegate = (*eventDelegate)(nil)

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	if node.Name == e.group.localName {
		return
	}
	slog.Info("node joined",
		"component", "group",
		"node", node.Name,
		"addr", node.Address(),
	)
	e.group.handler.NodeJoined(node.Name)
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	if node.Name == e.group.localName {
		return
	}
	slog.Info("node left",
		"component", "group",
		"node", node.Name,
		"addr", node.Address(),
	)
	e.group.pings.forget(node.Name)
	e.group.suspect(node.Name)
	e.group.handler.NodeLeft(node.Name)
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	slog.Debug("node updated",
		"component", "group",
		"node", node.Name,
	)
}

// pingDelegate records member round trips from SWIM probes.
type pingDelegate struct {
	mu        sync.RWMutex
	latencies map[string]time.Duration
}

var _ memberlist.PingDelegate = (*pingDelegate)(nil)

func newPingDelegate() *pingDelegate {
	return &pingDelegate{latencies: make(map[string]time.Duration)}
}

func (p *pingDelegate) AckPayload() []byte { return nil }

func (p *pingDelegate) NotifyPingComplete(node *memberlist.Node, rtt time.Duration, _ []byte) {
	p.mu.Lock()
	p.latencies[node.Name] = rtt
	p.mu.Unlock()
}

func (p *pingDelegate) RTT(name string) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latencies[name]
}

func (p *pingDelegate) forget(name string) {
	p.mu.Lock()
	delete(p.latencies, name)
	p.mu.Unlock()
}
