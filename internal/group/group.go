// Package group is the membership and messaging transport of a cluster node.
// It wraps hashicorp/memberlist: members are named nodes, requests are sent
// reliably to each member and correlated with their replies by request id.
package group

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"golang.org/x/sync/errgroup"

	"github.com/gezibash/arc-cluster/internal/wire"
	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/logging"
)

// Group is this node's membership in a named group.
type Group struct {
	list      *memberlist.Memberlist
	config    Config
	localName string
	handler   Handler
	pings     *pingDelegate

	mu      sync.Mutex
	pending map[string]*Future

	// requests feeds the fixed worker pool started by New.
	requests chan *wire.Frame

	// lifecycle guards closed against wg.Add in dispatch.
	lifecycle sync.RWMutex
	closed    bool
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// MemberInfo describes a group member.
type MemberInfo struct {
	Name      string
	Addr      string
	Status    string
	LatencyNs int64
	IsLocal   bool
}

// New creates the group transport and binds its listeners. Call Connect to
// join the group's seeds and start delivering lifecycle events.
func New(cfg Config, handler Handler) (*Group, error) {
	if handler == nil {
		return nil, fmt.Errorf("group handler: %w", pkgerrors.ErrInvalidInput)
	}
	cfg = cfg.withDefaults()
	if cfg.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("get hostname: %w", err)
		}
		cfg.NodeName = hostname
	}

	mlConfig, err := memberlistConfig(cfg.Profile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Group{
		config:    cfg,
		localName: cfg.NodeName,
		handler:   handler,
		pings:     newPingDelegate(),
		pending:   make(map[string]*Future),
		requests:  make(chan *wire.Frame, cfg.QueueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}

	mlConfig.Name = cfg.NodeName
	mlConfig.Label = cfg.GroupName
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort != 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	mlConfig.Delegate = &delegate{group: g}
	mlConfig.Events = &eventDelegate{group: g}
	mlConfig.Ping = g.pings
	mlConfig.LogOutput = &slogWriter{
		log: logging.New(nil).WithComponent("memberlist"),
	}

	for range cfg.Workers {
		g.wg.Add(1)
		go g.work()
	}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		cancel()
		g.wg.Wait()
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	g.list = list

	return g, nil
}

// Connect joins the configured seeds and reports this node as connected.
// Joining fails only when seeds are configured and none could be reached.
func (g *Group) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.lifecycle.RLock()
	closed := g.closed
	g.lifecycle.RUnlock()
	if closed {
		return pkgerrors.ErrClosed
	}

	if len(g.config.Seeds) > 0 {
		n, err := g.list.Join(g.config.Seeds)
		switch {
		case err != nil && n == 0:
			return fmt.Errorf("join group %q: %w", g.config.GroupName, err)
		case err != nil:
			slog.Warn("partial join",
				"component", "group",
				"joined", n,
				"seeds", g.config.Seeds,
				"error", err,
			)
		default:
			slog.Info("joined group",
				"component", "group",
				"joined", n,
				"seeds", g.config.Seeds,
			)
		}
	}

	g.connected.Store(true)
	g.handler.Connected(g.localName)

	slog.Info("group connected",
		"component", "group",
		"group", g.config.GroupName,
		"name", g.localName,
		"bind", fmt.Sprintf("%s:%d", g.config.BindAddr, g.BindPort()),
		"members", g.list.NumMembers(),
	)
	return nil
}

// BroadcastAsync sends a request to every live member except this node and
// the excluded addresses. The returned future completes once each target has
// replied, failed, or left the group. A broadcast with no targets returns an
// already completed future.
func (g *Group) BroadcastAsync(ctx context.Context, msgType wire.MessageType, payload []byte, exclude []string) (*Future, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(exclude)+1)
	skip[g.localName] = struct{}{}
	for _, addr := range exclude {
		skip[addr] = struct{}{}
	}

	var targets []*memberlist.Node
	for _, m := range g.list.Members() {
		if m.State != memberlist.StateAlive {
			continue
		}
		if _, ok := skip[m.Name]; ok {
			continue
		}
		targets = append(targets, m)
	}

	names := make([]string, len(targets))
	for i, n := range targets {
		names[i] = n.Name
	}
	fut := NewFuture(uuid.NewString(), names)
	if len(targets) == 0 {
		return fut, nil
	}
	g.track(fut)

	frame := &wire.Frame{
		Kind:      wire.KindRequest,
		RequestID: fut.ID(),
		From:      g.localName,
		Type:      msgType,
		Payload:   payload,
		ReplyTo:   g.Addr(),
	}
	data := frame.Encode()

	if !g.spawn(func() {
		var eg errgroup.Group
		eg.SetLimit(g.config.Fanout)
		for _, node := range targets {
			eg.Go(func() error {
				if ctx.Err() != nil {
					fut.Fail(node.Name, ctx.Err())
					return nil
				}
				if err := g.list.SendReliable(node, data); err != nil {
					slog.Debug("send request failed",
						"component", "group",
						"node", node.Name,
						"error", err,
					)
					fut.Fail(node.Name, fmt.Errorf("send to %s: %w", node.Name, err))
				}
				return nil
			})
		}
		_ = eg.Wait()
	}) {
		fut.Cancel()
		return nil, pkgerrors.ErrClosed
	}

	return fut, nil
}

// Request sends a single request to one member and waits for its reply.
func (g *Group) Request(ctx context.Context, to string, msgType uint8, payload []byte) ([]byte, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	node, ok := g.node(to)
	if !ok {
		return nil, fmt.Errorf("member %s: %w", to, pkgerrors.ErrNotFound)
	}

	fut := NewFuture(uuid.NewString(), []string{to})
	g.track(fut)
	defer fut.Cancel()

	frame := &wire.Frame{
		Kind:      wire.KindRequest,
		RequestID: fut.ID(),
		From:      g.localName,
		Type:      wire.MessageType(msgType),
		Payload:   payload,
		ReplyTo:   g.Addr(),
	}
	if err := g.list.SendReliable(node, frame.Encode()); err != nil {
		return nil, fmt.Errorf("send to %s: %w", to, err)
	}

	resps, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	resp, _ := resps.Get(to)
	switch {
	case resp.Suspected:
		return nil, fmt.Errorf("member %s left: %w", to, pkgerrors.ErrNotConnected)
	case resp.Err != nil:
		return nil, resp.Err
	case !resp.Received:
		return nil, fmt.Errorf("member %s: %w", to, pkgerrors.ErrTimeout)
	}
	return resp.Payload, nil
}

// Members returns information about all group members.
func (g *Group) Members() []MemberInfo {
	members := g.list.Members()
	infos := make([]MemberInfo, 0, len(members))
	for _, m := range members {
		infos = append(infos, MemberInfo{
			Name:      m.Name,
			Addr:      m.Address(),
			Status:    memberStatusString(m.State),
			LatencyNs: g.RTT(m.Name).Nanoseconds(),
			IsLocal:   m.Name == g.localName,
		})
	}
	return infos
}

// NumMembers returns the number of known live members, including this node.
func (g *Group) NumMembers() int {
	return g.list.NumMembers()
}

// LocalAddress returns this node's address within the group.
func (g *Group) LocalAddress() string {
	return g.localName
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.config.GroupName
}

// BindPort returns the port memberlist is listening on.
func (g *Group) BindPort() int {
	return int(g.list.LocalNode().Port)
}

// Addr returns the host:port other nodes can use as a seed for this node.
func (g *Group) Addr() string {
	return g.list.LocalNode().Address()
}

// RTT returns the last measured round trip to a member, or 0 if unknown.
func (g *Group) RTT(name string) time.Duration {
	if name == g.localName {
		return 0
	}
	return g.pings.RTT(name)
}

// Close leaves the group and releases the transport. Outstanding futures are
// cancelled. Close is idempotent.
func (g *Group) Close() error {
	g.lifecycle.Lock()
	if g.closed {
		g.lifecycle.Unlock()
		return nil
	}
	g.closed = true
	g.lifecycle.Unlock()

	wasConnected := g.connected.Swap(false)
	g.cancel()

	g.mu.Lock()
	pending := make([]*Future, 0, len(g.pending))
	for _, f := range g.pending {
		pending = append(pending, f)
	}
	g.mu.Unlock()
	for _, f := range pending {
		f.Cancel()
	}

	if wasConnected {
		if err := g.list.Leave(g.config.LeaveTimeout); err != nil {
			slog.Warn("leave failed during close",
				"component", "group",
				"error", err,
			)
		}
	}

	err := g.list.Shutdown()
	g.wg.Wait()

	if wasConnected {
		g.handler.Disconnected()
	}
	return err
}

func (g *Group) ready() error {
	g.lifecycle.RLock()
	defer g.lifecycle.RUnlock()
	if g.closed {
		return pkgerrors.ErrClosed
	}
	if !g.connected.Load() {
		return pkgerrors.ErrNotConnected
	}
	return nil
}

// spawn runs fn on a tracked goroutine unless the group is closed.
func (g *Group) spawn(fn func()) bool {
	g.lifecycle.RLock()
	defer g.lifecycle.RUnlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

func (g *Group) track(f *Future) {
	g.mu.Lock()
	g.pending[f.ID()] = f
	g.mu.Unlock()
	f.OnDone(func() {
		g.mu.Lock()
		delete(g.pending, f.ID())
		g.mu.Unlock()
	})
}

func (g *Group) node(name string) (*memberlist.Node, bool) {
	for _, m := range g.list.Members() {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// receive decodes one inbound frame. Called from memberlist's packet
// handler, so requests are queued for the worker pool and never block it.
func (g *Group) receive(msg []byte) {
	frame, err := wire.DecodeFrame(msg)
	if err != nil {
		slog.Debug("drop malformed frame",
			"component", "group",
			"error", err,
		)
		return
	}

	switch frame.Kind {
	case wire.KindReply:
		g.mu.Lock()
		fut := g.pending[frame.RequestID]
		g.mu.Unlock()
		if fut == nil {
			slog.Debug("late reply",
				"component", "group",
				"from", frame.From,
				"request_id", frame.RequestID,
			)
			return
		}
		var remoteErr error
		if frame.Error != "" {
			remoteErr = &RemoteError{From: frame.From, Message: frame.Error}
		}
		fut.Deliver(frame.From, frame.Payload, remoteErr)
	case wire.KindRequest:
		if g.ctx.Err() != nil {
			return
		}
		select {
		case g.requests <- frame:
		default:
			slog.Warn("request queue full, dropping request",
				"component", "group",
				"from", frame.From,
				"type", frame.Type.String(),
				"queue", cap(g.requests),
			)
		}
	}
}

// work serves queued requests until the group closes.
func (g *Group) work() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		case req := <-g.requests:
			g.serve(req)
		}
	}
}

func (g *Group) serve(req *wire.Frame) {
	payload, herr := g.handler.HandleRequest(g.ctx, req.From, req.Type, req.Payload)
	reply := &wire.Frame{
		Kind:      wire.KindReply,
		RequestID: req.RequestID,
		From:      g.localName,
		Type:      req.Type,
		Payload:   payload,
	}
	if herr != nil {
		reply.Payload = nil
		reply.Error = herr.Error()
	}

	node, ok := g.node(req.From)
	if !ok {
		node, ok = replyNode(req)
	}
	if !ok {
		slog.Info("requester unreachable, reply dropped",
			"component", "group",
			"node", req.From,
			"reply_to", req.ReplyTo,
		)
		return
	}
	if err := g.list.SendReliable(node, reply.Encode()); err != nil {
		slog.Debug("send reply failed",
			"component", "group",
			"node", req.From,
			"error", err,
		)
	}
}

// replyNode addresses a requester that is missing from the local view, for
// example one whose join has not reached this node yet.
func replyNode(req *wire.Frame) (*memberlist.Node, bool) {
	if req.ReplyTo == "" {
		return nil, false
	}
	host, portStr, err := net.SplitHostPort(req.ReplyTo)
	if err != nil {
		return nil, false
	}
	ip := net.ParseIP(host)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if ip == nil || err != nil || port == 0 {
		return nil, false
	}
	return &memberlist.Node{Name: req.From, Addr: ip, Port: uint16(port)}, true
}

// suspect settles every outstanding future targeting a departed member.
func (g *Group) suspect(name string) {
	g.mu.Lock()
	pending := make([]*Future, 0, len(g.pending))
	for _, f := range g.pending {
		pending = append(pending, f)
	}
	g.mu.Unlock()
	for _, f := range pending {
		f.Suspect(name)
	}
}

func memberStatusString(state memberlist.NodeStateType) string {
	switch state {
	case memberlist.StateAlive:
		return "alive"
	case memberlist.StateSuspect:
		return "suspect"
	case memberlist.StateDead:
		return "dead"
	case memberlist.StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// slogWriter adapts memberlist's io.Writer log output to slog, mapping its
// [ERR], [WARN], [INFO] and [DEBUG] prefixes to slog levels.
type slogWriter struct {
	log *logging.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSuffix(string(p), "\n")
	switch {
	case strings.Contains(msg, "[ERR]"):
		w.log.Warn(stripLevel(msg, "[ERR]"))
	case strings.Contains(msg, "[WARN]"):
		w.log.Warn(stripLevel(msg, "[WARN]"))
	case strings.Contains(msg, "[INFO]"):
		w.log.Info(stripLevel(msg, "[INFO]"))
	default:
		w.log.Debug(stripLevel(msg, "[DEBUG]"))
	}
	return len(p), nil
}

// stripLevel drops memberlist's timestamp and level prefix:
// "2026/02/04 14:13:51 [ERR] memberlist: x" becomes "memberlist: x".
func stripLevel(msg, level string) string {
	if idx := strings.Index(msg, level); idx != -1 {
		msg = strings.TrimSpace(msg[idx+len(level):])
	}
	return msg
}
