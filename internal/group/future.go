package group

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
)

// Response is one target's outcome within a request round.
type Response struct {
	From    string
	Payload []byte
	// Err is the remote handler error when Received, or the local send
	// failure otherwise.
	Err error
	// Received is true when the target answered, successfully or not.
	Received bool
	// Suspected is true when the target left the group before answering.
	Suspected bool
}

// Responses is a snapshot of a round, ordered by sender address.
type Responses []Response

// Received returns the responses that arrived.
func (rs Responses) Received() Responses {
	var out Responses
	for _, r := range rs {
		if r.Received {
			out = append(out, r)
		}
	}
	return out
}

// Senders returns the addresses that answered.
func (rs Responses) Senders() []string {
	var out []string
	for _, r := range rs {
		if r.Received {
			out = append(out, r.From)
		}
	}
	return out
}

// Get returns the response for addr.
func (rs Responses) Get(addr string) (Response, bool) {
	for _, r := range rs {
		if r.From == addr {
			return r, true
		}
	}
	return Response{}, false
}

// RemoteError is the error a remote handler returned.
type RemoteError struct {
	From    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.From, e.Message)
}

type slot struct {
	resp    Response
	settled bool
}

// Future collects the replies of one request round. It completes when every
// target has settled: answered, failed to receive the request, or left.
type Future struct {
	id string

	mu      sync.Mutex
	slots   map[string]*slot
	pending int
	done    chan struct{}
	onDone  []func()
}

// NewFuture creates a future expecting one reply from each target.
// A future with no targets is already complete.
func NewFuture(id string, targets []string) *Future {
	f := &Future{
		id:    id,
		slots: make(map[string]*slot, len(targets)),
		done:  make(chan struct{}),
	}
	for _, t := range targets {
		if _, dup := f.slots[t]; dup {
			continue
		}
		f.slots[t] = &slot{resp: Response{From: t}}
		f.pending++
	}
	if f.pending == 0 {
		close(f.done)
	}
	return f
}

// ID returns the request correlation id.
func (f *Future) ID() string { return f.id }

// Targets returns the addresses the round was sent to.
func (f *Future) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.slots))
	for addr := range f.slots {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// Deliver records a reply from addr. remoteErr is the error the remote
// handler reported, if any. Returns false if addr is not a target or has
// already settled.
func (f *Future) Deliver(addr string, payload []byte, remoteErr error) bool {
	return f.settle(addr, func(r *Response) {
		r.Payload = payload
		r.Err = remoteErr
		r.Received = true
	})
}

// Fail settles addr as not received because the request could not be sent.
func (f *Future) Fail(addr string, err error) bool {
	return f.settle(addr, func(r *Response) {
		r.Err = err
	})
}

// Suspect settles addr as not received because it left the group.
func (f *Future) Suspect(addr string) bool {
	return f.settle(addr, func(r *Response) {
		r.Suspected = true
	})
}

// Cancel settles every outstanding target as not received and completes the
// future. It is a no-op on a completed future.
func (f *Future) Cancel() {
	f.mu.Lock()
	if f.pending == 0 {
		f.mu.Unlock()
		return
	}
	for _, s := range f.slots {
		s.settled = true
	}
	f.pending = 0
	callbacks := f.completeLocked()
	f.mu.Unlock()
	runAll(callbacks)
}

func (f *Future) settle(addr string, apply func(*Response)) bool {
	f.mu.Lock()
	s, ok := f.slots[addr]
	if !ok || s.settled {
		f.mu.Unlock()
		return false
	}
	apply(&s.resp)
	s.settled = true
	f.pending--
	var callbacks []func()
	if f.pending == 0 {
		callbacks = f.completeLocked()
	}
	f.mu.Unlock()
	runAll(callbacks)
	return true
}

func (f *Future) completeLocked() []func() {
	close(f.done)
	callbacks := f.onDone
	f.onDone = nil
	return callbacks
}

// OnDone registers fn to run once when the future completes. If the future is
// already complete fn runs immediately.
func (f *Future) OnDone(fn func()) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn()
		return
	default:
	}
	f.onDone = append(f.onDone, fn)
	f.mu.Unlock()
}

// Done is closed when every target has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Pending returns the number of targets that have not settled.
func (f *Future) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Wait blocks until the future completes or ctx ends. It always returns the
// current snapshot; when ctx ends first the error wraps ErrTimeout (deadline)
// or the context error (cancellation), and unanswered targets appear as not
// received.
func (f *Future) Wait(ctx context.Context) (Responses, error) {
	select {
	case <-f.done:
		return f.Snapshot(), nil
	case <-ctx.Done():
		// A completion racing the deadline wins.
		select {
		case <-f.done:
			return f.Snapshot(), nil
		default:
		}
		snap := f.Snapshot()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return snap, fmt.Errorf("waiting for %d of %d replies: %w", f.Pending(), len(snap), pkgerrors.ErrTimeout)
		}
		return snap, ctx.Err()
	}
}

// Snapshot returns the responses recorded so far.
func (f *Future) Snapshot() Responses {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(Responses, 0, len(f.slots))
	for _, s := range f.slots {
		out = append(out, s.resp)
	}
	slices.SortFunc(out, func(a, b Response) int { return cmp.Compare(a.From, b.From) })
	return out
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
