package remote

import (
	"fmt"

	pkgerrors "github.com/gezibash/arc-cluster/pkg/errors"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// Factory builds handles that share one sender. It performs no I/O.
type Factory struct {
	sender Sender
}

// NewFactory returns a factory whose handles reach their nodes through sender.
func NewFactory(sender Sender) *Factory {
	return &Factory{sender: sender}
}

// New builds a handle for an implementation of key found on address.
func (f *Factory) New(key metadata.Key, address string, handle uint64) (*Handle, error) {
	if address == "" {
		return nil, fmt.Errorf("remote handle: empty address: %w", pkgerrors.ErrInvalidInput)
	}
	return &Handle{
		id:     ID{Address: address, Handle: handle},
		key:    key,
		sender: f.sender,
	}, nil
}

// Dedup returns handles with duplicate IDs removed, keeping first occurrences.
func Dedup(handles []*Handle) []*Handle {
	seen := make(map[ID]struct{}, len(handles))
	out := handles[:0:0]
	for _, h := range handles {
		if h == nil {
			continue
		}
		if _, ok := seen[h.id]; ok {
			continue
		}
		seen[h.id] = struct{}{}
		out = append(out, h)
	}
	return out
}
