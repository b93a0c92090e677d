package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// SearchStatus is the outcome carried by a search response.
type SearchStatus uint8

const (
	StatusNotFound SearchStatus = 0
	StatusFound    SearchStatus = 1
)

func (s SearchStatus) String() string {
	if s == StatusFound {
		return "found"
	}
	return "not_found"
}

// SearchResponse is the reply to a search request.
type SearchResponse struct {
	Status SearchStatus
	Handle uint64
}

const (
	fieldKeyName      protowire.Number = 1
	fieldKeyType      protowire.Number = 2
	fieldKeyQualifier protowire.Number = 3

	fieldStatus protowire.Number = 1
	fieldHandle protowire.Number = 2
)

// EncodeSearchRequest serializes a search request for key.
func EncodeSearchRequest(k metadata.Key) []byte {
	var b []byte
	b = appendString(b, fieldKeyName, k.Name())
	b = appendString(b, fieldKeyType, k.Type())
	for _, q := range k.Qualifiers() {
		b = appendString(b, fieldKeyQualifier, q)
	}
	return b
}

// DecodeSearchRequest parses a search request.
func DecodeSearchRequest(b []byte) (metadata.Key, error) {
	var name, typ string
	var quals []string
	err := walk(b, func(num protowire.Number, t protowire.Type, v []byte) (int, error) {
		if t != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, t, v), nil
		}
		s, n := protowire.ConsumeString(v)
		switch num {
		case fieldKeyName:
			name = s
		case fieldKeyType:
			typ = s
		case fieldKeyQualifier:
			quals = append(quals, s)
		}
		return n, nil
	})
	if err != nil {
		return metadata.Key{}, fmt.Errorf("decode search request: %w", err)
	}
	k := metadata.New(name, typ, quals...)
	if err := k.Validate(); err != nil {
		return metadata.Key{}, fmt.Errorf("decode search request: %w: %v", ErrMalformed, err)
	}
	return k, nil
}

// Encode serializes the response.
func (r SearchResponse) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.Status == StatusFound {
		b = protowire.AppendTag(b, fieldHandle, protowire.VarintType)
		b = protowire.AppendVarint(b, r.Handle)
	}
	return b
}

// DecodeSearchResponse parses a search response.
func DecodeSearchResponse(b []byte) (SearchResponse, error) {
	var r SearchResponse
	err := walk(b, func(num protowire.Number, t protowire.Type, v []byte) (int, error) {
		if t != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, t, v), nil
		}
		x, n := protowire.ConsumeVarint(v)
		switch num {
		case fieldStatus:
			r.Status = SearchStatus(x)
		case fieldHandle:
			r.Handle = x
		}
		return n, nil
	})
	if err != nil {
		return SearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	if r.Status != StatusFound && r.Status != StatusNotFound {
		return SearchResponse{}, fmt.Errorf("decode search response: unknown status %d: %w", r.Status, ErrMalformed)
	}
	return r, nil
}
