// Package metadata defines the identity used to address a capability in the cluster.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// qualifierSep separates qualifiers inside the canonical form. It cannot
// appear in a valid qualifier.
const qualifierSep = "\x1e"

// Key identifies a requested capability: a logical name, a declared type and
// an optional set of qualifiers.
//
// Key is comparable and immutable; two keys built from the same name, type and
// qualifier set (in any order, duplicates ignored) are equal and can be used
// directly as map keys.
type Key struct {
	name       string
	typ        string
	qualifiers string // sorted, deduplicated, joined by qualifierSep
}

// New builds a Key. Qualifiers are sorted and deduplicated; empty qualifiers
// are dropped.
func New(name, typ string, qualifiers ...string) Key {
	qs := make([]string, 0, len(qualifiers))
	for _, q := range qualifiers {
		q = strings.TrimSpace(q)
		if q == "" || strings.Contains(q, qualifierSep) {
			continue
		}
		qs = append(qs, q)
	}
	slices.Sort(qs)
	qs = slices.Compact(qs)
	return Key{name: name, typ: typ, qualifiers: strings.Join(qs, qualifierSep)}
}

// Name returns the logical name.
func (k Key) Name() string { return k.name }

// Type returns the declared type.
func (k Key) Type() string { return k.typ }

// Qualifiers returns a copy of the sorted qualifier set.
func (k Key) Qualifiers() []string {
	if k.qualifiers == "" {
		return nil
	}
	return strings.Split(k.qualifiers, qualifierSep)
}

// HasQualifier reports whether q is part of the qualifier set.
func (k Key) HasQualifier(q string) bool {
	return slices.Contains(k.Qualifiers(), q)
}

// IsZero reports whether the key carries neither name nor type.
func (k Key) IsZero() bool {
	return k.name == "" && k.typ == ""
}

// Validate returns an error if the key cannot address a capability.
func (k Key) Validate() error {
	if k.name == "" {
		return fmt.Errorf("metadata key of type %q: name is required", k.typ)
	}
	if k.typ == "" {
		return fmt.Errorf("metadata key %q: type is required", k.name)
	}
	return nil
}

// Matches reports whether a provided implementation described by k satisfies
// the request query. Name and type must be equal; every qualifier of the query
// must be present on k.
func (k Key) Matches(query Key) bool {
	if query.name != k.name || query.typ != k.typ {
		return false
	}
	for _, q := range query.Qualifiers() {
		if !k.HasQualifier(q) {
			return false
		}
	}
	return true
}

// Canonical returns the unambiguous encoding used for hashing.
func (k Key) Canonical() string {
	return k.name + "\x1f" + k.typ + "\x1f" + k.qualifiers
}

// ID returns a stable, fixed-length hex identifier for the key, suitable for
// storage keys.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:16])
}

// String returns a human-readable form, e.g. "Greeter:IGreeter[eu,v2]".
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.name)
	b.WriteByte(':')
	b.WriteString(k.typ)
	if k.qualifiers != "" {
		b.WriteByte('[')
		b.WriteString(strings.Join(k.Qualifiers(), ","))
		b.WriteByte(']')
	}
	return b.String()
}

// Parse parses the form produced by String.
func Parse(s string) (Key, error) {
	name, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("parse metadata key %q: missing ':'", s)
	}
	typ := rest
	var quals []string
	if i := strings.IndexByte(rest, '['); i >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return Key{}, fmt.Errorf("parse metadata key %q: unterminated qualifier list", s)
		}
		typ = rest[:i]
		quals = strings.Split(rest[i+1:len(rest)-1], ",")
	}
	k := New(name, typ, quals...)
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
