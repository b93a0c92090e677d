// Package cli renders command results (discovered handles, the group view,
// build information) as text tables or JSON envelopes.
package cli

import (
	"encoding/json"
	"io"
	"time"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses a format string, defaulting to text.
func ParseFormat(s string) Format {
	if s == "json" {
		return FormatJSON
	}
	return FormatText
}

// Meta describes a rendered result in JSON output. Group and Node name the
// member whose view produced the result.
type Meta struct {
	Type      string    `json:"type"`
	Version   string    `json:"version,omitempty"`
	Group     string    `json:"group,omitempty"`
	Node      string    `json:"node,omitempty"`
	Generated time.Time `json:"generated"`
}

// NewMeta creates metadata with the given type and current timestamp.
func NewMeta(resultType string) Meta {
	return Meta{
		Type:      resultType,
		Version:   "v1",
		Generated: time.Now().UTC(),
	}
}

// Renderable can render itself in every supported format.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
}

// Output renders results to a writer in one format.
type Output struct {
	format Format
	w      io.Writer
	group  string
	node   string
}

// NewOutput creates an output renderer for the given format.
func NewOutput(format Format, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// From records the group member whose view the following results come from.
func (o *Output) From(group, node string) *Output {
	o.group, o.node = group, node
	return o
}

// Format returns the configured output format.
func (o *Output) Format() Format {
	return o.format
}

// Table creates a new table renderer attached to this output.
func (o *Output) Table(resultType string, headers ...string) *Table {
	return &Table{
		out:     o,
		meta:    o.meta(resultType),
		headers: headers,
	}
}

// Fields creates a new named-value renderer attached to this output.
func (o *Output) Fields(resultType string) *Fields {
	return &Fields{
		out:  o,
		meta: o.meta(resultType),
	}
}

func (o *Output) meta(resultType string) Meta {
	m := NewMeta(resultType)
	m.Group, m.Node = o.group, o.node
	return m
}

// Render outputs the renderable in the configured format.
func (o *Output) Render(r Renderable) error {
	if o.format == FormatJSON {
		return o.renderJSON(r)
	}
	return r.RenderText(o.w)
}

// envelope is the JSON document every result is wrapped in.
type envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

func (o *Output) renderJSON(r Renderable) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{Meta: r.Meta(), Data: r.RenderJSON()})
}
