package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Fields renders an ordered set of named values under an optional title,
// such as build information or a node summary. Created via Output.Fields().
type Fields struct {
	out    *Output
	meta   Meta
	title  string
	fields []field
}

type field struct {
	name  string
	value any
}

// Title sets a heading printed above the fields in text output only.
func (f *Fields) Title(s string) *Fields {
	f.title = s
	return f
}

// Add appends a named value. Durations are rounded to the millisecond.
func (f *Fields) Add(name string, value any) *Fields {
	if d, ok := value.(time.Duration); ok {
		value = d.Round(time.Millisecond).String()
	}
	f.fields = append(f.fields, field{name: name, value: value})
	return f
}

// Render outputs the fields in the configured format.
func (f *Fields) Render() error {
	return f.out.Render(f)
}

// Meta returns the metadata.
func (f *Fields) Meta() Meta {
	return f.meta
}

// RenderText writes the title, then one indented "name: value" line per
// field with the values aligned.
func (f *Fields) RenderText(w io.Writer) error {
	if f.title != "" {
		if _, err := fmt.Fprintln(w, f.title); err != nil {
			return err
		}
	}
	if len(f.fields) == 0 {
		return nil
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options = table.OptionsNoBordersAndSeparators
	tw.Style().Box.PaddingLeft = "  "
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignLeft}})
	for _, fd := range f.fields {
		tw.AppendRow(table.Row{fd.name + ":", fmt.Sprint(fd.value)})
	}
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// RenderJSON returns the fields as an object with snake_case names.
func (f *Fields) RenderJSON() any {
	result := make(map[string]any, len(f.fields))
	for _, fd := range f.fields {
		result[toJSONKey(fd.name)] = fd.value
	}
	return result
}
