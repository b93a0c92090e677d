package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"json":  FormatJSON,
		"text":  FormatText,
		"":      FormatText,
		"yaml":  FormatText,
		"JSON!": FormatText,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTableText(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(FormatText, &buf)
	tbl := out.Table("lookup", "Address", "Handle")
	tbl.AddRow("node-2", "1").AddRow("node-3", "7")

	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
	if err := tbl.Render(); err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	for _, want := range []string{"ADDRESS", "HANDLE", "node-2", "node-3", "7"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(FormatText, &buf)
	if err := out.Table("lookup", "Address").Empty("no handles").Render(); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "no handles\n" {
		t.Errorf("output = %q, want empty message", got)
	}
}

func TestTableJSON(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(FormatJSON, &buf)
	if err := out.Table("members", "Node Name", "Status").AddRow("n1", "alive").Render(); err != nil {
		t.Fatal(err)
	}

	var env struct {
		Meta Meta                `json:"meta"`
		Data []map[string]string `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if env.Meta.Type != "members" {
		t.Errorf("meta.type = %q, want members", env.Meta.Type)
	}
	if len(env.Data) != 1 || env.Data[0]["node_name"] != "n1" || env.Data[0]["status"] != "alive" {
		t.Errorf("data = %v", env.Data)
	}
}

func TestFieldsText(t *testing.T) {
	var buf bytes.Buffer
	err := NewOutput(FormatText, &buf).Fields("version").
		Title("arc-cluster dev").
		Add("Commit", "abc123").
		Add("Round", 1500*time.Microsecond).
		Render()
	if err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	if !strings.HasPrefix(s, "arc-cluster dev\n") {
		t.Errorf("output = %q, want title first", s)
	}
	for _, want := range []string{"Commit:", "abc123", "Round:", "2ms"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestFieldsJSON(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(FormatJSON, &buf).From("arc", "node-1")
	if err := out.Fields("version").Title("ignored").Add("Build Date", "today").Add("Members", 3).Render(); err != nil {
		t.Fatal(err)
	}

	var env struct {
		Meta Meta           `json:"meta"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if env.Data["build_date"] != "today" || env.Data["members"] != float64(3) {
		t.Errorf("data = %v", env.Data)
	}
	if strings.Contains(buf.String(), "ignored") {
		t.Error("title rendered in JSON")
	}
	if env.Meta.Group != "arc" || env.Meta.Node != "node-1" {
		t.Errorf("meta source = %q/%q, want arc/node-1", env.Meta.Group, env.Meta.Node)
	}
}

func TestTableCarriesSource(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(FormatJSON, &buf).From("arc", "lookup-1a2b")
	if err := out.Table("lookup", "Address").AddRow("node-2").Render(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"node": "lookup-1a2b"`) {
		t.Errorf("json = %s, want the producing node", buf.String())
	}
}
