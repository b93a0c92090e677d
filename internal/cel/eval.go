// Package cel filters discovered handles with CEL expressions.
//
// Expressions see one handle at a time through these variables:
//
//	address     string        node hosting the implementation
//	handle      int           opaque handle value returned by that node
//	name        string        metadata name
//	type_name   string        metadata type
//	qualifiers  list(string)  sorted metadata qualifiers
//
// For example: `address.startsWith("10.0.") && "eu" in qualifiers`.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/gezibash/arc-cluster/pkg/remote"
)

// Filter is a compiled CEL expression evaluated against handles.
type Filter struct {
	expr    string
	program cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("address", cel.StringType),
		cel.Variable("handle", cel.IntType),
		cel.Variable("name", cel.StringType),
		cel.Variable("type_name", cel.StringType),
		cel.Variable("qualifiers", cel.ListType(cel.StringType)),
	)
}

// Compile parses and type-checks expr. The expression must evaluate to a bool.
func Compile(expr string) (*Filter, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("cel compile: expression must be bool, got %s", ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &Filter{expr: expr, program: prog}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Attributes returns the variables a handle exposes to expressions.
func Attributes(h *remote.Handle) map[string]any {
	k := h.Key()
	quals := k.Qualifiers()
	if quals == nil {
		quals = []string{}
	}
	return map[string]any{
		"address":    h.Address(),
		"handle":     int64(h.Handle()),
		"name":       k.Name(),
		"type_name":  k.Type(),
		"qualifiers": quals,
	}
}

// Match reports whether h satisfies the filter. Evaluation errors count as
// no match.
func (f *Filter) Match(h *remote.Handle) bool {
	if h == nil {
		return false
	}
	return f.matchAttrs(Attributes(h))
}

func (f *Filter) matchAttrs(attrs map[string]any) bool {
	out, _, err := f.program.Eval(attrs)
	if err != nil {
		return false
	}
	if out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// FilterHandles returns the handles matching f, keeping their order. A nil
// filter keeps everything.
func FilterHandles(f *Filter, handles []*remote.Handle) []*remote.Handle {
	if f == nil {
		return handles
	}
	out := make([]*remote.Handle, 0, len(handles))
	for _, h := range handles {
		if f.Match(h) {
			out = append(out, h)
		}
	}
	return out
}
