package cel

import (
	"testing"

	"github.com/gezibash/arc-cluster/pkg/metadata"
	"github.com/gezibash/arc-cluster/pkg/remote"
)

func handle(t *testing.T, key metadata.Key, addr string, id uint64) *remote.Handle {
	t.Helper()
	h, err := remote.NewFactory(nil).New(key, addr, id)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestMatch(t *testing.T) {
	eu := metadata.New("Greeter", "IGreeter", "eu", "v2")
	plain := metadata.New("Greeter", "IGreeter")

	tests := []struct {
		name string
		expr string
		h    *remote.Handle
		want bool
	}{
		{"address equality", `address == "10.0.0.1:7946"`, handle(t, plain, "10.0.0.1:7946", 1), true},
		{"address mismatch", `address == "10.0.0.1:7946"`, handle(t, plain, "10.0.0.2:7946", 1), false},
		{"address prefix", `address.startsWith("10.0.")`, handle(t, plain, "10.0.0.9:7946", 1), true},
		{"handle comparison", `handle > 3`, handle(t, plain, "n", 5), true},
		{"handle comparison false", `handle > 3`, handle(t, plain, "n", 2), false},
		{"qualifier membership", `"eu" in qualifiers`, handle(t, eu, "n", 1), true},
		{"qualifier missing", `"eu" in qualifiers`, handle(t, plain, "n", 1), false},
		{"qualifier count", `size(qualifiers) == 2`, handle(t, eu, "n", 1), true},
		{"name and type", `name == "Greeter" && type_name == "IGreeter"`, handle(t, plain, "n", 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("compile %q: %v", tt.expr, err)
			}
			if got := f.Match(tt.h); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", tt.h, got, tt.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		`invalid syntax !!!`,
		`region == "us"`,
		`address`,
		`size(handle) > 0`,
	} {
		if _, err := Compile(expr); err == nil {
			t.Errorf("Compile(%q) succeeded, want error", expr)
		}
	}
}

func TestMatchNil(t *testing.T) {
	f, err := Compile(`true`)
	if err != nil {
		t.Fatal(err)
	}
	if f.Match(nil) {
		t.Error("nil handle matched")
	}
}

func TestFilterHandles(t *testing.T) {
	key := metadata.New("Greeter", "IGreeter")
	hs := []*remote.Handle{
		handle(t, key, "a", 1),
		handle(t, key, "b", 2),
		handle(t, key, "c", 3),
	}

	if got := FilterHandles(nil, hs); len(got) != 3 {
		t.Errorf("nil filter kept %d, want 3", len(got))
	}

	f, err := Compile(`handle != 2`)
	if err != nil {
		t.Fatal(err)
	}
	got := FilterHandles(f, hs)
	if len(got) != 2 || got[0].Address() != "a" || got[1].Address() != "c" {
		t.Errorf("filtered = %v, want [a c]", got)
	}
	if f.String() != `handle != 2` {
		t.Errorf("String() = %q", f.String())
	}
}
