package metadata

import (
	"testing"
)

func TestNewNormalizesQualifiers(t *testing.T) {
	a := New("Greeter", "IGreeter", "v2", "eu", "v2", " ")
	b := New("Greeter", "IGreeter", "eu", "v2")

	if a != b {
		t.Fatalf("keys should be equal: %v vs %v", a, b)
	}
	got := a.Qualifiers()
	if len(got) != 2 || got[0] != "eu" || got[1] != "v2" {
		t.Errorf("Qualifiers() = %v, want [eu v2]", got)
	}
}

func TestKeyUsableAsMapKey(t *testing.T) {
	m := map[Key]int{}
	m[New("Greeter", "IGreeter", "b", "a")]++
	m[New("Greeter", "IGreeter", "a", "b")]++
	m[New("Greeter", "IGreeter")]++

	if len(m) != 2 {
		t.Fatalf("len(m) = %d, want 2", len(m))
	}
	if m[New("Greeter", "IGreeter", "a", "b")] != 2 {
		t.Errorf("qualified entry = %d, want 2", m[New("Greeter", "IGreeter", "a", "b")])
	}
}

func TestMatches(t *testing.T) {
	provided := New("Greeter", "IGreeter", "eu", "v2")

	tests := []struct {
		name  string
		query Key
		want  bool
	}{
		{"exact", New("Greeter", "IGreeter", "eu", "v2"), true},
		{"subset of qualifiers", New("Greeter", "IGreeter", "eu"), true},
		{"no qualifiers", New("Greeter", "IGreeter"), true},
		{"empty name", New("", "IGreeter"), false},
		{"other name", New("Farewell", "IGreeter"), false},
		{"other type", New("Greeter", "IFarewell"), false},
		{"missing qualifier", New("Greeter", "IGreeter", "us"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provided.Matches(tt.query); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"name and type", New("Greeter", "IGreeter"), false},
		{"qualified", New("Greeter", "IGreeter", "eu"), false},
		{"no name", New("", "IGreeter"), true},
		{"no type", New("Greeter", ""), true},
		{"zero", Key{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.key.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	for _, k := range []Key{
		New("Greeter", "IGreeter"),
		New("Greeter", "IGreeter", "v2", "eu"),
	} {
		got, err := Parse(k.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", k.String(), err)
		}
		if got != k {
			t.Errorf("Parse(%q) = %v, want %v", k.String(), got, k)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{"Greeter", "Greeter:", ":IGreeter", "Greeter:IGreeter[eu"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestIDStable(t *testing.T) {
	a := New("Greeter", "IGreeter", "eu")
	b := New("Greeter", "IGreeter", "eu")
	if a.ID() != b.ID() {
		t.Errorf("ID mismatch: %s vs %s", a.ID(), b.ID())
	}
	if len(a.ID()) != 32 {
		t.Errorf("len(ID) = %d, want 32", len(a.ID()))
	}
	if a.ID() == New("Greeter", "IGreeter").ID() {
		t.Error("different keys share an ID")
	}
}
