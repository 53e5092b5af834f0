package provider

import (
	"errors"
	"testing"

	"github.com/membrane-ai/membrane/internal/model"
)

func newStore(name string, enabled, primary bool) *InMemory {
	return NewInMemory(InMemoryConfig{Config: Config{Name: name, Enabled: enabled, Primary: primary, RetryCount: 3}})
}

func TestNewRegistryPrimarySelection(t *testing.T) {
	tests := []struct {
		name        string
		providers   []Provider
		wantPrimary string
		wantErr     bool
	}{
		{
			name: "marked primary wins",
			providers: []Provider{
				newStore("local", true, false),
				newStore("durable", true, true),
			},
			wantPrimary: "durable",
		},
		{
			name: "disabled primary flag ignored",
			providers: []Provider{
				newStore("local", true, false),
				newStore("durable", false, true),
			},
			wantPrimary: "local",
		},
		{
			name: "first enabled promoted when none marked",
			providers: []Provider{
				newStore("a", false, false),
				newStore("b", true, false),
				newStore("c", true, false),
			},
			wantPrimary: "b",
		},
		{
			name: "all disabled fails",
			providers: []Provider{
				newStore("a", false, false),
			},
			wantErr: true,
		},
		{
			name:    "empty list fails",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.providers)
			if tt.wantErr {
				if !errors.Is(err, model.ErrNoProviders) {
					t.Fatalf("err = %v, want ErrNoProviders", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegistry: %v", err)
			}
			if got := r.Primary().Name(); got != tt.wantPrimary {
				t.Errorf("primary = %q, want %q", got, tt.wantPrimary)
			}
		})
	}
}

func TestRegistrySelect(t *testing.T) {
	primary := newStore("pg", true, true)
	secondary := newStore("qdrant", true, false)
	disabled := newStore("chromem", false, false)

	r, err := NewRegistry([]Provider{primary, secondary, disabled})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	t.Run("default is primary alone", func(t *testing.T) {
		got := r.Select(nil)
		if len(got) != 1 || got[0].Name() != "pg" {
			t.Fatalf("Select(nil) = %v", names(got))
		}
	})

	t.Run("subset filtered to known enabled", func(t *testing.T) {
		got := r.Select([]string{"qdrant", "chromem", "bogus"})
		if len(got) != 1 || got[0].Name() != "qdrant" {
			t.Fatalf("Select = %v, want [qdrant]", names(got))
		}
	})

	t.Run("subset preserves caller order", func(t *testing.T) {
		got := r.Select([]string{"qdrant", "pg"})
		want := []string{"qdrant", "pg"}
		if len(got) != len(want) {
			t.Fatalf("Select = %v, want %v", names(got), want)
		}
		for i := range want {
			if got[i].Name() != want[i] {
				t.Errorf("Select[%d] = %q, want %q", i, got[i].Name(), want[i])
			}
		}
	})
}

func TestRegistrySecondaries(t *testing.T) {
	primary := newStore("pg", true, true)
	a := newStore("qdrant", true, false)
	b := newStore("chromem", false, false)

	r, err := NewRegistry([]Provider{a, primary, b})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	secs := r.Secondaries()
	if len(secs) != 1 || secs[0].Name() != "qdrant" {
		t.Fatalf("Secondaries = %v, want [qdrant]", names(secs))
	}
}

func TestRegistryGet(t *testing.T) {
	r, err := NewRegistry([]Provider{newStore("pg", true, true)})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := r.Get("pg"); !ok {
		t.Error("Get(pg) not found")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) unexpectedly found")
	}
}

func names(ps []Provider) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}
