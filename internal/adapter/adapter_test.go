package adapter

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/pkg/models"
)

type stubAdapter struct{ kind string }

func (a *stubAdapter) Poll(context.Context) (models.SensorSnapshot, error) {
	return models.SensorSnapshot{OK: true, Metrics: models.Metrics{"from": a.kind}}, nil
}

// stubFactory matches devices through an arbitrary predicate.
type stubFactory struct {
	kind      string
	match     func(models.DiscoveredDevice) bool
	createErr error
}

func (f *stubFactory) Kind() string { return f.kind }

func (f *stubFactory) Match(d models.DiscoveredDevice) bool { return f.match(d) }

func (f *stubFactory) Create(models.DiscoveredDevice, Deps) (Adapter, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &stubAdapter{kind: f.kind}, nil
}

func kindIs(k string) func(models.DiscoveredDevice) bool {
	return func(d models.DiscoveredDevice) bool { return d.Kind == k }
}

func matchAll(models.DiscoveredDevice) bool { return true }

func TestRegistry_FirstMatchWins(t *testing.T) {
	tests := []struct {
		name      string
		factories []Factory
		kind      string
		want      string
	}{
		{
			name: "specific before catch-all",
			factories: []Factory{
				&stubFactory{kind: "senseair", match: kindIs("senseair")},
				&stubFactory{kind: "generic", match: matchAll},
			},
			kind: "senseair",
			want: "senseair",
		},
		{
			name: "catch-all registered first shadows the rest",
			factories: []Factory{
				&stubFactory{kind: "generic", match: matchAll},
				&stubFactory{kind: "senseair", match: kindIs("senseair")},
			},
			kind: "senseair",
			want: "generic",
		},
		{
			name: "falls through to later factory",
			factories: []Factory{
				&stubFactory{kind: "senseair", match: kindIs("senseair")},
				&stubFactory{kind: "generic", match: matchAll},
			},
			kind: "aranet",
			want: "generic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.factories...)
			a, err := r.Create(models.DiscoveredDevice{ID: "D1", Kind: tt.kind}, Deps{Logger: zap.NewNop()})
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			snap, _ := a.Poll(context.Background())
			if got := snap.Metrics["from"]; got != tt.want {
				t.Errorf("adapter from factory %v, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_NoMatch(t *testing.T) {
	r := NewRegistry(&stubFactory{kind: "senseair", match: kindIs("senseair")})

	_, err := r.Create(models.DiscoveredDevice{ID: "D9", Kind: "unknown"}, Deps{})
	if !errors.Is(err, ErrNoFactory) {
		t.Fatalf("Create() error = %v, want ErrNoFactory", err)
	}
}

func TestRegistry_CreateError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(&stubFactory{kind: "senseair", match: matchAll, createErr: boom})

	_, err := r.Create(models.DiscoveredDevice{ID: "D1"}, Deps{Logger: zap.NewNop()})
	if !errors.Is(err, boom) {
		t.Fatalf("Create() error = %v, want wrapped boom", err)
	}
}

func TestRegistry_DuplicateKind(t *testing.T) {
	r := NewRegistry(&stubFactory{kind: "senseair", match: matchAll})
	if err := r.Register(&stubFactory{kind: "senseair", match: matchAll}); err == nil {
		t.Fatal("Register() duplicate kind error = nil")
	}

	defer func() {
		if recover() == nil {
			t.Error("NewRegistry with duplicate kinds did not panic")
		}
	}()
	NewRegistry(
		&stubFactory{kind: "a", match: matchAll},
		&stubFactory{kind: "a", match: matchAll},
	)
}

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry(
		&stubFactory{kind: "b", match: matchAll},
		&stubFactory{kind: "a", match: matchAll},
	)
	got := r.Kinds()
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("Kinds() = %v, want [b a]", got)
	}
}
