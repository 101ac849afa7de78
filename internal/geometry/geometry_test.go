package geometry

import (
	"errors"
	"testing"

	"github.com/voltlab/celldyn/internal/dae"
)

func TestNew(t *testing.T) {
	g, err := New(
		Domain{Name: "negative electrode", Min: 0, Max: 1, Dim: Dim1},
		Domain{Name: "cell", Dim: Dim0},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.Has("negative electrode") {
		t.Error("expected negative electrode domain")
	}
	if len(g.Domains()) != 2 {
		t.Errorf("expected 2 domains, got %d", len(g.Domains()))
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name    string
		domains []Domain
	}{
		{"empty name", []Domain{{Min: 0, Max: 1, Dim: Dim1}}},
		{"duplicate", []Domain{
			{Name: "a", Min: 0, Max: 1, Dim: Dim1},
			{Name: "a", Min: 0, Max: 2, Dim: Dim1},
		}},
		{"empty range", []Domain{{Name: "a", Min: 1, Max: 1, Dim: Dim1}}},
		{"inverted range", []Domain{{Name: "a", Min: 2, Max: 1, Dim: Dim1}}},
	}

	for _, tt := range tests {
		_, err := New(tt.domains...)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !errors.Is(err, dae.ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", tt.name, err)
		}
	}
}

func TestLumpedDomainIgnoresRange(t *testing.T) {
	_, err := New(Domain{Name: "cell", Dim: Dim0})
	if err != nil {
		t.Fatalf("lumped domain with zero range: %v", err)
	}
}
