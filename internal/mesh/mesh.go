package mesh

import (
	"math"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/geometry"
)

// SubmeshKind selects how grid points are laid out over a domain.
type SubmeshKind int

const (
	Uniform     SubmeshKind = iota // equally spaced cells
	Exponential                    // cells clustered towards both boundaries
	UserEdges                      // caller-supplied cell edges
)

// Submesh is a one-dimensional finite-volume grid: n+1 cell edges and n
// cell-centred nodes. Built once per (geometry, point-count) pair and then
// treated as read-only by the discretiser.
type Submesh struct {
	Domain string
	Kind   SubmeshKind
	Edges  []float64 // length n+1, ascending
	Nodes  []float64 // length n, cell centres
}

// NPts returns the number of cells (unknowns) on the submesh.
func (s *Submesh) NPts() int { return len(s.Nodes) }

// Widths returns the cell widths.
func (s *Submesh) Widths() []float64 {
	w := make([]float64, len(s.Nodes))
	for i := range w {
		w[i] = s.Edges[i+1] - s.Edges[i]
	}
	return w
}

// Spec configures one domain's submesh.
type Spec struct {
	Kind  SubmeshKind
	Edges []float64 // UserEdges only
}

// Mesh holds one submesh per spatial domain. Zero-dimensional domains carry a
// single-node submesh so every state variable owns at least one unknown.
type Mesh struct {
	geom      *geometry.Geometry
	submeshes map[string]*Submesh
}

// New builds a mesh from a geometry, per-domain submesh specs, and per-domain
// point counts. Unknown domain names and non-positive point counts are
// configuration errors.
func New(geom *geometry.Geometry, specs map[string]Spec, pts map[string]int) (*Mesh, error) {
	for name := range specs {
		if !geom.Has(name) {
			return nil, &dae.ConfigurationError{Domain: name, Reason: "submesh spec for unknown domain"}
		}
	}
	for name, n := range pts {
		if !geom.Has(name) {
			return nil, &dae.ConfigurationError{Domain: name, Reason: "point count for unknown domain"}
		}
		if n <= 0 {
			return nil, &dae.ConfigurationError{Domain: name, Reason: "point count must be a positive integer"}
		}
	}

	m := &Mesh{geom: geom, submeshes: make(map[string]*Submesh)}
	for _, d := range geom.Domains() {
		if d.Dim == geometry.Dim0 {
			m.submeshes[d.Name] = &Submesh{
				Domain: d.Name,
				Kind:   Uniform,
				Edges:  []float64{d.Min, d.Max},
				Nodes:  []float64{(d.Min + d.Max) / 2},
			}
			continue
		}
		n, ok := pts[d.Name]
		if !ok {
			return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "missing point count"}
		}
		spec := specs[d.Name] // zero value is Uniform
		sm, err := build(d, spec, n)
		if err != nil {
			return nil, err
		}
		m.submeshes[d.Name] = sm
	}
	return m, nil
}

func build(d geometry.Domain, spec Spec, n int) (*Submesh, error) {
	var edges []float64
	switch spec.Kind {
	case Uniform:
		edges = uniformEdges(d.Min, d.Max, n)
	case Exponential:
		edges = exponentialEdges(d.Min, d.Max, n)
	case UserEdges:
		if len(spec.Edges) != n+1 {
			return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "user edges must have n+1 entries"}
		}
		if spec.Edges[0] != d.Min || spec.Edges[n] != d.Max {
			return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "user edges must span the domain"}
		}
		for i := 1; i <= n; i++ {
			if spec.Edges[i] <= spec.Edges[i-1] {
				return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "user edges must be strictly ascending"}
			}
		}
		edges = append([]float64(nil), spec.Edges...)
	default:
		return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "unknown submesh kind"}
	}

	nodes := make([]float64, n)
	for i := 0; i < n; i++ {
		nodes[i] = (edges[i] + edges[i+1]) / 2
	}
	return &Submesh{Domain: d.Name, Kind: spec.Kind, Edges: edges, Nodes: nodes}, nil
}

func uniformEdges(lo, hi float64, n int) []float64 {
	edges := make([]float64, n+1)
	h := (hi - lo) / float64(n)
	for i := 0; i <= n; i++ {
		edges[i] = lo + float64(i)*h
	}
	edges[n] = hi
	return edges
}

// exponentialEdges clusters edges symmetrically towards both boundaries
// using a tanh stretch. Useful where boundary layers dominate (SEI growth,
// current collectors).
func exponentialEdges(lo, hi float64, n int) []float64 {
	const stretch = 2.3
	edges := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		xi := 2*float64(i)/float64(n) - 1 // [-1, 1]
		s := math.Tanh(stretch*xi) / math.Tanh(stretch)
		edges[i] = lo + (hi-lo)*(s+1)/2
	}
	edges[0], edges[n] = lo, hi
	return edges
}

// Submesh returns the grid for a domain.
func (m *Mesh) Submesh(domain string) (*Submesh, bool) {
	sm, ok := m.submeshes[domain]
	return sm, ok
}

// Geometry returns the geometry the mesh was built from.
func (m *Mesh) Geometry() *geometry.Geometry { return m.geom }
