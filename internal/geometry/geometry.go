package geometry

import (
	"github.com/voltlab/celldyn/internal/dae"
)

// Dimension tags a spatial domain.
type Dimension int

const (
	Dim0 Dimension = iota // lumped (no spatial extent)
	Dim1                  // one spatial coordinate
	Dim2                  // tensor product of two coordinates
)

// Domain is a named coordinate range. Cell geometries are described as an
// ordered list of domains (e.g. negative electrode, separator, positive
// electrode, particle radius).
type Domain struct {
	Name string
	Min  float64
	Max  float64
	Dim  Dimension
}

// Geometry is an immutable set of named domains, consumed once by the mesh.
type Geometry struct {
	domains []Domain
	byName  map[string]int
}

// New validates the domain list and freezes it.
func New(domains ...Domain) (*Geometry, error) {
	g := &Geometry{
		domains: make([]Domain, len(domains)),
		byName:  make(map[string]int, len(domains)),
	}
	copy(g.domains, domains)
	for i, d := range g.domains {
		if d.Name == "" {
			return nil, &dae.ConfigurationError{Reason: "domain with empty name"}
		}
		if _, dup := g.byName[d.Name]; dup {
			return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "duplicate domain"}
		}
		if d.Dim != Dim0 && d.Max <= d.Min {
			return nil, &dae.ConfigurationError{Domain: d.Name, Reason: "empty coordinate range"}
		}
		g.byName[d.Name] = i
	}
	return g, nil
}

// Domain looks a domain up by name.
func (g *Geometry) Domain(name string) (Domain, bool) {
	i, ok := g.byName[name]
	if !ok {
		return Domain{}, false
	}
	return g.domains[i], true
}

// Domains returns the domains in declaration order.
func (g *Geometry) Domains() []Domain {
	out := make([]Domain, len(g.domains))
	copy(out, g.domains)
	return out
}

// Has reports whether a domain with the given name exists.
func (g *Geometry) Has(name string) bool {
	_, ok := g.byName[name]
	return ok
}
