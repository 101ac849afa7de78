// Package cells provides builtin battery models assembled from the symbolic
// expression primitives, plus a registry keyed by name for the CLI.
package cells

import (
	"fmt"
	"sort"

	"github.com/voltlab/celldyn/internal/disc"
	"github.com/voltlab/celldyn/internal/geometry"
	"github.com/voltlab/celldyn/internal/mesh"
	"github.com/voltlab/celldyn/internal/model"
)

// Cell bundles a symbolic model with the geometry and default grid it is
// meant to be solved on.
type Cell struct {
	Name       string
	Geometry   *geometry.Geometry
	MeshSpecs  map[string]mesh.Spec
	DefaultPts map[string]int
	Model      *model.Model
}

// Discretise meshes the cell's geometry and lowers the model onto it. A nil
// pts map uses the cell's default point counts. Counts for domains this cell
// does not have are ignored, so one run configuration can cover several
// cells.
func (c *Cell) Discretise(pts map[string]int) (*disc.System, error) {
	if pts == nil {
		pts = c.DefaultPts
	}
	use := make(map[string]int, len(pts))
	for name, n := range pts {
		if c.Geometry.Has(name) {
			use[name] = n
		}
	}
	msh, err := mesh.New(c.Geometry, c.MeshSpecs, use)
	if err != nil {
		return nil, err
	}
	return disc.ProcessModel(msh, c.Model)
}

// Registry maps cell names to builders.
type Registry struct {
	cells map[string]func() (*Cell, error)
}

func NewRegistry() *Registry {
	r := &Registry{cells: make(map[string]func() (*Cell, error))}
	r.cells["spm"] = NewSingleParticle
	r.cells["reservoir"] = NewReservoir
	return r
}

func (r *Registry) Get(name string) (*Cell, error) {
	fn, ok := r.cells[name]
	if !ok {
		return nil, fmt.Errorf("unknown cell: %s", name)
	}
	return fn()
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.cells))
	for name := range r.cells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
