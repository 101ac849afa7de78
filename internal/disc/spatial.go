package disc

import (
	"gonum.org/v1/gonum/mat"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/expr"
	"github.com/voltlab/celldyn/internal/mesh"
)

// Operator is a fixed matrix operator lowered for one grid. Operators are
// built once per (grid, operator) pair and never interpolated onto another
// grid: applying one to a vector of the wrong length is a
// DiscretisationError.
type Operator struct {
	Name   string
	Domain string
	m      *mat.Dense
	inLen  int
	outLen int
}

// Apply multiplies the operator onto a grid vector.
func (op *Operator) Apply(v []float64) ([]float64, error) {
	if len(v) != op.inLen {
		return nil, &dae.DiscretisationError{
			Op:     op.Name,
			Domain: op.Domain,
			Reason: "operator/grid mismatch",
		}
	}
	out := mat.NewVecDense(op.outLen, nil)
	out.MulVec(op.m, mat.NewVecDense(op.inLen, v))
	return out.RawVector().Data, nil
}

// GradientOp maps cell-node values to gradients at cell edges. Boundary edge
// rows are zero; the evaluator fills them from the governed variable's
// boundary conditions.
func GradientOp(sm *mesh.Submesh) *Operator {
	n := sm.NPts()
	m := mat.NewDense(n+1, n, nil)
	for i := 1; i < n; i++ {
		d := sm.Nodes[i] - sm.Nodes[i-1]
		m.Set(i, i-1, -1/d)
		m.Set(i, i, 1/d)
	}
	return &Operator{Name: "gradient", Domain: sm.Domain, m: m, inLen: n, outLen: n + 1}
}

// DivergenceOp maps edge fluxes to cell-node divergences.
func DivergenceOp(sm *mesh.Submesh) *Operator {
	n := sm.NPts()
	m := mat.NewDense(n, n+1, nil)
	for i, w := range sm.Widths() {
		m.Set(i, i, -1/w)
		m.Set(i, i+1, 1/w)
	}
	return &Operator{Name: "divergence", Domain: sm.Domain, m: m, inLen: n + 1, outLen: n}
}

// IntegralOp maps cell-node values to the definite integral over the domain.
func IntegralOp(sm *mesh.Submesh) *Operator {
	n := sm.NPts()
	m := mat.NewDense(1, n, sm.Widths())
	return &Operator{Name: "integral", Domain: sm.Domain, m: m, inLen: n, outLen: 1}
}

// BoundaryOp extracts the value at a domain boundary by linear extrapolation
// from the two nearest cell nodes.
func BoundaryOp(sm *mesh.Submesh, side expr.Side) *Operator {
	n := sm.NPts()
	m := mat.NewDense(1, n, nil)
	switch {
	case n == 1:
		m.Set(0, 0, 1)
	case side == expr.Left:
		edge := sm.Edges[0]
		d := sm.Nodes[1] - sm.Nodes[0]
		// y(edge) = y0 + (edge - node0) * (y1 - y0)/d
		m.Set(0, 0, 1-(edge-sm.Nodes[0])/d)
		m.Set(0, 1, (edge-sm.Nodes[0])/d)
	default:
		edge := sm.Edges[n]
		d := sm.Nodes[n-1] - sm.Nodes[n-2]
		m.Set(0, n-2, -(edge-sm.Nodes[n-1])/d)
		m.Set(0, n-1, 1+(edge-sm.Nodes[n-1])/d)
	}
	return &Operator{Name: "boundary value", Domain: sm.Domain, m: m, inLen: n, outLen: 1}
}
