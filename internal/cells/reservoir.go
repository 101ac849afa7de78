package cells

import (
	"github.com/voltlab/celldyn/internal/expr"
	"github.com/voltlab/celldyn/internal/geometry"
	"github.com/voltlab/celldyn/internal/model"
)

// Lead-acid reservoir parameters: a fixed 1 A discharge of a small cell.
const (
	reservoirCurrent    = 1.0    // applied current, fixed
	reservoirCapacity   = 3600.0 // A s
	reservoirSlope      = 0.5    // OCV drop per unit depth of discharge
	reservoirRestVolts  = 2.1
	reservoirResistance = 0.05
)

// NewReservoir builds a lumped lead-acid model: state of charge depleted by a
// fixed current and an algebraic voltage with a linear open-circuit curve. It
// defers no named parameters, so it solves with an empty inputs map.
func NewReservoir() (*Cell, error) {
	geom, err := geometry.New()
	if err != nil {
		return nil, err
	}

	g := expr.NewGraph()
	current := g.Const(reservoirCurrent)

	soc := model.Equation{
		Var:     "soc",
		Kind:    model.Differential,
		RHS:     g.Neg(g.DivBy(current, g.Const(reservoirCapacity))),
		Initial: g.Const(1),
	}

	// 0 = V - (V_rest - slope*(1 - soc) - R*I)
	depth := g.Sub(g.Const(1), g.StateVar("soc"))
	ocv := g.Sub(g.Const(reservoirRestVolts), g.Mul(g.Const(reservoirSlope), depth))
	vrhs := g.Add(
		g.Sub(g.StateVar("voltage"), ocv),
		g.Mul(g.Const(reservoirResistance), current),
	)
	voltage := model.Equation{
		Var:     "voltage",
		Kind:    model.Algebraic,
		RHS:     vrhs,
		Initial: g.Const(2.1),
	}

	sub := model.Submodel{
		Name:      "reservoir",
		Equations: []model.Equation{soc, voltage},
		Outputs: []model.Output{
			{Name: OutputVoltage, Expr: g.StateVar("voltage")},
			{Name: OutputCurrent, Expr: current},
			{Name: OutputTime, Expr: g.DivBy(g.Time(), g.Const(60))},
		},
	}

	mdl, err := model.Assemble("reservoir", g, sub)
	if err != nil {
		return nil, err
	}
	return &Cell{Name: "reservoir", Geometry: geom, Model: mdl}, nil
}
