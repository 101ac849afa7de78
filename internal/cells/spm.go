package cells

import (
	"github.com/voltlab/celldyn/internal/expr"
	"github.com/voltlab/celldyn/internal/geometry"
	"github.com/voltlab/celldyn/internal/model"
)

// Single-particle parameters, nondimensionalised so a 0..360 second discharge
// moves the surface stoichiometry by a few percent.
const (
	spmDiffusivity = 1e-3 // particle diffusion coefficient
	spmFluxScale   = 0.03 // applied current -> surface flux
	spmResistance  = 0.1  // lumped ohmic resistance
	spmInitialConc = 0.6  // initial stoichiometry
)

// CurrentInput is the named parameter every current-driven cell defers.
const CurrentInput = "Current function [A]"

// Standard output names shared by the builtin cells.
const (
	OutputVoltage = "Voltage [V]"
	OutputCurrent = "Current [A]"
	OutputTime    = "Time [min]"
)

// NewSingleParticle builds a reduced lithium-ion model: Fickian diffusion in
// one representative particle, current-driven surface flux, and an algebraic
// terminal-voltage equation closed by an open-circuit curve.
func NewSingleParticle() (*Cell, error) {
	geom, err := geometry.New(geometry.Domain{
		Name: "particle", Min: 0, Max: 1, Dim: geometry.Dim1,
	})
	if err != nil {
		return nil, err
	}

	g := expr.NewGraph()
	current := g.Input(CurrentInput)

	// dc/dt = div(D grad c), zero flux at the centre, current-driven flux
	// at the surface.
	conc := g.StateVar("concentration")
	rhs := g.DivFlux(g.Mul(g.Const(spmDiffusivity), g.Grad(conc)))
	surfaceFlux := g.Neg(g.Mul(g.Const(spmFluxScale), current))

	diffusion := model.Equation{
		Var:     "concentration",
		Domain:  "particle",
		Kind:    model.Differential,
		RHS:     rhs,
		Initial: g.Const(spmInitialConc),
		BCs: map[expr.Side]model.BoundaryCondition{
			expr.Left:  {Kind: model.Neumann, Value: g.Const(0)},
			expr.Right: {Kind: model.Neumann, Value: surfaceFlux},
		},
	}

	// 0 = V - U(c_surf) + R*I with a tanh open-circuit curve.
	surf := g.Boundary(g.StateVar("concentration"), expr.Right)
	ocv := g.Add(g.Const(2.7), g.Tanh(g.Mul(g.Const(5), g.Sub(surf, g.Const(0.5)))))
	volt := g.StateVar("voltage")
	vrhs := g.Add(g.Sub(volt, ocv), g.Mul(g.Const(spmResistance), current))

	voltage := model.Equation{
		Var:     "voltage",
		Kind:    model.Algebraic,
		RHS:     vrhs,
		Initial: g.Const(3.2), // refined to consistency by the solver
	}

	sub := model.Submodel{
		Name:      "single particle",
		Equations: []model.Equation{diffusion, voltage},
		Outputs: []model.Output{
			{Name: OutputVoltage, Expr: g.StateVar("voltage")},
			{Name: OutputCurrent, Expr: current},
			{Name: OutputTime, Expr: g.DivBy(g.Time(), g.Const(60))},
		},
	}

	mdl, err := model.Assemble("spm", g, sub)
	if err != nil {
		return nil, err
	}
	return &Cell{
		Name:       "spm",
		Geometry:   geom,
		DefaultPts: map[string]int{"particle": 20},
		Model:      mdl,
	}, nil
}
