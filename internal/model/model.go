package model

import (
	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/expr"
)

// EquationKind separates states that carry a time derivative from purely
// algebraic constraints. The partition drives the solver's consistent
// initialisation and error control.
type EquationKind int

const (
	Differential EquationKind = iota // d var/dt = RHS
	Algebraic                        // 0 = RHS
)

// BCKind selects the boundary-condition type for a governed variable.
type BCKind int

const (
	Neumann   BCKind = iota // gradient value prescribed at the boundary
	Dirichlet               // variable value prescribed at the boundary
)

// BoundaryCondition prescribes behaviour at one domain boundary. Value is an
// expression, so boundary data may depend on time and named inputs.
type BoundaryCondition struct {
	Kind  BCKind
	Value expr.NodeID
}

// Equation governs exactly one state variable.
type Equation struct {
	Var     string
	Domain  string // spatial domain the variable lives on; "" for a lumped scalar
	Kind    EquationKind
	RHS     expr.NodeID
	Initial expr.NodeID
	BCs     map[expr.Side]BoundaryCondition // nil for lumped variables
}

// Output is a named scalar diagnostic (terminal voltage, cell current, ...).
type Output struct {
	Name string
	Expr expr.NodeID
}

// Submodel is one physics contribution: a set of equations and outputs over
// the shared state-variable namespace. The physics library that produces
// these lives outside this core.
type Submodel struct {
	Name      string
	Equations []Equation
	Outputs   []Output
}

// Model is the merged symbolic system handed to the discretiser.
type Model struct {
	Name  string
	Graph *expr.Graph

	eqs      map[string]Equation
	varOrder []string

	outputs     map[string]expr.NodeID
	outputOrder []string
}

// Assemble merges submodel contributions into one flattened system. Each
// state variable must be governed by exactly one equation: a second governing
// equation or a dangling reference is a ModelError.
func Assemble(name string, g *expr.Graph, subs ...Submodel) (*Model, error) {
	m := &Model{
		Name:    name,
		Graph:   g,
		eqs:     make(map[string]Equation),
		outputs: make(map[string]expr.NodeID),
	}

	for _, sub := range subs {
		for _, eq := range sub.Equations {
			if eq.Var == "" {
				return nil, &dae.ModelError{Reason: "equation with empty variable name in submodel " + sub.Name}
			}
			if _, dup := m.eqs[eq.Var]; dup {
				return nil, &dae.ModelError{Variable: eq.Var, Reason: "governed by more than one submodel"}
			}
			m.eqs[eq.Var] = eq
			m.varOrder = append(m.varOrder, eq.Var)
		}
		for _, out := range sub.Outputs {
			if _, dup := m.outputs[out.Name]; dup {
				return nil, &dae.ModelError{Variable: out.Name, Reason: "output declared by more than one submodel"}
			}
			m.outputs[out.Name] = out.Expr
			m.outputOrder = append(m.outputOrder, out.Name)
		}
	}

	// Every referenced state variable must have a governing equation.
	roots := m.roots()
	for _, ref := range g.StateVars(roots...) {
		if _, ok := m.eqs[ref]; !ok {
			return nil, &dae.ModelError{Variable: ref, Reason: "referenced but has no governing equation"}
		}
	}

	return m, nil
}

func (m *Model) roots() []expr.NodeID {
	var roots []expr.NodeID
	for _, v := range m.varOrder {
		eq := m.eqs[v]
		roots = append(roots, eq.RHS, eq.Initial)
		for _, bc := range eq.BCs {
			roots = append(roots, bc.Value)
		}
	}
	for _, name := range m.outputOrder {
		roots = append(roots, m.outputs[name])
	}
	return roots
}

// Vars returns governed variable names in declaration order.
func (m *Model) Vars() []string {
	out := make([]string, len(m.varOrder))
	copy(out, m.varOrder)
	return out
}

// Equation returns the governing equation for a variable.
func (m *Model) Equation(name string) (Equation, bool) {
	eq, ok := m.eqs[name]
	return eq, ok
}

// OutputNames returns declared output names in declaration order.
func (m *Model) OutputNames() []string {
	out := make([]string, len(m.outputOrder))
	copy(out, m.outputOrder)
	return out
}

// OutputExpr returns the expression for a named output.
func (m *Model) OutputExpr(name string) (expr.NodeID, bool) {
	id, ok := m.outputs[name]
	return id, ok
}

// InputNames returns the named scalar parameters the model defers, in sorted
// order. This is the fixed layout consumed by the solver and the bridge.
func (m *Model) InputNames() []string {
	in := dae.Inputs{}
	for _, name := range m.Graph.InputNames(m.roots()...) {
		in[name] = 0
	}
	return in.Names()
}
