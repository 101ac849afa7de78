package model

import (
	"errors"
	"testing"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/expr"
)

func scalarEq(g *expr.Graph, name string, kind EquationKind, rhs expr.NodeID) Equation {
	return Equation{Var: name, Kind: kind, RHS: rhs, Initial: g.Const(0)}
}

func TestAssemble(t *testing.T) {
	g := expr.NewGraph()
	a := Submodel{
		Name:      "dynamics",
		Equations: []Equation{scalarEq(g, "x", Differential, g.Neg(g.StateVar("x")))},
	}
	b := Submodel{
		Name:      "closure",
		Equations: []Equation{scalarEq(g, "y", Algebraic, g.Sub(g.StateVar("y"), g.StateVar("x")))},
		Outputs:   []Output{{Name: "y out", Expr: g.StateVar("y")}},
	}

	m, err := Assemble("two vars", g, a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vars := m.Vars(); len(vars) != 2 || vars[0] != "x" || vars[1] != "y" {
		t.Errorf("unexpected var order: %v", vars)
	}
	if names := m.OutputNames(); len(names) != 1 || names[0] != "y out" {
		t.Errorf("unexpected outputs: %v", names)
	}
	if _, ok := m.Equation("x"); !ok {
		t.Error("missing equation for x")
	}
}

func TestAssembleDuplicateVariable(t *testing.T) {
	g := expr.NewGraph()
	a := Submodel{Equations: []Equation{scalarEq(g, "x", Differential, g.Const(1))}}
	b := Submodel{Equations: []Equation{scalarEq(g, "x", Algebraic, g.Const(2))}}

	_, err := Assemble("dup", g, a, b)
	if err == nil {
		t.Fatal("expected error for duplicate governing equation")
	}
	if !errors.Is(err, dae.ErrModel) {
		t.Errorf("expected model error, got %v", err)
	}
	var me *dae.ModelError
	if !errors.As(err, &me) || me.Variable != "x" {
		t.Errorf("expected error naming x, got %v", err)
	}
}

func TestAssembleDuplicateOutput(t *testing.T) {
	g := expr.NewGraph()
	a := Submodel{
		Equations: []Equation{scalarEq(g, "x", Differential, g.Const(1))},
		Outputs:   []Output{{Name: "v", Expr: g.Const(1)}},
	}
	b := Submodel{Outputs: []Output{{Name: "v", Expr: g.Const(2)}}}

	_, err := Assemble("dup out", g, a, b)
	if !errors.Is(err, dae.ErrModel) {
		t.Errorf("expected model error, got %v", err)
	}
}

func TestAssembleDanglingReference(t *testing.T) {
	g := expr.NewGraph()
	sub := Submodel{
		Equations: []Equation{scalarEq(g, "x", Differential, g.StateVar("ghost"))},
	}

	_, err := Assemble("dangling", g, sub)
	if err == nil {
		t.Fatal("expected error for ungoverned reference")
	}
	var me *dae.ModelError
	if !errors.As(err, &me) || me.Variable != "ghost" {
		t.Errorf("expected error naming ghost, got %v", err)
	}
}

func TestAssembleDanglingInBoundaryCondition(t *testing.T) {
	g := expr.NewGraph()
	eq := Equation{
		Var:     "c",
		Domain:  "particle",
		Kind:    Differential,
		RHS:     g.Const(0),
		Initial: g.Const(1),
		BCs: map[expr.Side]BoundaryCondition{
			expr.Right: {Kind: Neumann, Value: g.StateVar("ghost")},
		},
	}

	_, err := Assemble("bc dangling", g, Submodel{Equations: []Equation{eq}})
	if !errors.Is(err, dae.ErrModel) {
		t.Errorf("expected model error, got %v", err)
	}
}

func TestAssembleEmptyVariableName(t *testing.T) {
	g := expr.NewGraph()
	sub := Submodel{Name: "bad", Equations: []Equation{scalarEq(g, "", Differential, g.Const(1))}}

	_, err := Assemble("empty", g, sub)
	if !errors.Is(err, dae.ErrModel) {
		t.Errorf("expected model error, got %v", err)
	}
}

func TestInputNamesSorted(t *testing.T) {
	g := expr.NewGraph()
	rhs := g.Add(g.Input("zeta"), g.Input("alpha"))
	m, err := Assemble("inputs", g, Submodel{
		Equations: []Equation{scalarEq(g, "x", Differential, rhs)},
	})
	if err != nil {
		t.Fatal(err)
	}
	names := m.InputNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("expected sorted input names, got %v", names)
	}
}
