package expr

import "testing"

func TestTopoOrder(t *testing.T) {
	g := NewGraph()
	c := g.StateVar("c")
	d := g.Const(2)
	flux := g.Mul(d, g.Grad(c))
	rhs := g.DivFlux(flux)

	order := g.Topo(rhs)
	if len(order) != 5 {
		t.Fatalf("expected 5 reachable nodes, got %d", len(order))
	}
	// Arguments always precede their users.
	pos := make(map[NodeID]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		for _, a := range g.Node(id).Args {
			if pos[a] >= pos[id] {
				t.Errorf("node %d evaluated before its argument %d", id, a)
			}
		}
	}
}

func TestTopoUnreachable(t *testing.T) {
	g := NewGraph()
	used := g.Const(1)
	g.Const(99) // never referenced
	root := g.Neg(used)

	order := g.Topo(root)
	if len(order) != 2 {
		t.Errorf("expected 2 reachable nodes, got %d", len(order))
	}
}

func TestSharedSubexpression(t *testing.T) {
	g := NewGraph()
	c := g.StateVar("c")
	sq := g.Mul(c, c)
	root := g.Add(sq, sq)

	order := g.Topo(root)
	if len(order) != 3 {
		t.Errorf("shared node visited twice: got %d nodes, want 3", len(order))
	}
}

func TestStateVarsAndInputNames(t *testing.T) {
	g := NewGraph()
	c := g.StateVar("c")
	v := g.StateVar("v")
	i := g.Input("Current function [A]")
	root := g.Add(g.Add(c, v), g.Mul(i, c))

	vars := g.StateVars(root)
	if len(vars) != 2 || vars[0] != "c" || vars[1] != "v" {
		t.Errorf("unexpected state vars: %v", vars)
	}
	ins := g.InputNames(root)
	if len(ins) != 1 || ins[0] != "Current function [A]" {
		t.Errorf("unexpected inputs: %v", ins)
	}
}
