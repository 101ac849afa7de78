package ad

// Tape records reverse-mode operations. One tape is created per JacRev/Grad
// call; it is not shared between evaluations.
type Tape struct {
	nodes  []*node
	leaves map[string]*node
}

type node struct {
	shapeRows, shapeCols int
	edges                []edge
	cot                  *Tensor
}

type edge struct {
	to  *node
	vjp func(cot *Tensor) (*Tensor, error)
}

func newTape() *Tape {
	return &Tape{leaves: make(map[string]*node)}
}

func (tp *Tape) record(primal *Tensor, edges []edge) *node {
	n := &node{shapeRows: primal.rows, shapeCols: primal.cols, edges: edges}
	tp.nodes = append(tp.nodes, n)
	return n
}

// leaf registers a named differentiable input.
func (tp *Tape) leaf(name string, primal *Tensor) *node {
	n := tp.record(primal, nil)
	tp.leaves[name] = n
	return n
}

// backward propagates a cotangent seed from out to every leaf and returns
// the per-leaf cotangents. Node order on the tape is already topological
// (operations are recorded as they execute), so a single reverse sweep
// suffices.
func (tp *Tape) backward(out *node, seed *Tensor) (map[string]*Tensor, error) {
	for _, n := range tp.nodes {
		n.cot = nil
	}
	out.cot = seed

	for i := len(tp.nodes) - 1; i >= 0; i-- {
		n := tp.nodes[i]
		if n.cot == nil {
			continue
		}
		for _, e := range n.edges {
			c, err := e.vjp(n.cot)
			if err != nil {
				return nil, err
			}
			if e.to.cot == nil {
				e.to.cot = c
			} else {
				e.to.cot = addT(e.to.cot, c)
			}
		}
	}

	grads := make(map[string]*Tensor, len(tp.leaves))
	for name, n := range tp.leaves {
		if n.cot != nil {
			grads[name] = n.cot
		} else {
			grads[name] = Zeros(n.shapeRows, n.shapeCols)
		}
	}
	return grads, nil
}
