package expr

// NodeID is a stable handle into a Graph's node arena. Nodes are created
// through the builder methods, so an argument always has a smaller ID than
// the node that uses it and the arena is acyclic by construction.
type NodeID int

// Op enumerates expression node kinds.
type Op int

const (
	OpConst Op = iota
	OpTime
	OpInput    // named scalar parameter, resolved at evaluation time
	OpStateVar // discretised state variable

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg

	OpExp
	OpLog
	OpSqrt
	OpSin
	OpCos
	OpTanh

	OpGrad     // spatial gradient: cell nodes -> cell edges
	OpDivFlux  // spatial divergence: cell edges -> cell nodes
	OpIntegral // definite integral over the domain: nodes -> scalar
	OpBoundary // boundary value extraction: nodes -> scalar
)

// Side selects a domain boundary for OpBoundary and boundary conditions.
type Side int

const (
	Left Side = iota
	Right
)

// Node is one operator in the arena. Name is set for OpInput/OpStateVar,
// Value for OpConst, Side for OpBoundary.
type Node struct {
	Op    Op
	Args  []NodeID
	Name  string
	Value float64
	Side  Side
}

// Graph is an append-only arena of expression nodes. Shared subexpressions
// are expressed by reusing handles; there are no back-references.
type Graph struct {
	nodes []Node
}

func NewGraph() *Graph { return &Graph{} }

// Node returns the node for a handle.
func (g *Graph) Node(id NodeID) Node { return g.nodes[id] }

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) add(n Node) NodeID {
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

func (g *Graph) Const(v float64) NodeID { return g.add(Node{Op: OpConst, Value: v}) }
func (g *Graph) Time() NodeID           { return g.add(Node{Op: OpTime}) }
func (g *Graph) Input(name string) NodeID {
	return g.add(Node{Op: OpInput, Name: name})
}
func (g *Graph) StateVar(name string) NodeID {
	return g.add(Node{Op: OpStateVar, Name: name})
}

func (g *Graph) Add(a, b NodeID) NodeID { return g.add(Node{Op: OpAdd, Args: []NodeID{a, b}}) }
func (g *Graph) Sub(a, b NodeID) NodeID { return g.add(Node{Op: OpSub, Args: []NodeID{a, b}}) }
func (g *Graph) Mul(a, b NodeID) NodeID { return g.add(Node{Op: OpMul, Args: []NodeID{a, b}}) }
func (g *Graph) DivBy(a, b NodeID) NodeID {
	return g.add(Node{Op: OpDiv, Args: []NodeID{a, b}})
}
func (g *Graph) Neg(a NodeID) NodeID { return g.add(Node{Op: OpNeg, Args: []NodeID{a}}) }

func (g *Graph) Exp(a NodeID) NodeID  { return g.add(Node{Op: OpExp, Args: []NodeID{a}}) }
func (g *Graph) Log(a NodeID) NodeID  { return g.add(Node{Op: OpLog, Args: []NodeID{a}}) }
func (g *Graph) Sqrt(a NodeID) NodeID { return g.add(Node{Op: OpSqrt, Args: []NodeID{a}}) }
func (g *Graph) Sin(a NodeID) NodeID  { return g.add(Node{Op: OpSin, Args: []NodeID{a}}) }
func (g *Graph) Cos(a NodeID) NodeID  { return g.add(Node{Op: OpCos, Args: []NodeID{a}}) }
func (g *Graph) Tanh(a NodeID) NodeID { return g.add(Node{Op: OpTanh, Args: []NodeID{a}}) }

func (g *Graph) Grad(a NodeID) NodeID    { return g.add(Node{Op: OpGrad, Args: []NodeID{a}}) }
func (g *Graph) DivFlux(a NodeID) NodeID { return g.add(Node{Op: OpDivFlux, Args: []NodeID{a}}) }
func (g *Graph) Integral(a NodeID) NodeID {
	return g.add(Node{Op: OpIntegral, Args: []NodeID{a}})
}
func (g *Graph) Boundary(a NodeID, side Side) NodeID {
	return g.add(Node{Op: OpBoundary, Args: []NodeID{a}, Side: side})
}

// Topo returns the reachable nodes from roots in evaluation order. Because
// the arena is append-only and arguments precede their users, ascending ID
// order of the reachable set is already topological; it is computed once at
// assembly time and reused for every evaluation.
func (g *Graph) Topo(roots ...NodeID) []NodeID {
	reach := make([]bool, len(g.nodes))
	var mark func(id NodeID)
	mark = func(id NodeID) {
		if reach[id] {
			return
		}
		reach[id] = true
		for _, a := range g.nodes[id].Args {
			mark(a)
		}
	}
	for _, r := range roots {
		mark(r)
	}
	order := make([]NodeID, 0, len(g.nodes))
	for i, ok := range reach {
		if ok {
			order = append(order, NodeID(i))
		}
	}
	return order
}

// StateVars returns the distinct state-variable names reachable from roots,
// in first-appearance order.
func (g *Graph) StateVars(roots ...NodeID) []string {
	seen := make(map[string]bool)
	var names []string
	for _, id := range g.Topo(roots...) {
		n := g.nodes[id]
		if n.Op == OpStateVar && !seen[n.Name] {
			seen[n.Name] = true
			names = append(names, n.Name)
		}
	}
	return names
}

// InputNames returns the distinct input names reachable from roots, in
// first-appearance order.
func (g *Graph) InputNames(roots ...NodeID) []string {
	seen := make(map[string]bool)
	var names []string
	for _, id := range g.Topo(roots...) {
		n := g.nodes[id]
		if n.Op == OpInput && !seen[n.Name] {
			seen[n.Name] = true
			names = append(names, n.Name)
		}
	}
	return names
}
