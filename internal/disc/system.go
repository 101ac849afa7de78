package disc

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/expr"
	"github.com/voltlab/celldyn/internal/mesh"
	"github.com/voltlab/celldyn/internal/model"
)

// VarInfo locates one state variable inside the flat state vector.
type VarInfo struct {
	Name   string
	Domain string
	Off    int
	Len    int
	Kind   model.EquationKind
}

type kind int

const (
	kScalar kind = iota
	kNodes
	kEdges
)

type shape struct {
	kind   kind
	domain string
	size   int
}

type gradBC struct {
	varName string
	domain  string
	left    *model.BoundaryCondition
	right   *model.BoundaryCondition
}

// System is the discretised model: residual evaluator, singular mass matrix,
// differential/algebraic index partition, and the fixed input-name order used
// for sensitivity analysis. Immutable once ProcessModel returns.
type System struct {
	mdl *model.Model
	msh *mesh.Mesh

	n          int
	vars       []VarInfo
	varByName  map[string]VarInfo
	diffIdx    []int
	algIdx     []int
	inputNames []string
	mass       *mat.DiagDense

	order  []expr.NodeID
	shapes map[expr.NodeID]shape
	grads  map[expr.NodeID]gradBC

	gradOps     map[string]*Operator
	divOps      map[string]*Operator
	integralOps map[string]*Operator
	boundaryOps map[string][2]*Operator
}

// ProcessModel lowers a symbolic model onto a mesh: every spatial operator
// becomes a fixed matrix for its grid, every state variable gets a slice of
// the global state vector, and each unknown is tagged differential or
// algebraic. All shape errors are caught here, not during a solve.
func ProcessModel(msh *mesh.Mesh, mdl *model.Model) (*System, error) {
	s := &System{
		mdl:         mdl,
		msh:         msh,
		varByName:   make(map[string]VarInfo),
		shapes:      make(map[expr.NodeID]shape),
		grads:       make(map[expr.NodeID]gradBC),
		gradOps:     make(map[string]*Operator),
		divOps:      make(map[string]*Operator),
		integralOps: make(map[string]*Operator),
		boundaryOps: make(map[string][2]*Operator),
	}

	// Lay out the state vector and the index partition.
	off := 0
	for _, name := range mdl.Vars() {
		eq, _ := mdl.Equation(name)
		length := 1
		if eq.Domain != "" {
			sm, ok := msh.Submesh(eq.Domain)
			if !ok {
				return nil, &dae.ConfigurationError{Domain: eq.Domain, Reason: "variable " + name + " lives on unmeshed domain"}
			}
			length = sm.NPts()
		}
		info := VarInfo{Name: name, Domain: eq.Domain, Off: off, Len: length, Kind: eq.Kind}
		s.vars = append(s.vars, info)
		s.varByName[name] = info
		for i := 0; i < length; i++ {
			if eq.Kind == model.Differential {
				s.diffIdx = append(s.diffIdx, off+i)
			} else {
				s.algIdx = append(s.algIdx, off+i)
			}
		}
		off += length
	}
	s.n = off

	diag := make([]float64, s.n)
	for _, i := range s.diffIdx {
		diag[i] = 1
	}
	s.mass = mat.NewDiagDense(s.n, diag)

	// Initial conditions must not depend on the (unknown) state.
	for _, name := range mdl.Vars() {
		eq, _ := mdl.Equation(name)
		if refs := mdl.Graph.StateVars(eq.Initial); len(refs) > 0 {
			return nil, &dae.ModelError{Variable: name, Reason: "initial condition references state variable " + refs[0]}
		}
	}

	s.order = s.evalOrder()
	if err := s.infer(); err != nil {
		return nil, err
	}
	s.inputNames = mdl.InputNames()
	return s, nil
}

func (s *System) roots() []expr.NodeID {
	var roots []expr.NodeID
	for _, name := range s.mdl.Vars() {
		eq, _ := s.mdl.Equation(name)
		roots = append(roots, eq.RHS, eq.Initial)
		for _, bc := range eq.BCs {
			roots = append(roots, bc.Value)
		}
	}
	for _, name := range s.mdl.OutputNames() {
		id, _ := s.mdl.OutputExpr(name)
		roots = append(roots, id)
	}
	return roots
}

// evalOrder orders the reachable nodes so that every node follows its
// arguments and every gradient follows the boundary-condition values that
// close it. The arena guarantees the first property by construction, but BC
// values attach to the equation rather than to the gradient node, so they may
// carry larger IDs than the gradient that reads them.
func (s *System) evalOrder() []expr.NodeID {
	g := s.mdl.Graph
	bcDeps := make(map[expr.NodeID][]expr.NodeID)
	for _, id := range g.Topo(s.roots()...) {
		n := g.Node(id)
		if n.Op != expr.OpGrad {
			continue
		}
		arg := g.Node(n.Args[0])
		if arg.Op != expr.OpStateVar {
			continue
		}
		eq, ok := s.mdl.Equation(arg.Name)
		if !ok {
			continue
		}
		for _, side := range []expr.Side{expr.Left, expr.Right} {
			if bc, ok := eq.BCs[side]; ok {
				bcDeps[id] = append(bcDeps[id], bc.Value)
			}
		}
	}

	order := make([]expr.NodeID, 0, g.Len())
	seen := make(map[expr.NodeID]bool)
	var visit func(id expr.NodeID)
	visit = func(id expr.NodeID) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, d := range bcDeps[id] {
			visit(d)
		}
		for _, a := range g.Node(id).Args {
			visit(a)
		}
		order = append(order, id)
	}
	for _, r := range s.roots() {
		visit(r)
	}
	return order
}

// infer runs shape inference over the evaluation order, building operator
// matrices as spatial nodes are encountered.
func (s *System) infer() error {
	g := s.mdl.Graph
	for _, id := range s.order {
		n := g.Node(id)
		var sh shape
		switch n.Op {
		case expr.OpConst, expr.OpTime, expr.OpInput:
			sh = shape{kind: kScalar, size: 1}

		case expr.OpStateVar:
			info, ok := s.varByName[n.Name]
			if !ok {
				return &dae.ModelError{Variable: n.Name, Reason: "referenced but has no governing equation"}
			}
			if info.Domain == "" {
				sh = shape{kind: kScalar, size: 1}
			} else {
				sh = shape{kind: kNodes, domain: info.Domain, size: info.Len}
			}

		case expr.OpAdd, expr.OpSub, expr.OpMul, expr.OpDiv:
			a, b := s.shapes[n.Args[0]], s.shapes[n.Args[1]]
			switch {
			case a.kind == kScalar:
				sh = b
			case b.kind == kScalar:
				sh = a
			case a.kind == b.kind && a.domain == b.domain:
				sh = a
			default:
				return &dae.DiscretisationError{Op: "arithmetic", Domain: a.domain, Reason: "operands on mismatched grids"}
			}

		case expr.OpNeg, expr.OpExp, expr.OpLog, expr.OpSqrt, expr.OpSin, expr.OpCos, expr.OpTanh:
			sh = s.shapes[n.Args[0]]

		case expr.OpGrad:
			arg := g.Node(n.Args[0])
			if arg.Op != expr.OpStateVar {
				return &dae.DiscretisationError{Op: "gradient", Reason: "gradient is only lowered for state variables"}
			}
			info := s.varByName[arg.Name]
			if info.Domain == "" {
				return &dae.DiscretisationError{Op: "gradient", Domain: info.Domain, Reason: "gradient of a lumped variable"}
			}
			sm, _ := s.msh.Submesh(info.Domain)
			if _, ok := s.gradOps[info.Domain]; !ok {
				s.gradOps[info.Domain] = GradientOp(sm)
			}
			eq, _ := s.mdl.Equation(arg.Name)
			gb := gradBC{varName: arg.Name, domain: info.Domain}
			if bc, ok := eq.BCs[expr.Left]; ok {
				bc := bc
				gb.left = &bc
			}
			if bc, ok := eq.BCs[expr.Right]; ok {
				bc := bc
				gb.right = &bc
			}
			s.grads[id] = gb
			sh = shape{kind: kEdges, domain: info.Domain, size: info.Len + 1}

		case expr.OpDivFlux:
			a := s.shapes[n.Args[0]]
			if a.kind != kEdges {
				return &dae.DiscretisationError{Op: "divergence", Domain: a.domain, Reason: "divergence expects an edge-valued flux"}
			}
			sm, _ := s.msh.Submesh(a.domain)
			if _, ok := s.divOps[a.domain]; !ok {
				s.divOps[a.domain] = DivergenceOp(sm)
			}
			sh = shape{kind: kNodes, domain: a.domain, size: a.size - 1}

		case expr.OpIntegral:
			a := s.shapes[n.Args[0]]
			if a.kind != kNodes {
				return &dae.DiscretisationError{Op: "integral", Domain: a.domain, Reason: "integral expects a node-valued expression"}
			}
			sm, _ := s.msh.Submesh(a.domain)
			if _, ok := s.integralOps[a.domain]; !ok {
				s.integralOps[a.domain] = IntegralOp(sm)
			}
			sh = shape{kind: kScalar, size: 1}

		case expr.OpBoundary:
			a := s.shapes[n.Args[0]]
			if a.kind == kScalar {
				sh = shape{kind: kScalar, size: 1}
				break
			}
			if a.kind != kNodes {
				return &dae.DiscretisationError{Op: "boundary value", Domain: a.domain, Reason: "boundary extraction expects a node-valued expression"}
			}
			sm, _ := s.msh.Submesh(a.domain)
			if _, ok := s.boundaryOps[a.domain]; !ok {
				s.boundaryOps[a.domain] = [2]*Operator{
					BoundaryOp(sm, expr.Left),
					BoundaryOp(sm, expr.Right),
				}
			}
			sh = shape{kind: kScalar, size: 1}
		}
		s.shapes[id] = sh
	}

	// Outputs must lower to scalars.
	for _, name := range s.mdl.OutputNames() {
		id, _ := s.mdl.OutputExpr(name)
		if s.shapes[id].kind != kScalar {
			return &dae.DiscretisationError{Op: "output " + name, Reason: "output variable does not lower to a scalar"}
		}
	}
	return nil
}

// eval walks the fixed evaluation order. The shape pass has already rejected
// every malformed expression, so this loop carries no error paths.
func (s *System) eval(t float64, y dae.State, in dae.Inputs) map[expr.NodeID][]float64 {
	g := s.mdl.Graph
	vals := make(map[expr.NodeID][]float64, len(s.order))
	for _, id := range s.order {
		n := g.Node(id)
		switch n.Op {
		case expr.OpConst:
			vals[id] = []float64{n.Value}
		case expr.OpTime:
			vals[id] = []float64{t}
		case expr.OpInput:
			vals[id] = []float64{in[n.Name]}
		case expr.OpStateVar:
			info := s.varByName[n.Name]
			vals[id] = y[info.Off : info.Off+info.Len]

		case expr.OpAdd:
			vals[id] = zip(vals[n.Args[0]], vals[n.Args[1]], func(a, b float64) float64 { return a + b })
		case expr.OpSub:
			vals[id] = zip(vals[n.Args[0]], vals[n.Args[1]], func(a, b float64) float64 { return a - b })
		case expr.OpMul:
			vals[id] = zip(vals[n.Args[0]], vals[n.Args[1]], func(a, b float64) float64 { return a * b })
		case expr.OpDiv:
			vals[id] = zip(vals[n.Args[0]], vals[n.Args[1]], func(a, b float64) float64 { return a / b })

		case expr.OpNeg:
			vals[id] = apply(vals[n.Args[0]], func(a float64) float64 { return -a })
		case expr.OpExp:
			vals[id] = apply(vals[n.Args[0]], math.Exp)
		case expr.OpLog:
			vals[id] = apply(vals[n.Args[0]], math.Log)
		case expr.OpSqrt:
			vals[id] = apply(vals[n.Args[0]], math.Sqrt)
		case expr.OpSin:
			vals[id] = apply(vals[n.Args[0]], math.Sin)
		case expr.OpCos:
			vals[id] = apply(vals[n.Args[0]], math.Cos)
		case expr.OpTanh:
			vals[id] = apply(vals[n.Args[0]], math.Tanh)

		case expr.OpGrad:
			gb := s.grads[id]
			out, _ := s.gradOps[gb.domain].Apply(vals[n.Args[0]])
			s.applyBCs(out, gb, vals, y)
			vals[id] = out
		case expr.OpDivFlux:
			sh := s.shapes[n.Args[0]]
			out, _ := s.divOps[sh.domain].Apply(vals[n.Args[0]])
			vals[id] = out
		case expr.OpIntegral:
			sh := s.shapes[n.Args[0]]
			out, _ := s.integralOps[sh.domain].Apply(vals[n.Args[0]])
			vals[id] = out
		case expr.OpBoundary:
			sh := s.shapes[n.Args[0]]
			if sh.kind == kScalar {
				vals[id] = vals[n.Args[0]]
				break
			}
			out, _ := s.boundaryOps[sh.domain][n.Side].Apply(vals[n.Args[0]])
			vals[id] = out
		}
	}
	return vals
}

// applyBCs fills the boundary rows of a gradient. Unspecified boundaries
// default to zero flux.
func (s *System) applyBCs(grad []float64, gb gradBC, vals map[expr.NodeID][]float64, y dae.State) {
	sm, _ := s.msh.Submesh(gb.domain)
	info := s.varByName[gb.varName]
	yv := y[info.Off : info.Off+info.Len]
	n := len(grad) - 1

	grad[0], grad[n] = 0, 0
	if gb.left != nil {
		b := vals[gb.left.Value][0]
		if gb.left.Kind == model.Neumann {
			grad[0] = b
		} else {
			grad[0] = (yv[0] - b) / (sm.Nodes[0] - sm.Edges[0])
		}
	}
	if gb.right != nil {
		b := vals[gb.right.Value][0]
		if gb.right.Kind == model.Neumann {
			grad[n] = b
		} else {
			grad[n] = (b - yv[n-1]) / (sm.Edges[n] - sm.Nodes[n-1])
		}
	}
}

func zip(a, b []float64, f func(a, b float64) float64) []float64 {
	if len(a) == 1 && len(b) > 1 {
		out := make([]float64, len(b))
		for i := range b {
			out[i] = f(a[0], b[i])
		}
		return out
	}
	if len(b) == 1 && len(a) > 1 {
		out := make([]float64, len(a))
		for i := range a {
			out[i] = f(a[i], b[0])
		}
		return out
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = f(a[i], b[i])
	}
	return out
}

func apply(a []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = f(a[i])
	}
	return out
}

// NumStates returns the size of the flat state vector.
func (s *System) NumStates() int { return s.n }

// Vars returns the state layout in declaration order.
func (s *System) Vars() []VarInfo {
	out := make([]VarInfo, len(s.vars))
	copy(out, s.vars)
	return out
}

// DiffIdx returns the differential index set.
func (s *System) DiffIdx() []int { return append([]int(nil), s.diffIdx...) }

// AlgIdx returns the algebraic index set.
func (s *System) AlgIdx() []int { return append([]int(nil), s.algIdx...) }

// InputNames returns the deferred parameter names in their fixed sorted
// order. This order fixes the positional packing used by the bridge.
func (s *System) InputNames() []string { return append([]string(nil), s.inputNames...) }

// Mass returns the (singular) diagonal mass matrix.
func (s *System) Mass() *mat.DiagDense { return s.mass }

// Residual evaluates R(t, y, y', inputs): for differential rows
// y'_i - rhs_i, for algebraic rows rhs_i.
func (s *System) Residual(t float64, y, yp dae.State, in dae.Inputs) dae.State {
	vals := s.eval(t, y, in)
	r := make(dae.State, s.n)
	for _, info := range s.vars {
		eq, _ := s.mdl.Equation(info.Name)
		rhs := vals[eq.RHS]
		for i := 0; i < info.Len; i++ {
			v := rhs[0]
			if len(rhs) > 1 {
				v = rhs[i]
			}
			if info.Kind == model.Differential {
				r[info.Off+i] = yp[info.Off+i] - v
			} else {
				r[info.Off+i] = v
			}
		}
	}
	return r
}

// InitialState evaluates the initial-condition expressions. Algebraic
// entries are only a guess; the solver refines them into a consistent state.
func (s *System) InitialState(in dae.Inputs) dae.State {
	vals := s.eval(0, make(dae.State, s.n), in)
	y0 := make(dae.State, s.n)
	for _, info := range s.vars {
		eq, _ := s.mdl.Equation(info.Name)
		iv := vals[eq.Initial]
		for i := 0; i < info.Len; i++ {
			if len(iv) > 1 {
				y0[info.Off+i] = iv[i]
			} else {
				y0[info.Off+i] = iv[0]
			}
		}
	}
	return y0
}

// OutputNames returns the declared output variables in declaration order.
func (s *System) OutputNames() []string { return s.mdl.OutputNames() }

// Output evaluates a named scalar output at one time point.
func (s *System) Output(name string, t float64, y dae.State, in dae.Inputs) (float64, error) {
	id, ok := s.mdl.OutputExpr(name)
	if !ok {
		return 0, &dae.SolverError{Reason: "unknown output variable " + name}
	}
	vals := s.eval(t, y, in)
	return vals[id][0], nil
}
