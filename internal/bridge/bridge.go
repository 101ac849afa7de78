// Package bridge exposes a battery solve as a pure differentiable function
// over the ad engine, mirroring how a JAX-style frontend wraps an opaque
// native solver.
package bridge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/voltlab/celldyn/internal/ad"
	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/disc"
	"github.com/voltlab/celldyn/internal/solver"
)

// Options configure Jaxify. Outputs selects the model output variables the
// expression returns, in column order. Inputs are the named parameter values
// the initial solve runs at. CalculateSensitivities must be set for any
// derivative transform to work; without it the solver records no parameter
// sensitivities and differentiation fails.
type Options struct {
	Outputs                []string
	Inputs                 dae.Inputs
	CalculateSensitivities bool
}

// Bridge turns a discretised system plus a solver into a pure traceable
// function f(time, inputs) -> outputs that the ad package can transform.
// A bridge starts uninitialised; Jaxify moves it to compiled exactly once.
// The solve itself is deferred until the expression is first evaluated.
type Bridge struct {
	slv *solver.Solver
	log *slog.Logger

	compiled bool
	f        ad.Func
	prim     *solvePrimitive

	sys     *disc.System
	tEval   []float64
	outputs []string
	order   []string
	inputs  dae.Inputs
	sens    bool
}

// New returns an uninitialised bridge around the given solver.
func New(slv *solver.Solver) *Bridge {
	return &Bridge{slv: slv, log: slog.Default()}
}

// Jaxify compiles the system into a differentiable expression, once. The
// returned function accepts a scalar or vector time tensor plus the named
// inputs and yields a matrix with one row per time point and one column per
// requested output. Calling Jaxify on an already compiled bridge logs a
// warning and returns the original expression unchanged.
func (b *Bridge) Jaxify(sys *disc.System, tEval []float64, opts Options) (ad.Func, error) {
	if b.compiled {
		b.log.Warn("bridge already compiled, keeping original expression",
			"outputs", strings.Join(b.outputs, ","))
		return b.f, nil
	}
	if len(opts.Outputs) == 0 {
		return nil, &dae.SolverError{Reason: "jaxify requires at least one output variable"}
	}
	known := make(map[string]bool)
	for _, name := range sys.OutputNames() {
		known[name] = true
	}
	for _, name := range opts.Outputs {
		if !known[name] {
			return nil, &dae.SolverError{Reason: fmt.Sprintf("unknown output variable %q", name)}
		}
	}
	if len(tEval) < 2 {
		return nil, &dae.SolverError{Reason: "jaxify requires at least two time points"}
	}

	b.sys = sys
	b.tEval = append([]float64(nil), tEval...)
	b.outputs = append([]string(nil), opts.Outputs...)
	b.order = sys.InputNames()
	b.inputs = opts.Inputs.Clone()
	b.sens = opts.CalculateSensitivities
	b.prim = &solvePrimitive{bridge: b, cache: make(map[string]*solver.Solution)}

	b.f = func(t *ad.Value, inputs map[string]*ad.Value) (*ad.Value, error) {
		// Named inputs are repacked in the solver-determined order so that
		// evaluation never depends on map iteration or caller ordering.
		ordered := make(map[string]*ad.Value, len(b.order))
		for _, name := range b.order {
			v, ok := inputs[name]
			if !ok {
				return nil, &dae.SolverError{Reason: fmt.Sprintf("missing input %q", name)}
			}
			ordered[name] = v
		}
		return ad.Apply(b.prim, t, ordered)
	}
	b.compiled = true
	return b.f, nil
}

// Expr returns the compiled expression.
func (b *Bridge) Expr() (ad.Func, error) {
	if !b.compiled {
		return nil, &dae.SolverError{Reason: "bridge not yet initialised"}
	}
	return b.f, nil
}

// Outputs returns the output names in column order.
func (b *Bridge) Outputs() []string {
	return append([]string(nil), b.outputs...)
}

// TEval returns the compiled evaluation times.
func (b *Bridge) TEval() []float64 {
	return append([]float64(nil), b.tEval...)
}

// Value evaluates the compiled expression at its own time grid and inputs and
// returns the concrete output matrix, rows indexed by time and columns by
// output. It is a convenience for inspecting a solve, not a traced call.
func (b *Bridge) Value() (*ad.Tensor, error) {
	if !b.compiled {
		return nil, &dae.SolverError{Reason: "bridge not yet initialised"}
	}
	return ad.Eval(b.f, ad.Vector(b.tEval), map[string]float64(b.inputs))
}

// Grad differentiates every output column with respect to every input at the
// bridge's own time grid and inputs. Keys of the outer map are output names.
func (b *Bridge) Grad() (map[string]map[string]*ad.Tensor, error) {
	if !b.compiled {
		return nil, &dae.SolverError{Reason: "bridge not yet initialised"}
	}
	out := make(map[string]map[string]*ad.Tensor, len(b.outputs))
	for i, name := range b.outputs {
		jac, err := ad.JacFwd(GetVarIdx(b.f, i))(ad.Vector(b.tEval), map[string]float64(b.inputs))
		if err != nil {
			return nil, err
		}
		out[name] = jac
	}
	return out, nil
}

// GetVars narrows a compiled expression to a subset of its output columns,
// given the full column order. The result is itself traceable.
func (b *Bridge) GetVars(f ad.Func, names []string) (ad.Func, error) {
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i := indexOf(b.outputs, name)
		if i < 0 {
			return nil, &dae.SolverError{Reason: fmt.Sprintf("unknown output variable %q", name)}
		}
		idx = append(idx, i)
	}
	return func(t *ad.Value, inputs map[string]*ad.Value) (*ad.Value, error) {
		out, err := f(t, inputs)
		if err != nil {
			return nil, err
		}
		return out.Cols(idx), nil
	}, nil
}

// GetVar narrows a compiled expression to a single output column and squeezes
// scalar-time results down to a scalar.
func (b *Bridge) GetVar(f ad.Func, name string) (ad.Func, error) {
	i := indexOf(b.outputs, name)
	if i < 0 {
		return nil, &dae.SolverError{Reason: fmt.Sprintf("unknown output variable %q", name)}
	}
	return GetVarIdx(f, i), nil
}

// GetVarIdx narrows an expression to the output column at index i.
func GetVarIdx(f ad.Func, i int) ad.Func {
	return func(t *ad.Value, inputs map[string]*ad.Value) (*ad.Value, error) {
		out, err := f(t, inputs)
		if err != nil {
			return nil, err
		}
		return out.Cols([]int{i}).Squeeze(), nil
	}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// solvePrimitive exposes one discretised system as an ad.Primitive. Output
// values and forward sensitivities come from interpolated solution
// trajectories; solves are cached per distinct input set so repeated tracing
// at the same parameters reuses one consistent-initial-condition solve.
type solvePrimitive struct {
	bridge *Bridge
	cache  map[string]*solver.Solution
}

func (p *solvePrimitive) Name() string { return "celldyn_solve" }

func (p *solvePrimitive) solution(in map[string]float64) (*solver.Solution, error) {
	key := inputKey(in)
	if sol, ok := p.cache[key]; ok {
		return sol, nil
	}
	b := p.bridge
	inputs := make(dae.Inputs, len(in))
	for k, v := range in {
		inputs[k] = v
	}
	var sol *solver.Solution
	var err error
	if b.sens {
		sol, err = b.slv.SolveSens(b.sys, b.tEval, inputs, nil)
	} else {
		sol, err = b.slv.Solve(b.sys, b.tEval, inputs)
	}
	if err != nil {
		return nil, err
	}
	p.cache[key] = sol
	return sol, nil
}

func (p *solvePrimitive) Eval(t *ad.Tensor, in map[string]float64) (*ad.Tensor, error) {
	sol, err := p.solution(in)
	if err != nil {
		return nil, err
	}
	return p.sample(t, func(tr *solver.Trajectory, tt float64) float64 {
		return tr.At(tt)
	}, sol)
}

func (p *solvePrimitive) JVP(t *ad.Tensor, in map[string]float64, input string) (*ad.Tensor, error) {
	sol, err := p.solution(in)
	if err != nil {
		return nil, err
	}
	if !contains(sol.SensParams(), input) {
		return nil, &dae.SolverError{Reason: fmt.Sprintf("no sensitivities for input %q; jaxify with CalculateSensitivities", input)}
	}
	return p.sample(t, func(tr *solver.Trajectory, tt float64) float64 {
		return tr.SensAt(input, tt)
	}, sol)
}

func (p *solvePrimitive) VJP(t *ad.Tensor, in map[string]float64, cot *ad.Tensor) (map[string]float64, error) {
	sol, err := p.solution(in)
	if err != nil {
		return nil, err
	}
	params := sol.SensParams()
	if len(params) == 0 && len(p.bridge.order) > 0 {
		return nil, &dae.SolverError{Reason: "no sensitivities recorded; jaxify with CalculateSensitivities"}
	}
	cots := make(map[string]float64, len(params))
	ts := t.Data()
	for _, param := range params {
		var acc float64
		for i, tt := range ts {
			for j, name := range p.bridge.outputs {
				tr, ok := sol.Output(name)
				if !ok {
					return nil, &dae.SolverError{Reason: fmt.Sprintf("solution lacks output %q", name)}
				}
				acc += cot.At(i, j) * tr.SensAt(param, tt)
			}
		}
		cots[param] = acc
	}
	return cots, nil
}

func (p *solvePrimitive) TimeDiff() error {
	return &dae.UnsupportedError{Op: "differentiation with respect to time"}
}

func (p *solvePrimitive) BatchInputs() error {
	return &dae.UnsupportedError{Op: "batching the solve over input sets"}
}

// sample builds the rows-by-outputs matrix from one per-time accessor.
func (p *solvePrimitive) sample(t *ad.Tensor, get func(*solver.Trajectory, float64) float64, sol *solver.Solution) (*ad.Tensor, error) {
	ts := t.Data()
	out := ad.Zeros(len(ts), len(p.bridge.outputs))
	for j, name := range p.bridge.outputs {
		tr, ok := sol.Output(name)
		if !ok {
			return nil, &dae.SolverError{Reason: fmt.Sprintf("solution lacks output %q", name)}
		}
		for i, tt := range ts {
			out.Set(i, j, get(tr, tt))
		}
	}
	return out, nil
}

func inputKey(in map[string]float64) string {
	names := make([]string, 0, len(in))
	for k := range in {
		names = append(names, k)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, k := range names {
		fmt.Fprintf(&sb, "%s=%x;", k, in[k])
	}
	return sb.String()
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
