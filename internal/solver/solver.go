package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/disc"
)

// Options control the implicit stepper.
type Options struct {
	RTol          float64
	ATol          float64
	MaxNewton     int // Newton iterations per step
	InternalSteps int // implicit substeps between consecutive output times
}

func DefaultOptions() Options {
	return Options{
		RTol:          1e-6,
		ATol:          1e-6,
		MaxNewton:     12,
		InternalSteps: 8,
	}
}

// Solver wraps the implicit BDF stepper. Instances are explicit and carry no
// process-wide state; construct one per pipeline.
type Solver struct {
	opts      Options
	observers []dae.Observer
}

func New(opts Options) *Solver {
	if opts.RTol <= 0 {
		opts.RTol = 1e-6
	}
	if opts.ATol <= 0 {
		opts.ATol = 1e-6
	}
	if opts.MaxNewton <= 0 {
		opts.MaxNewton = 12
	}
	if opts.InternalSteps <= 0 {
		opts.InternalSteps = 8
	}
	return &Solver{opts: opts}
}

// AddObserver registers a progress callback invoked after every accepted
// internal step.
func (s *Solver) AddObserver(o dae.Observer) { s.observers = append(s.observers, o) }

// Solve integrates the discretised system across tEval without sensitivities.
func (s *Solver) Solve(sys *disc.System, tEval []float64, inputs dae.Inputs) (*Solution, error) {
	return s.solve(sys, tEval, inputs, nil)
}

// SolveSens integrates and propagates forward sensitivities for the named
// inputs (nil means every named input, in the system's fixed order).
func (s *Solver) SolveSens(sys *disc.System, tEval []float64, inputs dae.Inputs, params []string) (*Solution, error) {
	if params == nil {
		params = sys.InputNames()
	}
	for _, p := range params {
		if _, ok := inputs[p]; !ok {
			return nil, &dae.SolverError{Reason: "sensitivity requested for unknown input " + p}
		}
	}
	return s.solve(sys, tEval, inputs, params)
}

func (s *Solver) solve(sys *disc.System, tEval []float64, inputs dae.Inputs, params []string) (*Solution, error) {
	if len(tEval) < 2 {
		return nil, &dae.SolverError{Reason: "need at least two time points"}
	}
	for i := 1; i < len(tEval); i++ {
		if tEval[i] <= tEval[i-1] {
			return nil, &dae.SolverError{Reason: "time points must be strictly ascending"}
		}
	}
	for _, name := range sys.InputNames() {
		if _, ok := inputs[name]; !ok {
			return nil, &dae.SolverError{Reason: "missing input " + name}
		}
	}

	n := sys.NumStates()
	stats := &Stats{}

	y, err := s.consistentIC(sys, tEval[0], inputs, stats)
	if err != nil {
		return nil, err
	}

	// Sensitivity state: one vector per parameter, seeded by differentiating
	// the consistent initialisation.
	sens := make(map[string]dae.State, len(params))
	for _, p := range params {
		s0, err := s.icSensitivity(sys, tEval[0], inputs, p, y)
		if err != nil {
			return nil, err
		}
		sens[p] = s0
	}

	sol := &Solution{
		T:           append([]float64(nil), tEval...),
		Y:           mat.NewDense(n, len(tEval), nil),
		Inputs:      inputs.Clone(),
		outputs:     make(map[string]*Trajectory),
		outputOrder: sys.OutputNames(),
		sensParams:  append([]string(nil), params...),
	}
	setCol(sol.Y, 0, y)

	snapshots := make([]dae.State, len(tEval))
	sensSnapshots := make([]map[string]dae.State, len(tEval))
	snapshots[0] = y.Clone()
	sensSnapshots[0] = cloneSens(sens)

	t := tEval[0]
	for k := 1; k < len(tEval); k++ {
		h := (tEval[k] - tEval[k-1]) / float64(s.opts.InternalSteps)
		for sub := 0; sub < s.opts.InternalSteps; sub++ {
			target := tEval[k-1] + float64(sub+1)*h
			yNew, lu, err := s.step(sys, t, target-t, y, inputs)
			if err != nil {
				// One-shot internal retry with a halved step.
				mid := t + (target-t)/2
				yMid, luMid, errMid := s.step(sys, t, mid-t, y, inputs)
				if errMid != nil {
					return nil, &dae.SolverError{LastTime: t, Reason: "step failed to converge"}
				}
				stats.StepRetries++
				if err := s.propagateSens(sys, t, mid, y, yMid, inputs, sens, luMid); err != nil {
					return nil, err
				}
				y = yMid
				t = mid
				yNew, lu, err = s.step(sys, t, target-t, y, inputs)
				if err != nil {
					return nil, &dae.SolverError{LastTime: t, Reason: "step failed to converge after retry"}
				}
			}
			if err := s.propagateSens(sys, t, target, y, yNew, inputs, sens, lu); err != nil {
				return nil, err
			}
			y = yNew
			t = target
			stats.Steps++
			for _, obs := range s.observers {
				obs.OnStep(t, y)
			}
			if !y.IsValid() {
				return nil, &dae.SolverError{LastTime: t, Reason: "state became NaN/Inf"}
			}
		}
		setCol(sol.Y, k, y)
		snapshots[k] = y.Clone()
		sensSnapshots[k] = cloneSens(sens)
	}

	if err := s.buildOutputs(sys, sol, snapshots, sensSnapshots, inputs, params); err != nil {
		return nil, err
	}
	sol.Stats = *stats
	return sol, nil
}

// step takes one implicit (BDF1) step from t to t+h and returns the new
// state together with the factorised iteration matrix, which the sensitivity
// propagation reuses.
func (s *Solver) step(sys *disc.System, t, h float64, yPrev dae.State, inputs dae.Inputs) (dae.State, *mat.LU, error) {
	n := sys.NumStates()
	tNew := t + h
	y := yPrev.Clone()

	residual := func(y dae.State) dae.State {
		yp := make(dae.State, n)
		for i := range yp {
			yp[i] = (y[i] - yPrev[i]) / h
		}
		return sys.Residual(tNew, y, yp, inputs)
	}

	var lu mat.LU
	for iter := 0; iter < s.opts.MaxNewton; iter++ {
		r := residual(y)
		jac := fdJacobian(residual, y, r)
		lu.Factorize(jac)
		if lu.Cond() > 1e15 {
			return nil, nil, &dae.SolverError{LastTime: t, Reason: "singular iteration matrix"}
		}
		dy := mat.NewVecDense(n, nil)
		rv := mat.NewVecDense(n, append([]float64(nil), r...))
		if err := lu.SolveVecTo(dy, false, rv); err != nil {
			return nil, nil, &dae.SolverError{LastTime: t, Reason: "linear solve failed"}
		}
		converged := true
		for i := 0; i < n; i++ {
			y[i] -= dy.AtVec(i)
			if math.Abs(dy.AtVec(i)) > s.opts.ATol+s.opts.RTol*math.Abs(y[i]) {
				converged = false
			}
		}
		if converged {
			// Algebraic residuals are held to a tighter, non-integrated
			// tolerance than the stepped error control.
			r := residual(y)
			for _, i := range sys.AlgIdx() {
				if math.Abs(r[i]) > 10*s.opts.ATol {
					converged = false
					break
				}
			}
		}
		if converged {
			return y, &lu, nil
		}
	}
	return nil, nil, &dae.SolverError{LastTime: t, Reason: "newton iteration did not converge"}
}

// propagateSens advances every sensitivity vector across the accepted step
// using the step's own iteration matrix:
//
//	J s_new = (1/h) M s_prev - dR/dp
func (s *Solver) propagateSens(sys *disc.System, t, tNew float64, yPrev, yNew dae.State, inputs dae.Inputs, sens map[string]dae.State, lu *mat.LU) error {
	if len(sens) == 0 {
		return nil
	}
	n := sys.NumStates()
	h := tNew - t
	yp := make(dae.State, n)
	for i := range yp {
		yp[i] = (yNew[i] - yPrev[i]) / h
	}
	base := sys.Residual(tNew, yNew, yp, inputs)
	mass := sys.Mass()

	for p, sp := range sens {
		// dR/dp by forward difference on the named input.
		delta := fdEps(inputs[p])
		bumped := inputs.Clone()
		bumped[p] += delta
		rp := sys.Residual(tNew, yNew, yp, bumped)

		rhs := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			rhs.SetVec(i, mass.At(i, i)*sp[i]/h-(rp[i]-base[i])/delta)
		}
		out := mat.NewVecDense(n, nil)
		if err := lu.SolveVecTo(out, false, rhs); err != nil {
			return &dae.SolverError{LastTime: t, Reason: "sensitivity solve failed"}
		}
		copy(sp, out.RawVector().Data)
	}
	return nil
}

// consistentIC solves the algebraic residuals at t0 so stepping starts from
// a consistent state. Differential entries come straight from the model's
// initial-condition expressions.
func (s *Solver) consistentIC(sys *disc.System, t0 float64, inputs dae.Inputs, stats *Stats) (dae.State, error) {
	y := sys.InitialState(inputs)
	alg := sys.AlgIdx()
	if len(alg) == 0 {
		return y, nil
	}
	n := sys.NumStates()
	zero := make(dae.State, n)

	residual := func(v []float64) dae.State {
		for j, i := range alg {
			y[i] = v[j]
		}
		full := sys.Residual(t0, y, zero, inputs)
		r := make(dae.State, len(alg))
		for j, i := range alg {
			r[j] = full[i]
		}
		return r
	}

	v := make([]float64, len(alg))
	for j, i := range alg {
		v[j] = y[i]
	}
	// Algebraic constraints are initialised to a tighter tolerance than the
	// integrated error control.
	tol := 0.01 * s.opts.ATol
	for iter := 0; iter < 50; iter++ {
		r := residual(v)
		maxr := 0.0
		for _, ri := range r {
			maxr = math.Max(maxr, math.Abs(ri))
		}
		if maxr <= tol {
			for j, i := range alg {
				y[i] = v[j]
			}
			return y, nil
		}
		jac := fdJacobian(func(v dae.State) dae.State { return residual(v) }, v, r)
		var lu mat.LU
		lu.Factorize(jac)
		dv := mat.NewVecDense(len(alg), nil)
		if err := lu.SolveVecTo(dv, false, mat.NewVecDense(len(alg), append([]float64(nil), r...))); err != nil {
			return nil, &dae.SolverError{Reason: "consistent initialisation: linear solve failed"}
		}
		for j := range v {
			v[j] -= dv.AtVec(j)
		}
		stats.NewtonIters++
	}
	return nil, &dae.SolverError{Reason: "consistent initialisation did not converge"}
}

// icSensitivity seeds dY0/dp by differencing the consistent initialisation
// with respect to one named input.
func (s *Solver) icSensitivity(sys *disc.System, t0 float64, inputs dae.Inputs, p string, y0 dae.State) (dae.State, error) {
	delta := fdEps(inputs[p])
	bumped := inputs.Clone()
	bumped[p] += delta
	var st Stats
	yb, err := s.consistentIC(sys, t0, bumped, &st)
	if err != nil {
		return nil, err
	}
	out := make(dae.State, len(y0))
	for i := range out {
		out[i] = (yb[i] - y0[i]) / delta
	}
	return out, nil
}

// buildOutputs lowers state snapshots into named output trajectories, with
// directional derivatives for the requested sensitivities.
func (s *Solver) buildOutputs(sys *disc.System, sol *Solution, snaps []dae.State, sensSnaps []map[string]dae.State, inputs dae.Inputs, params []string) error {
	for _, name := range sys.OutputNames() {
		tr := &Trajectory{
			Name: name,
			T:    sol.T,
			Data: make([]float64, len(sol.T)),
			Sens: make(map[string][]float64, len(params)),
		}
		for _, p := range params {
			tr.Sens[p] = make([]float64, len(sol.T))
		}
		for k := range sol.T {
			v, err := sys.Output(name, sol.T[k], snaps[k], inputs)
			if err != nil {
				return err
			}
			tr.Data[k] = v
			for _, p := range params {
				// Directional derivative dg/dp = grad_y g . s_p + dg/dp,
				// taken as a central difference along (s_p, e_p).
				sp := sensSnaps[k][p]
				delta := fdEps(inputs[p])
				fwd, bwd := inputs.Clone(), inputs.Clone()
				fwd[p] += delta
				bwd[p] -= delta
				yf, yb := snaps[k].Clone(), snaps[k].Clone()
				for i := range yf {
					yf[i] += delta * sp[i]
					yb[i] -= delta * sp[i]
				}
				vf, err := sys.Output(name, sol.T[k], yf, fwd)
				if err != nil {
					return err
				}
				vb, err := sys.Output(name, sol.T[k], yb, bwd)
				if err != nil {
					return err
				}
				tr.Sens[p][k] = (vf - vb) / (2 * delta)
			}
		}
		sol.outputs[name] = tr
	}
	return nil
}

// fdJacobian builds a dense forward-difference Jacobian of f around y.
func fdJacobian(f func(dae.State) dae.State, y, fy []float64) *mat.Dense {
	n := len(y)
	jac := mat.NewDense(len(fy), n, nil)
	yb := append(dae.State(nil), y...)
	for j := 0; j < n; j++ {
		eps := fdEps(y[j])
		yb[j] = y[j] + eps
		fb := f(yb)
		yb[j] = y[j]
		for i := range fb {
			jac.Set(i, j, (fb[i]-fy[i])/eps)
		}
	}
	return jac
}

func fdEps(v float64) float64 {
	return 1e-8 * math.Max(math.Abs(v), 1)
}

func setCol(m *mat.Dense, col int, v []float64) {
	for i, x := range v {
		m.Set(i, col, x)
	}
}

func cloneSens(sens map[string]dae.State) map[string]dae.State {
	out := make(map[string]dae.State, len(sens))
	for k, v := range sens {
		out[k] = v.Clone()
	}
	return out
}
