package solver

import (
	"errors"
	"math"
	"testing"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/disc"
	"github.com/voltlab/celldyn/internal/expr"
	"github.com/voltlab/celldyn/internal/geometry"
	"github.com/voltlab/celldyn/internal/mesh"
	"github.com/voltlab/celldyn/internal/model"
)

func lumpedSystem(t testing.TB, build func(g *expr.Graph) []model.Equation, outputs func(g *expr.Graph) []model.Output) *disc.System {
	t.Helper()
	geom, err := geometry.New()
	if err != nil {
		t.Fatal(err)
	}
	msh, err := mesh.New(geom, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := expr.NewGraph()
	sub := model.Submodel{Equations: build(g)}
	if outputs != nil {
		sub.Outputs = outputs(g)
	}
	mdl, err := model.Assemble("test", g, sub)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := disc.ProcessModel(msh, mdl)
	if err != nil {
		t.Fatal(err)
	}
	return sys
}

// decaySystem is dx/dt = -k x, x(0) = 1, with k a named input.
func decaySystem(t testing.TB) *disc.System {
	return lumpedSystem(t, func(g *expr.Graph) []model.Equation {
		return []model.Equation{{
			Var:     "x",
			Kind:    model.Differential,
			RHS:     g.Neg(g.Mul(g.Input("k"), g.StateVar("x"))),
			Initial: g.Const(1),
		}}
	}, func(g *expr.Graph) []model.Output {
		return []model.Output{{Name: "x out", Expr: g.StateVar("x")}}
	})
}

func linspace(lo, hi float64, n int) []float64 {
	ts := make([]float64, n)
	h := (hi - lo) / float64(n-1)
	for i := range ts {
		ts[i] = lo + float64(i)*h
	}
	ts[n-1] = hi
	return ts
}

func TestSolveExponentialDecay(t *testing.T) {
	sys := decaySystem(t)
	slv := New(Options{InternalSteps: 64})

	tEval := linspace(0, 1, 5)
	sol, err := slv.Solve(sys, tEval, dae.Inputs{"k": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr, ok := sol.Output("x out")
	if !ok {
		t.Fatal("missing output trajectory")
	}
	for i, tt := range tEval {
		want := math.Exp(-tt)
		if math.Abs(tr.Data[i]-want) > 0.01*want+1e-9 {
			t.Errorf("t=%g: x = %g, want %g", tt, tr.Data[i], want)
		}
	}
	if sol.Stats.Steps != 4*64 {
		t.Errorf("steps = %d, want %d", sol.Stats.Steps, 4*64)
	}
}

func TestSolveAlgebraicConsistency(t *testing.T) {
	// x' = 0 with x(0) = 2 and algebraic y = x*x; y's initial guess is wrong
	// and must be corrected by consistent initialisation.
	sys := lumpedSystem(t, func(g *expr.Graph) []model.Equation {
		return []model.Equation{
			{Var: "x", Kind: model.Differential, RHS: g.Const(0), Initial: g.Const(2)},
			{Var: "y", Kind: model.Algebraic,
				RHS:     g.Sub(g.StateVar("y"), g.Mul(g.StateVar("x"), g.StateVar("x"))),
				Initial: g.Const(0)},
		}
	}, func(g *expr.Graph) []model.Output {
		return []model.Output{{Name: "y out", Expr: g.StateVar("y")}}
	})

	slv := New(DefaultOptions())
	sol, err := slv.Solve(sys, linspace(0, 1, 3), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, _ := sol.Output("y out")
	for i, v := range tr.Data {
		if math.Abs(v-4) > 1e-6 {
			t.Errorf("sample %d: y = %g, want 4", i, v)
		}
	}
	if sol.Stats.NewtonIters == 0 {
		t.Error("expected consistent initialisation to iterate")
	}
}

func TestSolveSensMatchesFiniteDifference(t *testing.T) {
	sys := decaySystem(t)
	slv := New(Options{InternalSteps: 16})
	tEval := linspace(0, 1, 6)
	k := 0.8

	sol, err := slv.SolveSens(sys, tEval, dae.Inputs{"k": k}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, _ := sol.Output("x out")

	// Central difference of the discrete solution itself.
	delta := 1e-5
	up, err := slv.Solve(sys, tEval, dae.Inputs{"k": k + delta})
	if err != nil {
		t.Fatal(err)
	}
	dn, err := slv.Solve(sys, tEval, dae.Inputs{"k": k - delta})
	if err != nil {
		t.Fatal(err)
	}
	trUp, _ := up.Output("x out")
	trDn, _ := dn.Output("x out")

	for i := range tEval {
		fd := (trUp.Data[i] - trDn.Data[i]) / (2 * delta)
		got := tr.Sens["k"][i]
		if math.Abs(got-fd) > 1e-4 {
			t.Errorf("t=%g: sens %g, fd %g", tEval[i], got, fd)
		}
	}

	// Sanity against the analytic derivative d/dk e^{-kt} = -t e^{-kt}.
	for i, tt := range tEval {
		want := -tt * math.Exp(-k*tt)
		if math.Abs(tr.Sens["k"][i]-want) > 0.05*math.Abs(want)+1e-3 {
			t.Errorf("t=%g: sens %g, analytic %g", tt, tr.Sens["k"][i], want)
		}
	}

	if params := sol.SensParams(); len(params) != 1 || params[0] != "k" {
		t.Errorf("unexpected sens params: %v", params)
	}
}

func TestSolveValidation(t *testing.T) {
	sys := decaySystem(t)
	slv := New(DefaultOptions())

	if _, err := slv.Solve(sys, []float64{0}, dae.Inputs{"k": 1}); !errors.Is(err, dae.ErrSolver) {
		t.Errorf("single time point: expected solver error, got %v", err)
	}
	if _, err := slv.Solve(sys, []float64{0, 1, 0.5}, dae.Inputs{"k": 1}); !errors.Is(err, dae.ErrSolver) {
		t.Errorf("non-ascending: expected solver error, got %v", err)
	}
	if _, err := slv.Solve(sys, []float64{0, 1, 1}, dae.Inputs{"k": 1}); !errors.Is(err, dae.ErrSolver) {
		t.Errorf("repeated time: expected solver error, got %v", err)
	}
	if _, err := slv.Solve(sys, linspace(0, 1, 3), nil); !errors.Is(err, dae.ErrSolver) {
		t.Errorf("missing input: expected solver error, got %v", err)
	}
	if _, err := slv.SolveSens(sys, linspace(0, 1, 3), dae.Inputs{"k": 1}, []string{"ghost"}); !errors.Is(err, dae.ErrSolver) {
		t.Errorf("unknown sens param: expected solver error, got %v", err)
	}
}

func TestSolveFailureReportsLastTime(t *testing.T) {
	// y = sqrt(x) turns NaN once x = 1 - 10 t goes negative at t = 0.1.
	sys := lumpedSystem(t, func(g *expr.Graph) []model.Equation {
		return []model.Equation{
			{Var: "x", Kind: model.Differential, RHS: g.Neg(g.Const(10)), Initial: g.Const(1)},
			{Var: "y", Kind: model.Algebraic,
				RHS:     g.Sub(g.StateVar("y"), g.Sqrt(g.StateVar("x"))),
				Initial: g.Const(1)},
		}
	}, nil)

	slv := New(DefaultOptions())
	_, err := slv.Solve(sys, linspace(0, 1, 5), nil)
	if err == nil {
		t.Fatal("expected solve failure")
	}
	var se *dae.SolverError
	if !errors.As(err, &se) {
		t.Fatalf("expected SolverError, got %v", err)
	}
	if se.LastTime <= 0 || se.LastTime > 0.3 {
		t.Errorf("last successful time %g, want within (0, 0.3]", se.LastTime)
	}
}

func TestObserverSeesEveryStep(t *testing.T) {
	sys := decaySystem(t)
	slv := New(Options{InternalSteps: 4})

	var times []float64
	slv.AddObserver(dae.ObserverFunc(func(tt float64, y dae.State) {
		times = append(times, tt)
	}))

	if _, err := slv.Solve(sys, linspace(0, 1, 3), dae.Inputs{"k": 1}); err != nil {
		t.Fatal(err)
	}
	if len(times) != 2*4 {
		t.Fatalf("observer called %d times, want 8", len(times))
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Errorf("observer times not ascending at %d: %g then %g", i, times[i-1], times[i])
		}
	}
}

func TestTrajectoryInterpolation(t *testing.T) {
	tr := &Trajectory{
		T:    []float64{0, 1, 2},
		Data: []float64{0, 10, 20},
		Sens: map[string][]float64{"k": {0, 1, 2}},
	}
	if got := tr.At(0.5); math.Abs(got-5) > 1e-12 {
		t.Errorf("At(0.5) = %g, want 5", got)
	}
	if got := tr.At(1); got != 10 {
		t.Errorf("At(1) = %g, want 10", got)
	}
	// Clamped outside the window.
	if got := tr.At(-1); got != 0 {
		t.Errorf("At(-1) = %g, want 0", got)
	}
	if got := tr.At(5); got != 20 {
		t.Errorf("At(5) = %g, want 20", got)
	}
	if got := tr.SensAt("k", 1.5); math.Abs(got-1.5) > 1e-12 {
		t.Errorf("SensAt(1.5) = %g, want 1.5", got)
	}
	if got := tr.SensAt("ghost", 1); got != 0 {
		t.Errorf("SensAt for unknown input = %g, want 0", got)
	}
	v := tr.AtVec([]float64{0, 0.5, 2})
	if v[1] != 5 || v[2] != 20 {
		t.Errorf("AtVec = %v", v)
	}
}
