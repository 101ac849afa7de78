package cells

import (
	"math"
	"testing"

	"github.com/voltlab/celldyn/internal/dae"
	"github.com/voltlab/celldyn/internal/solver"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	names := r.List()
	if len(names) != 2 || names[0] != "reservoir" || names[1] != "spm" {
		t.Fatalf("registry list %v", names)
	}
	for _, name := range names {
		cell, err := r.Get(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if cell.Name != name {
			t.Fatalf("cell %q reports name %q", name, cell.Name)
		}
	}
	if _, err := r.Get("nmc811"); err == nil {
		t.Fatal("expected an error for an unknown cell")
	}
}

func TestSingleParticleDiscretise(t *testing.T) {
	cell, err := NewSingleParticle()
	if err != nil {
		t.Fatal(err)
	}

	sys, err := cell.Discretise(nil)
	if err != nil {
		t.Fatal(err)
	}
	// 20 concentration nodes plus the algebraic voltage state.
	if sys.NumStates() != 21 {
		t.Fatalf("state dimension %d, want 21", sys.NumStates())
	}
	if len(sys.DiffIdx()) != 20 || len(sys.AlgIdx()) != 1 {
		t.Fatalf("partition %d/%d, want 20/1", len(sys.DiffIdx()), len(sys.AlgIdx()))
	}
	if got := sys.InputNames(); len(got) != 1 || got[0] != CurrentInput {
		t.Fatalf("inputs %v", got)
	}

	// A custom grid overrides the default.
	sys, err = cell.Discretise(map[string]int{"particle": 5})
	if err != nil {
		t.Fatal(err)
	}
	if sys.NumStates() != 6 {
		t.Fatalf("state dimension %d on a 5-point grid", sys.NumStates())
	}
}

func TestSingleParticleSolve(t *testing.T) {
	cell, err := NewSingleParticle()
	if err != nil {
		t.Fatal(err)
	}
	sys, err := cell.Discretise(nil)
	if err != nil {
		t.Fatal(err)
	}

	tEval := make([]float64, 10)
	for i := range tEval {
		tEval[i] = 360 * float64(i) / 9
	}
	sol, err := solver.New(solver.DefaultOptions()).Solve(sys, tEval, dae.Inputs{CurrentInput: 0.222})
	if err != nil {
		t.Fatal(err)
	}

	v, ok := sol.Output(OutputVoltage)
	if !ok {
		t.Fatal("no voltage output")
	}
	prev := math.Inf(1)
	for _, tt := range tEval {
		vv := v.At(tt)
		if vv < 2.0 || vv > 4.0 {
			t.Fatalf("voltage %v at t=%v outside the plausible window", vv, tt)
		}
		if vv > prev+1e-9 {
			t.Fatalf("voltage rose during discharge at t=%v", tt)
		}
		prev = vv
	}

	cur, ok := sol.Output(OutputCurrent)
	if !ok {
		t.Fatal("no current output")
	}
	mins, ok := sol.Output(OutputTime)
	if !ok {
		t.Fatal("no time output")
	}
	for _, tt := range tEval {
		if math.Abs(cur.At(tt)-0.222) > 1e-9 {
			t.Fatalf("current %v at t=%v", cur.At(tt), tt)
		}
		if math.Abs(mins.At(tt)-tt/60) > 1e-9 {
			t.Fatalf("time output %v at t=%v", mins.At(tt), tt)
		}
	}
}

func TestReservoirSolveWithoutInputs(t *testing.T) {
	cell, err := NewReservoir()
	if err != nil {
		t.Fatal(err)
	}
	sys, err := cell.Discretise(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := sys.InputNames(); len(got) != 0 {
		t.Fatalf("reservoir should take no inputs, got %v", got)
	}

	// Point counts for domains the cell lacks are ignored.
	if _, err := cell.Discretise(map[string]int{"particle": 20}); err != nil {
		t.Fatalf("foreign point count should be ignored: %v", err)
	}

	tEval := []float64{0, 90, 180, 270, 360}
	sol, err := solver.New(solver.DefaultOptions()).Solve(sys, tEval, nil)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := sol.Output(OutputVoltage)
	if !ok {
		t.Fatal("no voltage output")
	}
	if v.At(0) <= v.At(360) {
		t.Fatal("voltage should sag as charge drains")
	}
}
