package solver

import (
	"testing"

	"github.com/voltlab/celldyn/internal/dae"
)

func BenchmarkSolve(b *testing.B) {
	sys := decaySystem(b)
	tEval := linspace(0, 1, 10)
	in := dae.Inputs{"k": 2}
	slv := New(DefaultOptions())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := slv.Solve(sys, tEval, in); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSolveSens(b *testing.B) {
	sys := decaySystem(b)
	tEval := linspace(0, 1, 10)
	in := dae.Inputs{"k": 2}
	slv := New(DefaultOptions())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := slv.SolveSens(sys, tEval, in, nil); err != nil {
			b.Fatal(err)
		}
	}
}
