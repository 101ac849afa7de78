package solver

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/voltlab/celldyn/internal/dae"
)

// Trajectory is one named output variable sampled over the solve grid, with
// optional per-input sensitivity trajectories of the same time shape.
type Trajectory struct {
	Name string
	T    []float64
	Data []float64
	Sens map[string][]float64
}

// At evaluates the trajectory at an arbitrary time by linear interpolation,
// clamping outside the solve window.
func (tr *Trajectory) At(t float64) float64 {
	return interp(tr.T, tr.Data, t)
}

// AtVec evaluates the trajectory at each time in ts.
func (tr *Trajectory) AtVec(ts []float64) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = tr.At(t)
	}
	return out
}

// SensAt interpolates the sensitivity trajectory for one named input.
func (tr *Trajectory) SensAt(input string, t float64) float64 {
	s, ok := tr.Sens[input]
	if !ok {
		return 0
	}
	return interp(tr.T, s, t)
}

func interp(ts, ys []float64, t float64) float64 {
	n := len(ts)
	if t <= ts[0] {
		return ys[0]
	}
	if t >= ts[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(ts, t)
	if ts[i] == t {
		return ys[i]
	}
	w := (t - ts[i-1]) / (ts[i] - ts[i-1])
	return ys[i-1] + w*(ys[i]-ys[i-1])
}

// Stats summarises one solve.
type Stats struct {
	Steps       int
	NewtonIters int
	StepRetries int
}

// Solution is the time-series result of one solve. Read-only for callers.
type Solution struct {
	T      []float64
	Y      *mat.Dense // states x time
	Inputs dae.Inputs
	Stats  Stats

	outputs     map[string]*Trajectory
	outputOrder []string
	sensParams  []string
}

// Output returns the trajectory for a named output variable.
func (s *Solution) Output(name string) (*Trajectory, bool) {
	tr, ok := s.outputs[name]
	return tr, ok
}

// OutputNames returns output names in model declaration order.
func (s *Solution) OutputNames() []string {
	return append([]string(nil), s.outputOrder...)
}

// SensParams returns the inputs sensitivities were computed for, in the
// solver's fixed order. Empty when sensitivities were not requested.
func (s *Solution) SensParams() []string {
	return append([]string(nil), s.sensParams...)
}
