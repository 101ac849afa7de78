package dae

import (
	"math"
	"sort"
)

// State is a flat vector of discretised unknowns.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Inputs maps named scalar parameters to values. Parameters are deferred at
// assembly time and resolved from this map on every residual evaluation, so
// sweeps and sensitivity runs never rebuild the model.
type Inputs map[string]float64

func (in Inputs) Clone() Inputs {
	c := make(Inputs, len(in))
	for k, v := range in {
		c[k] = v
	}
	return c
}

// Names returns the input names in sorted order. This is the fixed layout
// used everywhere positional packing of inputs is required.
func (in Inputs) Names() []string {
	names := make([]string, 0, len(in))
	for k := range in {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Residual evaluates R(t, y, y', inputs) for the discretised system.
type Residual func(t float64, y, yp State, inputs Inputs) State

// Observer receives progress callbacks during a solve.
type Observer interface {
	OnStep(t float64, y State)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(t float64, y State)

func (f ObserverFunc) OnStep(t float64, y State) { f(t, y) }
