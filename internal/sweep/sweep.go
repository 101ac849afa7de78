// Package sweep runs grid searches over named solver inputs, one solve per
// input set.
package sweep

import (
	"context"
	"math"

	"github.com/voltlab/celldyn/internal/ad"
)

type Grid struct {
	paramNames []string
	ranges     [][]float64
}

func NewGrid(params []string, ranges [][]float64) *Grid {
	return &Grid{paramNames: params, ranges: ranges}
}

// Search evaluates the objective at every grid point and returns the inputs
// minimising it. Grid points whose evaluation fails are skipped.
func (g *Grid) Search(
	ctx context.Context,
	objective func(inputs map[string]float64) (float64, error),
) (map[string]float64, float64, error) {

	best := math.Inf(1)
	var bestParams map[string]float64

	err := g.searchRecursive(ctx, 0, make(map[string]float64), objective, &best, &bestParams)
	if err != nil {
		return nil, 0, err
	}

	return bestParams, best, nil
}

func (g *Grid) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	objective func(map[string]float64) (float64, error),
	best *float64,
	bestParams *map[string]float64,
) error {
	if depth == len(g.paramNames) {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := objective(current)
		if err != nil {
			return nil
		}
		if val < *best {
			*best = val
			*bestParams = make(map[string]float64)
			for k, v := range current {
				(*bestParams)[k] = v
			}
		}
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, objective, best, bestParams); err != nil {
			return err
		}
	}
	return nil
}

// SSE builds a sum-of-squared-errors objective from a compiled single-output
// expression and reference data sampled at ts.
func SSE(f ad.Func, ts, ref []float64) func(map[string]float64) (float64, error) {
	return func(inputs map[string]float64) (float64, error) {
		out, err := ad.Eval(f, ad.Vector(ts), inputs)
		if err != nil {
			return 0, err
		}
		var sse float64
		for i, r := range ref {
			d := out.AtFlat(i) - r
			sse += d * d
		}
		return sse, nil
	}
}

// Range builds n evenly spaced values on [lo, hi].
func Range(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	vals := make([]float64, n)
	h := (hi - lo) / float64(n-1)
	for i := range vals {
		vals[i] = lo + float64(i)*h
	}
	vals[n-1] = hi
	return vals
}
