package ad

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Func is a traceable pure function of time and named scalar inputs. Both
// arguments arrive as traced values so transforms can seed tangents, record
// tapes, or mark batch axes before delegating to the underlying function.
type Func func(t *Value, inputs map[string]*Value) (*Value, error)

// LiftInputs wraps plain named scalars as untraced values.
func LiftInputs(in map[string]float64) map[string]*Value {
	out := make(map[string]*Value, len(in))
	for k, v := range in {
		out[k] = Lift(Scalar(v))
	}
	return out
}

// Eval evaluates f at concrete values with no derivatives.
func Eval(f Func, t *Tensor, in map[string]float64) (*Tensor, error) {
	out, err := f(Lift(t), LiftInputs(in))
	if err != nil {
		return nil, err
	}
	return out.Primal(), nil
}

// Axis marks whether an argument axis is mapped under Vmap.
type Axis int

const (
	NotMapped Axis = -1
	Mapped    Axis = 0
)

// Axes selects which arguments Vmap batches over.
type Axes struct {
	Time   Axis
	Inputs Axis
}

// Vmap returns f batched over the chosen axes. Whether a mapped axis is
// actually supported is decided by the primitives f is built from: mapping
// the time axis lowers to the solver's native vector evaluation, while
// mapping the inputs axis is reported unsupported by the solver primitive.
func Vmap(f Func, axes Axes) Func {
	return func(t *Value, inputs map[string]*Value) (*Value, error) {
		tt := t
		if axes.Time == Mapped {
			cp := *t
			cp.batchTime = true
			tt = &cp
		}
		ins := inputs
		if axes.Inputs == Mapped {
			ins = make(map[string]*Value, len(inputs))
			for k, v := range inputs {
				cp := *v
				cp.batchInputs = true
				ins[k] = &cp
			}
		}
		return f(tt, ins)
	}
}

// JacFwd differentiates f with respect to every named input using forward
// mode: one seed slot per input, propagated in a single evaluation.
func JacFwd(f Func) func(t *Tensor, in map[string]float64) (map[string]*Tensor, error) {
	return func(t *Tensor, in map[string]float64) (map[string]*Tensor, error) {
		ins := make(map[string]*Value, len(in))
		for k, v := range in {
			ins[k] = &Value{primal: Scalar(v), tans: map[string]*Tensor{k: Scalar(1)}}
		}
		out, err := f(Lift(t), ins)
		if err != nil {
			return nil, err
		}
		grads := make(map[string]*Tensor, len(in))
		for k := range in {
			grads[k] = out.Tangent(k)
		}
		return grads, nil
	}
}

// JacFwdTime differentiates f with respect to its time argument. Solver
// primitives declare this direction unsupported; the error is theirs to
// raise.
func JacFwdTime(f Func) func(t *Tensor, in map[string]float64) (*Tensor, error) {
	return func(t *Tensor, in map[string]float64) (*Tensor, error) {
		tv := &Value{primal: t, timeTan: onesLike(t)}
		out, err := f(tv, LiftInputs(in))
		if err != nil {
			return nil, err
		}
		if out.timeTan == nil {
			return Zeros(out.primal.rows, out.primal.cols), nil
		}
		return out.timeTan, nil
	}
}

// JacRev differentiates f with respect to every named input using reverse
// mode: one tape, one backward sweep per output element.
func JacRev(f Func) func(t *Tensor, in map[string]float64) (map[string]*Tensor, error) {
	return func(t *Tensor, in map[string]float64) (map[string]*Tensor, error) {
		tape := newTape()
		ins := make(map[string]*Value, len(in))
		for k, v := range in {
			pr := Scalar(v)
			ins[k] = &Value{primal: pr, tape: tape, node: tape.leaf(k, pr)}
		}
		out, err := f(Lift(t), ins)
		if err != nil {
			return nil, err
		}
		grads := make(map[string]*Tensor, len(in))
		for k := range in {
			grads[k] = Zeros(out.primal.rows, out.primal.cols)
		}
		if out.node == nil {
			return grads, nil
		}
		for e := 0; e < out.primal.Size(); e++ {
			seed := Zeros(out.primal.rows, out.primal.cols)
			seed.data[e] = 1
			cots, err := tape.backward(out.node, seed)
			if err != nil {
				return nil, err
			}
			for k := range in {
				grads[k].data[e] = cots[k].ScalarValue()
			}
		}
		return grads, nil
	}
}

// Grad differentiates a scalar-valued f with respect to every named input
// (reverse mode, single backward sweep).
func Grad(f Func) func(t *Tensor, in map[string]float64) (map[string]float64, error) {
	return func(t *Tensor, in map[string]float64) (map[string]float64, error) {
		_, g, err := valueAndGrad(f, t, in)
		return g, err
	}
}

// ValueAndGrad fuses a scalar evaluation with its gradient in one trace.
func ValueAndGrad(f Func) func(t *Tensor, in map[string]float64) (float64, map[string]float64, error) {
	return func(t *Tensor, in map[string]float64) (float64, map[string]float64, error) {
		return valueAndGrad(f, t, in)
	}
}

func valueAndGrad(f Func, t *Tensor, in map[string]float64) (float64, map[string]float64, error) {
	tape := newTape()
	ins := make(map[string]*Value, len(in))
	for k, v := range in {
		pr := Scalar(v)
		ins[k] = &Value{primal: pr, tape: tape, node: tape.leaf(k, pr)}
	}
	out, err := f(Lift(t), ins)
	if err != nil {
		return 0, nil, err
	}
	if out.primal.Size() != 1 {
		return 0, nil, errors.New("ad: grad requires a scalar-valued function")
	}
	grads := make(map[string]float64, len(in))
	if out.node == nil {
		return out.primal.AtFlat(0), grads, nil
	}
	cots, err := tape.backward(out.node, Scalar(1))
	if err != nil {
		return 0, nil, err
	}
	for k := range in {
		grads[k] = cots[k].ScalarValue()
	}
	return out.primal.AtFlat(0), grads, nil
}

// Jit wraps f with a memoising compilation cache. Traced calls (tangents,
// tapes, batch markers) bypass the cache; plain evaluations of a pure
// function are served from it.
func Jit(f Func) Func {
	cache := make(map[string]*Tensor)
	return func(t *Value, inputs map[string]*Value) (*Value, error) {
		if !plain(t) {
			return f(t, inputs)
		}
		for _, in := range inputs {
			if !plain(in) {
				return f(t, inputs)
			}
		}
		key := cacheKey(t, inputs)
		if out, ok := cache[key]; ok {
			return Lift(out.Clone()), nil
		}
		out, err := f(t, inputs)
		if err != nil {
			return nil, err
		}
		cache[key] = out.primal.Clone()
		return out, nil
	}
}

func plain(v *Value) bool {
	return len(v.tans) == 0 && v.timeTan == nil && v.node == nil && !v.batchInputs
}

func cacheKey(t *Value, inputs map[string]*Value) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v|%v;", t.primal.data, t.batchTime)
	names := make([]string, 0, len(inputs))
	for k := range inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "%s=%v;", k, inputs[k].primal.data)
	}
	return b.String()
}

func onesLike(t *Tensor) *Tensor {
	out := Zeros(t.rows, t.cols)
	for i := range out.data {
		out.data[i] = 1
	}
	return out
}
