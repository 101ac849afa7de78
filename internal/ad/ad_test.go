package ad

import (
	"errors"
	"math"
	"testing"
)

func approx(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("got %v, want %v (tol %v)", got, want, tol)
	}
}

// affinePrim is a minimal solver-like primitive: out[i] = sum_k c_k * in_k * t_i.
type affinePrim struct {
	coeffs map[string]float64
	evals  int
}

var (
	errNoTimeDiff   = errors.New("affine: time differentiation unavailable")
	errNoInputBatch = errors.New("affine: input batching unavailable")
)

func (p *affinePrim) Name() string { return "affine" }

func (p *affinePrim) Eval(t *Tensor, in map[string]float64) (*Tensor, error) {
	p.evals++
	out := Zeros(t.Rows(), 1)
	for i := 0; i < t.Rows(); i++ {
		var s float64
		for k, c := range p.coeffs {
			s += c * in[k] * t.At(i, 0)
		}
		out.Set(i, 0, s)
	}
	return out, nil
}

func (p *affinePrim) JVP(t *Tensor, in map[string]float64, input string) (*Tensor, error) {
	out := Zeros(t.Rows(), 1)
	for i := 0; i < t.Rows(); i++ {
		out.Set(i, 0, p.coeffs[input]*t.At(i, 0))
	}
	return out, nil
}

func (p *affinePrim) VJP(t *Tensor, in map[string]float64, cot *Tensor) (map[string]float64, error) {
	cots := make(map[string]float64, len(p.coeffs))
	for k, c := range p.coeffs {
		var s float64
		for i := 0; i < t.Rows(); i++ {
			s += cot.At(i, 0) * c * t.At(i, 0)
		}
		cots[k] = s
	}
	return cots, nil
}

func (p *affinePrim) TimeDiff() error    { return errNoTimeDiff }
func (p *affinePrim) BatchInputs() error { return errNoInputBatch }

func affineFunc(p *affinePrim) Func {
	return func(t *Value, inputs map[string]*Value) (*Value, error) {
		return Apply(p, t, inputs)
	}
}

func TestEvalPlain(t *testing.T) {
	f := func(tv *Value, in map[string]*Value) (*Value, error) {
		a := in["a"]
		return a.Mul(a).Add(a.Scale(2)), nil
	}
	out, err := Eval(f, Scalar(0), map[string]float64{"a": 3})
	if err != nil {
		t.Fatal(err)
	}
	approx(t, out.ScalarValue(), 15, 1e-12)
}

func TestJacFwdComposedOps(t *testing.T) {
	// f(a, b) = a*a + 2a + a*b; df/da = 2a + 2 + b, df/db = a.
	f := func(tv *Value, in map[string]*Value) (*Value, error) {
		a, b := in["a"], in["b"]
		return a.Mul(a).Add(a.Scale(2)).Add(a.Mul(b)), nil
	}
	grads, err := JacFwd(f)(Scalar(0), map[string]float64{"a": 3, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	approx(t, grads["a"].ScalarValue(), 10, 1e-12)
	approx(t, grads["b"].ScalarValue(), 3, 1e-12)
}

func TestJacRevAgreesWithJacFwd(t *testing.T) {
	ts := Vector([]float64{0, 0.5, 1, 2})
	// Vector-valued in time: out = t*a + t*t*b.
	f := func(tv *Value, in map[string]*Value) (*Value, error) {
		return tv.Mul(in["a"]).Add(tv.Mul(tv).Mul(in["b"])), nil
	}
	in := map[string]float64{"a": 1.5, "b": -0.25}
	fwd, err := JacFwd(f)(ts, in)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := JacRev(f)(ts, in)
	if err != nil {
		t.Fatal(err)
	}
	for k := range in {
		if fwd[k].Rows() != ts.Rows() || rev[k].Rows() != ts.Rows() {
			t.Fatalf("jacobian shape mismatch for %s", k)
		}
		for i := 0; i < ts.Rows(); i++ {
			approx(t, rev[k].At(i, 0), fwd[k].At(i, 0), 1e-12)
		}
	}
	// Spot check against the analytic derivative.
	approx(t, fwd["a"].At(3, 0), 2, 1e-12)
	approx(t, fwd["b"].At(3, 0), 4, 1e-12)
}

func TestGradScalarComposition(t *testing.T) {
	ts := []float64{0, 1, 2, 3}
	ref := []float64{0, 1.1, 1.9, 3.2}
	// Sum of squared residuals of the line t*a against ref.
	f := func(tv *Value, in map[string]*Value) (*Value, error) {
		return tv.Mul(in["a"]).Sub(Lift(Vector(ref))).Square().Sum(), nil
	}
	a := 0.9
	val, grads, err := ValueAndGrad(f)(Vector(ts), map[string]float64{"a": a})
	if err != nil {
		t.Fatal(err)
	}
	var want, wantGrad float64
	for i, x := range ts {
		r := x*a - ref[i]
		want += r * r
		wantGrad += 2 * r * x
	}
	approx(t, val, want, 1e-12)
	approx(t, grads["a"], wantGrad, 1e-12)
}

func TestGradRequiresScalarOutput(t *testing.T) {
	f := func(tv *Value, in map[string]*Value) (*Value, error) {
		return tv.Mul(in["a"]), nil
	}
	_, err := Grad(f)(Vector([]float64{1, 2}), map[string]float64{"a": 1})
	if err == nil {
		t.Fatal("expected an error for a vector-valued grad")
	}
}

func TestColsAndSqueezeDerivatives(t *testing.T) {
	ts := Vector([]float64{1, 2, 3})
	// Select a column from a primitive output and sum it.
	f := func(tv *Value, in map[string]*Value) (*Value, error) {
		p := &affinePrim{coeffs: map[string]float64{"a": 2}}
		out, err := Apply(p, tv, map[string]*Value{"a": in["a"]})
		if err != nil {
			return nil, err
		}
		return out.Cols([]int{0}).Sum(), nil
	}
	grads, err := JacRev(f)(ts, map[string]float64{"a": 0.5})
	if err != nil {
		t.Fatal(err)
	}
	// d/da sum_i 2*a*t_i = 2*(1+2+3).
	approx(t, grads["a"].ScalarValue(), 12, 1e-12)

	one := &Value{primal: Vector([]float64{7})}
	sq := one.Squeeze()
	if !sq.Primal().IsScalar() {
		t.Fatal("squeeze should collapse a single-element vector to a scalar")
	}
}

func TestTangentAbsentSeedIsZero(t *testing.T) {
	v := &Value{primal: Vector([]float64{1, 2})}
	tan := v.Tangent("never-seeded")
	if tan.Rows() != 2 || tan.Cols() != 1 {
		t.Fatalf("tangent shape %dx%d", tan.Rows(), tan.Cols())
	}
	for i := 0; i < tan.Size(); i++ {
		if tan.AtFlat(i) != 0 {
			t.Fatal("absent seed should yield a zero tangent")
		}
	}
}

func TestJitCachesPlainCalls(t *testing.T) {
	p := &affinePrim{coeffs: map[string]float64{"a": 1}}
	f := Jit(affineFunc(p))
	ts := Vector([]float64{0, 1})
	in := map[string]float64{"a": 2}

	first, err := Eval(f, ts, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Eval(f, ts, in)
	if err != nil {
		t.Fatal(err)
	}
	if p.evals != 1 {
		t.Fatalf("expected one underlying evaluation, got %d", p.evals)
	}
	for i := 0; i < first.Size(); i++ {
		approx(t, second.AtFlat(i), first.AtFlat(i), 0)
	}

	// Different inputs miss the cache.
	if _, err := Eval(f, ts, map[string]float64{"a": 3}); err != nil {
		t.Fatal(err)
	}
	if p.evals != 2 {
		t.Fatalf("expected a cache miss for new inputs, got %d evals", p.evals)
	}

	// Traced calls bypass the cache entirely.
	if _, err := JacFwd(f)(ts, in); err != nil {
		t.Fatal(err)
	}
	if p.evals < 3 {
		t.Fatalf("traced call should reach the primitive, got %d evals", p.evals)
	}
}

func TestApplyForwardAndReverse(t *testing.T) {
	p := &affinePrim{coeffs: map[string]float64{"a": 2, "b": -3}}
	f := affineFunc(p)
	ts := Vector([]float64{0, 1, 2})
	in := map[string]float64{"a": 1, "b": 4}

	fwd, err := JacFwd(f)(ts, in)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := JacRev(f)(ts, in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < ts.Rows(); i++ {
		approx(t, fwd["a"].At(i, 0), 2*ts.At(i, 0), 1e-12)
		approx(t, fwd["b"].At(i, 0), -3*ts.At(i, 0), 1e-12)
		approx(t, rev["a"].At(i, 0), fwd["a"].At(i, 0), 1e-12)
		approx(t, rev["b"].At(i, 0), fwd["b"].At(i, 0), 1e-12)
	}
}

func TestApplyChainsThroughValueOps(t *testing.T) {
	p := &affinePrim{coeffs: map[string]float64{"a": 2}}
	// g(a) = sum((prim(a))^2); prim_i = 2*a*t_i.
	g := func(tv *Value, in map[string]*Value) (*Value, error) {
		out, err := Apply(p, tv, in)
		if err != nil {
			return nil, err
		}
		return out.Square().Sum(), nil
	}
	ts := []float64{1, 2}
	a := 1.5
	val, grads, err := ValueAndGrad(g)(Vector(ts), map[string]float64{"a": a})
	if err != nil {
		t.Fatal(err)
	}
	var want, wantGrad float64
	for _, x := range ts {
		want += (2 * a * x) * (2 * a * x)
		wantGrad += 2 * (2 * a * x) * (2 * x)
	}
	approx(t, val, want, 1e-12)
	approx(t, grads["a"], wantGrad, 1e-12)
}

func TestApplyRejectsTimeDifferentiation(t *testing.T) {
	p := &affinePrim{coeffs: map[string]float64{"a": 1}}
	_, err := JacFwdTime(affineFunc(p))(Vector([]float64{0, 1}), map[string]float64{"a": 1})
	if !errors.Is(err, errNoTimeDiff) {
		t.Fatalf("got %v, want the primitive's time-diff error", err)
	}
}

func TestApplyRejectsBatchedInputs(t *testing.T) {
	p := &affinePrim{coeffs: map[string]float64{"a": 1}}
	f := Vmap(affineFunc(p), Axes{Time: NotMapped, Inputs: Mapped})
	_, err := Eval(f, Vector([]float64{0, 1}), map[string]float64{"a": 1})
	if !errors.Is(err, errNoInputBatch) {
		t.Fatalf("got %v, want the primitive's input-batch error", err)
	}

	// A vector-valued input primal is an input batch too.
	_, err = affineFunc(p)(Lift(Scalar(0)), map[string]*Value{"a": Lift(Vector([]float64{1, 2}))})
	if !errors.Is(err, errNoInputBatch) {
		t.Fatalf("got %v, want the primitive's input-batch error", err)
	}
}

func TestVmapTimeMatchesDirectEvaluation(t *testing.T) {
	p := &affinePrim{coeffs: map[string]float64{"a": 3}}
	f := affineFunc(p)
	ts := []float64{0, 0.25, 0.5, 1}
	in := map[string]float64{"a": 2}

	direct, err := Eval(f, Vector(ts), in)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := Eval(Vmap(f, Axes{Time: Mapped, Inputs: NotMapped}), Vector(ts), in)
	if err != nil {
		t.Fatal(err)
	}
	if mapped.Rows() != direct.Rows() {
		t.Fatalf("batched rows %d, direct rows %d", mapped.Rows(), direct.Rows())
	}
	for i := 0; i < direct.Size(); i++ {
		approx(t, mapped.AtFlat(i), direct.AtFlat(i), 1e-12)
	}
}
