package ad

// Value is a traced tensor. Alongside the primal it may carry forward-mode
// tangents (one slot per seed name), a reverse-mode tape node, and batching
// flags set by Vmap. All of this metadata propagates through the traceable
// operations below, so compositions of solver-backed functions stay
// differentiable.
type Value struct {
	primal  *Tensor
	tans    map[string]*Tensor
	timeTan *Tensor

	tape *Tape
	node *node

	batchTime   bool
	batchInputs bool
}

// Lift wraps a plain tensor as an untraced constant.
func Lift(t *Tensor) *Value { return &Value{primal: t} }

// Primal returns the underlying tensor.
func (v *Value) Primal() *Tensor { return v.primal }

// Tangent returns the forward-mode tangent for one seed, or a zero tensor of
// the primal's shape when the seed never reached this value.
func (v *Value) Tangent(seed string) *Tensor {
	if t, ok := v.tans[seed]; ok {
		return t
	}
	return Zeros(v.primal.rows, v.primal.cols)
}

func (v *Value) seedNames() map[string]bool {
	out := make(map[string]bool, len(v.tans))
	for k := range v.tans {
		out[k] = true
	}
	return out
}

func mergeMeta(out *Value, args ...*Value) {
	for _, a := range args {
		out.batchTime = out.batchTime || a.batchTime
		out.batchInputs = out.batchInputs || a.batchInputs
		if out.tape == nil {
			out.tape = a.tape
		}
	}
}

// binary applies an elementwise op with the given per-operand linearisations
// (the partial derivative of the result with respect to each operand,
// evaluated at the primals).
func binary(a, b *Value, f func(x, y float64) float64, dfa, dfb func(x, y float64) float64) *Value {
	out := &Value{primal: zipT(a.primal, b.primal, f)}
	mergeMeta(out, a, b)

	// Forward tangents.
	seeds := a.seedNames()
	for s := range b.seedNames() {
		seeds[s] = true
	}
	if len(seeds) > 0 {
		out.tans = make(map[string]*Tensor, len(seeds))
		for s := range seeds {
			ta := mulT(zipT(a.primal, b.primal, dfa), a.Tangent(s))
			tb := mulT(zipT(a.primal, b.primal, dfb), b.Tangent(s))
			out.tans[s] = reduceTo(addT(broadcastTo(ta, out.primal), broadcastTo(tb, out.primal)), out.primal)
		}
	}
	if a.timeTan != nil || b.timeTan != nil {
		ta := mulT(zipT(a.primal, b.primal, dfa), timeTanOf(a))
		tb := mulT(zipT(a.primal, b.primal, dfb), timeTanOf(b))
		out.timeTan = reduceTo(addT(broadcastTo(ta, out.primal), broadcastTo(tb, out.primal)), out.primal)
	}

	// Reverse tape.
	if a.node != nil || b.node != nil {
		tape := a.tape
		if tape == nil {
			tape = b.tape
		}
		out.tape = tape
		var edges []edge
		if a.node != nil {
			an, ap, bp := a.node, a.primal, b.primal
			edges = append(edges, edge{to: an, vjp: func(cot *Tensor) (*Tensor, error) {
				return reduceTo(mulT(cot, zipT(ap, bp, dfa)), ap), nil
			}})
		}
		if b.node != nil {
			bn, ap, bp := b.node, a.primal, b.primal
			edges = append(edges, edge{to: bn, vjp: func(cot *Tensor) (*Tensor, error) {
				return reduceTo(mulT(cot, zipT(ap, bp, dfb)), bp), nil
			}})
		}
		out.node = tape.record(out.primal, edges)
	}
	return out
}

func timeTanOf(v *Value) *Tensor {
	if v.timeTan != nil {
		return v.timeTan
	}
	return Zeros(v.primal.rows, v.primal.cols)
}

// broadcastTo expands a scalar tensor to the target shape.
func broadcastTo(t, like *Tensor) *Tensor {
	if sameShape(t, like) || !t.IsScalar() {
		return t
	}
	out := Zeros(like.rows, like.cols)
	for i := range out.data {
		out.data[i] = t.data[0]
	}
	return out
}

// reduceTo sums a tensor down to a scalar when the target shape is scalar
// (the adjoint of broadcasting).
func reduceTo(t, like *Tensor) *Tensor {
	if sameShape(t, like) {
		return t
	}
	if like.IsScalar() {
		return sumT(t)
	}
	return t
}

// Add returns a + b.
func (v *Value) Add(b *Value) *Value {
	return binary(v, b,
		func(x, y float64) float64 { return x + y },
		func(x, y float64) float64 { return 1 },
		func(x, y float64) float64 { return 1 })
}

// Sub returns a - b.
func (v *Value) Sub(b *Value) *Value {
	return binary(v, b,
		func(x, y float64) float64 { return x - y },
		func(x, y float64) float64 { return 1 },
		func(x, y float64) float64 { return -1 })
}

// Mul returns the elementwise product.
func (v *Value) Mul(b *Value) *Value {
	return binary(v, b,
		func(x, y float64) float64 { return x * y },
		func(x, y float64) float64 { return y },
		func(x, y float64) float64 { return x })
}

// Square returns the elementwise square.
func (v *Value) Square() *Value { return v.Mul(v) }

// Scale returns c * v.
func (v *Value) Scale(c float64) *Value { return v.Mul(Lift(Scalar(c))) }

// Neg returns -v.
func (v *Value) Neg() *Value { return v.Scale(-1) }

// Sum reduces a value to the scalar sum of its elements.
func (v *Value) Sum() *Value {
	out := &Value{primal: sumT(v.primal)}
	mergeMeta(out, v)
	if len(v.tans) > 0 {
		out.tans = make(map[string]*Tensor, len(v.tans))
		for s, t := range v.tans {
			out.tans[s] = sumT(t)
		}
	}
	if v.timeTan != nil {
		out.timeTan = sumT(v.timeTan)
	}
	if v.node != nil {
		vn, vp := v.node, v.primal
		out.tape = v.tape
		out.node = v.tape.record(out.primal, []edge{{to: vn, vjp: func(cot *Tensor) (*Tensor, error) {
			return broadcastTo(cot, vp), nil
		}}})
	}
	return out
}

// Cols returns a value restricted to an ordered subset of columns. Used by
// the bridge's output-variable selection helpers.
func (v *Value) Cols(idx []int) *Value {
	pick := func(t *Tensor) *Tensor {
		out := Zeros(t.rows, len(idx))
		for i := 0; i < t.rows; i++ {
			for j, c := range idx {
				out.data[i*len(idx)+j] = t.At(i, c)
			}
		}
		return out
	}
	out := &Value{primal: pick(v.primal)}
	mergeMeta(out, v)
	if len(v.tans) > 0 {
		out.tans = make(map[string]*Tensor, len(v.tans))
		for s, t := range v.tans {
			out.tans[s] = pick(t)
		}
	}
	if v.timeTan != nil {
		out.timeTan = pick(v.timeTan)
	}
	if v.node != nil {
		vn, vp := v.node, v.primal
		out.tape = v.tape
		out.node = v.tape.record(out.primal, []edge{{to: vn, vjp: func(cot *Tensor) (*Tensor, error) {
			full := Zeros(vp.rows, vp.cols)
			for i := 0; i < cot.rows; i++ {
				for j, c := range idx {
					full.data[i*vp.cols+c] += cot.At(i, j)
				}
			}
			return full, nil
		}}})
	}
	return out
}

// Squeeze drops a value down to a scalar when it has exactly one element;
// otherwise it is returned unchanged.
func (v *Value) Squeeze() *Value {
	if v.primal.Size() != 1 || v.primal.IsScalar() {
		return v
	}
	squeeze := func(t *Tensor) *Tensor { return Scalar(t.data[0]) }
	out := &Value{primal: squeeze(v.primal)}
	mergeMeta(out, v)
	if len(v.tans) > 0 {
		out.tans = make(map[string]*Tensor, len(v.tans))
		for s, t := range v.tans {
			out.tans[s] = squeeze(t)
		}
	}
	if v.timeTan != nil {
		out.timeTan = squeeze(v.timeTan)
	}
	if v.node != nil {
		vn, vp := v.node, v.primal
		out.tape = v.tape
		out.node = v.tape.record(out.primal, []edge{{to: vn, vjp: func(cot *Tensor) (*Tensor, error) {
			full := Zeros(vp.rows, vp.cols)
			full.data[0] = cot.data[0]
			return full, nil
		}}})
	}
	return out
}
