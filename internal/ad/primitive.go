package ad

// Primitive is a custom call with externally supplied differentiation and
// batching rules — the hook a solver bridge uses to expose an opaque native
// solve as a traceable operation. Directions the primitive cannot provide
// are reported through the error returns and are never silently
// approximated.
type Primitive interface {
	Name() string

	// Eval computes the primal output at the named scalar inputs, one row
	// per time point.
	Eval(t *Tensor, in map[string]float64) (*Tensor, error)

	// JVP returns the output tangent for a unit tangent of one named input.
	JVP(t *Tensor, in map[string]float64, input string) (*Tensor, error)

	// VJP contracts an output cotangent into per-input scalar cotangents.
	VJP(t *Tensor, in map[string]float64, cot *Tensor) (map[string]float64, error)

	// TimeDiff reports whether differentiation with respect to time is
	// available; a non-nil error declares the direction unsupported.
	TimeDiff() error

	// BatchInputs reports whether batching over distinct input sets is
	// available; a non-nil error declares the direction unsupported.
	BatchInputs() error
}

// Apply invokes a primitive under the current trace: primal evaluation plus
// whatever tangent, tape, or batching metadata the operands carry.
func Apply(p Primitive, t *Value, inputs map[string]*Value) (*Value, error) {
	if t.batchInputs {
		return nil, p.BatchInputs()
	}
	in := make(map[string]float64, len(inputs))
	for name, v := range inputs {
		if v.batchInputs || !v.primal.IsScalar() {
			return nil, p.BatchInputs()
		}
		in[name] = v.primal.ScalarValue()
	}
	// The solver's sensitivity tape is indexed by solve points, so a time
	// tangent (forward) or a time leaf on the reverse tape is delegated to
	// the primitive's own rule.
	if t.timeTan != nil || t.node != nil {
		if err := p.TimeDiff(); err != nil {
			return nil, err
		}
	}

	primal, err := p.Eval(t.primal, in)
	if err != nil {
		return nil, err
	}
	out := &Value{primal: primal, batchTime: t.batchTime}

	// Forward mode: out tangent per seed is the sum over inputs of the
	// input's unit-JVP weighted by that input's tangent component.
	seeds := make(map[string]bool)
	for _, v := range inputs {
		for s := range v.tans {
			seeds[s] = true
		}
	}
	if len(seeds) > 0 {
		jvps := make(map[string]*Tensor, len(inputs))
		out.tans = make(map[string]*Tensor, len(seeds))
		for s := range seeds {
			acc := Zeros(primal.rows, primal.cols)
			for name, v := range inputs {
				w := v.Tangent(s)
				if w.ScalarValue() == 0 {
					continue
				}
				jvp, ok := jvps[name]
				if !ok {
					jvp, err = p.JVP(t.primal, in, name)
					if err != nil {
						return nil, err
					}
					jvps[name] = jvp
				}
				acc = addT(acc, scaleT(jvp, w.ScalarValue()))
			}
			out.tans[s] = acc
		}
	}

	// Reverse mode: one edge per traced input.
	var tape *Tape
	for _, v := range inputs {
		if v.node != nil {
			tape = v.tape
			break
		}
	}
	if tape != nil {
		var edges []edge
		tp := t.primal
		for name, v := range inputs {
			if v.node == nil {
				continue
			}
			name := name
			edges = append(edges, edge{to: v.node, vjp: func(cot *Tensor) (*Tensor, error) {
				cots, err := p.VJP(tp, in, cot)
				if err != nil {
					return nil, err
				}
				return Scalar(cots[name]), nil
			}})
		}
		out.tape = tape
		out.node = tape.record(primal, edges)
	}
	return out, nil
}
