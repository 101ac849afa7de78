package ad

import "fmt"

// Tensor is a dense row-major scalar, vector, or matrix of float64. For
// solver-backed functions rows index time points and columns index output
// variables.
type Tensor struct {
	data []float64
	rows int
	cols int
}

// NewTensor wraps data (taking ownership) as a rows x cols tensor.
func NewTensor(rows, cols int, data []float64) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("ad: tensor data length %d does not match %dx%d", len(data), rows, cols))
	}
	return &Tensor{data: data, rows: rows, cols: cols}
}

// Scalar builds a 1x1 tensor.
func Scalar(v float64) *Tensor { return &Tensor{data: []float64{v}, rows: 1, cols: 1} }

// Vector builds an n x 1 tensor from a copy of v.
func Vector(v []float64) *Tensor {
	return &Tensor{data: append([]float64(nil), v...), rows: len(v), cols: 1}
}

// Zeros builds a zero rows x cols tensor.
func Zeros(rows, cols int) *Tensor {
	return &Tensor{data: make([]float64, rows*cols), rows: rows, cols: cols}
}

func (t *Tensor) Rows() int      { return t.rows }
func (t *Tensor) Cols() int      { return t.cols }
func (t *Tensor) Size() int      { return len(t.data) }
func (t *Tensor) IsScalar() bool { return t.rows == 1 && t.cols == 1 }

func (t *Tensor) At(i, j int) float64 {
	return t.data[i*t.cols+j]
}
func (t *Tensor) AtFlat(i int) float64 { return t.data[i] }

// Set assigns element (i, j).
func (t *Tensor) Set(i, j int, v float64) { t.data[i*t.cols+j] = v }

// ScalarValue returns the single element of a 1x1 tensor.
func (t *Tensor) ScalarValue() float64 {
	if !t.IsScalar() {
		panic("ad: ScalarValue on non-scalar tensor")
	}
	return t.data[0]
}

// Data returns a copy of the flat row-major data.
func (t *Tensor) Data() []float64 { return append([]float64(nil), t.data...) }

// Col returns a copy of one column.
func (t *Tensor) Col(j int) []float64 {
	out := make([]float64, t.rows)
	for i := 0; i < t.rows; i++ {
		out[i] = t.At(i, j)
	}
	return out
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{data: append([]float64(nil), t.data...), rows: t.rows, cols: t.cols}
}

// Elementwise helpers. Shapes must match exactly or one operand must be a
// scalar; anything else panics, matching gonum's dimension behaviour.

func sameShape(a, b *Tensor) bool { return a.rows == b.rows && a.cols == b.cols }

func zipT(a, b *Tensor, f func(x, y float64) float64) *Tensor {
	switch {
	case a.IsScalar() && !b.IsScalar():
		out := b.Clone()
		for i := range out.data {
			out.data[i] = f(a.data[0], b.data[i])
		}
		return out
	case b.IsScalar() && !a.IsScalar():
		out := a.Clone()
		for i := range out.data {
			out.data[i] = f(a.data[i], b.data[0])
		}
		return out
	case sameShape(a, b):
		out := a.Clone()
		for i := range out.data {
			out.data[i] = f(a.data[i], b.data[i])
		}
		return out
	}
	panic(fmt.Sprintf("ad: shape mismatch %dx%d vs %dx%d", a.rows, a.cols, b.rows, b.cols))
}

func mapT(a *Tensor, f func(float64) float64) *Tensor {
	out := a.Clone()
	for i := range out.data {
		out.data[i] = f(a.data[i])
	}
	return out
}

func addT(a, b *Tensor) *Tensor { return zipT(a, b, func(x, y float64) float64 { return x + y }) }
func mulT(a, b *Tensor) *Tensor { return zipT(a, b, func(x, y float64) float64 { return x * y }) }
func scaleT(a *Tensor, c float64) *Tensor {
	return mapT(a, func(x float64) float64 { return c * x })
}

func sumT(a *Tensor) *Tensor {
	s := 0.0
	for _, v := range a.data {
		s += v
	}
	return Scalar(s)
}
