package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

var (
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	ErrInvalidShape  = errors.New("tensor: invalid shape")
)

// Tensor is a dense row-major matrix with a gradient buffer of the same size.
// Vectors (biases, LayerNorm parameters) are stored as 1xN.
type Tensor struct {
	data  []float64
	grad  []float64
	shape [2]int
}

func New(rows, cols int) *Tensor {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("tensor: shape must be positive, got [%d %d]", rows, cols))
	}
	return &Tensor{
		data:  make([]float64, rows*cols),
		grad:  make([]float64, rows*cols),
		shape: [2]int{rows, cols},
	}
}

// FromData wraps data without copying it.
func FromData(rows, cols int, data []float64) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: [%d %d]", ErrInvalidShape, rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for shape [%d %d]", ErrShapeMismatch, len(data), rows, cols)
	}
	return &Tensor{
		data:  data,
		grad:  make([]float64, len(data)),
		shape: [2]int{rows, cols},
	}, nil
}

// NewNormal fills a new tensor with samples from N(0, std²).
func NewNormal(rows, cols int, std float64, rng *rand.Rand) *Tensor {
	t := New(rows, cols)
	for i := range t.data {
		t.data[i] = rng.NormFloat64() * std
	}
	return t
}

// Full returns a tensor with every element set to v.
func Full(rows, cols int, v float64) *Tensor {
	t := New(rows, cols)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func (t *Tensor) Rows() int       { return t.shape[0] }
func (t *Tensor) Cols() int       { return t.shape[1] }
func (t *Tensor) Shape() [2]int   { return t.shape }
func (t *Tensor) Size() int       { return len(t.data) }
func (t *Tensor) Data() []float64 { return t.data }
func (t *Tensor) Grad() []float64 { return t.grad }
func (t *Tensor) At(i, j int) float64 {
	return t.data[t.index(i, j)]
}

func (t *Tensor) Set(v float64, i, j int) {
	t.data[t.index(i, j)] = v
}

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float64 {
	c := t.shape[1]
	return t.data[i*c : (i+1)*c]
}

// GradRow returns a view of the gradient of row i.
func (t *Tensor) GradRow(i int) []float64 {
	c := t.shape[1]
	return t.grad[i*c : (i+1)*c]
}

func (t *Tensor) index(i, j int) int {
	if i < 0 || i >= t.shape[0] || j < 0 || j >= t.shape[1] {
		panic(fmt.Sprintf("tensor: index [%d %d] out of bounds %v", i, j, t.shape))
	}
	return i*t.shape[1] + j
}

func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// AccumulateGrad adds g's values to t's gradient.
func (t *Tensor) AccumulateGrad(g *Tensor) {
	if t.shape != g.shape {
		panic(fmt.Sprintf("tensor: AccumulateGrad shape %v vs %v", t.shape, g.shape))
	}
	for i, v := range g.data {
		t.grad[i] += v
	}
}

// Clone deep-copies values and gradient.
func (t *Tensor) Clone() *Tensor {
	c := New(t.shape[0], t.shape[1])
	copy(c.data, t.data)
	copy(c.grad, t.grad)
	return c
}

// CloneData copies values only. The copy has no gradient buffer, so it
// serves as a snapshot and must not be trained.
func (t *Tensor) CloneData() *Tensor {
	return &Tensor{
		data:  slices.Clone(t.data),
		shape: t.shape,
	}
}

// CopyFrom overwrites t's values with src's values.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t.shape != src.shape {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// SliceRows returns a copy of rows [from, to).
func (t *Tensor) SliceRows(from, to int) *Tensor {
	out := New(to-from, t.shape[1])
	copy(out.data, t.data[from*t.shape[1]:to*t.shape[1]])
	return out
}

func (t *Tensor) HasNaN() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", t.shape)
}
