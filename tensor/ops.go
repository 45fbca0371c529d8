package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func (t *Tensor) dense() *mat.Dense {
	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

// MatMul returns a @ b.
func MatMul(a, b *Tensor) *Tensor {
	if a.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("tensor: MatMul %v x %v", a.shape, b.shape))
	}
	out := New(a.shape[0], b.shape[1])
	out.dense().Mul(a.dense(), b.dense())
	return out
}

// MatMulT returns a @ bᵀ.
func MatMulT(a, b *Tensor) *Tensor {
	if a.shape[1] != b.shape[1] {
		panic(fmt.Sprintf("tensor: MatMulT %v x %vᵀ", a.shape, b.shape))
	}
	out := New(a.shape[0], b.shape[0])
	out.dense().Mul(a.dense(), b.dense().T())
	return out
}

// TMatMul returns aᵀ @ b.
func TMatMul(a, b *Tensor) *Tensor {
	if a.shape[0] != b.shape[0] {
		panic(fmt.Sprintf("tensor: TMatMul %vᵀ x %v", a.shape, b.shape))
	}
	out := New(a.shape[1], b.shape[1])
	out.dense().Mul(a.dense().T(), b.dense())
	return out
}

// Linear returns x @ w + bias, bias broadcast over rows.
func Linear(x, w, bias *Tensor) *Tensor {
	out := MatMul(x, w)
	if bias != nil {
		for i := 0; i < out.shape[0]; i++ {
			floats.Add(out.Row(i), bias.data)
		}
	}
	return out
}

// LinearBackward accumulates dW and dBias and returns dX.
func LinearBackward(x, w, bias, gradOut *Tensor) *Tensor {
	w.AccumulateGrad(TMatMul(x, gradOut))
	if bias != nil {
		for i := 0; i < gradOut.shape[0]; i++ {
			floats.Add(bias.grad, gradOut.Row(i))
		}
	}
	return MatMulT(gradOut, w)
}

func Add(a, b *Tensor) *Tensor {
	if a.shape != b.shape {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}
	out := New(a.shape[0], a.shape[1])
	floats.AddTo(out.data, a.data, b.data)
	return out
}

// AddInPlace adds b into a.
func AddInPlace(a, b *Tensor) {
	if a.shape != b.shape {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}
	floats.Add(a.data, b.data)
}

func Scale(a *Tensor, s float64) *Tensor {
	out := a.Clone()
	out.ZeroGrad()
	floats.Scale(s, out.data)
	return out
}

func Transpose(a *Tensor) *Tensor {
	out := New(a.shape[1], a.shape[0])
	out.dense().Copy(a.dense().T())
	return out
}

// Softmax applies a numerically stable softmax to each row.
func Softmax(x *Tensor) *Tensor {
	out := New(x.shape[0], x.shape[1])
	for i := 0; i < x.shape[0]; i++ {
		row := x.Row(i)
		dst := out.Row(i)
		maxVal := floats.Max(row)
		sum := 0.0
		for j, v := range row {
			dst[j] = math.Exp(v - maxVal)
			sum += dst[j]
		}
		floats.Scale(1/sum, dst)
	}
	return out
}

// SoftmaxBackward returns dX for y = Softmax(x): y ⊙ (dy - Σ dy⊙y).
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	out := New(y.shape[0], y.shape[1])
	for i := 0; i < y.shape[0]; i++ {
		yr, gr, dst := y.Row(i), gradY.Row(i), out.Row(i)
		dot := floats.Dot(yr, gr)
		for j := range dst {
			dst[j] = yr[j] * (gr[j] - dot)
		}
	}
	return out
}

// GELU is the exact (erf) Gaussian error linear unit.
func GELU(x *Tensor) *Tensor {
	out := New(x.shape[0], x.shape[1])
	for i, v := range x.data {
		out.data[i] = 0.5 * v * (1 + math.Erf(v/math.Sqrt2))
	}
	return out
}

func GELUBackward(x, gradY *Tensor) *Tensor {
	out := New(x.shape[0], x.shape[1])
	invSqrt2Pi := 1 / math.Sqrt(2*math.Pi)
	for i, v := range x.data {
		cdf := 0.5 * (1 + math.Erf(v/math.Sqrt2))
		pdf := invSqrt2Pi * math.Exp(-0.5*v*v)
		out.data[i] = gradY.data[i] * (cdf + v*pdf)
	}
	return out
}

func Tanh(x *Tensor) *Tensor {
	out := New(x.shape[0], x.shape[1])
	for i, v := range x.data {
		out.data[i] = math.Tanh(v)
	}
	return out
}

// TanhBackward takes y = tanh(x), not x.
func TanhBackward(y, gradY *Tensor) *Tensor {
	out := New(y.shape[0], y.shape[1])
	for i, v := range y.data {
		out.data[i] = gradY.data[i] * (1 - v*v)
	}
	return out
}

// ArgMaxRows returns the index of the largest value in each row.
func ArgMaxRows(x *Tensor) []int {
	out := make([]int, x.shape[0])
	for i := range out {
		out[i] = floats.MaxIdx(x.Row(i))
	}
	return out
}
