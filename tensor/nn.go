package tensor

import (
	"fmt"
	"math"
)

// LayerNormCache holds what LayerNormBackward needs from the forward pass.
type LayerNormCache struct {
	xHat   *Tensor
	invStd []float64
}

// LayerNorm normalizes each row of x and applies gamma/beta (both 1xN).
func LayerNorm(x, gamma, beta *Tensor, eps float64) (*Tensor, *LayerNormCache) {
	rows, cols := x.shape[0], x.shape[1]
	out := New(rows, cols)
	cache := &LayerNormCache{xHat: New(rows, cols), invStd: make([]float64, rows)}
	n := float64(cols)
	for i := 0; i < rows; i++ {
		row := x.Row(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= n
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= n
		inv := 1 / math.Sqrt(variance+eps)
		cache.invStd[i] = inv
		xh, dst := cache.xHat.Row(i), out.Row(i)
		for j, v := range row {
			xh[j] = (v - mean) * inv
			dst[j] = xh[j]*gamma.data[j] + beta.data[j]
		}
	}
	return out, cache
}

// LayerNormBackward accumulates gamma/beta gradients and returns dX.
func LayerNormBackward(cache *LayerNormCache, gamma, beta, gradY *Tensor) *Tensor {
	rows, cols := gradY.shape[0], gradY.shape[1]
	if cache.xHat.shape != gradY.shape {
		panic(fmt.Sprintf("tensor: LayerNormBackward %v vs %v", cache.xHat.shape, gradY.shape))
	}
	out := New(rows, cols)
	n := float64(cols)
	gxn := make([]float64, cols)
	for i := 0; i < rows; i++ {
		gy, xh := gradY.Row(i), cache.xHat.Row(i)
		sum, sumXh := 0.0, 0.0
		for j := range gy {
			gamma.grad[j] += gy[j] * xh[j]
			beta.grad[j] += gy[j]
			gxn[j] = gy[j] * gamma.data[j]
			sum += gxn[j]
			sumXh += gxn[j] * xh[j]
		}
		dst := out.Row(i)
		inv := cache.invStd[i]
		for j := range dst {
			dst[j] = inv * (gxn[j] - sum/n - xh[j]*sumXh/n)
		}
	}
	return out
}

// CrossEntropy returns the mean negative log-likelihood of targets under
// softmax(logits), and the gradient of that mean with respect to logits.
func CrossEntropy(logits *Tensor, targets []int) (float64, *Tensor) {
	rows, cols := logits.shape[0], logits.shape[1]
	if len(targets) != rows {
		panic(fmt.Sprintf("tensor: %d targets for %d rows", len(targets), rows))
	}
	probs := Softmax(logits)
	grad := New(rows, cols)
	loss := 0.0
	for i, target := range targets {
		if target < 0 || target >= cols {
			panic(fmt.Sprintf("tensor: target %d out of range [0,%d)", target, cols))
		}
		p := probs.Row(i)
		loss -= math.Log(math.Max(p[target], 1e-300))
		g := grad.Row(i)
		for j := range g {
			g[j] = p[j] / float64(rows)
		}
		g[target] -= 1 / float64(rows)
	}
	return loss / float64(rows), grad
}
