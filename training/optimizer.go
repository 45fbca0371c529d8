package training

import (
	"math"

	"github.com/clems4ever/textclf/tensor"
)

type AdamWOptions struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	CorrectBias bool
}

// DefaultAdamWOptions are the transformers AdamW defaults with lr 2e-5.
func DefaultAdamWOptions() AdamWOptions {
	return AdamWOptions{
		LR:          2e-5,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-6,
		WeightDecay: 0,
		CorrectBias: true,
	}
}

// AdamW is Adam with decoupled weight decay. Decay is applied after the
// Adam update and scales with the learning rate.
type AdamW struct {
	opts   AdamWOptions
	params []*tensor.Tensor
	m, v   [][]float64
	step   int
}

func NewAdamW(params []*tensor.Tensor, opts AdamWOptions) *AdamW {
	o := &AdamW{
		opts:   opts,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, p.Size())
		o.v[i] = make([]float64, p.Size())
	}
	return o
}

func (o *AdamW) LR() float64      { return o.opts.LR }
func (o *AdamW) SetLR(lr float64) { o.opts.LR = lr }
func (o *AdamW) Steps() int       { return o.step }

// Step applies one update from the accumulated gradients.
func (o *AdamW) Step() {
	o.step++
	b1, b2 := o.opts.Beta1, o.opts.Beta2
	stepSize := o.opts.LR
	if o.opts.CorrectBias {
		stepSize *= math.Sqrt(1-math.Pow(b2, float64(o.step))) / (1 - math.Pow(b1, float64(o.step)))
	}
	decay := o.opts.LR * o.opts.WeightDecay

	for i, p := range o.params {
		data, grad := p.Data(), p.Grad()
		m, v := o.m[i], o.v[i]
		for j, g := range grad {
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			data[j] -= stepSize * m[j] / (math.Sqrt(v[j]) + o.opts.Eps)
			if decay > 0 {
				data[j] -= decay * data[j]
			}
		}
	}
}
