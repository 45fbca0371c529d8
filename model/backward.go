package model

import (
	"math"

	"github.com/clems4ever/textclf/tensor"
	"gonum.org/v1/gonum/floats"
)

// Backward accumulates the gradient of out.Loss into every parameter. Call
// ZeroGrad between steps.
func (m *BertForSequenceClassification) Backward(out *Output) error {
	if out.gradLogits == nil {
		return ErrNoLabels
	}
	for i, c := range out.caches {
		m.backwardOne(c, out.gradLogits.SliceRows(i, i+1))
	}
	return nil
}

func (m *BertForSequenceClassification) backwardOne(c *forwardCache, gradLogits *tensor.Tensor) {
	grad := m.Classifier.Backward(c.dropped, gradLogits)
	if c.dropMask != nil {
		floats.Mul(grad.Data(), c.dropMask.Data())
	}
	grad = tensor.TanhBackward(c.pooled, grad)
	gradCLS := m.Pooler.Backward(c.cls, grad)

	dx := tensor.New(len(c.ids), m.Config.HiddenSize)
	copy(dx.Row(0), gradCLS.Row(0))
	for l := len(m.Layers) - 1; l >= 0; l-- {
		dx = m.Layers[l].backward(c.layers[l], dx)
	}

	dEmb := m.Embeddings.Norm.Backward(c.embNorm, dx)
	for i, id := range c.ids {
		g := dEmb.Row(i)
		floats.Add(m.Embeddings.Word.GradRow(id), g)
		floats.Add(m.Embeddings.Position.GradRow(i), g)
		floats.Add(m.Embeddings.TokenType.GradRow(c.types[i]), g)
	}
}

func (e *EncoderLayer) backward(c *layerCache, gradOut *tensor.Tensor) *tensor.Tensor {
	// output block: LN(ff(h1) + h1)
	dSum2 := e.OutputNorm.Backward(c.norm2, gradOut)
	dG := e.Output.Backward(c.g, dSum2)
	dZ1 := tensor.GELUBackward(c.z1, dG)
	dH1 := e.Intermediate.Backward(c.h1, dZ1)
	tensor.AddInPlace(dH1, dSum2)

	// attention block: LN(attn(x) + x)
	dSum1 := e.AttentionNorm.Backward(c.norm1, dH1)
	dCtx := e.AttentionOutput.Backward(c.context, dSum1)

	rows, cols := dCtx.Rows(), dCtx.Cols()
	dq, dk, dv := tensor.New(rows, cols), tensor.New(rows, cols), tensor.New(rows, cols)
	scale := 1 / math.Sqrt(float64(e.headDim))
	for h := 0; h < e.numHeads; h++ {
		qh := headSlice(c.q, h, e.headDim)
		kh := headSlice(c.k, h, e.headDim)
		vh := headSlice(c.v, h, e.headDim)
		dCtxH := headSlice(dCtx, h, e.headDim)
		probs := c.probs[h]

		dProbs := tensor.MatMulT(dCtxH, vh)
		putHead(dv, tensor.TMatMul(probs, dCtxH), h, e.headDim)

		dScores := tensor.Scale(tensor.SoftmaxBackward(probs, dProbs), scale)
		putHead(dq, tensor.MatMul(dScores, kh), h, e.headDim)
		putHead(dk, tensor.TMatMul(dScores, qh), h, e.headDim)
	}

	dx := e.Query.Backward(c.input, dq)
	tensor.AddInPlace(dx, e.Key.Backward(c.input, dk))
	tensor.AddInPlace(dx, e.Value.Backward(c.input, dv))
	tensor.AddInPlace(dx, dSum1)
	return dx
}
