package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/clems4ever/textclf/tensor"
	"gonum.org/v1/gonum/floats"
)

// maskBias is added to attention scores of padded key positions.
const maskBias = -10000.0

var (
	ErrBadInput = errors.New("bad model input")
	ErrNoLabels = errors.New("backward needs a forward pass with labels")
)

type Linear struct {
	Weight *tensor.Tensor // [in, out]
	Bias   *tensor.Tensor // [1, out]
}

func newLinear(in, out int, std float64, rng *rand.Rand) *Linear {
	return &Linear{
		Weight: tensor.NewNormal(in, out, std, rng),
		Bias:   tensor.New(1, out),
	}
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Linear(x, l.Weight, l.Bias)
}

func (l *Linear) Backward(x, gradOut *tensor.Tensor) *tensor.Tensor {
	return tensor.LinearBackward(x, l.Weight, l.Bias, gradOut)
}

type LayerNorm struct {
	Gamma *tensor.Tensor
	Beta  *tensor.Tensor
	Eps   float64
}

func newLayerNorm(dim int, eps float64) *LayerNorm {
	return &LayerNorm{Gamma: tensor.Full(1, dim, 1), Beta: tensor.New(1, dim), Eps: eps}
}

func (n *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, *tensor.LayerNormCache) {
	return tensor.LayerNorm(x, n.Gamma, n.Beta, n.Eps)
}

func (n *LayerNorm) Backward(cache *tensor.LayerNormCache, gradOut *tensor.Tensor) *tensor.Tensor {
	return tensor.LayerNormBackward(cache, n.Gamma, n.Beta, gradOut)
}

type Embeddings struct {
	Word      *tensor.Tensor // [vocab, hidden]
	Position  *tensor.Tensor // [max positions, hidden]
	TokenType *tensor.Tensor // [type vocab, hidden]
	Norm      *LayerNorm
}

type EncoderLayer struct {
	Query, Key, Value *Linear
	AttentionOutput   *Linear
	AttentionNorm     *LayerNorm
	Intermediate      *Linear
	Output            *Linear
	OutputNorm        *LayerNorm
	numHeads, headDim int
}

// BertForSequenceClassification is a BERT encoder with a pooled [CLS]
// classification head.
type BertForSequenceClassification struct {
	Config     *Config
	Embeddings *Embeddings
	Layers     []*EncoderLayer
	Pooler     *Linear
	Classifier *Linear

	rng *rand.Rand
}

// New builds a randomly initialized model. The seed drives both the
// initialization and dropout.
func New(cfg *Config, seed int64) (*BertForSequenceClassification, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	std := cfg.InitializerRange
	h := cfg.HiddenSize

	emb := &Embeddings{
		Word:      tensor.NewNormal(cfg.VocabSize, h, std, rng),
		Position:  tensor.NewNormal(cfg.MaxPositionEmbeddings, h, std, rng),
		TokenType: tensor.NewNormal(cfg.TypeVocabSize, h, std, rng),
		Norm:      newLayerNorm(h, cfg.LayerNormEps),
	}
	if cfg.PadTokenID >= 0 && cfg.PadTokenID < cfg.VocabSize {
		row := emb.Word.Row(cfg.PadTokenID)
		for i := range row {
			row[i] = 0
		}
	}

	layers := make([]*EncoderLayer, cfg.NumHiddenLayers)
	for i := range layers {
		layers[i] = &EncoderLayer{
			Query:           newLinear(h, h, std, rng),
			Key:             newLinear(h, h, std, rng),
			Value:           newLinear(h, h, std, rng),
			AttentionOutput: newLinear(h, h, std, rng),
			AttentionNorm:   newLayerNorm(h, cfg.LayerNormEps),
			Intermediate:    newLinear(h, cfg.IntermediateSize, std, rng),
			Output:          newLinear(cfg.IntermediateSize, h, std, rng),
			OutputNorm:      newLayerNorm(h, cfg.LayerNormEps),
			numHeads:        cfg.NumAttentionHeads,
			headDim:         cfg.HeadDim(),
		}
	}

	return &BertForSequenceClassification{
		Config:     cfg,
		Embeddings: emb,
		Layers:     layers,
		Pooler:     newLinear(h, h, std, rng),
		Classifier: newLinear(h, cfg.NumLabels(), std, rng),
		rng:        rng,
	}, nil
}

// Input is one mini-batch. Labels may be nil for inference.
type Input struct {
	InputIDs      [][]int
	AttentionMask [][]int
	TokenTypeIDs  [][]int
	Labels        []int
}

// Output carries the logits ([batch, labels]), the mean cross-entropy loss
// when labels were given, and what Backward needs.
type Output struct {
	Loss   float64
	Logits *tensor.Tensor

	gradLogits *tensor.Tensor
	caches     []*forwardCache
}

type forwardCache struct {
	ids, types []int
	embNorm    *tensor.LayerNormCache
	layers     []*layerCache
	cls        *tensor.Tensor
	pooled     *tensor.Tensor
	dropMask   *tensor.Tensor
	dropped    *tensor.Tensor
}

type layerCache struct {
	input   *tensor.Tensor
	q, k, v *tensor.Tensor
	probs   []*tensor.Tensor
	context *tensor.Tensor
	norm1   *tensor.LayerNormCache
	h1      *tensor.Tensor
	z1      *tensor.Tensor
	g       *tensor.Tensor
	norm2   *tensor.LayerNormCache
}

func (m *BertForSequenceClassification) validate(in Input) error {
	n := len(in.InputIDs)
	if n == 0 {
		return fmt.Errorf("%w: empty batch", ErrBadInput)
	}
	if len(in.AttentionMask) != n {
		return fmt.Errorf("%w: %d masks for %d rows", ErrBadInput, len(in.AttentionMask), n)
	}
	if in.TokenTypeIDs != nil && len(in.TokenTypeIDs) != n {
		return fmt.Errorf("%w: %d token type rows for %d rows", ErrBadInput, len(in.TokenTypeIDs), n)
	}
	if in.Labels != nil && len(in.Labels) != n {
		return fmt.Errorf("%w: %d labels for %d rows", ErrBadInput, len(in.Labels), n)
	}
	for i, ids := range in.InputIDs {
		if len(ids) == 0 || len(ids) > m.Config.MaxPositionEmbeddings {
			return fmt.Errorf("%w: row %d has length %d", ErrBadInput, i, len(ids))
		}
		if len(in.AttentionMask[i]) != len(ids) {
			return fmt.Errorf("%w: row %d mask length %d != %d", ErrBadInput, i, len(in.AttentionMask[i]), len(ids))
		}
		for _, id := range ids {
			if id < 0 || id >= m.Config.VocabSize {
				return fmt.Errorf("%w: token id %d outside vocab of %d", ErrBadInput, id, m.Config.VocabSize)
			}
		}
		if in.TokenTypeIDs != nil {
			if len(in.TokenTypeIDs[i]) != len(ids) {
				return fmt.Errorf("%w: row %d token type length mismatch", ErrBadInput, i)
			}
			for _, tt := range in.TokenTypeIDs[i] {
				if tt < 0 || tt >= m.Config.TypeVocabSize {
					return fmt.Errorf("%w: token type %d outside %d", ErrBadInput, tt, m.Config.TypeVocabSize)
				}
			}
		}
	}
	for _, l := range in.Labels {
		if l < 0 || l >= m.Config.NumLabels() {
			return fmt.Errorf("%w: label %d outside %d labels", ErrBadInput, l, m.Config.NumLabels())
		}
	}
	return nil
}

// Forward runs the batch. With train set, dropout is active.
func (m *BertForSequenceClassification) Forward(in Input, train bool) (*Output, error) {
	if err := m.validate(in); err != nil {
		return nil, err
	}

	n := len(in.InputIDs)
	logits := tensor.New(n, m.Config.NumLabels())
	out := &Output{Logits: logits, caches: make([]*forwardCache, n)}
	for i := range in.InputIDs {
		var types []int
		if in.TokenTypeIDs != nil {
			types = in.TokenTypeIDs[i]
		}
		row, cache := m.forwardOne(in.InputIDs[i], in.AttentionMask[i], types, train)
		copy(logits.Row(i), row.Row(0))
		out.caches[i] = cache
	}

	if in.Labels != nil {
		out.Loss, out.gradLogits = tensor.CrossEntropy(logits, in.Labels)
	}
	return out, nil
}

// forwardOne runs a single sequence. Trailing padding is dropped first:
// padded keys get a score bias that underflows to zero weight, so the
// [CLS] output does not depend on them.
func (m *BertForSequenceClassification) forwardOne(ids, mask, types []int, train bool) (*tensor.Tensor, *forwardCache) {
	length := len(ids)
	for length > 1 && mask[length-1] == 0 {
		length--
	}
	ids, mask = ids[:length], mask[:length]
	if types == nil {
		types = make([]int, length)
	} else {
		types = types[:length]
	}

	h := m.Config.HiddenSize
	c := &forwardCache{ids: ids, types: types, layers: make([]*layerCache, len(m.Layers))}

	emb := tensor.New(length, h)
	for i, id := range ids {
		row := emb.Row(i)
		floats.Add(row, m.Embeddings.Word.Row(id))
		floats.Add(row, m.Embeddings.Position.Row(i))
		floats.Add(row, m.Embeddings.TokenType.Row(types[i]))
	}
	x, embNorm := m.Embeddings.Norm.Forward(emb)
	c.embNorm = embNorm

	bias := make([]float64, length)
	for j, v := range mask {
		if v == 0 {
			bias[j] = maskBias
		}
	}
	for l, layer := range m.Layers {
		x, c.layers[l] = layer.forward(x, bias)
	}

	c.cls = x.SliceRows(0, 1)
	c.pooled = tensor.Tanh(m.Pooler.Forward(c.cls))
	c.dropped = c.pooled
	if p := m.Config.HiddenDropoutProb; train && p > 0 {
		c.dropMask = tensor.New(1, h)
		keep := 1 / (1 - p)
		for i := range c.dropMask.Data() {
			if m.rng.Float64() >= p {
				c.dropMask.Data()[i] = keep
			}
		}
		c.dropped = c.pooled.Clone()
		c.dropped.ZeroGrad()
		floats.Mul(c.dropped.Data(), c.dropMask.Data())
	}
	return m.Classifier.Forward(c.dropped), c
}

func headSlice(t *tensor.Tensor, head, dim int) *tensor.Tensor {
	out := tensor.New(t.Rows(), dim)
	for i := 0; i < t.Rows(); i++ {
		copy(out.Row(i), t.Row(i)[head*dim:(head+1)*dim])
	}
	return out
}

func putHead(dst, src *tensor.Tensor, head, dim int) {
	for i := 0; i < dst.Rows(); i++ {
		copy(dst.Row(i)[head*dim:(head+1)*dim], src.Row(i))
	}
}

func (e *EncoderLayer) forward(x *tensor.Tensor, bias []float64) (*tensor.Tensor, *layerCache) {
	c := &layerCache{input: x, probs: make([]*tensor.Tensor, e.numHeads)}
	c.q = e.Query.Forward(x)
	c.k = e.Key.Forward(x)
	c.v = e.Value.Forward(x)

	scale := 1 / math.Sqrt(float64(e.headDim))
	c.context = tensor.New(x.Rows(), x.Cols())
	for h := 0; h < e.numHeads; h++ {
		qh := headSlice(c.q, h, e.headDim)
		kh := headSlice(c.k, h, e.headDim)
		vh := headSlice(c.v, h, e.headDim)

		scores := tensor.Scale(tensor.MatMulT(qh, kh), scale)
		for i := 0; i < scores.Rows(); i++ {
			floats.Add(scores.Row(i), bias)
		}
		c.probs[h] = tensor.Softmax(scores)
		putHead(c.context, tensor.MatMul(c.probs[h], vh), h, e.headDim)
	}

	attn := e.AttentionOutput.Forward(c.context)
	c.h1, c.norm1 = e.AttentionNorm.Forward(tensor.Add(attn, x))

	c.z1 = e.Intermediate.Forward(c.h1)
	c.g = tensor.GELU(c.z1)
	ff := e.Output.Forward(c.g)

	out, norm2 := e.OutputNorm.Forward(tensor.Add(ff, c.h1))
	c.norm2 = norm2
	return out, c
}

// Probabilities returns the row-wise softmax of logits.
func Probabilities(logits *tensor.Tensor) *tensor.Tensor {
	return tensor.Softmax(logits)
}
