package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/clems4ever/textclf/tensor"
	"gonum.org/v1/gonum/floats"
)

var ErrStateDict = errors.New("state dict mismatch")

// Parameter is a named trainable tensor. Transposed marks Linear weights,
// which are stored [out, in] in checkpoints and [in, out] in memory. Vector
// parameters are 1-D in checkpoints.
type Parameter struct {
	Name       string
	Tensor     *tensor.Tensor
	Transposed bool
	Vector     bool
}

func linearParams(prefix string, l *Linear) []Parameter {
	return []Parameter{
		{Name: prefix + ".weight", Tensor: l.Weight, Transposed: true},
		{Name: prefix + ".bias", Tensor: l.Bias, Vector: true},
	}
}

func normParams(prefix string, n *LayerNorm) []Parameter {
	return []Parameter{
		{Name: prefix + ".weight", Tensor: n.Gamma, Vector: true},
		{Name: prefix + ".bias", Tensor: n.Beta, Vector: true},
	}
}

// NamedParameters lists parameters under their HuggingFace names, in a fixed
// order.
func (m *BertForSequenceClassification) NamedParameters() []Parameter {
	params := []Parameter{
		{Name: "bert.embeddings.word_embeddings.weight", Tensor: m.Embeddings.Word},
		{Name: "bert.embeddings.position_embeddings.weight", Tensor: m.Embeddings.Position},
		{Name: "bert.embeddings.token_type_embeddings.weight", Tensor: m.Embeddings.TokenType},
	}
	params = append(params, normParams("bert.embeddings.LayerNorm", m.Embeddings.Norm)...)
	for i, l := range m.Layers {
		p := fmt.Sprintf("bert.encoder.layer.%d", i)
		params = append(params, linearParams(p+".attention.self.query", l.Query)...)
		params = append(params, linearParams(p+".attention.self.key", l.Key)...)
		params = append(params, linearParams(p+".attention.self.value", l.Value)...)
		params = append(params, linearParams(p+".attention.output.dense", l.AttentionOutput)...)
		params = append(params, normParams(p+".attention.output.LayerNorm", l.AttentionNorm)...)
		params = append(params, linearParams(p+".intermediate.dense", l.Intermediate)...)
		params = append(params, linearParams(p+".output.dense", l.Output)...)
		params = append(params, normParams(p+".output.LayerNorm", l.OutputNorm)...)
	}
	params = append(params, linearParams("bert.pooler.dense", m.Pooler)...)
	params = append(params, linearParams("classifier", m.Classifier)...)
	return params
}

func (m *BertForSequenceClassification) Parameters() []*tensor.Tensor {
	named := m.NamedParameters()
	out := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		out[i] = p.Tensor
	}
	return out
}

// NumParameters counts scalar parameters.
func (m *BertForSequenceClassification) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Size()
	}
	return n
}

func (m *BertForSequenceClassification) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// StateDict returns a value-only copy of every parameter keyed by name.
// Later training steps do not change a returned state dict.
func (m *BertForSequenceClassification) StateDict() map[string]*tensor.Tensor {
	named := m.NamedParameters()
	sd := make(map[string]*tensor.Tensor, len(named))
	for _, p := range named {
		sd[p.Name] = p.Tensor.CloneData()
	}
	return sd
}

// LoadStateDict copies values from sd. Every parameter must be present with
// its in-memory shape.
func (m *BertForSequenceClassification) LoadStateDict(sd map[string]*tensor.Tensor) error {
	for _, p := range m.NamedParameters() {
		src, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrStateDict, p.Name)
		}
		if err := p.Tensor.CopyFrom(src); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStateDict, p.Name, err)
		}
	}
	return nil
}

// GradNorm is the global L2 norm over all parameter gradients.
func (m *BertForSequenceClassification) GradNorm() float64 {
	sum := 0.0
	for _, p := range m.Parameters() {
		g := p.Grad()
		sum += floats.Dot(g, g)
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales gradients so their global norm is at most maxNorm
// and returns the norm before clipping.
func (m *BertForSequenceClassification) ClipGradNorm(maxNorm float64) float64 {
	total := m.GradNorm()
	coef := maxNorm / (total + 1e-6)
	if coef < 1 {
		for _, p := range m.Parameters() {
			floats.Scale(coef, p.Grad())
		}
	}
	return total
}
