package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyConfig() *Config {
	cfg := DefaultConfig()
	cfg.VocabSize = 12
	cfg.HiddenSize = 8
	cfg.NumHiddenLayers = 2
	cfg.NumAttentionHeads = 2
	cfg.IntermediateSize = 16
	cfg.MaxPositionEmbeddings = 16
	cfg.HiddenDropoutProb = 0
	cfg.AttentionProbsDropoutProb = 0
	cfg.InitializerRange = 0.5
	cfg.SetLabels([]string{"medical_info", "transportation", "asylum"})
	return cfg
}

func newTinyModel(t *testing.T) *BertForSequenceClassification {
	t.Helper()
	m, err := New(tinyConfig(), 7)
	require.NoError(t, err)
	return m
}

func tinyInput() Input {
	return Input{
		InputIDs:      [][]int{{2, 5, 0, 6, 3}, {2, 7, 8, 3, 0}},
		AttentionMask: [][]int{{1, 1, 0, 1, 1}, {1, 1, 1, 1, 0}},
		TokenTypeIDs:  [][]int{{0, 0, 0, 0, 0}, {0, 0, 0, 1, 0}},
		Labels:        []int{2, 0},
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumAttentionHeads = 3
	_, err := New(cfg, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_PadRowIsZero(t *testing.T) {
	m := newTinyModel(t)
	for _, v := range m.Embeddings.Word.Row(0) {
		assert.Zero(t, v)
	}
}

func TestForward_Shapes(t *testing.T) {
	m := newTinyModel(t)
	out, err := m.Forward(tinyInput(), false)
	require.NoError(t, err)

	assert.Equal(t, [2]int{2, 3}, out.Logits.Shape())
	assert.Greater(t, out.Loss, 0.0)
	assert.False(t, out.Logits.HasNaN())

	probs := Probabilities(out.Logits)
	for i := 0; i < probs.Rows(); i++ {
		sum := 0.0
		for _, p := range probs.Row(i) {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

func TestForward_TrailingPaddingIgnored(t *testing.T) {
	m := newTinyModel(t)
	short := Input{
		InputIDs:      [][]int{{2, 5, 6, 3}},
		AttentionMask: [][]int{{1, 1, 1, 1}},
	}
	long := Input{
		InputIDs:      [][]int{{2, 5, 6, 3, 0, 0, 0}},
		AttentionMask: [][]int{{1, 1, 1, 1, 0, 0, 0}},
	}
	a, err := m.Forward(short, false)
	require.NoError(t, err)
	b, err := m.Forward(long, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a.Logits.Data(), b.Logits.Data(), 1e-12)
}

func TestForward_MaskedTokenHasNoEffect(t *testing.T) {
	m := newTinyModel(t)
	in := Input{
		InputIDs:      [][]int{{2, 5, 9, 6, 3}},
		AttentionMask: [][]int{{1, 1, 0, 1, 1}},
	}
	a, err := m.Forward(in, false)
	require.NoError(t, err)

	in.InputIDs[0][2] = 10
	b, err := m.Forward(in, false)
	require.NoError(t, err)
	// the -10000 bias leaves an exp(-10000) residue, which is exactly 0
	assert.InDeltaSlice(t, a.Logits.Data(), b.Logits.Data(), 1e-12)
}

func TestForward_BadInput(t *testing.T) {
	m := newTinyModel(t)
	tests := []struct {
		name string
		in   Input
	}{
		{"empty", Input{}},
		{"mask rows", Input{InputIDs: [][]int{{2, 3}}}},
		{"id out of vocab", Input{InputIDs: [][]int{{2, 99}}, AttentionMask: [][]int{{1, 1}}}},
		{"too long", Input{InputIDs: [][]int{make([]int, 17)}, AttentionMask: [][]int{make([]int, 17)}}},
		{"label out of range", Input{InputIDs: [][]int{{2, 3}}, AttentionMask: [][]int{{1, 1}}, Labels: []int{3}}},
		{"token type", Input{InputIDs: [][]int{{2, 3}}, AttentionMask: [][]int{{1, 1}}, TokenTypeIDs: [][]int{{0, 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Forward(tt.in, false)
			assert.ErrorIs(t, err, ErrBadInput)
		})
	}
}

func TestForward_DropoutOnlyInTraining(t *testing.T) {
	cfg := tinyConfig()
	cfg.HiddenDropoutProb = 0.5
	m, err := New(cfg, 3)
	require.NoError(t, err)

	in := tinyInput()
	a, err := m.Forward(in, false)
	require.NoError(t, err)
	b, err := m.Forward(in, false)
	require.NoError(t, err)
	assert.Equal(t, a.Logits.Data(), b.Logits.Data())

	c, err := m.Forward(in, true)
	require.NoError(t, err)
	assert.NotEqual(t, a.Logits.Data(), c.Logits.Data())
}

func TestBackward_NeedsLabels(t *testing.T) {
	m := newTinyModel(t)
	in := tinyInput()
	in.Labels = nil
	out, err := m.Forward(in, false)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Backward(out), ErrNoLabels)
}

func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	m := newTinyModel(t)
	in := tinyInput()

	loss := func() float64 {
		out, err := m.Forward(in, false)
		require.NoError(t, err)
		return out.Loss
	}

	m.ZeroGrad()
	out, err := m.Forward(in, false)
	require.NoError(t, err)
	require.NoError(t, m.Backward(out))

	const h = 1e-6
	for _, p := range m.NamedParameters() {
		data, grad := p.Tensor.Data(), p.Tensor.Grad()
		// a handful of entries per tensor keeps the test fast
		step := max(1, len(data)/5)
		for i := 0; i < len(data); i += step {
			orig := data[i]
			data[i] = orig + h
			plus := loss()
			data[i] = orig - h
			minus := loss()
			data[i] = orig
			numeric := (plus - minus) / (2 * h)
			assert.InDelta(t, numeric, grad[i], 1e-5+1e-3*math.Abs(numeric), "%s[%d]", p.Name, i)
		}
	}
}

func TestStateDict_IsSnapshot(t *testing.T) {
	m := newTinyModel(t)
	sd := m.StateDict()
	before := sd["classifier.bias"].Data()[0]

	m.Classifier.Bias.Data()[0] += 1
	assert.Equal(t, before, sd["classifier.bias"].Data()[0])
	for name, p := range sd {
		assert.Empty(t, p.Grad(), name)
	}

	require.NoError(t, m.LoadStateDict(sd))
	assert.Equal(t, before, m.Classifier.Bias.Data()[0])
}

func TestLoadStateDict_Missing(t *testing.T) {
	m := newTinyModel(t)
	sd := m.StateDict()
	delete(sd, "bert.pooler.dense.weight")
	assert.ErrorIs(t, m.LoadStateDict(sd), ErrStateDict)
}

func TestClipGradNorm(t *testing.T) {
	m := newTinyModel(t)
	m.ZeroGrad()
	m.Classifier.Bias.Grad()[0] = 3
	m.Classifier.Bias.Grad()[1] = 4

	norm := m.ClipGradNorm(1)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 1.0, m.GradNorm(), 1e-6)

	// below the limit nothing changes
	norm = m.ClipGradNorm(10)
	assert.InDelta(t, 1.0, norm, 1e-6)
	assert.InDelta(t, 1.0, m.GradNorm(), 1e-6)
}

func TestNumParameters(t *testing.T) {
	m := newTinyModel(t)
	h, v, p, i := 8, 12, 16, 16
	emb := v*h + p*h + 2*h + 2*h
	layer := 4*(h*h+h) + 2*h + (h*i + i) + (i*h + h) + 2*h
	head := (h*h + h) + (h*3 + 3)
	assert.Equal(t, emb+2*layer+head, m.NumParameters())
}
