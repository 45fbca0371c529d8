package training

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clems4ever/textclf/dataset"
	"github.com/clems4ever/textclf/model"
	"github.com/clems4ever/textclf/tensor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdamW_FirstStep(t *testing.T) {
	p := tensor.Full(1, 2, 1)
	p.Grad()[0] = 0.5
	p.Grad()[1] = -2

	opts := DefaultAdamWOptions()
	opts.LR = 0.1
	opt := NewAdamW([]*tensor.Tensor{p}, opts)
	opt.Step()

	for i, g := range []float64{0.5, -2} {
		m := 0.1 * g
		v := 0.001 * g * g
		step := 0.1 * math.Sqrt(0.001) / 0.1
		want := 1 - step*m/(math.Sqrt(v)+1e-6)
		assert.InDelta(t, want, p.Data()[i], 1e-12)
	}
	assert.Equal(t, 1, opt.Steps())
}

func TestAdamW_WeightDecay(t *testing.T) {
	p := tensor.Full(1, 1, 2)
	opts := DefaultAdamWOptions()
	opts.LR = 0.1
	opts.WeightDecay = 0.5
	NewAdamW([]*tensor.Tensor{p}, opts).Step()

	// zero gradient: only the decoupled decay moves the weight
	assert.InDelta(t, 2-0.1*0.5*2, p.Data()[0], 1e-12)
}

func TestStepLR(t *testing.T) {
	opt := NewAdamW(nil, DefaultAdamWOptions())
	sched := NewStepLR(opt, 5, 0.1)

	var lrs []float64
	for i := 0; i < 10; i++ {
		sched.Step()
		lrs = append(lrs, sched.LR())
	}
	for i, lr := range lrs {
		want := 2e-5
		switch {
		case i+1 >= 10:
			want = 2e-7
		case i+1 >= 5:
			want = 2e-6
		}
		assert.InDelta(t, want, lr, 1e-18, "epoch %d", i+1)
	}
}

type fixedModel struct {
	logits [][]float64
	calls  int
}

func (f *fixedModel) Forward(in model.Input, train bool) (*model.Output, error) {
	logits := tensor.New(len(in.InputIDs), len(f.logits[0]))
	for i := range in.InputIDs {
		copy(logits.Row(i), f.logits[f.calls%len(f.logits)])
		f.calls++
	}
	loss, _ := tensor.CrossEntropy(logits, in.Labels)
	return &model.Output{Loss: loss, Logits: logits}, nil
}

func (f *fixedModel) Backward(*model.Output) error                  { return nil }
func (f *fixedModel) ZeroGrad()                                     {}
func (f *fixedModel) ClipGradNorm(float64) float64                  { return 0 }
func (f *fixedModel) Parameters() []*tensor.Tensor                  { return nil }
func (f *fixedModel) StateDict() map[string]*tensor.Tensor          { return nil }
func (f *fixedModel) LoadStateDict(map[string]*tensor.Tensor) error { return nil }

func TestEvaluate(t *testing.T) {
	m := &fixedModel{logits: [][]float64{{5, 0, 0}}}
	batches := []dataset.Batch{
		{InputIDs: [][]int{{2}, {2}}, AttentionMask: [][]int{{1}, {1}}, Labels: []int{0, 1}},
		{InputIDs: [][]int{{2}}, AttentionMask: [][]int{{1}}, Labels: []int{0}},
	}
	res, err := Evaluate(m, batches)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Examples)
	assert.Equal(t, 2, res.Correct)
	assert.InDelta(t, 2.0/3, res.Accuracy, 1e-12)

	lsm := math.Log(math.Exp(5) + 2)
	batch1 := ((lsm - 5) + lsm) / 2
	batch2 := lsm - 5
	assert.InDelta(t, (batch1+batch2)/2, res.Loss, 1e-12)
}

func TestEvaluate_Empty(t *testing.T) {
	_, err := Evaluate(&fixedModel{}, nil)
	assert.ErrorIs(t, err, ErrEmptySplit)
}

func tinyLoaders(t *testing.T) (train, val *dataset.Loader) {
	t.Helper()
	mk := func(rows [][]int, labels []int) *dataset.TensorDataset {
		masks := make([][]int, len(rows))
		types := make([][]int, len(rows))
		for i, r := range rows {
			masks[i] = make([]int, len(r))
			types[i] = make([]int, len(r))
			for j, id := range r {
				if id != 0 {
					masks[i][j] = 1
				}
			}
		}
		return &dataset.TensorDataset{InputIDs: rows, AttentionMask: masks, TokenTypeIDs: types, Labels: labels}
	}
	trainDS := mk([][]int{
		{2, 5, 6, 3}, {2, 7, 3, 0}, {2, 8, 9, 3}, {2, 5, 5, 3},
		{2, 7, 7, 3}, {2, 9, 3, 0},
	}, []int{0, 1, 2, 0, 1, 2})
	valDS := mk([][]int{{2, 5, 3}, {2, 7, 3}}, []int{0, 1})
	return dataset.NewLoader(trainDS, 4, true, 1), dataset.NewLoader(valDS, 4, false, 1)
}

func tinyModel(t *testing.T) *model.BertForSequenceClassification {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.VocabSize = 12
	cfg.HiddenSize = 8
	cfg.NumHiddenLayers = 1
	cfg.NumAttentionHeads = 2
	cfg.IntermediateSize = 16
	cfg.MaxPositionEmbeddings = 8
	cfg.SetLabels([]string{"a", "b", "c"})
	m, err := model.New(cfg, 3)
	require.NoError(t, err)
	return m
}

func TestTrainer_Fit(t *testing.T) {
	log, hook := test.NewNullLogger()
	m := tinyModel(t)
	metrics := NewMetrics("run-1")

	opts := DefaultOptions()
	opts.Epochs = 6
	opts.Optimizer.LR = 1e-2
	opts.Logger = log
	opts.Metrics = metrics

	trainer := NewTrainer(m, opts)
	train, val := tinyLoaders(t)
	history, err := trainer.Fit(train, val)
	require.NoError(t, err)
	require.Len(t, history.Epochs, 6)

	assert.GreaterOrEqual(t, history.BestEpoch, 1)
	for _, e := range history.Epochs {
		assert.LessOrEqual(t, history.BestValLoss, e.ValLoss)
		assert.GreaterOrEqual(t, e.ValAccuracy, 0.0)
		assert.LessOrEqual(t, e.ValAccuracy, 1.0)
		assert.GreaterOrEqual(t, e.TrainLoss, 0.0)
	}
	assert.True(t, history.Epochs[0].Improved)
	// epochs 1-5 train at the base rate, epoch 6 after the first decay
	assert.InDelta(t, 1e-2, history.Epochs[0].LearningRate, 1e-15)
	assert.InDelta(t, 1e-2, history.Epochs[4].LearningRate, 1e-15)
	assert.InDelta(t, 1e-3, history.Epochs[5].LearningRate, 1e-15)

	epochLogs := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "epoch finished" {
			epochLogs++
			assert.Equal(t, logrus.InfoLevel, e.Level)
		}
	}
	assert.Equal(t, 6, epochLogs)

	assert.Equal(t, float64(6*train.NumBatches()), testutil.ToFloat64(metrics.steps))
	assert.InDelta(t, history.BestValLoss, testutil.ToFloat64(metrics.bestValLoss), 1e-12)

	// restoring the snapshot reproduces the best validation loss
	require.NoError(t, trainer.RestoreBest())
	res, err := Evaluate(m, val.Batches())
	require.NoError(t, err)
	assert.InDelta(t, history.BestValLoss, res.Loss, 1e-12)
}

func TestTrainer_EmptyValidation(t *testing.T) {
	train, _ := tinyLoaders(t)
	empty := dataset.NewLoader(&dataset.TensorDataset{}, 4, false, 1)
	_, err := NewTrainer(tinyModel(t), DefaultOptions()).Fit(train, empty)
	assert.ErrorIs(t, err, ErrEmptySplit)
}

func TestTrainer_RestoreWithoutFit(t *testing.T) {
	assert.ErrorIs(t, NewTrainer(tinyModel(t), DefaultOptions()).RestoreBest(), ErrNoCheckpoint)
}

func TestMetrics_WriteFile(t *testing.T) {
	m := NewMetrics("abc")
	m.ObserveStep(0.5)
	m.ObserveEval("test", Result{Loss: 0.7, Accuracy: 0.5})

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)
	assert.True(t, strings.Contains(text, `textclf_train_steps_total{run_id="abc"} 1`), text)
	assert.True(t, strings.Contains(text, `textclf_eval_accuracy{run_id="abc",split="test"} 0.5`), text)
}
