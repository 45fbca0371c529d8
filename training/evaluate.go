package training

import (
	"errors"
	"fmt"

	"github.com/clems4ever/textclf/dataset"
	"github.com/clems4ever/textclf/model"
	"github.com/clems4ever/textclf/tensor"
)

var ErrEmptySplit = errors.New("split has no examples")

// Model is what the trainer and evaluator drive.
type Model interface {
	Forward(in model.Input, train bool) (*model.Output, error)
	Backward(out *model.Output) error
	ZeroGrad()
	ClipGradNorm(maxNorm float64) float64
	Parameters() []*tensor.Tensor
	StateDict() map[string]*tensor.Tensor
	LoadStateDict(sd map[string]*tensor.Tensor) error
}

// Result is a loss/accuracy pair over one split.
type Result struct {
	Loss     float64 `yaml:"loss"`
	Accuracy float64 `yaml:"accuracy"`
	Correct  int     `yaml:"correct"`
	Examples int     `yaml:"examples"`
}

func batchInput(b dataset.Batch) model.Input {
	return model.Input{
		InputIDs:      b.InputIDs,
		AttentionMask: b.AttentionMask,
		TokenTypeIDs:  b.TokenTypeIDs,
		Labels:        b.Labels,
	}
}

// Evaluate runs forward passes with dropout off. Loss is the mean of the
// batch losses; accuracy is over examples.
func Evaluate(m Model, batches []dataset.Batch) (Result, error) {
	if len(batches) == 0 {
		return Result{}, ErrEmptySplit
	}
	var res Result
	total := 0.0
	for i, b := range batches {
		out, err := m.Forward(batchInput(b), false)
		if err != nil {
			return Result{}, fmt.Errorf("failed to evaluate batch %d: %w", i, err)
		}
		total += out.Loss
		for j, pred := range tensor.ArgMaxRows(out.Logits) {
			if pred == b.Labels[j] {
				res.Correct++
			}
		}
		res.Examples += b.Len()
	}
	if res.Examples == 0 {
		return Result{}, ErrEmptySplit
	}
	res.Loss = total / float64(len(batches))
	res.Accuracy = float64(res.Correct) / float64(res.Examples)
	return res, nil
}
