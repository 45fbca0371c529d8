package training

import (
	"errors"
	"fmt"
	"math"

	"github.com/clems4ever/textclf/dataset"
	"github.com/clems4ever/textclf/tensor"
	"github.com/sirupsen/logrus"
)

var ErrNoCheckpoint = errors.New("no best checkpoint recorded")

type Options struct {
	Epochs      int
	MaxGradNorm float64
	Optimizer   AdamWOptions
	StepSize    int
	Gamma       float64
	Logger      logrus.FieldLogger
	Metrics     *Metrics
}

func DefaultOptions() Options {
	return Options{
		Epochs:      10,
		MaxGradNorm: 1.0,
		Optimizer:   DefaultAdamWOptions(),
		StepSize:    5,
		Gamma:       0.1,
	}
}

type EpochStats struct {
	Epoch        int     `yaml:"epoch"`
	TrainLoss    float64 `yaml:"train_loss"`
	ValLoss      float64 `yaml:"validation_loss"`
	ValAccuracy  float64 `yaml:"validation_accuracy"`
	LearningRate float64 `yaml:"learning_rate"`
	Improved     bool    `yaml:"improved"`
}

// History is the per-epoch record of a Fit call. BestEpoch is 1-based and
// zero when no epoch improved on +Inf.
type History struct {
	Epochs      []EpochStats `yaml:"epochs"`
	BestEpoch   int          `yaml:"best_epoch"`
	BestValLoss float64      `yaml:"best_validation_loss"`
}

type Trainer struct {
	model   Model
	opts    Options
	opt     *AdamW
	sched   *StepLR
	log     logrus.FieldLogger
	best    map[string]*tensor.Tensor
	history *History
}

func NewTrainer(m Model, opts Options) *Trainer {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	opt := NewAdamW(m.Parameters(), opts.Optimizer)
	return &Trainer{
		model: m,
		opts:  opts,
		opt:   opt,
		sched: NewStepLR(opt, opts.StepSize, opts.Gamma),
		log:   log,
	}
}

// Fit trains for the configured number of epochs, validating after each one
// and snapshotting the parameters whenever validation loss strictly
// improves.
func (t *Trainer) Fit(train, val *dataset.Loader) (*History, error) {
	if train.Dataset.Len() == 0 {
		return nil, fmt.Errorf("training: %w", ErrEmptySplit)
	}
	if val.Dataset.Len() == 0 {
		return nil, fmt.Errorf("validation: %w", ErrEmptySplit)
	}

	t.history = &History{BestValLoss: math.Inf(1)}
	valBatches := val.Batches()
	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		// the rate this epoch trained at, before the schedule advances
		lr := t.sched.LR()
		trainLoss, err := t.trainEpoch(train.Batches())
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.sched.Step()

		res, err := Evaluate(t.model, valBatches)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		stats := EpochStats{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			ValLoss:      res.Loss,
			ValAccuracy:  res.Accuracy,
			LearningRate: lr,
		}
		if res.Loss < t.history.BestValLoss {
			t.history.BestValLoss = res.Loss
			t.history.BestEpoch = epoch
			t.best = t.model.StateDict()
			stats.Improved = true
		}
		t.history.Epochs = append(t.history.Epochs, stats)
		if t.opts.Metrics != nil {
			t.opts.Metrics.ObserveEpoch(stats, t.history.BestValLoss)
		}

		t.log.WithFields(logrus.Fields{
			"epoch":               epoch,
			"train_loss":          trainLoss,
			"validation_loss":     res.Loss,
			"validation_accuracy": res.Accuracy,
			"learning_rate":       stats.LearningRate,
			"best":                stats.Improved,
		}).Info("epoch finished")
	}
	return t.history, nil
}

func (t *Trainer) trainEpoch(batches []dataset.Batch) (float64, error) {
	total := 0.0
	for i, b := range batches {
		t.model.ZeroGrad()
		out, err := t.model.Forward(batchInput(b), true)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		if math.IsNaN(out.Loss) {
			return 0, fmt.Errorf("batch %d: loss is NaN", i)
		}
		if err := t.model.Backward(out); err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		norm := t.model.ClipGradNorm(t.opts.MaxGradNorm)
		t.opt.Step()
		if t.opts.Metrics != nil {
			t.opts.Metrics.ObserveStep(norm)
		}
		total += out.Loss
		t.log.WithFields(logrus.Fields{"batch": i, "loss": out.Loss, "grad_norm": norm}).Debug("step")
	}
	return total / float64(len(batches)), nil
}

// History returns the record of the last Fit call.
func (t *Trainer) History() *History { return t.history }

// RestoreBest loads the best snapshot back into the model.
func (t *Trainer) RestoreBest() error {
	if t.best == nil {
		return ErrNoCheckpoint
	}
	if err := t.model.LoadStateDict(t.best); err != nil {
		return fmt.Errorf("failed to restore best checkpoint: %w", err)
	}
	return nil
}
