package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clems4ever/textclf/config"
	"github.com/clems4ever/textclf/dataset"
	"github.com/clems4ever/textclf/model"
	"github.com/clems4ever/textclf/tensor"
	"github.com/clems4ever/textclf/tokenizer"
	"github.com/clems4ever/textclf/training"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	RunFile     = "training_run.yaml"
	MetricsFile = "metrics.prom"
)

type SplitSizes struct {
	Train      int `yaml:"train"`
	Validation int `yaml:"validation"`
	Test       int `yaml:"test"`
}

// Report summarizes one Run and is written to training_run.yaml.
type Report struct {
	RunID        string            `yaml:"run_id"`
	StartedAt    time.Time         `yaml:"started_at"`
	Duration     string            `yaml:"duration"`
	Device       string            `yaml:"device"`
	OutputDir    string            `yaml:"output_dir"`
	Rows         int               `yaml:"rows"`
	SkippedRows  int               `yaml:"skipped_rows"`
	Distribution map[string]int    `yaml:"class_distribution"`
	Splits       SplitSizes        `yaml:"splits"`
	VocabSize    int               `yaml:"vocab_size"`
	Parameters   int               `yaml:"parameters"`
	History      *training.History `yaml:"history"`
	Test         training.Result   `yaml:"test"`
	Config       *config.Config    `yaml:"config"`
}

// Run loads the dataset, trains with validation-based checkpoint selection,
// evaluates the best checkpoint on the test split and saves it to the
// output directory.
func Run(cfg *config.Config, log logrus.FieldLogger) (*Report, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		OutputDir: cfg.Output.Dir,
		Config:    cfg,
	}
	log = log.WithField("run_id", report.RunID)

	device, err := tensor.SelectDevice(cfg.Training.Device)
	if err != nil {
		return nil, err
	}
	report.Device = device.String()
	log.WithField("device", device).Info("selected device")

	labels := cfg.Data.Labels
	examples, stats, err := dataset.LoadCSV(cfg.Data.CSVPath, dataset.CSVOptions{
		TextColumn:  cfg.Data.TextColumn,
		LabelColumn: cfg.Data.LabelColumn,
		NumLabels:   len(labels),
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfg.Data.CSVPath, err)
	}
	report.Rows, report.SkippedRows = stats.Rows, stats.Skipped
	dist := dataset.ClassDistribution(examples)
	report.Distribution = make(map[string]int, len(dist))
	for id, n := range dist {
		report.Distribution[labels[id]] = n
	}
	log.WithFields(logrus.Fields{
		"rows":         stats.Rows,
		"skipped":      stats.Skipped,
		"distribution": dataset.FormatDistribution(dist),
	}).Info("loaded dataset")

	splits, err := dataset.Split(examples, dataset.SplitOptions{
		Seed:         cfg.Data.Seed,
		HoldOut:      cfg.Data.HoldOut,
		TestFraction: cfg.Data.TestFraction,
	})
	if err != nil {
		return nil, err
	}
	report.Splits = SplitSizes{Train: len(splits.Train), Validation: len(splits.Validation), Test: len(splits.Test)}
	for name, n := range map[string]int{"train": report.Splits.Train, "validation": report.Splits.Validation, "test": report.Splits.Test} {
		if n == 0 {
			return nil, fmt.Errorf("%s split of %d rows: %w", name, len(examples), training.ErrEmptySplit)
		}
	}
	log.WithFields(logrus.Fields{
		"train":      report.Splits.Train,
		"validation": report.Splits.Validation,
		"test":       report.Splits.Test,
	}).Info("split dataset")

	tok, err := loadTokenizer(cfg, dataset.Texts(splits.Train))
	if err != nil {
		return nil, err
	}
	report.VocabSize = tok.VocabSize()

	m, err := loadModel(cfg, tok, log)
	if err != nil {
		return nil, err
	}
	report.Parameters = m.NumParameters()
	log.WithFields(logrus.Fields{"vocab": tok.VocabSize(), "parameters": report.Parameters}).Info("model ready")

	encOpts := encodeOptions(cfg, m.Config.MaxPositionEmbeddings)
	trainDS, err := encodeSplit(tok, splits.Train, encOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode train split: %w", err)
	}
	valDS, err := encodeSplit(tok, splits.Validation, encOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation split: %w", err)
	}
	testDS, err := encodeSplit(tok, splits.Test, encOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode test split: %w", err)
	}

	bs := cfg.Training.BatchSize
	trainLoader := dataset.NewLoader(trainDS, bs, true, cfg.Data.Seed)
	valLoader := dataset.NewLoader(valDS, bs, false, cfg.Data.Seed)
	testLoader := dataset.NewLoader(testDS, bs, false, cfg.Data.Seed)

	metrics := training.NewMetrics(report.RunID)
	trainer := training.NewTrainer(m, trainingOptions(cfg, log, metrics))
	history, err := trainer.Fit(trainLoader, valLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to train: %w", err)
	}
	report.History = history

	if err := trainer.RestoreBest(); err != nil {
		return nil, err
	}
	report.Test, err = training.Evaluate(m, testLoader.Batches())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate test split: %w", err)
	}
	metrics.ObserveEval("test", report.Test)
	log.WithFields(logrus.Fields{
		"best_epoch":    history.BestEpoch,
		"test_loss":     report.Test.Loss,
		"test_accuracy": report.Test.Accuracy,
	}).Info("evaluated best checkpoint")

	report.Duration = time.Since(report.StartedAt).Round(time.Millisecond).String()
	if err := save(cfg.Output.Dir, m, tok, report, metrics); err != nil {
		return nil, err
	}
	log.WithField("dir", cfg.Output.Dir).Info("saved model")
	return report, nil
}

func loadTokenizer(cfg *config.Config, trainTexts []string) (*tokenizer.Tokenizer, error) {
	opts := tokenizer.Options{
		Lowercase:      cfg.Tokenizer.Lowercase,
		StripHTML:      cfg.Tokenizer.StripHTML,
		Encoding:       cfg.Tokenizer.Encoding,
		ModelMaxLength: cfg.Tokenizer.MaxLength,
	}
	dir := cfg.Tokenizer.Pretrained
	if dir == "" {
		// a pretrained model directory usually ships its vocab.txt
		dir = cfg.Model.Pretrained
	}
	if dir != "" {
		tok, err := tokenizer.LoadPretrained(dir, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer from %s: %w", dir, err)
		}
		return tok, nil
	}
	tok, err := tokenizer.BuildTokenizer(trainTexts, opts, tokenizer.BuildOptions{
		MinFrequency: cfg.Tokenizer.MinFrequency,
		MaxSize:      cfg.Tokenizer.MaxVocabSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tokenizer: %w", err)
	}
	return tok, nil
}

// ModelConfig derives the architecture from the configuration and the
// tokenizer's vocabulary.
func ModelConfig(cfg *config.Config, tok *tokenizer.Tokenizer) *model.Config {
	mc := model.DefaultConfig()
	mc.Architectures = []string{model.ArchitectureName}
	mc.VocabSize = tok.VocabSize()
	mc.PadTokenID = tok.PadID()
	mc.HiddenSize = cfg.Model.HiddenSize
	mc.NumHiddenLayers = cfg.Model.NumLayers
	mc.NumAttentionHeads = cfg.Model.NumHeads
	mc.IntermediateSize = cfg.Model.IntermediateSize
	mc.MaxPositionEmbeddings = cfg.Model.MaxPositions
	mc.HiddenDropoutProb = cfg.Model.HiddenDropoutProb
	mc.ProblemType = "single_label_classification"
	mc.SetLabels(cfg.Data.Labels)
	return mc
}

func loadModel(cfg *config.Config, tok *tokenizer.Tokenizer, log logrus.FieldLogger) (*model.BertForSequenceClassification, error) {
	if dir := cfg.Model.Pretrained; dir != "" {
		m, err := model.LoadPretrained(dir, cfg.Data.Labels, cfg.Model.Seed, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load model from %s: %w", dir, err)
		}
		if tok.VocabSize() > m.Config.VocabSize {
			return nil, fmt.Errorf("%w: tokenizer has %d entries, model embeds %d", model.ErrStateDict, tok.VocabSize(), m.Config.VocabSize)
		}
		return m, nil
	}
	return model.New(ModelConfig(cfg, tok), cfg.Model.Seed)
}

func encodeOptions(cfg *config.Config, maxPositions int) tokenizer.EncodeOptions {
	opts := tokenizer.EncodeOptions{
		Padding:    tokenizer.PaddingLongest,
		MaxLength:  min(cfg.Tokenizer.MaxLength, maxPositions),
		Truncation: true,
	}
	if cfg.Tokenizer.Padding == "max_length" {
		opts.Padding = tokenizer.PaddingMaxLength
	}
	return opts
}

func encodeSplit(tok *tokenizer.Tokenizer, examples []dataset.Example, opts tokenizer.EncodeOptions) (*dataset.TensorDataset, error) {
	enc, err := tok.Encode(dataset.Texts(examples), opts)
	if err != nil {
		return nil, err
	}
	return dataset.NewTensorDataset(enc, dataset.Labels(examples))
}

func trainingOptions(cfg *config.Config, log logrus.FieldLogger, metrics *training.Metrics) training.Options {
	t := cfg.Training
	return training.Options{
		Epochs:      t.Epochs,
		MaxGradNorm: t.MaxGradNorm,
		Optimizer: training.AdamWOptions{
			LR:          t.LearningRate,
			Beta1:       t.Beta1,
			Beta2:       t.Beta2,
			Eps:         t.Eps,
			WeightDecay: t.WeightDecay,
			CorrectBias: true,
		},
		StepSize: t.StepSize,
		Gamma:    t.Gamma,
		Logger:   log,
		Metrics:  metrics,
	}
}

func save(dir string, m *model.BertForSequenceClassification, tok *tokenizer.Tokenizer, report *Report, metrics *training.Metrics) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := m.SavePretrained(dir); err != nil {
		return err
	}
	if err := tok.SavePretrained(dir); err != nil {
		return err
	}
	b, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RunFile), b, 0644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return metrics.WriteFile(filepath.Join(dir, MetricsFile))
}

// ReadReport loads a training_run.yaml written by Run.
func ReadReport(dir string) (*Report, error) {
	b, err := os.ReadFile(filepath.Join(dir, RunFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}
	var r Report
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &r, nil
}
