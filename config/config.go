package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "TEXTCLF"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer" yaml:"tokenizer"`
	Model     ModelConfig     `mapstructure:"model" yaml:"model"`
	Training  TrainingConfig  `mapstructure:"training" yaml:"training"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type DataConfig struct {
	CSVPath      string   `mapstructure:"csv_path" yaml:"csv_path"`
	TextColumn   string   `mapstructure:"text_column" yaml:"text_column"`
	LabelColumn  string   `mapstructure:"label_column" yaml:"label_column"`
	Labels       []string `mapstructure:"labels" yaml:"labels"`
	Seed         int64    `mapstructure:"seed" yaml:"seed"`
	HoldOut      float64  `mapstructure:"hold_out" yaml:"hold_out"`
	TestFraction float64  `mapstructure:"test_fraction" yaml:"test_fraction"`
}

type TokenizerConfig struct {
	// Pretrained is a directory holding vocab.txt. When empty a vocabulary
	// is built from the training split.
	Pretrained   string `mapstructure:"pretrained" yaml:"pretrained"`
	Lowercase    bool   `mapstructure:"lowercase" yaml:"lowercase"`
	StripHTML    bool   `mapstructure:"strip_html" yaml:"strip_html"`
	Encoding     string `mapstructure:"encoding" yaml:"encoding"`
	MaxLength    int    `mapstructure:"max_length" yaml:"max_length"`
	Padding      string `mapstructure:"padding" yaml:"padding"`
	MinFrequency int    `mapstructure:"min_frequency" yaml:"min_frequency"`
	MaxVocabSize int    `mapstructure:"max_vocab_size" yaml:"max_vocab_size"`
}

type ModelConfig struct {
	// Pretrained is a directory holding config.json and model.safetensors.
	Pretrained        string  `mapstructure:"pretrained" yaml:"pretrained"`
	HiddenSize        int     `mapstructure:"hidden_size" yaml:"hidden_size"`
	NumLayers         int     `mapstructure:"num_layers" yaml:"num_layers"`
	NumHeads          int     `mapstructure:"num_heads" yaml:"num_heads"`
	IntermediateSize  int     `mapstructure:"intermediate_size" yaml:"intermediate_size"`
	MaxPositions      int     `mapstructure:"max_positions" yaml:"max_positions"`
	HiddenDropoutProb float64 `mapstructure:"hidden_dropout_prob" yaml:"hidden_dropout_prob"`
	Seed              int64   `mapstructure:"seed" yaml:"seed"`
}

type TrainingConfig struct {
	Epochs       int     `mapstructure:"epochs" yaml:"epochs"`
	BatchSize    int     `mapstructure:"batch_size" yaml:"batch_size"`
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	Beta1        float64 `mapstructure:"beta1" yaml:"beta1"`
	Beta2        float64 `mapstructure:"beta2" yaml:"beta2"`
	Eps          float64 `mapstructure:"eps" yaml:"eps"`
	WeightDecay  float64 `mapstructure:"weight_decay" yaml:"weight_decay"`
	MaxGradNorm  float64 `mapstructure:"max_grad_norm" yaml:"max_grad_norm"`
	StepSize     int     `mapstructure:"step_size" yaml:"step_size"`
	Gamma        float64 `mapstructure:"gamma" yaml:"gamma"`
	Device       string  `mapstructure:"device" yaml:"device"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.csv_path", "models/firstTry/df_dummy.csv")
	v.SetDefault("data.text_column", "x")
	v.SetDefault("data.label_column", "y")
	v.SetDefault("data.labels", []string{"medical_info", "transportation", "asylum"})
	v.SetDefault("data.seed", 42)
	v.SetDefault("data.hold_out", 0.4)
	v.SetDefault("data.test_fraction", 0.5)

	v.SetDefault("tokenizer.pretrained", "")
	v.SetDefault("tokenizer.lowercase", true)
	v.SetDefault("tokenizer.strip_html", false)
	v.SetDefault("tokenizer.encoding", "")
	v.SetDefault("tokenizer.max_length", 512)
	v.SetDefault("tokenizer.padding", "longest")
	v.SetDefault("tokenizer.min_frequency", 1)
	v.SetDefault("tokenizer.max_vocab_size", 30522)

	v.SetDefault("model.pretrained", "")
	v.SetDefault("model.hidden_size", 768)
	v.SetDefault("model.num_layers", 12)
	v.SetDefault("model.num_heads", 12)
	v.SetDefault("model.intermediate_size", 3072)
	v.SetDefault("model.max_positions", 512)
	v.SetDefault("model.hidden_dropout_prob", 0.1)
	v.SetDefault("model.seed", 42)

	v.SetDefault("training.epochs", 10)
	v.SetDefault("training.batch_size", 8)
	v.SetDefault("training.learning_rate", 2e-5)
	v.SetDefault("training.beta1", 0.9)
	v.SetDefault("training.beta2", 0.999)
	v.SetDefault("training.eps", 1e-6)
	v.SetDefault("training.weight_decay", 0.0)
	v.SetDefault("training.max_grad_norm", 1.0)
	v.SetDefault("training.step_size", 5)
	v.SetDefault("training.gamma", 0.1)
	v.SetDefault("training.device", "auto")

	v.SetDefault("output.dir", "fine_tuned_model")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when no file, environment or flag
// overrides anything.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// Load layers defaults, the optional YAML file at path, TEXTCLF_* environment
// variables (TEXTCLF_TRAINING_EPOCHS for training.epochs) and overrides, in
// increasing precedence.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Data.CSVPath != "", "data.csv_path is empty")
	check(len(c.Data.Labels) >= 2, "data.labels needs at least two labels, got %d", len(c.Data.Labels))
	check(c.Data.HoldOut > 0 && c.Data.HoldOut < 1, "data.hold_out %v not in (0,1)", c.Data.HoldOut)
	check(c.Data.TestFraction > 0 && c.Data.TestFraction < 1, "data.test_fraction %v not in (0,1)", c.Data.TestFraction)
	check(c.Tokenizer.MaxLength >= 2, "tokenizer.max_length %d is too small", c.Tokenizer.MaxLength)
	check(c.Tokenizer.Padding == "longest" || c.Tokenizer.Padding == "max_length", "tokenizer.padding %q is not longest or max_length", c.Tokenizer.Padding)
	check(c.Training.Epochs > 0, "training.epochs must be positive")
	check(c.Training.BatchSize > 0, "training.batch_size must be positive")
	check(c.Training.LearningRate > 0, "training.learning_rate must be positive")
	check(c.Training.StepSize > 0, "training.step_size must be positive")
	check(c.Output.Dir != "", "output.dir is empty")
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q is not text or json", c.Log.Format)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
