package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
)

const (
	ConfigFile       = "config.json"
	ArchitectureName = "BertForSequenceClassification"
)

var ErrInvalidConfig = errors.New("invalid model config")

// Config is the HuggingFace BertConfig document.
type Config struct {
	Architectures             []string          `json:"architectures,omitempty"`
	ModelType                 string            `json:"model_type"`
	VocabSize                 int               `json:"vocab_size"`
	HiddenSize                int               `json:"hidden_size"`
	NumHiddenLayers           int               `json:"num_hidden_layers"`
	NumAttentionHeads         int               `json:"num_attention_heads"`
	IntermediateSize          int               `json:"intermediate_size"`
	HiddenAct                 string            `json:"hidden_act"`
	HiddenDropoutProb         float64           `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64           `json:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int               `json:"max_position_embeddings"`
	TypeVocabSize             int               `json:"type_vocab_size"`
	InitializerRange          float64           `json:"initializer_range"`
	LayerNormEps              float64           `json:"layer_norm_eps"`
	PadTokenID                int               `json:"pad_token_id"`
	ProblemType               string            `json:"problem_type,omitempty"`
	ID2Label                  map[string]string `json:"id2label,omitempty"`
	Label2ID                  map[string]int    `json:"label2id,omitempty"`
}

// DefaultConfig matches bert-base-uncased.
func DefaultConfig() *Config {
	return &Config{
		ModelType:                 "bert",
		VocabSize:                 30522,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     512,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

// SetLabels replaces the label maps; label i gets id i.
func (c *Config) SetLabels(labels []string) {
	c.ID2Label = make(map[string]string, len(labels))
	c.Label2ID = make(map[string]int, len(labels))
	for i, l := range labels {
		c.ID2Label[strconv.Itoa(i)] = l
		c.Label2ID[l] = i
	}
}

// NumLabels defaults to 2 like BertConfig when no labels are set.
func (c *Config) NumLabels() int {
	if len(c.ID2Label) == 0 {
		return 2
	}
	return len(c.ID2Label)
}

// Labels returns label names ordered by id. Missing names become LABEL_i.
func (c *Config) Labels() []string {
	out := make([]string, c.NumLabels())
	for i := range out {
		if name, ok := c.ID2Label[strconv.Itoa(i)]; ok {
			out[i] = name
		} else {
			out[i] = "LABEL_" + strconv.Itoa(i)
		}
	}
	return out
}

func (c *Config) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

func (c *Config) Validate() error {
	switch {
	case c.VocabSize <= 0, c.HiddenSize <= 0, c.NumHiddenLayers < 0, c.NumAttentionHeads <= 0,
		c.IntermediateSize <= 0, c.MaxPositionEmbeddings <= 0, c.TypeVocabSize <= 0:
		return fmt.Errorf("%w: sizes must be positive", ErrInvalidConfig)
	case c.HiddenSize%c.NumAttentionHeads != 0:
		return fmt.Errorf("%w: hidden_size %d not divisible by num_attention_heads %d", ErrInvalidConfig, c.HiddenSize, c.NumAttentionHeads)
	case c.HiddenAct != "" && c.HiddenAct != "gelu":
		return fmt.Errorf("%w: unsupported hidden_act %q", ErrInvalidConfig, c.HiddenAct)
	case c.HiddenDropoutProb < 0 || c.HiddenDropoutProb >= 1:
		return fmt.Errorf("%w: hidden_dropout_prob %v", ErrInvalidConfig, c.HiddenDropoutProb)
	case len(c.ID2Label) > 0:
		ids := make([]int, 0, len(c.ID2Label))
		for k := range c.ID2Label {
			id, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("%w: id2label key %q", ErrInvalidConfig, k)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for i, id := range ids {
			if i != id {
				return fmt.Errorf("%w: id2label ids must be 0..%d", ErrInvalidConfig, len(ids)-1)
			}
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode model config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model config: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write model config: %w", err)
	}
	return nil
}
