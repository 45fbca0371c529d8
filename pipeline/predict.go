package pipeline

import (
	"errors"
	"fmt"

	"github.com/clems4ever/textclf/model"
	"github.com/clems4ever/textclf/tensor"
	"github.com/clems4ever/textclf/tokenizer"
	"github.com/sirupsen/logrus"
)

var ErrNoTexts = errors.New("no texts to classify")

// Prediction is the top label for one text with the full distribution.
type Prediction struct {
	Text    string             `json:"text" yaml:"text"`
	Label   string             `json:"label" yaml:"label"`
	LabelID int                `json:"label_id" yaml:"label_id"`
	Score   float64            `json:"score" yaml:"score"`
	Scores  map[string]float64 `json:"scores" yaml:"scores"`
}

// Classifier serves predictions from a saved output directory.
type Classifier struct {
	model *model.BertForSequenceClassification
	tok   *tokenizer.Tokenizer
}

func LoadClassifier(dir string, log logrus.FieldLogger) (*Classifier, error) {
	tok, err := tokenizer.LoadPretrained(dir, tokenizer.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	m, err := model.LoadPretrained(dir, nil, 0, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return &Classifier{model: m, tok: tok}, nil
}

func (c *Classifier) Labels() []string { return c.model.Config.Labels() }

func (c *Classifier) Predict(texts []string) ([]Prediction, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}
	enc, err := c.tok.Encode(texts, tokenizer.EncodeOptions{
		Padding:    tokenizer.PaddingLongest,
		MaxLength:  c.model.Config.MaxPositionEmbeddings,
		Truncation: true,
	})
	if err != nil {
		return nil, err
	}
	out, err := c.model.Forward(model.Input{
		InputIDs:      enc.InputIDs,
		AttentionMask: enc.AttentionMask,
		TokenTypeIDs:  enc.TokenTypeIDs,
	}, false)
	if err != nil {
		return nil, err
	}

	labels := c.Labels()
	probs := model.Probabilities(out.Logits)
	best := tensor.ArgMaxRows(probs)
	preds := make([]Prediction, len(texts))
	for i, text := range texts {
		scores := make(map[string]float64, len(labels))
		for j, p := range probs.Row(i) {
			scores[labels[j]] = p
		}
		preds[i] = Prediction{
			Text:    text,
			Label:   labels[best[i]],
			LabelID: best[i],
			Score:   probs.At(i, best[i]),
			Scores:  scores,
		}
	}
	return preds, nil
}

// Predict loads dir and classifies texts.
func Predict(dir string, texts []string, log logrus.FieldLogger) ([]Prediction, error) {
	c, err := LoadClassifier(dir, log)
	if err != nil {
		return nil, err
	}
	return c.Predict(texts)
}
