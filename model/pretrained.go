package model

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/clems4ever/textclf/tensor"
	"github.com/sirupsen/logrus"
)

// freshly initialized when absent from a checkpoint
var headPrefixes = []string{"classifier.", "bert.pooler."}

func isHead(name string) bool {
	for _, p := range headPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// checkpointNames lists the names a parameter may appear under: with or
// without the "bert." prefix, and with the older gamma/beta LayerNorm names.
func checkpointNames(name string) []string {
	names := []string{name}
	if rest, ok := strings.CutPrefix(name, "bert."); ok {
		names = append(names, rest)
	}
	if strings.Contains(name, "LayerNorm.") {
		for _, n := range slices.Clone(names) {
			n = strings.Replace(n, "LayerNorm.weight", "LayerNorm.gamma", 1)
			n = strings.Replace(n, "LayerNorm.bias", "LayerNorm.beta", 1)
			names = append(names, n)
		}
	}
	return names
}

func fromRaw(p Parameter, raw RawTensor) (*tensor.Tensor, error) {
	if !raw.IsFloat() {
		return nil, fmt.Errorf("%w: %s has dtype %s", ErrStateDict, p.Name, raw.DType)
	}
	m, err := raw.Matrix()
	if err != nil {
		return nil, err
	}
	if p.Transposed {
		m = tensor.Transpose(m)
	}
	if m.Shape() != p.Tensor.Shape() {
		return nil, fmt.Errorf("%w: %s has shape %v, want %v", ErrStateDict, p.Name, raw.Shape, p.Tensor.Shape())
	}
	return m, nil
}

// LoadPretrained reads config.json and model.safetensors from dir. When
// labels is non-empty it replaces the checkpoint's label set. The pooler and
// classifier are initialized from seed when the checkpoint lacks them or their
// shape no longer fits; any other missing weight is an error.
func LoadPretrained(dir string, labels []string, seed int64, log logrus.FieldLogger) (*BertForSequenceClassification, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 && !slices.Equal(labels, cfg.Labels()) {
		cfg.SetLabels(labels)
	}

	weights, err := ReadSafetensors(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}
	m, err := New(cfg, seed)
	if err != nil {
		return nil, err
	}

	var fresh []string
	used := make(map[string]bool, len(weights))
	for _, p := range m.NamedParameters() {
		var src *tensor.Tensor
		var loadErr error
		for _, name := range checkpointNames(p.Name) {
			raw, ok := weights[name]
			if !ok {
				continue
			}
			used[name] = true
			src, loadErr = fromRaw(p, raw)
			break
		}
		if src == nil {
			if !isHead(p.Name) {
				if loadErr != nil {
					return nil, loadErr
				}
				return nil, fmt.Errorf("%w: checkpoint has no %s", ErrStateDict, p.Name)
			}
			fresh = append(fresh, p.Name)
			continue
		}
		if err := p.Tensor.CopyFrom(src); err != nil {
			return nil, err
		}
	}
	var unused []string
	for name := range weights {
		if !used[name] {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		slices.Sort(unused)
		log.WithField("weights", unused).Info("some checkpoint weights were not used by the model")
	}
	if len(fresh) > 0 {
		log.WithField("weights", fresh).Warn("some weights were not in the checkpoint and are newly initialized; train the model before using it for predictions")
	}
	log.WithFields(logrus.Fields{
		"dir":        dir,
		"parameters": m.NumParameters(),
		"labels":     cfg.NumLabels(),
	}).Info("loaded pretrained model")
	return m, nil
}

// SavePretrained writes config.json and model.safetensors to dir.
func (m *BertForSequenceClassification) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	m.Config.Architectures = []string{ArchitectureName}
	if err := m.Config.Save(filepath.Join(dir, ConfigFile)); err != nil {
		return err
	}

	named := m.NamedParameters()
	raw := make(map[string]RawTensor, len(named))
	for _, p := range named {
		t := p.Tensor
		if p.Transposed {
			t = tensor.Transpose(t)
		}
		shape := []int{t.Rows(), t.Cols()}
		if p.Vector {
			shape = []int{t.Cols()}
		}
		raw[p.Name] = RawTensor{Shape: shape, Data: t.Data()}
	}
	return WriteSafetensors(filepath.Join(dir, WeightsFile), raw, map[string]string{"format": "pt"})
}
