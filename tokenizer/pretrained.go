package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	VocabFile         = "vocab.txt"
	ConfigFile        = "tokenizer_config.json"
	SpecialTokensFile = "special_tokens_map.json"
)

// Config is the tokenizer_config.json document. The BERT fields follow the
// HuggingFace layout; bpe_encoding and strip_html are our own.
type Config struct {
	TokenizerClass string `json:"tokenizer_class"`
	DoLowerCase    bool   `json:"do_lower_case"`
	ModelMaxLength int    `json:"model_max_length"`
	PadToken       string `json:"pad_token"`
	UnkToken       string `json:"unk_token"`
	ClsToken       string `json:"cls_token"`
	SepToken       string `json:"sep_token"`
	MaskToken      string `json:"mask_token"`
	BPEEncoding    string `json:"bpe_encoding,omitempty"`
	StripHTML      bool   `json:"strip_html,omitempty"`
}

type specialTokensMap struct {
	PadToken  string `json:"pad_token"`
	UnkToken  string `json:"unk_token"`
	ClsToken  string `json:"cls_token"`
	SepToken  string `json:"sep_token"`
	MaskToken string `json:"mask_token"`
}

// SavePretrained writes vocab.txt, tokenizer_config.json and
// special_tokens_map.json into dir, replacing files of the same name.
func (t *Tokenizer) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tokenizer dir: %w", err)
	}

	if err := t.writeVocab(filepath.Join(dir, VocabFile)); err != nil {
		return err
	}

	cfg := Config{
		TokenizerClass: "BertTokenizer",
		DoLowerCase:    t.opts.Lowercase,
		ModelMaxLength: t.opts.ModelMaxLength,
		PadToken:       TokenPad,
		UnkToken:       TokenUnk,
		ClsToken:       TokenCLS,
		SepToken:       TokenSEP,
		MaskToken:      TokenMask,
		BPEEncoding:    t.opts.Encoding,
		StripHTML:      t.opts.StripHTML,
	}
	if err := writeJSON(filepath.Join(dir, ConfigFile), cfg); err != nil {
		return err
	}

	special := specialTokensMap{
		PadToken:  TokenPad,
		UnkToken:  TokenUnk,
		ClsToken:  TokenCLS,
		SepToken:  TokenSEP,
		MaskToken: TokenMask,
	}
	return writeJSON(filepath.Join(dir, SpecialTokensFile), special)
}

func (t *Tokenizer) writeVocab(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vocab file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := 0; i < len(t.vocabInv); i++ {
		if _, err := fmt.Fprintln(w, t.vocabInv[i]); err != nil {
			return fmt.Errorf("failed to write vocab file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write vocab file: %w", err)
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadPretrained reads a directory written by SavePretrained or a
// HuggingFace BERT tokenizer directory. A missing tokenizer_config.json
// falls back to base, and base's ModelMaxLength/StripHTML fill the gaps.
func LoadPretrained(dir string, base Options) (*Tokenizer, error) {
	opts := base
	b, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	switch {
	case err == nil:
		var cfg Config
		// HF configs may carry do_lower_case only; keep base for the rest.
		cfg.DoLowerCase = base.Lowercase
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode tokenizer config: %w", err)
		}
		opts.Lowercase = cfg.DoLowerCase
		if cfg.ModelMaxLength > 0 && cfg.ModelMaxLength < 1<<20 {
			opts.ModelMaxLength = cfg.ModelMaxLength
		}
		if cfg.BPEEncoding != "" {
			opts.Encoding = cfg.BPEEncoding
		}
		opts.StripHTML = opts.StripHTML || cfg.StripHTML
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read tokenizer config: %w", err)
	}
	return NewTokenizer(filepath.Join(dir, VocabFile), opts)
}
