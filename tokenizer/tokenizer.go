package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	TokenPad  = "[PAD]"
	TokenUnk  = "[UNK]"
	TokenCLS  = "[CLS]"
	TokenSEP  = "[SEP]"
	TokenMask = "[MASK]"

	// bpePrefix marks vocabulary entries that stand for a tiktoken id.
	bpePrefix = "bpe:"

	DefaultModelMaxLength = 512
)

// SpecialTokens in the order BuildTokenizer assigns them.
var SpecialTokens = []string{TokenPad, TokenUnk, TokenCLS, TokenSEP, TokenMask}

var (
	ErrMissingSpecialToken = errors.New("special token missing from vocab")
	ErrEmptyVocab          = errors.New("vocab is empty")
)

// Options configures how raw text is turned into tokens.
type Options struct {
	Lowercase bool
	StripHTML bool
	// Encoding names a tiktoken encoding (e.g. "cl100k_base"). When set,
	// words are split into BPE pieces instead of WordPiece pieces.
	Encoding       string
	ModelMaxLength int
}

func DefaultOptions() Options {
	return Options{
		Lowercase:      true,
		ModelMaxLength: DefaultModelMaxLength,
	}
}

type Tokenizer struct {
	vocab            map[string]int
	vocabInv         map[int]string
	basic            *BasicTokenizer
	wordpiece        *WordPiece
	contentTokenizer *tiktoken.Tiktoken
	opts             Options

	padID, unkID, clsID, sepID int
}

// NewTokenizer loads a BERT vocab.txt: one token per line, id = line number.
func NewTokenizer(vocabPath string, opts Options) (*Tokenizer, error) {
	tokens, err := readVocabFile(vocabPath)
	if err != nil {
		return nil, err
	}
	return NewFromVocab(tokens, opts)
}

// NewFromVocab builds a tokenizer whose token i has id i.
func NewFromVocab(tokens []string, opts Options) (*Tokenizer, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyVocab
	}
	if opts.ModelMaxLength <= 0 {
		opts.ModelMaxLength = DefaultModelMaxLength
	}

	vocab := make(map[string]int, len(tokens))
	vocabInv := make(map[int]string, len(tokens))
	for i, tok := range tokens {
		vocab[tok] = i
		vocabInv[i] = tok
	}

	t := &Tokenizer{
		vocab:     vocab,
		vocabInv:  vocabInv,
		basic:     NewBasicTokenizer(opts.Lowercase, SpecialTokens),
		wordpiece: NewWordPiece(vocab, TokenUnk),
		opts:      opts,
	}

	ids := make([]int, 0, 4)
	for _, special := range []string{TokenPad, TokenUnk, TokenCLS, TokenSEP} {
		id, ok := vocab[special]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSpecialToken, special)
		}
		ids = append(ids, id)
	}
	t.padID, t.unkID, t.clsID, t.sepID = ids[0], ids[1], ids[2], ids[3]

	if opts.Encoding != "" {
		tke, err := tiktoken.GetEncoding(opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
		}
		t.contentTokenizer = tke
	}
	return t, nil
}

func readVocabFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab file: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab file: %w", err)
	}
	return tokens, nil
}

func (t *Tokenizer) VocabSize() int { return len(t.vocabInv) }

func (t *Tokenizer) Options() Options { return t.opts }

func (t *Tokenizer) PadID() int { return t.padID }

func (t *Tokenizer) UnkID() int { return t.unkID }

func (t *Tokenizer) CLSID() int { return t.clsID }

func (t *Tokenizer) SEPID() int { return t.sepID }

// Tokenize returns the subword pieces of text, without special tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	if t.opts.StripHTML {
		if stripped, err := StripHTML(text); err == nil {
			text = stripped
		}
	}

	var pieces []string
	for _, word := range t.basic.Tokenize(text) {
		if _, special := t.basic.NeverSplit[word]; special {
			pieces = append(pieces, word)
			continue
		}
		if t.contentTokenizer != nil {
			pieces = append(pieces, t.bpePieces(word)...)
		} else {
			pieces = append(pieces, t.wordpiece.Tokenize(word)...)
		}
	}
	return pieces
}

func (t *Tokenizer) bpePieces(word string) []string {
	ids := t.contentTokenizer.Encode(word, nil, nil)
	pieces := make([]string, len(ids))
	for i, id := range ids {
		piece := bpeToken(id, i > 0)
		if _, ok := t.vocab[piece]; !ok {
			return []string{TokenUnk}
		}
		pieces[i] = piece
	}
	return pieces
}

func bpeToken(id int, continuation bool) string {
	tok := bpePrefix + strconv.Itoa(id)
	if continuation {
		return ContinuationPrefix + tok
	}
	return tok
}

func (t *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, ok := t.vocab[tok]
		if !ok {
			id = t.unkID
		}
		ids[i] = id
	}
	return ids
}

func (t *Tokenizer) isSpecial(id int) bool {
	return id == t.padID || id == t.clsID || id == t.sepID
}

// Decode joins pieces back into words. Continuation pieces are glued to the
// previous piece and BPE pieces are decoded through tiktoken.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) string {
	var words []string
	var pieces []string
	flush := func() {
		if len(pieces) > 0 {
			words = append(words, t.renderWord(pieces))
			pieces = nil
		}
	}

	for _, id := range ids {
		if skipSpecial && t.isSpecial(id) {
			continue
		}
		tok, ok := t.vocabInv[id]
		if !ok {
			tok = TokenUnk
		}
		if !strings.HasPrefix(tok, ContinuationPrefix) {
			flush()
		}
		pieces = append(pieces, strings.TrimPrefix(tok, ContinuationPrefix))
	}
	flush()
	return strings.Join(words, " ")
}

func (t *Tokenizer) renderWord(pieces []string) string {
	var bpe []int
	var sb strings.Builder
	emitBPE := func() {
		if len(bpe) > 0 && t.contentTokenizer != nil {
			sb.WriteString(t.contentTokenizer.Decode(bpe))
		}
		bpe = bpe[:0]
	}
	for _, p := range pieces {
		if rest, ok := strings.CutPrefix(p, bpePrefix); ok {
			if id, err := strconv.Atoi(rest); err == nil {
				bpe = append(bpe, id)
				continue
			}
		}
		emitBPE()
		sb.WriteString(p)
	}
	emitBPE()
	return sb.String()
}
