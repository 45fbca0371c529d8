package tokenizer

import (
	"fmt"
	"sort"

	"github.com/pkoukk/tiktoken-go"
)

// BuildOptions controls vocabulary construction from a corpus.
type BuildOptions struct {
	// MinFrequency drops whole words seen fewer times. Characters are always
	// kept so WordPiece can cover any word of the corpus.
	MinFrequency int
	// MaxSize caps the vocabulary; zero means unlimited.
	MaxSize int
}

// BuildTokenizer derives a vocabulary from texts and returns a tokenizer
// over it. Ids are deterministic: special tokens first, then entries by
// descending frequency with ties broken lexically.
func BuildTokenizer(texts []string, opts Options, build BuildOptions) (*Tokenizer, error) {
	basic := NewBasicTokenizer(opts.Lowercase, SpecialTokens)

	var tke *tiktoken.Tiktoken
	if opts.Encoding != "" {
		var err error
		tke, err = tiktoken.GetEncoding(opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
		}
	}

	counts := make(map[string]int)
	for _, text := range texts {
		if opts.StripHTML {
			if stripped, err := StripHTML(text); err == nil {
				text = stripped
			}
		}
		for _, word := range basic.Tokenize(text) {
			if tke != nil {
				for i, id := range tke.Encode(word, nil, nil) {
					counts[bpeToken(id, i > 0)]++
				}
				continue
			}
			counts[word]++
			for i, r := range []rune(word) {
				if i == 0 {
					counts[string(r)]++
				} else {
					counts[ContinuationPrefix+string(r)]++
				}
			}
		}
	}

	return NewFromVocab(rankVocab(counts, build), opts)
}

func rankVocab(counts map[string]int, build BuildOptions) []string {
	type entry struct {
		tok   string
		count int
		char  bool
	}
	special := make(map[string]bool, len(SpecialTokens))
	for _, s := range SpecialTokens {
		special[s] = true
	}

	var words, chars []entry
	for tok, c := range counts {
		if special[tok] {
			continue
		}
		e := entry{tok: tok, count: c, char: isSingleChar(tok)}
		if e.char {
			chars = append(chars, e)
		} else if c >= build.MinFrequency {
			words = append(words, e)
		}
	}
	byRank := func(es []entry) {
		sort.Slice(es, func(i, j int) bool {
			if es[i].count != es[j].count {
				return es[i].count > es[j].count
			}
			return es[i].tok < es[j].tok
		})
	}
	byRank(words)
	byRank(chars)

	vocab := append([]string{}, SpecialTokens...)
	for _, e := range chars {
		vocab = append(vocab, e.tok)
	}
	for _, e := range words {
		if build.MaxSize > 0 && len(vocab) >= build.MaxSize {
			break
		}
		vocab = append(vocab, e.tok)
	}
	return vocab
}

// isSingleChar reports whether tok is one rune, optionally "##"-prefixed.
func isSingleChar(tok string) bool {
	if len(tok) > len(ContinuationPrefix) && tok[:len(ContinuationPrefix)] == ContinuationPrefix {
		tok = tok[len(ContinuationPrefix):]
	}
	return len([]rune(tok)) == 1
}
