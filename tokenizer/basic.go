package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// BasicTokenizer splits raw text into words and punctuation the way the
// uncased BERT pre-tokenizer does.
type BasicTokenizer struct {
	Lowercase     bool
	StripAccents  bool
	ChineseChars  bool
	NeverSplit    map[string]bool
	accentRemover transform.Transformer
}

func NewBasicTokenizer(lowercase bool, neverSplit []string) *BasicTokenizer {
	ns := make(map[string]bool, len(neverSplit))
	for _, s := range neverSplit {
		ns[s] = true
	}
	return &BasicTokenizer{
		Lowercase:     lowercase,
		StripAccents:  lowercase,
		ChineseChars:  true,
		NeverSplit:    ns,
		accentRemover: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn))),
	}
}

func (b *BasicTokenizer) Tokenize(text string) []string {
	text = cleanText(text)
	if b.ChineseChars {
		text = spaceChineseChars(text)
	}
	text = norm.NFC.String(text)

	var out []string
	for _, word := range strings.Fields(text) {
		if b.NeverSplit[word] {
			out = append(out, word)
			continue
		}
		if b.Lowercase {
			word = strings.ToLower(word)
		}
		if b.StripAccents {
			word = b.stripAccents(word)
		}
		out = append(out, splitOnPunctuation(word)...)
	}
	return out
}

func (b *BasicTokenizer) stripAccents(s string) string {
	res, _, err := transform.String(b.accentRemover, s)
	if err != nil {
		return s
	}
	return res
}

func cleanText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == unicode.ReplacementChar || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			sb.WriteByte(' ')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func spaceChineseChars(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if isChineseChar(r) {
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func splitOnPunctuation(word string) []string {
	var out []string
	var cur []rune
	for _, r := range word {
		if isPunctuation(r) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r))
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs)
}

// isPunctuation treats every non-alphanumeric ASCII symbol as punctuation,
// including characters like "$" and "^" that Unicode classifies otherwise.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
