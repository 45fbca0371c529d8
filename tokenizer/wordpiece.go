package tokenizer

// ContinuationPrefix marks a piece that continues the previous one.
const ContinuationPrefix = "##"

const defaultMaxInputCharsPerWord = 100

// WordPiece splits words into the longest pieces present in the vocabulary.
type WordPiece struct {
	vocab                map[string]int
	unkToken             string
	maxInputCharsPerWord int
}

func NewWordPiece(vocab map[string]int, unkToken string) *WordPiece {
	return &WordPiece{
		vocab:                vocab,
		unkToken:             unkToken,
		maxInputCharsPerWord: defaultMaxInputCharsPerWord,
	}
}

// Tokenize returns the pieces of a single pre-tokenized word. A word that
// cannot be fully covered becomes a single unknown token.
func (w *WordPiece) Tokenize(word string) []string {
	chars := []rune(word)
	if len(chars) > w.maxInputCharsPerWord {
		return []string{w.unkToken}
	}

	var pieces []string
	start := 0
	for start < len(chars) {
		end := len(chars)
		var cur string
		for start < end {
			sub := string(chars[start:end])
			if start > 0 {
				sub = ContinuationPrefix + sub
			}
			if _, ok := w.vocab[sub]; ok {
				cur = sub
				break
			}
			end--
		}
		if cur == "" {
			return []string{w.unkToken}
		}
		pieces = append(pieces, cur)
		start = end
	}
	return pieces
}
