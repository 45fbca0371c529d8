package tokenizer

import "fmt"

type PaddingStrategy int

const (
	// PaddingLongest pads every row to the longest row of the call.
	PaddingLongest PaddingStrategy = iota
	// PaddingMaxLength pads every row to MaxLength.
	PaddingMaxLength
)

type EncodeOptions struct {
	Padding PaddingStrategy
	// MaxLength caps sequences including [CLS] and [SEP]. Zero means the
	// tokenizer's model max length.
	MaxLength  int
	Truncation bool
}

// BatchEncoding holds equally long rows of ids, masks and segment ids.
type BatchEncoding struct {
	InputIDs      [][]int
	AttentionMask [][]int
	TokenTypeIDs  [][]int
}

func (b *BatchEncoding) Len() int { return len(b.InputIDs) }

// SeqLen is the common row length, or 0 for an empty batch.
func (b *BatchEncoding) SeqLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

// EncodeText returns [CLS] pieces [SEP] ids for a single text, truncated
// so that the result has at most maxLength ids when maxLength > 0.
func (t *Tokenizer) EncodeText(text string, maxLength int) []int {
	ids := t.ConvertTokensToIDs(t.Tokenize(text))
	if maxLength > 0 && len(ids) > maxLength-2 {
		ids = ids[:maxLength-2]
	}
	out := make([]int, 0, len(ids)+2)
	out = append(out, t.clsID)
	out = append(out, ids...)
	return append(out, t.sepID)
}

// Encode turns texts into a padded batch. Rows are padded with [PAD] and
// masked out with 0 in AttentionMask.
func (t *Tokenizer) Encode(texts []string, opts EncodeOptions) (*BatchEncoding, error) {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = t.opts.ModelMaxLength
	}
	if maxLength < 2 {
		return nil, fmt.Errorf("max length %d cannot hold [CLS] and [SEP]", maxLength)
	}

	truncateAt := 0
	if opts.Truncation {
		truncateAt = maxLength
	}

	rows := make([][]int, len(texts))
	longest := 0
	for i, text := range texts {
		rows[i] = t.EncodeText(text, truncateAt)
		if len(rows[i]) > longest {
			longest = len(rows[i])
		}
	}

	target := longest
	if opts.Padding == PaddingMaxLength {
		if longest > maxLength {
			return nil, fmt.Errorf("sequence of %d tokens exceeds max length %d without truncation", longest, maxLength)
		}
		target = maxLength
	}

	enc := &BatchEncoding{
		InputIDs:      make([][]int, len(rows)),
		AttentionMask: make([][]int, len(rows)),
		TokenTypeIDs:  make([][]int, len(rows)),
	}
	for i, row := range rows {
		ids := make([]int, target)
		mask := make([]int, target)
		for j := range ids {
			if j < len(row) {
				ids[j] = row[j]
				mask[j] = 1
			} else {
				ids[j] = t.padID
			}
		}
		enc.InputIDs[i] = ids
		enc.AttentionMask[i] = mask
		enc.TokenTypeIDs[i] = make([]int, target)
	}
	return enc, nil
}
