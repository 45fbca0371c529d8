package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_PaddingLongest(t *testing.T) {
	tok := newTestTokenizer(t)

	enc, err := tok.Encode([]string{"the bus", "need a doctor ?"}, EncodeOptions{Padding: PaddingLongest, Truncation: true})
	require.NoError(t, err)

	assert.Equal(t, [][]int{{2, 5, 6, 3, 0, 0}, {2, 11, 12, 13, 24, 3}}, enc.InputIDs)
	assert.Equal(t, [][]int{{1, 1, 1, 1, 0, 0}, {1, 1, 1, 1, 1, 1}}, enc.AttentionMask)
	assert.Equal(t, [][]int{{0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0}}, enc.TokenTypeIDs)
	assert.Equal(t, 6, enc.SeqLen())
	assert.Equal(t, 2, enc.Len())
}

func TestEncode_TruncationAndMaxLength(t *testing.T) {
	tok := newTestTokenizer(t)

	enc, err := tok.Encode([]string{"need a doctor ?", "bus"}, EncodeOptions{Padding: PaddingMaxLength, MaxLength: 4, Truncation: true})
	require.NoError(t, err)

	assert.Equal(t, [][]int{{2, 11, 12, 3}, {2, 6, 3, 0}}, enc.InputIDs)
	assert.Equal(t, [][]int{{1, 1, 1, 1}, {1, 1, 1, 0}}, enc.AttentionMask)
}

func TestEncode_MaxLengthWithoutTruncation(t *testing.T) {
	tok := newTestTokenizer(t)
	_, err := tok.Encode([]string{"need a doctor ?"}, EncodeOptions{Padding: PaddingMaxLength, MaxLength: 4})
	assert.Error(t, err)
}

func TestEncode_ShapesMatch(t *testing.T) {
	tok := newTestTokenizer(t)
	texts := []string{"", "the", "need a doctor , the bus tickets to the clinic !", "asylum application"}

	enc, err := tok.Encode(texts, EncodeOptions{Truncation: true})
	require.NoError(t, err)
	require.Equal(t, len(texts), enc.Len())
	for i := range texts {
		assert.Len(t, enc.InputIDs[i], enc.SeqLen())
		assert.Len(t, enc.AttentionMask[i], enc.SeqLen())
		for j, m := range enc.AttentionMask[i] {
			assert.Contains(t, []int{0, 1}, m)
			if m == 0 {
				assert.Equal(t, tok.PadID(), enc.InputIDs[i][j])
			}
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	tok := newTestTokenizer(t)
	texts := []string{"the bus", "asylum"}
	a, err := tok.Encode(texts, EncodeOptions{Truncation: true})
	require.NoError(t, err)
	b, err := tok.Encode(texts, EncodeOptions{Truncation: true})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
