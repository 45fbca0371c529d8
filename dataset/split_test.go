package dataset

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeExamples(n int) []Example {
	out := make([]Example, n)
	for i := range out {
		out[i] = Example{Text: fmt.Sprintf("row %d", i), Label: i % 3}
	}
	return out
}

func TestSplit_Sizes(t *testing.T) {
	tests := []struct {
		n                 int
		train, val, test int
	}{
		{10, 6, 2, 2},
		{100, 60, 20, 20},
		{7, 4, 1, 2},
		{1, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			s, err := Split(makeExamples(tt.n), DefaultSplitOptions())
			require.NoError(t, err)
			assert.Len(t, s.Train, tt.train)
			assert.Len(t, s.Validation, tt.val)
			assert.Len(t, s.Test, tt.test)
			assert.Equal(t, tt.n, len(s.Train)+len(s.Validation)+len(s.Test))
		})
	}
}

func TestSplit_Disjoint(t *testing.T) {
	s, err := Split(makeExamples(50), DefaultSplitOptions())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, part := range [][]Example{s.Train, s.Validation, s.Test} {
		for _, e := range part {
			assert.False(t, seen[e.Text], "row %q appears twice", e.Text)
			seen[e.Text] = true
		}
	}
	assert.Len(t, seen, 50)
}

func TestSplit_Deterministic(t *testing.T) {
	a, err := Split(makeExamples(30), DefaultSplitOptions())
	require.NoError(t, err)
	b, err := Split(makeExamples(30), DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts := DefaultSplitOptions()
	opts.Seed = 7
	c, err := Split(makeExamples(30), opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Train, c.Train)
}

func TestSplit_InvalidFractions(t *testing.T) {
	_, err := Split(makeExamples(10), SplitOptions{Seed: 1, HoldOut: 1.2, TestFraction: 0.5})
	assert.Error(t, err)
}
