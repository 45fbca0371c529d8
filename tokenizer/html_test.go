package tokenizer

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var update = flag.Bool("update", false, "update golden files")

func TestStripHTML_Golden(t *testing.T) {
	inputFile := "testdata/example.html"
	goldenFile := "testdata/example_golden.txt"

	inputBytes, err := os.ReadFile(inputFile)
	require.NoError(t, err)

	actual, err := StripHTML(string(inputBytes))
	require.NoError(t, err)

	if *update {
		require.NoError(t, os.WriteFile(goldenFile, []byte(actual), 0644))
	}

	expected, err := os.ReadFile(goldenFile)
	require.NoError(t, err, "golden file missing, run with -update to generate")
	assert.Equal(t, string(expected), actual)
}

func TestStripHTML_PlainText(t *testing.T) {
	out, err := StripHTML("  bus   tickets &amp; passes\n")
	require.NoError(t, err)
	assert.Equal(t, "bus tickets & passes", out)
}
