package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCSVOptions() CSVOptions {
	return CSVOptions{TextColumn: "x", LabelColumn: "y", NumLabels: 3}
}

func TestReadCSV_SkipsMalformedRows(t *testing.T) {
	input := strings.Join([]string{
		"x,y",
		"where is the clinic,0",
		"bus to the border,1,extra",
		"I need asylum,2",
		"what time is it,seven",
		"how do I apply,5",
		`"quoted, with comma",1`,
		"",
	}, "\n")

	examples, stats, err := ReadCSV(strings.NewReader(input), testCSVOptions())
	require.NoError(t, err)

	assert.Equal(t, []Example{
		{Text: "where is the clinic", Label: 0},
		{Text: "I need asylum", Label: 2},
		{Text: "quoted, with comma", Label: 1},
	}, examples)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 3, stats.Skipped)
}

func TestReadCSV_BareQuotes(t *testing.T) {
	input := "x,y\n" +
		"he said \"help me\" at the clinic,0\n" +
		"where is the bus,1\n" +
		"5\" rain expected,2\n"

	examples, stats, err := ReadCSV(strings.NewReader(input), testCSVOptions())
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Text: `he said "help me" at the clinic`, Label: 0},
		{Text: "where is the bus", Label: 1},
		{Text: `5" rain expected`, Label: 2},
	}, examples)
	assert.Equal(t, 0, stats.Skipped)
}

func TestReadCSV_ColumnsByName(t *testing.T) {
	input := "id,y,x\n7,2,hello\n"
	examples, _, err := ReadCSV(strings.NewReader(input), testCSVOptions())
	require.NoError(t, err)
	assert.Equal(t, []Example{{Text: "hello", Label: 2}}, examples)
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("text,label\nhi,0\n"), testCSVOptions())
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCSV_NoRows(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("x,y\nhi,9\n"), testCSVOptions())
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,y\na,0\nb,1\n"), 0644))

	examples, stats, err := LoadCSV(path, testCSVOptions())
	require.NoError(t, err)
	assert.Len(t, examples, 2)
	assert.Equal(t, 0, stats.Skipped)

	_, _, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), testCSVOptions())
	assert.Error(t, err)
}

func TestClassDistribution(t *testing.T) {
	examples := []Example{{"a", 0}, {"b", 2}, {"c", 2}, {"d", 1}, {"e", 2}}
	dist := ClassDistribution(examples)
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 3}, dist)
	assert.Equal(t, "0=1 1=1 2=3", FormatDistribution(dist))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, Texts(examples))
	assert.Equal(t, []int{0, 2, 2, 1, 2}, Labels(examples))
}
