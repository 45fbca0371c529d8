package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingColumn = errors.New("column not found in header")
	ErrNoRows        = errors.New("no usable rows")
)

// Example is one labeled text.
type Example struct {
	Text  string
	Label int
}

type CSVOptions struct {
	TextColumn  string
	LabelColumn string
	NumLabels   int
	Logger      logrus.FieldLogger
}

// LoadStats counts what LoadCSV kept and skipped.
type LoadStats struct {
	Rows    int
	Skipped int
}

// LoadCSV reads labeled examples from a CSV file with a header row.
func LoadCSV(path string, opts CSVOptions) ([]Example, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, opts)
}

// ReadCSV parses labeled examples. Quotes inside unquoted fields are kept as
// literal characters. Rows with a wrong field count, a non-integer label or a
// label outside [0, NumLabels) are skipped, not fatal.
func ReadCSV(r io.Reader, opts CSVOptions) ([]Example, LoadStats, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to read header: %w", err)
	}
	// The header fixes the expected width of every row.
	reader.FieldsPerRecord = len(header)

	textIdx, labelIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case opts.TextColumn:
			textIdx = i
		case opts.LabelColumn:
			labelIdx = i
		}
	}
	if textIdx < 0 {
		return nil, LoadStats{}, fmt.Errorf("%w: %q", ErrMissingColumn, opts.TextColumn)
	}
	if labelIdx < 0 {
		return nil, LoadStats{}, fmt.Errorf("%w: %q", ErrMissingColumn, opts.LabelColumn)
	}

	var examples []Example
	var stats LoadStats
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				stats.Skipped++
				log.WithError(err).Debug("skipping malformed row")
				continue
			}
			return nil, stats, fmt.Errorf("failed to read dataset: %w", err)
		}

		label, err := strconv.Atoi(strings.TrimSpace(record[labelIdx]))
		if err != nil || label < 0 || (opts.NumLabels > 0 && label >= opts.NumLabels) {
			stats.Skipped++
			log.WithField("label", record[labelIdx]).Debug("skipping row with invalid label")
			continue
		}
		examples = append(examples, Example{Text: record[textIdx], Label: label})
		stats.Rows++
	}
	if len(examples) == 0 {
		return nil, stats, ErrNoRows
	}
	return examples, stats, nil
}

// ClassDistribution returns the number of examples per label.
func ClassDistribution(examples []Example) map[int]int {
	dist := make(map[int]int)
	for _, e := range examples {
		dist[e.Label]++
	}
	return dist
}

// FormatDistribution renders a distribution as "label=count" pairs sorted
// by label.
func FormatDistribution(dist map[int]int) string {
	labels := make([]int, 0, len(dist))
	for l := range dist {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%d=%d", l, dist[l])
	}
	return strings.Join(parts, " ")
}

func Texts(examples []Example) []string {
	out := make([]string, len(examples))
	for i, e := range examples {
		out[i] = e.Text
	}
	return out
}

func Labels(examples []Example) []int {
	out := make([]int, len(examples))
	for i, e := range examples {
		out[i] = e.Label
	}
	return out
}
