package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clems4ever/textclf/config"
	"github.com/clems4ever/textclf/model"
	"github.com/clems4ever/textclf/tokenizer"
	"github.com/clems4ever/textclf/training"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dummyCSV = `x,y
I need to see a doctor about my fever,0
Where is the nearest hospital,0
My child needs medicine for a cough,0
How do I get a bus ticket to the city,1
Is there a train to the border tomorrow,1
Can I get a ride to the shelter,1
How do I apply for asylum,2
Where do I file my asylum application,2
What documents does the asylum interview need,2
Can a lawyer help with my refugee claim,2
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "df_dummy.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(dummyCSV), 0644))

	cfg, err := config.Load("", map[string]any{
		"data.csv_path":           csvPath,
		"output.dir":              filepath.Join(dir, "fine_tuned_model"),
		"model.hidden_size":       8,
		"model.num_layers":        1,
		"model.num_heads":         2,
		"model.intermediate_size": 16,
		"model.max_positions":     64,
		"training.learning_rate":  1e-3,
	})
	require.NoError(t, err)
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	log, _ := test.NewNullLogger()

	report, err := Run(cfg, log)
	require.NoError(t, err)

	assert.Equal(t, 10, report.Rows)
	assert.Equal(t, SplitSizes{Train: 6, Validation: 2, Test: 2}, report.Splits)
	assert.Equal(t, 10, report.Splits.Train+report.Splits.Validation+report.Splits.Test)
	assert.Equal(t, map[string]int{"medical_info": 3, "transportation": 3, "asylum": 4}, report.Distribution)
	assert.Equal(t, "cpu", strings.SplitN(report.Device, "/", 2)[0])

	require.Len(t, report.History.Epochs, 10)
	for _, e := range report.History.Epochs {
		assert.LessOrEqual(t, report.History.BestValLoss, e.ValLoss)
	}
	assert.GreaterOrEqual(t, report.Test.Accuracy, 0.0)
	assert.LessOrEqual(t, report.Test.Accuracy, 1.0)
	assert.GreaterOrEqual(t, report.Test.Loss, 0.0)
	assert.Equal(t, 2, report.Test.Examples)

	for _, name := range []string{
		model.ConfigFile, model.WeightsFile,
		tokenizer.VocabFile, tokenizer.ConfigFile, tokenizer.SpecialTokensFile,
		RunFile, MetricsFile,
	} {
		info, err := os.Stat(filepath.Join(cfg.Output.Dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	saved, err := ReadReport(cfg.Output.Dir)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, saved.RunID)
	assert.Equal(t, report.History.BestEpoch, saved.History.BestEpoch)
	assert.Equal(t, cfg.Data.Labels, saved.Config.Data.Labels)

	prom, err := os.ReadFile(filepath.Join(cfg.Output.Dir, MetricsFile))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `split="test"`)
	assert.Contains(t, string(prom), "textclf_train_steps_total")
}

func TestRun_OverwritesOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Epochs = 1
	log, _ := test.NewNullLogger()

	first, err := Run(cfg, log)
	require.NoError(t, err)
	second, err := Run(cfg, log)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	saved, err := ReadReport(cfg.Output.Dir)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, saved.RunID)
}

func TestRun_TooFewRows(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Data.CSVPath, []byte("x,y\nonly one row,0\n"), 0644))

	_, err := Run(cfg, nil)
	assert.ErrorIs(t, err, training.ErrEmptySplit)
}

func TestRun_MissingCSV(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.CSVPath = filepath.Join(t.TempDir(), "missing.csv")

	_, err := Run(cfg, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPredict(t *testing.T) {
	cfg := testConfig(t)
	cfg.Training.Epochs = 2
	log, _ := test.NewNullLogger()
	_, err := Run(cfg, log)
	require.NoError(t, err)

	preds, err := Predict(cfg.Output.Dir, []string{"I need a doctor", "bus ticket please"}, log)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.Contains(t, cfg.Data.Labels, p.Label)
		assert.Equal(t, cfg.Data.Labels[p.LabelID], p.Label)
		sum := 0.0
		for _, s := range p.Scores {
			sum += s
			assert.LessOrEqual(t, s, p.Score)
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	_, err = Predict(cfg.Output.Dir, nil, log)
	assert.ErrorIs(t, err, ErrNoTexts)
}
