package cmd

import (
	"github.com/clems4ever/textclf/pipeline"
	"github.com/spf13/cobra"
)

var (
	trainCSV                 string
	trainOutput              string
	trainEpochs              int
	trainBatchSize           int
	trainLearningRate        float64
	trainPretrainedModel     string
	trainPretrainedTokenizer string
	trainDevice              string
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune the classifier on a CSV dataset",
	Long: `Train reads the CSV, splits it 60/20/20, trains for the configured
number of epochs and writes the best checkpoint, its tokenizer, a run
report and a metrics file to the output directory.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup(trainOverrides(cmd))
		report, err := pipeline.Run(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("training failed")
		}
		logger.WithField("run_id", report.RunID).
			WithField("test_accuracy", report.Test.Accuracy).
			WithField("test_loss", report.Test.Loss).
			Info("done")
	},
}

// trainOverrides maps the flags the user set to config keys.
func trainOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	flags := cmd.Flags()
	for flag, key := range map[string]string{
		"csv":                  "data.csv_path",
		"output":               "output.dir",
		"epochs":               "training.epochs",
		"batch-size":           "training.batch_size",
		"learning-rate":        "training.learning_rate",
		"pretrained-model":     "model.pretrained",
		"pretrained-tokenizer": "tokenizer.pretrained",
		"device":               "training.device",
	} {
		if !flags.Changed(flag) {
			continue
		}
		switch flag {
		case "epochs":
			overrides[key] = trainEpochs
		case "batch-size":
			overrides[key] = trainBatchSize
		case "learning-rate":
			overrides[key] = trainLearningRate
		default:
			overrides[key] = flags.Lookup(flag).Value.String()
		}
	}
	return overrides
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&trainCSV, "csv", "", "Path to the labeled CSV (overrides data.csv_path)")
	trainCmd.Flags().StringVarP(&trainOutput, "output", "o", "", "Output directory (overrides output.dir)")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Number of epochs (overrides training.epochs)")
	trainCmd.Flags().IntVar(&trainBatchSize, "batch-size", 0, "Mini-batch size (overrides training.batch_size)")
	trainCmd.Flags().Float64Var(&trainLearningRate, "learning-rate", 0, "Initial learning rate (overrides training.learning_rate)")
	trainCmd.Flags().StringVar(&trainPretrainedModel, "pretrained-model", "", "Directory with config.json and model.safetensors")
	trainCmd.Flags().StringVar(&trainPretrainedTokenizer, "pretrained-tokenizer", "", "Directory with vocab.txt")
	trainCmd.Flags().StringVar(&trainDevice, "device", "", "Device, auto or cpu (overrides training.device)")
}
