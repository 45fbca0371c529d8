package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/clems4ever/textclf/pipeline"
	"github.com/spf13/cobra"
)

var (
	predictModelDir string
	predictJSON     bool
)

// predictCmd represents the predict command
var predictCmd = &cobra.Command{
	Use:   "predict [text...]",
	Short: "Classify texts with a trained model",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup(nil)
		dir := predictModelDir
		if dir == "" {
			dir = cfg.Output.Dir
		}

		preds, err := pipeline.Predict(dir, args, logger)
		if err != nil {
			logger.WithError(err).Fatal("prediction failed")
		}

		if predictJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(preds); err != nil {
				logger.WithError(err).Fatal("failed to encode predictions")
			}
			return
		}
		for _, p := range preds {
			fmt.Printf("%s\t%.4f\t%s\n", p.Label, p.Score, p.Text)
		}
	},
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVarP(&predictModelDir, "model", "m", "", "Trained model directory (defaults to output.dir)")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "Print predictions as JSON")
}
