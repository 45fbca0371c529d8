package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/clems4ever/textclf/tokenizer"
	"github.com/spf13/cobra"
)

var tokenizerDir string

// tokenizeCmd represents the tokenize command
var tokenizeCmd = &cobra.Command{
	Use:   "tokenize [text...]",
	Short: "Tokenize text with a saved tokenizer",
	Long:  `Tokenize text and print the WordPiece tokens, their ids and the decoded text.`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := setup(nil)
		dir := tokenizerDir
		if dir == "" {
			dir = cfg.Tokenizer.Pretrained
		}
		if dir == "" {
			dir = cfg.Output.Dir
		}

		tok, err := tokenizer.LoadPretrained(dir, tokenizer.Options{
			Lowercase:      cfg.Tokenizer.Lowercase,
			StripHTML:      cfg.Tokenizer.StripHTML,
			Encoding:       cfg.Tokenizer.Encoding,
			ModelMaxLength: cfg.Tokenizer.MaxLength,
		})
		if err != nil {
			fmt.Printf("Error loading tokenizer: %v\n", err)
			os.Exit(1)
		}

		text := strings.Join(args, " ")
		tokens := tok.Tokenize(text)
		ids := tok.EncodeText(text, cfg.Tokenizer.MaxLength)
		fmt.Printf("Tokens (%d): %v\n", len(tokens), tokens)
		fmt.Printf("IDs (%d): %v\n", len(ids), ids)
		fmt.Printf("Decoded: %s\n", tok.Decode(ids, true))
	},
}

func init() {
	rootCmd.AddCommand(tokenizeCmd)

	tokenizeCmd.Flags().StringVarP(&tokenizerDir, "tokenizer", "t", "", "Directory with vocab.txt (defaults to tokenizer.pretrained, then output.dir)")
}
