package cmd

import (
	"fmt"
	"os"

	"github.com/clems4ever/textclf/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "textclf",
	Short: "Fine-tune a BERT text classifier",
	Long: `textclf fine-tunes a BERT sequence classifier on a labeled CSV,
keeps the checkpoint with the lowest validation loss, evaluates it on a
held-out test split and saves it with its tokenizer.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format, text or json (overrides log.format)")
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig(overrides map[string]any) (*config.Config, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	if logFormat != "" {
		overrides["log.format"] = logFormat
	}
	return config.Load(configPath, overrides)
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// setup loads the configuration and logger, exiting on failure.
func setup(overrides map[string]any) (*config.Config, *logrus.Logger) {
	cfg, err := loadConfig(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger
}
