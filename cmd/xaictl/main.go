package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/healthxai/internal/config"
	"github.com/fractal-lba/healthxai/internal/logging"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	modelsDir  string
	dataset    string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "xaictl",
		Short: "Explain skin cancer risk predictions from the command line",
		Long: `xaictl runs the same explanation engine as the server against the
shipped models and reference dataset, and manages the prediction log.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", os.Getenv("HEALTHXAI_CONFIG"), "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&opts.modelsDir, "models-dir", "", "Override the model directory")
	rootCmd.PersistentFlags().StringVar(&opts.dataset, "dataset", "", "Override the reference dataset path")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(explainCmd(opts))
	rootCmd.AddCommand(explainLocalCmd(opts))
	rootCmd.AddCommand(backgroundCmd(opts))
	rootCmd.AddCommand(predlogCmd(opts))

	return rootCmd
}

// load resolves configuration and a text logger writing to stderr.
func (o *rootOptions) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.modelsDir != "" {
		cfg.Models.Dir = o.modelsDir
	}
	if o.dataset != "" {
		cfg.Dataset.Path = o.dataset
	}

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "text", stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
