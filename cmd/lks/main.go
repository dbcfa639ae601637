package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lks_builder/internal/claims"
	"lks_builder/internal/config"
	"lks_builder/internal/report"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitSchema = 2
	exitEmpty  = 3
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
	cfg    config.Config
	styles = report.DefaultStyles()
)

var rootCmd = &cobra.Command{
	Use:   "lks",
	Short: "Build LKS claim workbooks from raw service-order exports",
	Long: `lks turns a raw meter-replacement service-order export into the LKS claim
workbook: one row per service order, photo formulas on the attachment sheet,
incomplete rows highlighted and a summary sheet.

Run "lks serve" to watch an inbox folder and build every export dropped there.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if configPath != "" {
			if err := os.Setenv("LKS_CONFIG_PATH", configPath); err != nil {
				return err
			}
		}
		cfg, err = config.Load(logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config/lks.yaml)")
	rootCmd.AddCommand(buildCmd, enhanceCmd, extractCmd, fixDatesCmd, qcCmd, serveCmd, backfillCmd)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var schemaErr *claims.SchemaError
	var emptyErr *claims.EmptyInputError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &schemaErr):
		return exitSchema
	case errors.As(err, &emptyErr):
		return exitEmpty
	default:
		return exitError
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}
