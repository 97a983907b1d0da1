// Package main implements the auditor CLI: workspace setup, sample data,
// unit discovery and execution, unit authoring and live validation.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"auditkit/internal/logging"
)

var (
	// Global flags
	verbose       bool
	workspaceFlag string
	configFlag    string

	// Logger
	logger *zap.Logger
)

// errReported is returned once a command has already written its error
// envelope, so main only sets the exit code.
var errReported = errors.New("error already reported")

var rootCmd = &cobra.Command{
	Use:   "auditor",
	Short: "Run financial audit analysis units against a ledger",
	Long: `auditor discovers analysis units in .audit/units, runs them inside a
read-only session against the ledger database and prints the results as
JSON, a table or msgpack.

New units can be written by hand or generated from a description with
"auditor generate".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace directory (default: search up from current)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default: .audit/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(requirementsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			zlog().Error("command failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, err)
		}
		if logger != nil {
			_ = logger.Sync()
		}
		os.Exit(1)
	}
}

// zlog returns the CLI logger, or a no-op one when a command runs outside
// rootCmd (tests).
func zlog() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
