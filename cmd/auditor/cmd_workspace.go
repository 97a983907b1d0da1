package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditkit/internal/ledger"
	"auditkit/internal/workspace"
)

var (
	seedRows   int
	seedChecks int
	seedValue  uint64
	seedAppend bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .audit workspace in the current directory",
	Long: `Creates .audit/ with a default config.yaml, the units directory with
its generated/ area, the logs directory and a set of starter units.
Existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the deterministic sample ledger",
	Long: `Generates sample journal lines and issued checks and writes them to the
ledger database. Existing rows are replaced unless --append is given.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedRows, "rows", 1000, "Number of journal lines")
	seedCmd.Flags().IntVar(&seedChecks, "checks", 200, "Number of issued checks")
	seedCmd.Flags().Uint64Var(&seedValue, "seed", 1, "Generator seed")
	seedCmd.Flags().BoolVar(&seedAppend, "append", false, "Keep existing rows")
}

func runInit(cmd *cobra.Command, args []string) error {
	root := workspaceFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}

	res, err := workspace.Init(root)
	if err != nil {
		return err
	}
	zlog().Info("workspace initialized",
		zap.String("dir", res.Workspace.Dir()),
		zap.Int("created", len(res.Created)),
		zap.Int("skipped", len(res.Skipped)))

	out := cmd.OutOrStdout()
	for _, p := range res.Created {
		fmt.Fprintf(out, "created %s\n", p)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, "kept %d existing files\n", len(res.Skipped))
	}
	fmt.Fprintf(out, "workspace ready at %s\n", res.Workspace.Dir())
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := e.db.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	txs := ledger.Generate(seedValue, seedRows)
	checks := ledger.GenerateChecks(seedValue, seedChecks)
	if err := ledger.Seed(ctx, s, txs, checks, !seedAppend); err != nil {
		return err
	}
	zlog().Info("ledger seeded", zap.Int("transactions", len(txs)), zap.Int("checks", len(checks)))
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d transactions and %d checks into %s\n", len(txs), len(checks), e.db.Path())
	return nil
}
