package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditkit/internal/authoring"
	"auditkit/internal/llm"
)

var genReq authoring.Request

// newLLMClient is swapped in tests.
var newLLMClient authoring.ClientFactory = llm.NewClientFromConfig

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a new unit from a description",
	Long: `Asks the configured text-generation backend for a unit implementing the
description, validates the source and saves it under units/generated/
together with its Markdown documentation.

Example:
  auditor generate --description "پرداخت‌های بالای ۵۰ میلیون در روزهای تعطیل"`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genReq.Description, "description", "d", "", "What the unit should find (required)")
	generateCmd.Flags().StringVar(&genReq.Provider, "provider", "", "Backend provider (default from config)")
	generateCmd.Flags().StringVar(&genReq.APIKey, "api-key", "", "API key (default from config or environment)")
	generateCmd.Flags().StringVar(&genReq.Model, "model", "", "Model name (default per provider)")
	generateCmd.Flags().StringVar(&genReq.Filename, "filename", "", "File name for the unit (default derived from its header)")
	generateCmd.MarkFlagRequired("description")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	parent := commandContext(cmd)
	e, err := openEnv(parent, false)
	if err != nil {
		return err
	}
	defer e.close()

	llmCfg := e.cfg.LLMClientConfig()
	ctx, cancel := context.WithTimeout(parent, llmCfg.Timeout+30*time.Second)
	defer cancel()

	p := authoring.New(authoring.Options{
		UnitsDir:      e.ws.UnitsDir(e.cfg),
		LLM:           llmCfg,
		MaxNameLength: e.cfg.GetMaxNameLength(),
		NewClient:     newLLMClient,
	})
	resp := p.Generate(ctx, genReq)
	zlog().Info("generation finished",
		zap.Bool("success", resp.Success),
		zap.String("stage", string(resp.Stage)),
		zap.String("unit", resp.Unit))

	if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if !resp.Success {
		return errReported
	}
	return nil
}

