package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditkit/internal/ledger"
	"auditkit/internal/loader"
	"auditkit/internal/output"
)

var (
	formatFlag string
	docsFlag   bool
	exportFlag string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available units",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var describeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Print a unit's parameters and result schema",
	Long: `Loads the unit, calls Define and prints the definition as JSON.
With --docs the unit's Markdown documentation is rendered instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

var runCmd = &cobra.Command{
	Use:   "run <name> [params-json]",
	Short: "Run one unit",
	Long: `Runs a unit inside a read-only session and prints the result envelope.
Parameters are passed as a JSON object, for example:

  auditor run large_amount_test '{"minAmount": 5000000}'

With --export the rows are also written to a CSV file.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runUnit,
}

var runAllCmd = &cobra.Command{
	Use:   "run-all [params-json]",
	Short: "Run every unit in turn",
	Long:  `Runs every unit with the same parameters. A failing unit is reported and the run continues.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAll,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List units grouped by category",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

var requirementsCmd = &cobra.Command{
	Use:   "requirements [name...]",
	Short: "Show which ledger tables units read",
	Long: `Prints the tables each unit declares and the merged set, with the number
of rows currently loaded in each. Without names every unit is included.`,
	RunE: runRequirements,
}

var checkCmd = &cobra.Command{
	Use:   "check <file...>",
	Short: "Statically validate unit source files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	runCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format: json, table or msgpack (default from config)")
	runAllCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format: json or table (default from config)")
	runCmd.Flags().StringVar(&exportFlag, "export", "", "Also write the rows as CSV to this file")
	describeCmd.Flags().BoolVar(&docsFlag, "docs", false, "Render the unit's Markdown documentation")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseParams decodes the optional params-json argument.
func parseParams(args []string, idx int) (map[string]any, error) {
	if len(args) <= idx || strings.TrimSpace(args[idx]) == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(args[idx]))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func resolveFormat(e *env) (output.Format, error) {
	if formatFlag != "" {
		return output.ParseFormat(formatFlag)
	}
	return output.ParseFormat(e.cfg.Output.Format)
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(commandContext(cmd), false)
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.reg.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, entry := range entries {
		fmt.Fprintln(out, entry.Name)
	}
	return nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.close()

	name := args[0]
	if docsFlag {
		return renderDocs(cmd.OutOrStdout(), e.reg, name)
	}
	def, err := e.reg.Describe(ctx, name)
	if err != nil {
		output.WriteError(cmd.OutOrStdout(), err)
		return errReported
	}
	return writeJSON(cmd.OutOrStdout(), def)
}

// renderDocs prints the Markdown file next to the unit's source.
func renderDocs(w io.Writer, reg *loader.Registry, name string) error {
	entries, err := reg.List()
	if err != nil {
		return err
	}
	var file string
	for _, e := range entries {
		if e.Name == name {
			file = e.File
		}
	}
	if file == "" {
		return fmt.Errorf("%w: %s", loader.ErrUnitNotFound, name)
	}

	md, err := os.ReadFile(strings.TrimSuffix(file, ".go") + ".md")
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("unit %s has no documentation", name)
		}
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return err
	}
	rendered, err := renderer.Render(string(md))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}

func runUnit(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	e, err := openEnv(ctx, true)
	if err != nil {
		output.WriteError(out, err)
		return errReported
	}
	defer e.close()

	format, err := resolveFormat(e)
	if err != nil {
		return err
	}
	params, err := parseParams(args, 1)
	if err != nil {
		output.WriteError(out, err)
		return errReported
	}

	res, err := e.reg.Invoke(ctx, args[0], params)
	if err != nil {
		zlog().Debug("unit failed", zap.String("unit", args[0]), zap.Error(err))
		output.WriteError(out, err)
		return errReported
	}
	for _, w := range res.Warnings {
		zlog().Warn("result shape", zap.String("unit", res.Unit), zap.String("warning", w))
	}
	zlog().Debug("unit complete",
		zap.String("unit", res.Unit),
		zap.String("run_id", res.RunID),
		zap.Int("rows", len(res.Rows)),
		zap.Duration("elapsed", res.Elapsed))

	env := output.Build(res.Rows, res.Definition.Schema, res.Definition.Parameters)
	if exportFlag != "" {
		if err := exportCSV(exportFlag, env); err != nil {
			output.WriteError(out, err)
			return errReported
		}
		zlog().Info("exported result", zap.String("unit", res.Unit), zap.String("path", exportFlag))
	}
	return output.Write(out, format, env)
}

func exportCSV(path string, env output.Envelope) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := output.WriteCSV(f, env); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	return f.Close()
}

// runAllItem is one unit's entry in the run-all output.
type runAllItem struct {
	Unit   string           `json:"unit"`
	Result *output.Envelope `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func runAll(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	format, err := resolveFormat(e)
	if err != nil {
		return err
	}
	if format == output.FormatMsgpack {
		return fmt.Errorf("run-all supports json and table output")
	}
	params, err := parseParams(args, 0)
	if err != nil {
		return err
	}

	outcomes, err := e.reg.InvokeAll(ctx, params)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	items := make([]runAllItem, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		item := runAllItem{Unit: o.Name}
		if o.Err != nil {
			item.Error = o.Err.Error()
			failed++
		} else {
			env := output.Build(o.Result.Rows, o.Result.Definition.Schema, o.Result.Definition.Parameters)
			item.Result = &env
		}
		items = append(items, item)
	}
	zlog().Info("run-all complete", zap.Int("units", len(items)), zap.Int("failed", failed))

	if format == output.FormatJSON {
		return writeJSON(out, items)
	}
	for _, item := range items {
		fmt.Fprintf(out, "== %s ==\n", item.Unit)
		if item.Result == nil {
			fmt.Fprintf(out, "error: %s\n\n", item.Error)
			continue
		}
		var buf bytes.Buffer
		if err := output.WriteTable(&buf, *item.Result); err != nil {
			return err
		}
		fmt.Fprintln(out, buf.String())
	}
	return nil
}

type catalogUnit struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels,omitempty"`
	Error  string   `json:"error,omitempty"`
}

type catalogCategory struct {
	Category string        `json:"category"`
	Units    []catalogUnit `json:"units"`
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.close()

	cats, err := e.reg.Catalog(ctx)
	if err != nil {
		return err
	}
	out := make([]catalogCategory, 0, len(cats))
	for _, c := range cats {
		cc := catalogCategory{Category: c.Name, Units: make([]catalogUnit, 0, len(c.Units))}
		for _, u := range c.Units {
			cu := catalogUnit{Name: u.Name, Labels: u.Labels}
			if u.Err != nil {
				cu.Error = u.Err.Error()
			}
			cc.Units = append(cc.Units, cu)
		}
		out = append(out, cc)
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

type requirementTable struct {
	Name  string `json:"name"`
	Known bool   `json:"known"`
	Rows  int64  `json:"rows"`
}

type requirementsOutput struct {
	Units  []loader.UnitRequirement `json:"units"`
	Tables []requirementTable       `json:"tables"`
}

func runRequirements(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	reqs, err := e.reg.Requirements(ctx, args...)
	if err != nil {
		return err
	}

	ro, err := e.db.ReadOnly(ctx)
	if err != nil {
		return err
	}
	defer ro.Close()

	res := requirementsOutput{Units: reqs.Units, Tables: make([]requirementTable, 0, len(reqs.Tables))}
	for _, t := range reqs.Tables {
		rt := requirementTable{Name: t, Known: ledger.IsTable(t)}
		if rt.Known {
			if rt.Rows, err = ledger.Count(ctx, ro, t); err != nil {
				return err
			}
		} else {
			zlog().Warn("unit requires an unknown table", zap.String("table", t))
		}
		res.Tables = append(res.Tables, rt)
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		res := loader.Check(path, src)
		if err := res.Err(); err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			failed++
		} else {
			fmt.Fprintf(out, "ok   %s\n", path)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "     warning: %s\n", w)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(args))
	}
	return nil
}
