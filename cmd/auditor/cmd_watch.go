package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditkit/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-validate units as they change",
	Long: `Checks every unit once, then watches the units directory and its
generated/ area and checks each file again when it changes. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.close()

	out := cmd.OutOrStdout()
	w, err := watch.New(watch.Options{
		Dir:      e.ws.UnitsDir(e.cfg),
		Debounce: e.cfg.GetWatchDebounce(),
		Cache:    e.reg,
		OnChange: func(ev watch.Event) { printEvent(out, ev) },
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if err := w.CheckAll(); err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %v (Ctrl-C to stop)\n", w.WatchedDirs())

	<-ctx.Done()
	stats := w.Stats()
	zlog().Info("watch stopped",
		zap.Int("checks", stats.ChecksRun),
		zap.Int("failed", stats.ChecksFailed),
		zap.Int("errors", stats.Errors))
	return nil
}

func printEvent(out io.Writer, ev watch.Event) {
	name := filepath.Base(ev.Path)
	switch {
	case ev.Op == watch.OpDelete:
		fmt.Fprintf(out, "removed %s\n", name)
	case ev.Err != nil:
		fmt.Fprintf(out, "FAIL %s: %v\n", name, ev.Err)
	default:
		fmt.Fprintf(out, "ok   %s\n", name)
	}
	if ev.Result != nil {
		for _, warn := range ev.Result.Warnings {
			fmt.Fprintf(out, "     warning: %s\n", warn)
		}
	}
}
