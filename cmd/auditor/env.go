package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"auditkit/internal/config"
	"auditkit/internal/ledger"
	"auditkit/internal/loader"
	"auditkit/internal/logging"
	"auditkit/internal/store"
	"auditkit/internal/workspace"
)

// env is everything a command needs once the workspace is located.
type env struct {
	ws  *workspace.Workspace
	cfg *config.Config
	db  *store.DB
	reg *loader.Registry
}

// findWorkspace honours --workspace, otherwise searches up from the
// current directory.
func findWorkspace() (*workspace.Workspace, error) {
	start := workspaceFlag
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}
	ws, err := workspace.Find(start)
	if err != nil {
		return nil, fmt.Errorf("%w: run \"auditor init\" first", err)
	}
	return ws, nil
}

// openEnv loads configuration and logging. With withDB the ledger is opened
// and a registry is built over it.
func openEnv(ctx context.Context, withDB bool) (*env, error) {
	ws, err := findWorkspace()
	if err != nil {
		return nil, err
	}

	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = ws.ConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	if err := logging.Initialize(ws.LogsDir(), cfg.Logging.Settings()); err != nil {
		zlog().Warn("category logging disabled", zap.Error(err))
	}
	if err := logging.InitAudit(ws.AuditPath()); err != nil {
		zlog().Warn("audit trail disabled", zap.Error(err))
	}

	e := &env{ws: ws, cfg: cfg}
	if !withDB {
		e.reg = loader.New(loader.Options{Dir: ws.UnitsDir(cfg), Timeout: cfg.GetExecutionTimeout()})
		return e, nil
	}

	db, err := store.Open(ctx, ws.DBPath(cfg), ledger.Migrate)
	if err != nil {
		return nil, err
	}
	e.db = db
	e.reg = loader.New(loader.Options{
		Dir:      ws.UnitsDir(cfg),
		Sessions: db,
		Timeout:  cfg.GetExecutionTimeout(),
	})
	zlog().Debug("environment ready",
		zap.String("workspace", ws.Root),
		zap.String("units", ws.UnitsDir(cfg)),
		zap.String("db", ws.DBPath(cfg)))
	return e, nil
}

func (e *env) close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			zlog().Warn("failed to close ledger", zap.Error(err))
		}
	}
}
