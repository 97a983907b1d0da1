// Package workspace lays out and locates the .audit directory that holds a
// project's configuration, ledger database, analysis units and logs.
//
// Layout:
//
//	.audit/
//	  config.yaml
//	  ledger.db
//	  units/            hand-written and starter units
//	    doc.go          package marker, skipped by discovery
//	    generated/      units written by the authoring pipeline
//	  logs/             category logs and audit.jsonl
package workspace

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"auditkit/internal/config"
	"auditkit/internal/loader"
	"auditkit/internal/logging"
)

const (
	DirName    = ".audit"
	ConfigFile = "config.yaml"
	LogsDir    = "logs"
	AuditFile  = "audit.jsonl"
)

// ErrNotFound is returned by Find when no directory up the tree holds a
// workspace.
var ErrNotFound = errors.New("no .audit workspace found")

//go:embed starter/*.go.tmpl
var starterFS embed.FS

const docGo = `// Package main holds auditkit analysis units. Each .go file in this
// directory (and in generated/) is one unit, interpreted on demand.
// This file is skipped by discovery.
package main
`

const gitignore = `# auditkit local files
ledger.db
ledger.db-journal
ledger.db-wal
ledger.db-shm
logs/
`

// Workspace is an initialized .audit directory.
type Workspace struct {
	// Root is the project directory containing .audit.
	Root string
}

// Dir returns the .audit directory.
func (w *Workspace) Dir() string { return filepath.Join(w.Root, DirName) }

// ConfigPath returns the config.yaml path.
func (w *Workspace) ConfigPath() string { return filepath.Join(w.Dir(), ConfigFile) }

// LogsDir returns the logs directory.
func (w *Workspace) LogsDir() string { return filepath.Join(w.Dir(), LogsDir) }

// AuditPath returns the audit trail path.
func (w *Workspace) AuditPath() string { return filepath.Join(w.LogsDir(), AuditFile) }

// UnitsDir resolves cfg's units directory against the workspace.
func (w *Workspace) UnitsDir(cfg *config.Config) string {
	return config.ResolvePath(w.Dir(), cfg.Units.Dir)
}

// DBPath resolves cfg's ledger path against the workspace.
func (w *Workspace) DBPath(cfg *config.Config) string {
	return config.ResolvePath(w.Dir(), cfg.Store.Path)
}

// InitResult reports what Init wrote.
type InitResult struct {
	Workspace *Workspace
	Created   []string
	Skipped   []string
}

// Init creates the workspace under root. Existing files are left as they
// are, so running it twice is harmless.
func Init(root string) (*InitResult, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	ws := &Workspace{Root: abs}
	cfg := config.DefaultConfig()
	unitsDir := ws.UnitsDir(cfg)

	dirs := []string{
		ws.Dir(),
		unitsDir,
		filepath.Join(unitsDir, loader.GeneratedDir),
		ws.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	result := &InitResult{Workspace: ws}
	write := func(p string, data []byte) error {
		if _, err := os.Stat(p); err == nil {
			result.Skipped = append(result.Skipped, p)
			return nil
		}
		if err := os.WriteFile(p, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
		result.Created = append(result.Created, p)
		return nil
	}

	if _, err := os.Stat(ws.ConfigPath()); err == nil {
		result.Skipped = append(result.Skipped, ws.ConfigPath())
	} else {
		if err := cfg.Save(ws.ConfigPath()); err != nil {
			return nil, err
		}
		result.Created = append(result.Created, ws.ConfigPath())
	}

	if err := write(filepath.Join(ws.Dir(), ".gitignore"), []byte(gitignore)); err != nil {
		return nil, err
	}
	if err := write(filepath.Join(unitsDir, "doc.go"), []byte(docGo)); err != nil {
		return nil, err
	}

	starters, err := StarterUnits()
	if err != nil {
		return nil, err
	}
	for _, name := range starters {
		src, err := StarterSource(name)
		if err != nil {
			return nil, err
		}
		if err := write(filepath.Join(unitsDir, name+".go"), src); err != nil {
			return nil, err
		}
	}

	logging.Boot("Initialized workspace at %s (%d created, %d kept)", ws.Dir(), len(result.Created), len(result.Skipped))
	return result, nil
}

// Find walks up from start looking for a .audit directory.
func Find(start string) (*Workspace, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		info, err := os.Stat(filepath.Join(dir, DirName))
		if err == nil && info.IsDir() {
			return &Workspace{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w (searched up from %s)", ErrNotFound, start)
		}
		dir = parent
	}
}

// StarterUnits lists the bundled example units by name.
func StarterUnits() ([]string, error) {
	entries, err := fs.ReadDir(starterFS, "starter")
	if err != nil {
		return nil, fmt.Errorf("read starter units: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".go.tmpl"))
	}
	sort.Strings(names)
	return names, nil
}

// StarterSource returns the source of a bundled unit.
func StarterSource(name string) ([]byte, error) {
	data, err := starterFS.ReadFile(path.Join("starter", name+".go.tmpl"))
	if err != nil {
		return nil, fmt.Errorf("starter unit %q: %w", name, err)
	}
	return data, nil
}
