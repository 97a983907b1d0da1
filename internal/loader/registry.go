// Package loader discovers analysis units, interprets script units with
// yaegi and runs them against a read-only session.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"auditkit/internal/descriptor"
	"auditkit/internal/logging"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

// GeneratedDir is the sub-directory of the units directory that holds
// authored units. They are listed as "generated/<stem>".
const GeneratedDir = "generated"

// Uncategorized groups units that declare no category.
const Uncategorized = "uncategorized"

// ErrNoSessions is returned by Invoke when the registry has no store.
var ErrNoSessions = errors.New("no session source configured")

var nameRe = regexp.MustCompile(`^(` + GeneratedDir + `/)?[A-Za-z0-9][A-Za-z0-9_]*$`)

// SessionSource opens read-only sessions. *store.DB satisfies it.
type SessionSource interface {
	ReadOnly(ctx context.Context) (*store.ReadOnlySession, error)
}

// Options configures a Registry.
type Options struct {
	// Dir is the units directory.
	Dir string
	// Sessions opens one read-only session per invocation.
	Sessions SessionSource
	// Timeout bounds a single Execute. Zero means no limit.
	Timeout time.Duration
}

// Entry is one listed unit. File is empty for compiled units.
type Entry struct {
	Name string `json:"name"`
	File string `json:"file"`
}

// Result is the outcome of one successful invocation.
type Result struct {
	RunID      string                `json:"runId"`
	Unit       string                `json:"unit"`
	Definition descriptor.Definition `json:"definition"`
	Params     unit.Params           `json:"-"`
	Rows       []unit.Row            `json:"rows"`
	Elapsed    time.Duration         `json:"elapsed"`
	// Warnings holds shape mismatches between rows and the declared schema.
	Warnings []string `json:"warnings,omitempty"`
}

// Outcome is one unit's entry in an InvokeAll run.
type Outcome struct {
	Name   string
	Result Result
	Err    error
}

// Category is one group of the catalog.
type Category struct {
	Name  string
	Units []CatalogEntry
}

// CatalogEntry is a unit as shown in the catalog. Err is set when the unit
// could not be described.
type CatalogEntry struct {
	Entry
	Labels []string
	Err    error
}

type cached struct {
	modTime time.Time
	size    int64
	unit    unit.Unit
}

// Registry resolves unit names to units and runs them.
type Registry struct {
	dir      string
	sessions SessionSource
	timeout  time.Duration

	mu       sync.RWMutex
	compiled map[string]unit.Unit
	cache    map[string]cached
	group    singleflight.Group
}

// New creates a registry over opts.Dir. The directory is read lazily.
func New(opts Options) *Registry {
	return &Registry{
		dir:      opts.Dir,
		sessions: opts.Sessions,
		timeout:  opts.Timeout,
		compiled: make(map[string]unit.Unit),
		cache:    make(map[string]cached),
	}
}

// Dir returns the units directory.
func (r *Registry) Dir() string { return r.dir }

// Register adds a compiled unit. Compiled units shadow script files of the
// same name.
func (r *Registry) Register(name string, u unit.Unit) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.compiled[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUnit, name)
	}
	r.compiled[name] = u
	return nil
}

// Invalidate drops the cached load of the file at path.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	delete(r.cache, filepath.Clean(path))
	r.mu.Unlock()
}

// List enumerates units without loading any of them.
func (r *Registry) List() ([]Entry, error) {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.compiled))
	for name := range r.compiled {
		entries = append(entries, Entry{Name: name})
	}
	r.mu.RUnlock()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name] = true
	}

	add := func(dir, prefix string) error {
		files, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read units directory: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !IsUnitFile(f.Name()) {
				continue
			}
			name := prefix + strings.TrimSuffix(f.Name(), ".go")
			if seen[name] {
				logging.LoaderWarn("Unit file %s is shadowed by a compiled unit", f.Name())
				continue
			}
			entries = append(entries, Entry{Name: name, File: filepath.Join(dir, f.Name())})
		}
		return nil
	}
	if err := add(r.dir, ""); err != nil {
		return nil, err
	}
	if err := add(filepath.Join(r.dir, GeneratedDir), GeneratedDir+"/"); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// IsUnitFile reports whether a file name in the units directory holds a
// unit. The package marker doc.go and files starting with '_' or '.' are
// not units.
func IsUnitFile(name string) bool {
	if !strings.HasSuffix(name, ".go") || name == "doc.go" {
		return false
	}
	return !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, ".")
}

// Describe returns the unit's Definition after validating it.
func (r *Registry) Describe(ctx context.Context, name string) (descriptor.Definition, error) {
	u, err := r.load(ctx, name)
	if err != nil {
		return descriptor.Definition{}, err
	}
	return define(name, u)
}

// Invoke binds raw against the unit's parameters and executes the unit on a
// fresh read-only session, which is closed before Invoke returns.
func (r *Registry) Invoke(ctx context.Context, name string, raw map[string]any) (Result, error) {
	runID := uuid.NewString()
	log := logging.WithRequestID(logging.CategoryLoader, runID).WithField("unit", name)

	u, err := r.load(ctx, name)
	if err != nil {
		return Result{}, err
	}
	def, err := define(name, u)
	if err != nil {
		return Result{}, err
	}
	params, err := unit.Bind(def.Parameters, raw)
	if err != nil {
		return Result{}, err
	}
	if r.sessions == nil {
		return Result{}, ErrNoSessions
	}

	audit := logging.AuditWithRun(runID)
	audit.UnitInvoke(name, params.Map())
	log.Debug("Invoking with %d params", len(params.Map()))

	sess, err := r.sessions.ReadOnly(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("Closing session: %v", cerr)
		}
	}()

	start := time.Now()
	rows, err := r.execute(ctx, u, sess, params)
	elapsed := time.Since(start)
	audit.UnitComplete(name, len(rows), elapsed, err)
	if err != nil {
		log.Error("Execute failed after %v: %v", elapsed, err)
		return Result{}, pluginErr(name, PhaseExecute, err)
	}
	if rows == nil {
		rows = []unit.Row{}
	}

	res := Result{
		RunID:      runID,
		Unit:       name,
		Definition: def,
		Params:     params,
		Rows:       rows,
		Elapsed:    elapsed,
	}
	if len(def.Schema) > 0 {
		if err := unit.CheckRows(def.Schema, rows); err != nil {
			log.Warn("Schema mismatch: %v", err)
			res.Warnings = append(res.Warnings, err.Error())
		}
	}
	log.Info("Returned %d rows in %v", len(rows), elapsed)
	return res, nil
}

// InvokeAll runs every listed unit in name order, each with its own session.
// A failing unit does not stop the run.
func (r *Registry) InvokeAll(ctx context.Context, raw map[string]any) ([]Outcome, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := r.Invoke(ctx, e.Name, raw)
		out = append(out, Outcome{Name: e.Name, Result: res, Err: err})
	}
	return out, nil
}

// Catalog groups every unit by the category it declares. Groups are sorted
// by name with Uncategorized last.
func (r *Registry) Catalog(ctx context.Context) ([]Category, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]CatalogEntry)
	for _, e := range entries {
		def, err := r.Describe(ctx, e.Name)
		cat := def.Category
		if cat == "" || err != nil {
			cat = Uncategorized
		}
		groups[cat] = append(groups[cat], CatalogEntry{Entry: e, Labels: def.Labels, Err: err})
	}

	out := make([]Category, 0, len(groups))
	for name, units := range groups {
		out = append(out, Category{Name: name, Units: units})
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Name == Uncategorized) != (out[j].Name == Uncategorized) {
			return out[j].Name == Uncategorized
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// path maps a unit name to its source file.
func (r *Registry) path(name string) (string, error) {
	if !nameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !IsUnitFile(filepath.Base(name) + ".go") {
		return "", fmt.Errorf("%w: %s", ErrUnitNotFound, name)
	}
	return filepath.Join(r.dir, filepath.FromSlash(name)+".go"), nil
}

func (r *Registry) load(ctx context.Context, name string) (unit.Unit, error) {
	r.mu.RLock()
	u, ok := r.compiled[name]
	r.mu.RUnlock()
	if ok {
		return u, nil
	}

	p, err := r.path(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	c, ok := r.cache[p]
	r.mu.RUnlock()
	if ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.unit, nil
	}

	v, err, _ := r.group.Do(p, func() (any, error) {
		timer := logging.StartTimer(logging.CategoryLoader, "load "+name)
		defer timer.Stop()

		src, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		u, err := Interpret(p, src)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[p] = cached{modTime: info.ModTime(), size: info.Size(), unit: u}
		r.mu.Unlock()
		return u, nil
	})
	if err != nil {
		logging.LoaderError("Loading %s: %v", name, err)
		return nil, pluginErr(name, PhaseLoad, err)
	}
	return v.(unit.Unit), nil
}

func define(name string, u unit.Unit) (def descriptor.Definition, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			def, err = descriptor.Definition{}, pluginErr(name, PhaseDefine, panicError{value: rec})
		}
	}()
	def = u.Define()
	if err := def.Validate(); err != nil {
		return descriptor.Definition{}, pluginErr(name, PhaseDefine, err)
	}
	return def, nil
}

// execute calls u.Execute, converting panics into errors. With a timeout the
// call runs on its own goroutine so the deadline is enforced even when the
// unit ignores ctx.
func (r *Registry) execute(ctx context.Context, u unit.Unit, sess *store.ReadOnlySession, params unit.Params) ([]unit.Row, error) {
	call := func(ctx context.Context) (rows []unit.Row, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				rows, err = nil, panicError{value: rec}
			}
		}()
		return u.Execute(ctx, sess, params)
	}
	if r.timeout <= 0 {
		return call(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		rows []unit.Row
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		rows, err := call(ctx)
		done <- outcome{rows: rows, err: err}
	}()

	select {
	case o := <-done:
		return o.rows, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("execution timed out after %v: %w", r.timeout, ctx.Err())
	}
}
