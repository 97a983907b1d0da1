// Package watch re-validates unit files as they change on disk.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"auditkit/internal/loader"
	"auditkit/internal/logging"
)

const defaultDebounce = 300 * time.Millisecond

// Op is the kind of change seen for a file.
type Op string

const (
	OpCreate Op = "create"
	OpModify Op = "modify"
	OpDelete Op = "delete"
	OpCheck  Op = "check" // manual CheckAll pass
)

// Event reports one settled change. Result is nil for deletions and read
// failures.
type Event struct {
	Path   string
	Op     Op
	Result *loader.CheckResult
	Err    error
}

// Invalidator drops cached loads. *loader.Registry satisfies it.
type Invalidator interface {
	Invalidate(path string)
}

// Options configures a Watcher.
type Options struct {
	// Dir is the units directory. Its generated/ subdirectory is watched too.
	Dir      string
	Debounce time.Duration
	Cache    Invalidator
	OnChange func(Event)
}

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	ChecksRun     int
	ChecksFailed  int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType Op
}

type pending struct {
	at time.Time
	op Op
}

// Watcher watches the units directory and checks each unit file once its
// changes settle.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	debounceDur time.Duration
	cache       Invalidator
	onChange    func(Event)
	debounceMap map[string]pending
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// New creates a Watcher. Nothing is watched until Start.
func New(opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("units directory required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	d := opts.Debounce
	if d <= 0 {
		d = defaultDebounce
	}
	return &Watcher{
		watcher:     fw,
		dir:         opts.Dir,
		debounceDur: d,
		cache:       opts.Cache,
		onChange:    opts.OnChange,
		debounceMap: make(map[string]pending),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range []string{w.dir, filepath.Join(w.dir, loader.GeneratedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.WatchError("failed to create %s: %v", dir, err)
		}
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.watcher.Close()
			return err
		}
		logging.Watch("Watching directory: %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("Watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !loader.IsUnitFile(filepath.Base(event.Name)) {
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpDelete
	default:
		return
	}
	logging.WatchDebug("%s event for %s", op, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = op
	switch op {
	case OpCreate:
		w.stats.FilesCreated++
	case OpModify:
		w.stats.FilesModified++
	case OpDelete:
		w.stats.FilesDeleted++
	}

	// A create followed by writes is still a create.
	if prev, ok := w.debounceMap[event.Name]; ok && prev.op == OpCreate && op == OpModify {
		op = OpCreate
	}
	w.debounceMap[event.Name] = pending{at: time.Now(), op: op}
}

func (w *Watcher) processDebouncedEvents() {
	w.mu.Lock()
	now := time.Now()
	settled := make(map[string]Op)
	for path, p := range w.debounceMap {
		if now.Sub(p.at) >= w.debounceDur {
			settled[path] = p.op
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for path, op := range settled {
		w.check(path, op)
	}
}

// check drops the cached load and validates the file, then reports it.
func (w *Watcher) check(path string, op Op) {
	if w.cache != nil {
		w.cache.Invalidate(path)
	}

	ev := Event{Path: path, Op: op}
	if op != OpDelete {
		src, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			ev.Op = OpDelete
		case err != nil:
			ev.Err = err
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		default:
			ev.Result = loader.Check(path, src)
			ev.Err = ev.Result.Err()
			w.mu.Lock()
			w.stats.ChecksRun++
			if ev.Err != nil {
				w.stats.ChecksFailed++
			}
			w.mu.Unlock()
		}
	}

	if ev.Err != nil {
		logging.WatchError("%s: %v", filepath.Base(path), ev.Err)
	} else {
		logging.Watch("%s: %s ok", filepath.Base(path), ev.Op)
	}
	logging.Audit().UnitChange(path, string(ev.Op), ev.Err)

	if w.onChange != nil {
		w.onChange(ev)
	}
}

// CheckAll validates every unit file now, without waiting for changes.
func (w *Watcher) CheckAll() error {
	for _, dir := range []string{w.dir, filepath.Join(w.dir, loader.GeneratedDir)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !loader.IsUnitFile(e.Name()) {
				continue
			}
			w.check(filepath.Join(dir, e.Name()), OpCheck)
		}
	}
	return nil
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// ResetStats resets the watcher statistics.
func (w *Watcher) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = Stats{}
}

// IsWatching reports whether the watcher is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}
