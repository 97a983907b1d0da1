package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"auditkit/internal/loader"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goodUnit = `package main

import (
	"context"

	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	return nil, nil
}
`

const badUnit = `package main

import "os"

func Execute() { os.Exit(1) }
`

type recorder struct {
	mu          sync.Mutex
	events      chan Event
	invalidated []string
}

func newRecorder() *recorder { return &recorder{events: make(chan Event, 16)} }

func (r *recorder) Invalidate(path string) {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, path)
	r.mu.Unlock()
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return Event{}
	}
}

func startWatcher(t *testing.T, dir string, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(Options{
		Dir:      dir,
		Debounce: 100 * time.Millisecond,
		Cache:    rec,
		OnChange: func(ev Event) { rec.events <- ev },
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStartWatchesGeneratedDir(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, newRecorder())

	assert.True(t, w.IsWatching())
	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, loader.GeneratedDir)}, w.WatchedDirs())
}

func TestWatchReportsValidAndInvalidUnits(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, rec)

	good := filepath.Join(dir, "good_test.go")
	require.NoError(t, os.WriteFile(good, []byte(goodUnit), 0644))
	ev := rec.next(t)
	assert.Equal(t, good, ev.Path)
	assert.Equal(t, OpCreate, ev.Op)
	require.NotNil(t, ev.Result)
	assert.True(t, ev.Result.Valid)
	assert.NoError(t, ev.Err)

	bad := filepath.Join(dir, loader.GeneratedDir, "bad_test.go")
	require.NoError(t, os.WriteFile(bad, []byte(badUnit), 0644))
	ev = rec.next(t)
	assert.Equal(t, bad, ev.Path)
	assert.True(t, errors.Is(ev.Err, loader.ErrUnsafeSource))

	stats := w.Stats()
	assert.Equal(t, 2, stats.ChecksRun)
	assert.Equal(t, 1, stats.ChecksFailed)

	rec.mu.Lock()
	assert.Equal(t, []string{good, bad}, rec.invalidated)
	rec.mu.Unlock()
}

func TestWatchReportsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone_test.go")
	require.NoError(t, os.WriteFile(path, []byte(goodUnit), 0644))

	rec := newRecorder()
	startWatcher(t, dir, rec)

	require.NoError(t, os.Remove(path))
	ev := rec.next(t)
	assert.Equal(t, OpDelete, ev.Op)
	assert.Nil(t, ev.Result)
	assert.NoError(t, ev.Err)
}

func TestWatchIgnoresNonUnits(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, rec)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.go"), []byte("package main\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_test.go"), []byte(goodUnit), 0644))

	ev := rec.next(t)
	assert.Equal(t, filepath.Join(dir, "last_test.go"), ev.Path)
	assert.Equal(t, 1, w.Stats().FilesCreated)
}

func TestCheckAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, loader.GeneratedDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_test.go"), []byte(goodUnit), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, loader.GeneratedDir, "b_test.go"), []byte(badUnit), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_skip_test.go"), []byte(badUnit), 0644))

	rec := newRecorder()
	w, err := New(Options{Dir: dir, Cache: rec, OnChange: func(ev Event) { rec.events <- ev }})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, w.CheckAll())
	first, second := rec.next(t), rec.next(t)
	assert.Equal(t, OpCheck, first.Op)
	assert.NoError(t, first.Err)
	assert.Error(t, second.Err)
	assert.Equal(t, Stats{ChecksRun: 2, ChecksFailed: 1}, w.Stats())

	w.ResetStats()
	assert.Equal(t, Stats{}, w.Stats())
}

func TestStopIsIdempotent(t *testing.T) {
	w := startWatcher(t, t.TempDir(), newRecorder())
	w.Stop()
	assert.False(t, w.IsWatching())
	w.Stop()
}
