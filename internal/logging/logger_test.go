package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Helper()
	CloseAll()
	CloseAudit()
	configMu.Lock()
	logsDir = ""
	settings = Settings{}
	logLevel = LevelInfo
	configMu.Unlock()
	t.Cleanup(func() {
		CloseAll()
		CloseAudit()
	})
}

func readDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDebugModeDisabled(t *testing.T) {
	reset(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{DebugMode: false, Level: "debug"}))
	Loader("should not be written")
	Get(CategoryStore).Error("nor this")

	assert.False(t, IsDebugMode())
	assert.Empty(t, readDir(t, dir))
}

func TestCategoriesWriteFiles(t *testing.T) {
	reset(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{DebugMode: true, Level: "debug"}))
	Loader("loaded %s", "x")
	AuthoringDebug("prompt %d chars", 42)
	CloseAll()

	date := time.Now().Format("2006-01-02")
	names := readDir(t, dir)
	assert.Contains(t, names, date+"_boot.log")
	assert.Contains(t, names, date+"_loader.log")
	assert.Contains(t, names, date+"_authoring.log")

	data, err := os.ReadFile(filepath.Join(dir, date+"_loader.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] loaded x")
}

func TestCategoryToggle(t *testing.T) {
	reset(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"api": false, "loader": true},
	}))

	assert.False(t, IsCategoryEnabled(CategoryAPI))
	assert.True(t, IsCategoryEnabled(CategoryLoader))
	assert.True(t, IsCategoryEnabled(CategoryWatch), "unlisted categories default on")

	API("dropped")
	LoaderDebug("below level")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	assert.NotContains(t, readDir(t, dir), date+"_api.log")
}

func TestJSONFormat(t *testing.T) {
	reset(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Settings{DebugMode: true, Level: "info", JSONFormat: true}))
	Store("opened %s", "ledger.db")
	CloseAll()

	data, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+"_store.log"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	line = line[strings.Index(line, "{"):]

	var entry StructuredLogEntry
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "store", entry.Category)
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "opened ledger.db", entry.Message)
}

func TestTimerLogging(t *testing.T) {
	reset(t)
	require.NoError(t, Initialize(t.TempDir(), Settings{DebugMode: true, Level: "debug"}))

	timer := StartTimer(CategoryLoader, "describe")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed, 2*time.Millisecond)

	elapsed = StartTimer(CategoryLoader, "invoke").StopWithThreshold(time.Hour)
	assert.Less(t, elapsed, time.Hour)
}

func TestAuditTrail(t *testing.T) {
	reset(t)
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	Audit().UnitInvoke("ignored", nil)

	require.NoError(t, InitAudit(path))
	run := AuditWithRun("run-1")
	run.UnitInvoke("large_amount_test", map[string]any{"threshold": 50.0})
	run.BoundaryViolation("Commit", "")
	run.UnitComplete("large_amount_test", 0, 3*time.Millisecond, errors.New("boom"))
	CloseAudit()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 3)
	assert.Equal(t, AuditUnitInvoke, events[0].EventType)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, AuditBoundaryViolation, events[1].EventType)
	assert.False(t, events[1].Success)
	assert.Equal(t, AuditUnitError, events[2].EventType)
	assert.Equal(t, "boom", events[2].Error)
}
