package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType names one kind of audit trail entry.
type AuditEventType string

const (
	AuditUnitInvoke   AuditEventType = "unit_invoke"
	AuditUnitComplete AuditEventType = "unit_complete"
	AuditUnitError    AuditEventType = "unit_error"
	AuditUnitChange   AuditEventType = "unit_change"

	// A unit tried to mutate data through the read-only boundary.
	AuditBoundaryViolation AuditEventType = "boundary_violation"

	AuditGenerationRequest  AuditEventType = "generation_request"
	AuditGenerationComplete AuditEventType = "generation_complete"
	AuditGenerationError    AuditEventType = "generation_error"
)

// AuditEvent is one JSON line of the audit trail.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"`
	EventType  AuditEventType `json:"event"`
	RunID      string         `json:"run,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Action     string         `json:"action,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens (appending) the audit trail at path. Unlike category logs
// the trail does not depend on debug mode.
func InitAudit(path string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger writes audit events, optionally scoped to one run.
type AuditLogger struct {
	runID string
}

// Audit returns the unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRun scopes events to one unit invocation.
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// Log writes an audit event. It is a no-op until InitAudit succeeds.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" {
		event.RunID = a.runID
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// UnitInvoke records the start of a unit run.
func (a *AuditLogger) UnitInvoke(unit string, params map[string]any) {
	a.Log(AuditEvent{
		EventType: AuditUnitInvoke,
		Unit:      unit,
		Success:   true,
		Fields:    map[string]any{"params": params},
		Message:   fmt.Sprintf("Unit invoked: %s", unit),
	})
}

// UnitComplete records the end of a unit run, successful or not.
func (a *AuditLogger) UnitComplete(unit string, rows int, elapsed time.Duration, err error) {
	eventType := AuditUnitComplete
	if err != nil {
		eventType = AuditUnitError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Unit:       unit,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
		Error:      errString(err),
		Fields:     map[string]any{"rows": rows},
		Message:    fmt.Sprintf("Unit %s: %d rows (%dms, success=%v)", unit, rows, elapsed.Milliseconds(), err == nil),
	})
}

// BoundaryViolation records a rejected mutation attempt.
func (a *AuditLogger) BoundaryViolation(operation, target string) {
	a.Log(AuditEvent{
		EventType: AuditBoundaryViolation,
		Action:    operation,
		Success:   false,
		Fields:    map[string]any{"target": target},
		Message:   fmt.Sprintf("Read-only session rejected %s on %s", operation, target),
	})
}

// UnitChange records a unit file change seen by the watcher.
func (a *AuditLogger) UnitChange(path, op string, checkErr error) {
	a.Log(AuditEvent{
		EventType: AuditUnitChange,
		Unit:      path,
		Action:    op,
		Success:   checkErr == nil,
		Error:     errString(checkErr),
	})
}

// Generation records one authoring pipeline stage.
func (a *AuditLogger) Generation(eventType AuditEventType, provider, model, target string, err error) {
	a.Log(AuditEvent{
		EventType: eventType,
		Unit:      target,
		Success:   err == nil,
		Error:     errString(err),
		Fields:    map[string]any{"provider": provider, "model": model},
	})
}
