package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrUnitNotFound is returned when no unit is registered or present on
	// disk under the requested name. Nothing is loaded.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrNotAUnit is returned when a source file has no Execute function
	// with the unit signature.
	ErrNotAUnit = errors.New("not an analysis unit")

	// ErrInvalidName rejects names that would resolve outside the units
	// directory.
	ErrInvalidName = errors.New("invalid unit name")

	// ErrUnsafeSource is returned when Check finds an import or call that
	// units may not use.
	ErrUnsafeSource = errors.New("unit source rejected")

	// ErrDuplicateUnit is returned by Register for a name already taken.
	ErrDuplicateUnit = errors.New("unit already registered")
)

// Phase names the step of a unit's life in which a PluginError occurred.
type Phase string

const (
	PhaseLoad    Phase = "load"
	PhaseDefine  Phase = "define"
	PhaseExecute Phase = "execute"
)

// PluginError wraps a failure that originated inside a unit: an interpreter
// error, an error the unit returned, or a recovered panic.
type PluginError struct {
	Unit  string
	Phase Phase
	Err   error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("unit %s: %s: %v", e.Unit, e.Phase, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

func pluginErr(name string, phase Phase, err error) error {
	var pe *PluginError
	if errors.As(err, &pe) {
		return err
	}
	return &PluginError{Unit: name, Phase: phase, Err: err}
}

// panicError carries a value recovered from a unit.
type panicError struct {
	value any
}

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }
