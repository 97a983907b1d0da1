package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/traefik/yaegi/interp"

	"auditkit/internal/descriptor"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

type (
	defineFn  = func() descriptor.Definition
	executeFn = func(context.Context, *store.ReadOnlySession, unit.Params) ([]unit.Row, error)
)

// scriptUnit is a unit backed by an interpreted source file.
type scriptUnit struct {
	define  defineFn
	execute executeFn
}

func (s *scriptUnit) Define() descriptor.Definition {
	if s.define == nil {
		return descriptor.Definition{}
	}
	return s.define()
}

func (s *scriptUnit) Execute(ctx context.Context, sess *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	return s.execute(ctx, sess, p)
}

// Interpret validates src and evaluates it in a fresh interpreter that only
// sees Symbols. No unit code runs until Define or Execute is called on the
// returned Unit.
func Interpret(filename string, src []byte) (u unit.Unit, err error) {
	check := Check(filename, src)
	if err := check.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			u, err = nil, panicError{value: r}
		}
	}()

	i := interp.New(interp.Options{Stdout: io.Discard, Stderr: io.Discard})
	if err := i.Use(Symbols); err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", filename, err)
	}

	v, err := i.Eval("main.Execute")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAUnit, err)
	}
	execute, ok := v.Interface().(executeFn)
	if !ok {
		return nil, fmt.Errorf("%w: Execute has signature %s", ErrNotAUnit, v.Type())
	}

	su := &scriptUnit{execute: execute}
	if check.HasDefine {
		v, err := i.Eval("main.Define")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotAUnit, err)
		}
		define, ok := v.Interface().(defineFn)
		if !ok {
			return nil, fmt.Errorf("%w: Define has signature %s", ErrNotAUnit, v.Type())
		}
		su.define = define
	}
	return su, nil
}
