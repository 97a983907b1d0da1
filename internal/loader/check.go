package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Import paths of the auditkit packages units may use.
const (
	pkgDescriptor = "auditkit/internal/descriptor"
	pkgUnit       = "auditkit/internal/unit"
	pkgStore      = "auditkit/internal/store"
	pkgLedger     = "auditkit/internal/ledger"
)

// allowedImports is the import whitelist for script units. The interpreter
// is given symbols for exactly these packages.
var allowedImports = map[string]bool{
	"context":      true,
	"errors":       true,
	"fmt":          true,
	"math":         true,
	"math/big":     true,
	"regexp":       true,
	"sort":         true,
	"strconv":      true,
	"strings":      true,
	"time":         true,
	"unicode":      true,
	"unicode/utf8": true,
	pkgDescriptor:  true,
	pkgUnit:        true,
	pkgStore:       true,
	pkgLedger:      true,
}

// bannedImports are reported with a dedicated message since they are the
// usual ways out of the sandbox.
var bannedImports = map[string]string{
	"unsafe":  "unsafe memory access",
	"os":      "filesystem and process access",
	"os/exec": "command execution",
	"syscall": "system calls",
	"net":     "network access",
	"reflect": "reflection",
}

// CheckResult is the outcome of statically validating a unit source file.
type CheckResult struct {
	Valid      bool
	HasDefine  bool
	HasExecute bool
	Imports    []string

	ParseError     error
	SafetyErrors   []string
	ContractErrors []string
	Warnings       []string
}

// Err folds the result into a single error, or nil when the source is valid.
// Contract problems wrap ErrNotAUnit, safety problems wrap ErrUnsafeSource.
func (r *CheckResult) Err() error {
	switch {
	case r.ParseError != nil:
		return fmt.Errorf("%w: %v", ErrUnsafeSource, r.ParseError)
	case len(r.SafetyErrors) > 0:
		return fmt.Errorf("%w: %s", ErrUnsafeSource, strings.Join(r.SafetyErrors, "; "))
	case len(r.ContractErrors) > 0:
		return fmt.Errorf("%w: %s", ErrNotAUnit, strings.Join(r.ContractErrors, "; "))
	}
	return nil
}

// Check validates a unit source without interpreting it.
func Check(filename string, src []byte) *CheckResult {
	result := &CheckResult{}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		result.ParseError = err
		return result
	}

	if file.Name.Name != "main" {
		result.ContractErrors = append(result.ContractErrors,
			fmt.Sprintf("package must be main, got %s", file.Name.Name))
	}

	aliases := checkImports(file, result)
	checkStatements(fset, file, aliases, result)
	checkContract(file, aliases, result)

	result.Valid = len(result.SafetyErrors) == 0 && len(result.ContractErrors) == 0
	return result
}

// checkImports records imports, reports anything off the whitelist and
// returns the local name each import path is bound to.
func checkImports(file *ast.File, result *CheckResult) map[string]string {
	aliases := make(map[string]string)
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		result.Imports = append(result.Imports, p)

		name := path.Base(p)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == "_" || name == "." {
			result.SafetyErrors = append(result.SafetyErrors,
				fmt.Sprintf("import %q: blank and dot imports are not allowed", p))
			continue
		}
		aliases[name] = p

		if why, bad := bannedImports[p]; bad {
			result.SafetyErrors = append(result.SafetyErrors,
				fmt.Sprintf("import %q is forbidden (%s)", p, why))
			continue
		}
		if !allowedImports[p] {
			result.SafetyErrors = append(result.SafetyErrors,
				fmt.Sprintf("import %q is not on the allowed list", p))
		}
	}
	sort.Strings(result.Imports)
	return aliases
}

// checkStatements reports banned statements and calls. Package selectors are
// resolved through aliases so renamed imports are caught too.
func checkStatements(fset *token.FileSet, file *ast.File, aliases map[string]string, result *CheckResult) {
	at := func(n ast.Node) string {
		pos := fset.Position(n.Pos())
		return fmt.Sprintf("line %d", pos.Line)
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.GoStmt:
			result.SafetyErrors = append(result.SafetyErrors,
				at(node)+": go statements are not allowed")

		case *ast.CallExpr:
			if ident, ok := node.Fun.(*ast.Ident); ok && ident.Name == "panic" {
				result.SafetyErrors = append(result.SafetyErrors,
					at(node)+": panic is not allowed, return an error instead")
			}
			sel, ok := node.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			ident, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			pkg, imported := aliases[ident.Name]
			if !imported {
				return true
			}
			switch {
			case pkg == "os" && sel.Sel.Name == "Exit":
				result.SafetyErrors = append(result.SafetyErrors, at(node)+": os.Exit is not allowed")
			case pkg == "log" && strings.HasPrefix(sel.Sel.Name, "Fatal"):
				result.SafetyErrors = append(result.SafetyErrors, at(node)+": log.Fatal is not allowed")
			case pkg == "fmt" && strings.HasPrefix(sel.Sel.Name, "Print"):
				result.SafetyErrors = append(result.SafetyErrors,
					at(node)+": units must not write to standard output")
			case pkg == "time" && sel.Sel.Name == "Sleep":
				result.Warnings = append(result.Warnings, at(node)+": time.Sleep delays the whole run")
			}
		}
		return true
	})
}

// checkContract verifies the Define and Execute signatures.
func checkContract(file *ast.File, aliases map[string]string, result *CheckResult) {
	local := func(pkgPath string) string {
		for name, p := range aliases {
			if p == pkgPath {
				return name
			}
		}
		return ""
	}
	ctxName := local("context")
	storeName := local(pkgStore)
	unitName := local(pkgUnit)
	descName := local(pkgDescriptor)

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		switch fn.Name.Name {
		case "init", "main":
			result.SafetyErrors = append(result.SafetyErrors,
				fmt.Sprintf("func %s is not allowed: units run only through Define and Execute", fn.Name.Name))
		case "Execute":
			result.HasExecute = true
			params := fieldTypes(fn.Type.Params)
			results := fieldTypes(fn.Type.Results)
			ok := len(params) == 3 && len(results) == 2 &&
				isSelector(params[0], ctxName, "Context") &&
				isStar(params[1], storeName, "ReadOnlySession") &&
				isSelector(params[2], unitName, "Params") &&
				isSliceOf(results[0], unitName, "Row") &&
				isIdent(results[1], "error")
			if !ok {
				result.ContractErrors = append(result.ContractErrors,
					"Execute must be func(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error)")
			}
		case "Define":
			result.HasDefine = true
			params := fieldTypes(fn.Type.Params)
			results := fieldTypes(fn.Type.Results)
			if len(params) != 0 || len(results) != 1 || !isSelector(results[0], descName, "Definition") {
				result.ContractErrors = append(result.ContractErrors,
					"Define must be func() descriptor.Definition")
			}
		}
	}

	if !result.HasExecute {
		result.ContractErrors = append(result.ContractErrors, "no Execute function")
	}
}

// fieldTypes expands a field list so that "a, b int" yields two entries.
func fieldTypes(fl *ast.FieldList) []ast.Expr {
	if fl == nil {
		return nil
	}
	var out []ast.Expr
	for _, f := range fl.List {
		n := len(f.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, f.Type)
		}
	}
	return out
}

func isIdent(e ast.Expr, name string) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == name
}

func isSelector(e ast.Expr, pkg, name string) bool {
	if pkg == "" {
		return false
	}
	sel, ok := e.(*ast.SelectorExpr)
	return ok && isIdent(sel.X, pkg) && sel.Sel.Name == name
}

func isStar(e ast.Expr, pkg, name string) bool {
	star, ok := e.(*ast.StarExpr)
	return ok && isSelector(star.X, pkg, name)
}

func isSliceOf(e ast.Expr, pkg, name string) bool {
	arr, ok := e.(*ast.ArrayType)
	return ok && arr.Len == nil && isSelector(arr.Elt, pkg, name)
}

// AllowedImports returns the import paths script units may use.
func AllowedImports() []string {
	out := make([]string, 0, len(allowedImports))
	for p := range allowedImports {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
