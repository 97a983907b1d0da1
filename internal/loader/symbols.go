package loader

import (
	"go/constant"
	"go/token"
	"path"
	"reflect"
	"strconv"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"auditkit/internal/descriptor"
	"auditkit/internal/ledger"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

// Symbols is everything a script unit can import: the whitelisted subset of
// the standard library and the unit-facing surface of auditkit.
var Symbols = buildSymbols()

func buildSymbols() interp.Exports {
	exports := interp.Exports{}
	for p := range allowedImports {
		key := p + "/" + path.Base(p)
		if syms, ok := stdlib.Symbols[key]; ok {
			exports[key] = syms
		}
	}
	exports[pkgDescriptor+"/descriptor"] = descriptorSymbols()
	exports[pkgUnit+"/unit"] = unitSymbols()
	exports[pkgStore+"/store"] = storeSymbols()
	exports[pkgLedger+"/ledger"] = ledgerSymbols()
	return exports
}

func untypedString(s string) reflect.Value {
	return reflect.ValueOf(constant.MakeFromLiteral(strconv.Quote(s), token.STRING, 0))
}

func descriptorSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		// types
		"ParamType":   reflect.ValueOf((*descriptor.ParamType)(nil)),
		"ColumnType":  reflect.ValueOf((*descriptor.ColumnType)(nil)),
		"Option":      reflect.ValueOf((*descriptor.Option)(nil)),
		"Parameter":   reflect.ValueOf((*descriptor.Parameter)(nil)),
		"ParamOption": reflect.ValueOf((*descriptor.ParamOption)(nil)),
		"Column":      reflect.ValueOf((*descriptor.Column)(nil)),
		"Schema":      reflect.ValueOf((*descriptor.Schema)(nil)),
		"Definition":  reflect.ValueOf((*descriptor.Definition)(nil)),

		// constants
		"ParamTypeString":   reflect.ValueOf(descriptor.ParamTypeString),
		"ParamTypeNumber":   reflect.ValueOf(descriptor.ParamTypeNumber),
		"ParamTypeDate":     reflect.ValueOf(descriptor.ParamTypeDate),
		"ParamTypeDateTime": reflect.ValueOf(descriptor.ParamTypeDateTime),
		"ParamTypeBoolean":  reflect.ValueOf(descriptor.ParamTypeBoolean),
		"ParamTypeSelect":   reflect.ValueOf(descriptor.ParamTypeSelect),
		"ColumnString":      reflect.ValueOf(descriptor.ColumnString),
		"ColumnInteger":     reflect.ValueOf(descriptor.ColumnInteger),
		"ColumnNumber":      reflect.ValueOf(descriptor.ColumnNumber),
		"ColumnDecimal":     reflect.ValueOf(descriptor.ColumnDecimal),
		"ColumnDate":        reflect.ValueOf(descriptor.ColumnDate),
		"ColumnDateTime":    reflect.ValueOf(descriptor.ColumnDateTime),
		"ColumnBoolean":     reflect.ValueOf(descriptor.ColumnBoolean),
		"ColumnCurrency":    reflect.ValueOf(descriptor.ColumnCurrency),
		"ColumnPercent":     reflect.ValueOf(descriptor.ColumnPercent),

		// variables
		"ErrNoOptions":   reflect.ValueOf(&descriptor.ErrNoOptions).Elem(),
		"ErrUnknownType": reflect.ValueOf(&descriptor.ErrUnknownType).Elem(),

		// functions
		"NewOption":     reflect.ValueOf(descriptor.NewOption),
		"Required":      reflect.ValueOf(descriptor.Required),
		"Default":       reflect.ValueOf(descriptor.Default),
		"ParamString":   reflect.ValueOf(descriptor.ParamString),
		"ParamNumber":   reflect.ValueOf(descriptor.ParamNumber),
		"ParamDate":     reflect.ValueOf(descriptor.ParamDate),
		"ParamDateTime": reflect.ValueOf(descriptor.ParamDateTime),
		"ParamBoolean":  reflect.ValueOf(descriptor.ParamBoolean),
		"ParamSelect":   reflect.ValueOf(descriptor.ParamSelect),
		"MustSelect":    reflect.ValueOf(descriptor.MustSelect),
		"Col":           reflect.ValueOf(descriptor.Col),
		"NewSchema":     reflect.ValueOf(descriptor.NewSchema),
	}
}

func unitSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Row":    reflect.ValueOf((*unit.Row)(nil)),
		"Params": reflect.ValueOf((*unit.Params)(nil)),

		"ErrRowShape":         reflect.ValueOf(&unit.ErrRowShape).Elem(),
		"ErrMissingParameter": reflect.ValueOf(&unit.ErrMissingParameter).Elem(),
		"ErrInvalidParameter": reflect.ValueOf(&unit.ErrInvalidParameter).Elem(),

		"NewParams": reflect.ValueOf(unit.NewParams),
		"CheckRow":  reflect.ValueOf(unit.CheckRow),
		"CheckRows": reflect.ValueOf(unit.CheckRows),
	}
}

// storeSymbols exposes only the read-only side of the store package. The
// Session interface, the DB handle and SQLSession are deliberately absent.
func storeSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"ReadOnlySession": reflect.ValueOf((*store.ReadOnlySession)(nil)),
		"Record":          reflect.ValueOf((*store.Record)(nil)),

		"IDColumn": untypedString(store.IDColumn),

		"ErrPermissionDenied": reflect.ValueOf(&store.ErrPermissionDenied).Elem(),
		"ErrNotFound":         reflect.ValueOf(&store.ErrNotFound).Elem(),

		"IsReadStatement": reflect.ValueOf(store.IsReadStatement),
	}
}

func ledgerSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Transaction":  reflect.ValueOf((*ledger.Transaction)(nil)),
		"CheckPayable": reflect.ValueOf((*ledger.CheckPayable)(nil)),
		"Filter":       reflect.ValueOf((*ledger.Filter)(nil)),
		"Reader":       reflect.ValueOf((*ledger.Reader)(nil)),

		"DateLayout":         untypedString(ledger.DateLayout),
		"TableTransactions":  untypedString(ledger.TableTransactions),
		"TableCheckPayables": untypedString(ledger.TableCheckPayables),

		"Tables":          reflect.ValueOf(&ledger.Tables).Elem(),
		"ErrUnknownTable": reflect.ValueOf(&ledger.ErrUnknownTable).Elem(),

		"Transactions":  reflect.ValueOf(ledger.Transactions),
		"CheckPayables": reflect.ValueOf(ledger.CheckPayables),
		"Count":         reflect.ValueOf(ledger.Count),
		"IsTable":       reflect.ValueOf(ledger.IsTable),
	}
}
