// Package ledger models the audited dataset: journal transactions and check
// payables, their SQLite schema, typed readers for analysis units, and a
// deterministic sample generator.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auditkit/internal/store"
)

// DateLayout is how calendar dates are stored and exchanged.
const DateLayout = "2006-01-02"

// Transaction is one journal line.
type Transaction struct {
	Id             int64
	DocumentDate   time.Time
	DocumentNumber int64
	AccountCode    string
	AccountName    string
	Debit          float64
	Credit         float64
	Description    string
	IsDeleted      bool
	Uuid           string
}

// Amount is the non-zero side of the line.
func (t Transaction) Amount() float64 {
	if t.Debit != 0 {
		return t.Debit
	}
	return t.Credit
}

// Record converts t to its stored form.
func (t Transaction) Record() store.Record {
	deleted := 0
	if t.IsDeleted {
		deleted = 1
	}
	return store.Record{
		"Id":             t.Id,
		"DocumentDate":   t.DocumentDate.Format(DateLayout),
		"DocumentNumber": t.DocumentNumber,
		"AccountCode":    t.AccountCode,
		"AccountName":    t.AccountName,
		"Debit":          t.Debit,
		"Credit":         t.Credit,
		"Description":    t.Description,
		"IsDeleted":      deleted,
		"Uuid":           t.Uuid,
	}
}

// CheckPayable is one issued check.
type CheckPayable struct {
	Id          int64
	CheckNumber string
	CheckAmount float64
	CheckDate   time.Time
	PayeeCode   string
	PayeeName   string
	IsDeleted   bool
	Uuid        string
}

// Record converts c to its stored form.
func (c CheckPayable) Record() store.Record {
	deleted := 0
	if c.IsDeleted {
		deleted = 1
	}
	return store.Record{
		"Id":          c.Id,
		"CheckNumber": c.CheckNumber,
		"CheckAmount": c.CheckAmount,
		"CheckDate":   c.CheckDate.Format(DateLayout),
		"PayeeCode":   c.PayeeCode,
		"PayeeName":   c.PayeeName,
		"IsDeleted":   deleted,
		"Uuid":        c.Uuid,
	}
}

const (
	TableTransactions  = "transactions"
	TableCheckPayables = "check_payables"
)

// Tables lists every ledger table a unit may declare in Requires.
var Tables = []string{TableTransactions, TableCheckPayables}

// ErrUnknownTable is returned for a table name outside Tables.
var ErrUnknownTable = errors.New("unknown ledger table")

// IsTable reports whether name is one of Tables.
func IsTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// Migrate creates the ledger tables. It is passed to store.Open.
func Migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		Id INTEGER PRIMARY KEY AUTOINCREMENT,
		DocumentDate TEXT NOT NULL,
		DocumentNumber INTEGER NOT NULL,
		AccountCode TEXT NOT NULL,
		AccountName TEXT NOT NULL DEFAULT '',
		Debit REAL NOT NULL DEFAULT 0,
		Credit REAL NOT NULL DEFAULT 0,
		Description TEXT NOT NULL DEFAULT '',
		IsDeleted INTEGER NOT NULL DEFAULT 0,
		Uuid TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(DocumentDate);
	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(AccountCode);

	CREATE TABLE IF NOT EXISTS check_payables (
		Id INTEGER PRIMARY KEY AUTOINCREMENT,
		CheckNumber TEXT NOT NULL,
		CheckAmount REAL NOT NULL,
		CheckDate TEXT NOT NULL,
		PayeeCode TEXT NOT NULL DEFAULT '',
		PayeeName TEXT NOT NULL DEFAULT '',
		IsDeleted INTEGER NOT NULL DEFAULT 0,
		Uuid TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	return nil
}

// Reader is the read surface the typed readers need. Both store.SQLSession
// and store.ReadOnlySession satisfy it.
type Reader interface {
	Query(ctx context.Context, query string, args ...any) ([]store.Record, error)
}

// Filter narrows Transactions. Zero values mean unbounded.
type Filter struct {
	From           time.Time
	To             time.Time
	AccountCode    string
	IncludeDeleted bool
	Limit          int
}

// Transactions reads journal lines ordered by date then Id. Soft-deleted
// lines are excluded unless f.IncludeDeleted is set.
func Transactions(ctx context.Context, r Reader, f Filter) ([]Transaction, error) {
	var where []string
	var args []any
	if !f.IncludeDeleted {
		where = append(where, "IsDeleted = 0")
	}
	if !f.From.IsZero() {
		where = append(where, "DocumentDate >= ?")
		args = append(args, f.From.Format(DateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "DocumentDate <= ?")
		args = append(args, f.To.Format(DateLayout))
	}
	if f.AccountCode != "" {
		where = append(where, "AccountCode = ?")
		args = append(args, f.AccountCode)
	}

	q := "SELECT Id, DocumentDate, DocumentNumber, AccountCode, AccountName, Debit, Credit, Description, IsDeleted, Uuid FROM transactions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY DocumentDate, Id"
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}

	recs, err := r.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Transaction{
			Id:             asInt(rec["Id"]),
			DocumentDate:   asDate(rec["DocumentDate"]),
			DocumentNumber: asInt(rec["DocumentNumber"]),
			AccountCode:    asString(rec["AccountCode"]),
			AccountName:    asString(rec["AccountName"]),
			Debit:          asFloat(rec["Debit"]),
			Credit:         asFloat(rec["Credit"]),
			Description:    asString(rec["Description"]),
			IsDeleted:      asInt(rec["IsDeleted"]) != 0,
			Uuid:           asString(rec["Uuid"]),
		})
	}
	return out, nil
}

// Count returns the number of non-deleted rows in table.
func Count(ctx context.Context, r Reader, table string) (int64, error) {
	if !IsTable(table) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	recs, err := r.Query(ctx, "SELECT COUNT(*) AS n FROM "+table+" WHERE IsDeleted = 0")
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return asInt(recs[0]["n"]), nil
}

// CheckPayables reads every non-deleted issued check ordered by date.
func CheckPayables(ctx context.Context, r Reader) ([]CheckPayable, error) {
	recs, err := r.Query(ctx, "SELECT Id, CheckNumber, CheckAmount, CheckDate, PayeeCode, PayeeName, IsDeleted, Uuid FROM check_payables WHERE IsDeleted = 0 ORDER BY CheckDate, Id")
	if err != nil {
		return nil, err
	}
	out := make([]CheckPayable, 0, len(recs))
	for _, rec := range recs {
		out = append(out, CheckPayable{
			Id:          asInt(rec["Id"]),
			CheckNumber: asString(rec["CheckNumber"]),
			CheckAmount: asFloat(rec["CheckAmount"]),
			CheckDate:   asDate(rec["CheckDate"]),
			PayeeCode:   asString(rec["PayeeCode"]),
			PayeeName:   asString(rec["PayeeName"]),
			IsDeleted:   asInt(rec["IsDeleted"]) != 0,
			Uuid:        asString(rec["Uuid"]),
		})
	}
	return out, nil
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func asDate(v any) time.Time {
	switch d := v.(type) {
	case time.Time:
		return d
	case string:
		if len(d) >= len(DateLayout) {
			if t, err := time.Parse(DateLayout, d[:len(DateLayout)]); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
