package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"auditkit/internal/logging"
)

// Session is a mutable unit-of-work over the dataset. Add, AddAll, Delete and
// Merge stage changes; Flush writes them inside the session transaction and
// Commit makes them durable. The Bulk variants write immediately.
type Session interface {
	Query(ctx context.Context, query string, args ...any) ([]Record, error)
	Get(ctx context.Context, table string, id any) (Record, error)
	Execute(ctx context.Context, stmt string, args ...any) (Result, error)

	Add(table string, rec Record) error
	AddAll(table string, recs []Record) error
	Delete(table string, id any) error
	Merge(table string, rec Record) error
	Flush(ctx context.Context) error
	Commit(ctx context.Context) error

	BulkInsert(ctx context.Context, table string, recs []Record) error
	BulkUpdate(ctx context.Context, table string, recs []Record) error
	BulkSave(ctx context.Context, table string, recs []Record) error

	Rollback() error
	Close() error

	// SetAutoFlush controls whether reads flush staged changes first.
	SetAutoFlush(on bool)
}

type opKind int

const (
	opInsert opKind = iota
	opDelete
	opMerge
)

type stagedOp struct {
	kind  opKind
	table string
	rec   Record
	id    any
}

// SQLSession is the SQLite-backed Session. It pins one pooled connection for
// its lifetime and opens its transaction lazily.
type SQLSession struct {
	mu        sync.Mutex
	conn      *sql.Conn
	tx        *sql.Tx
	pending   []stagedOp
	autoFlush bool
	queryOnly bool
	closed    bool
}

var _ Session = (*SQLSession)(nil)

func (s *SQLSession) begin(ctx context.Context) (*sql.Tx, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *SQLSession) maybeFlush(ctx context.Context) error {
	if s.autoFlush && len(s.pending) > 0 {
		return s.flushLocked(ctx)
	}
	return nil
}

// Query runs a statement and returns every row.
func (s *SQLSession) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.maybeFlush(ctx); err != nil {
		return nil, err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// Get loads one record by primary key.
func (s *SQLSession) Get(ctx context.Context, table string, id any) (Record, error) {
	if err := ValidIdentifier(table); err != nil {
		return nil, err
	}
	recs, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", quote(table), quote(IDColumn)), id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %v: %w", table, id, ErrNotFound)
	}
	return recs[0], nil
}

// Execute runs a write statement inside the session transaction.
func (s *SQLSession) Execute(ctx context.Context, stmt string, args ...any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.maybeFlush(ctx); err != nil {
		return Result{}, err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, err
	}
	return toResult(res), nil
}

func toResult(res sql.Result) Result {
	var r Result
	r.RowsAffected, _ = res.RowsAffected()
	r.LastInsertID, _ = res.LastInsertId()
	return r
}

func (s *SQLSession) stage(op stagedOp) error {
	if err := ValidIdentifier(op.table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, op)
	return nil
}

// Add stages an insert.
func (s *SQLSession) Add(table string, rec Record) error {
	return s.stage(stagedOp{kind: opInsert, table: table, rec: rec})
}

// AddAll stages one insert per record.
func (s *SQLSession) AddAll(table string, recs []Record) error {
	for _, r := range recs {
		if err := s.Add(table, r); err != nil {
			return err
		}
	}
	return nil
}

// Delete stages a delete by primary key.
func (s *SQLSession) Delete(table string, id any) error {
	return s.stage(stagedOp{kind: opDelete, table: table, id: id})
}

// Merge stages an upsert keyed on Id.
func (s *SQLSession) Merge(table string, rec Record) error {
	if _, ok := rec[IDColumn]; !ok {
		return ErrMissingID
	}
	return s.stage(stagedOp{kind: opMerge, table: table, rec: rec})
}

// Pending reports how many staged changes await Flush.
func (s *SQLSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes staged changes into the session transaction.
func (s *SQLSession) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *SQLSession) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	for _, op := range s.pending {
		switch op.kind {
		case opInsert, opMerge:
			cols, err := columns([]Record{op.rec})
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertSQL(op.table, cols, op.kind == opMerge), values(op.rec, cols)...); err != nil {
				return fmt.Errorf("flush %s: %w", op.table, err)
			}
		case opDelete:
			q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(op.table), quote(IDColumn))
			if _, err := tx.ExecContext(ctx, q, op.id); err != nil {
				return fmt.Errorf("flush %s: %w", op.table, err)
			}
		}
	}
	logging.SessionDebug("Flushed %d staged changes", len(s.pending))
	s.pending = nil
	return nil
}

// Commit flushes and commits. The session stays usable; the next operation
// opens a fresh transaction.
func (s *SQLSession) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *SQLSession) bulk(ctx context.Context, table string, recs []Record, build func(cols []string) string, args func(Record, []string) ([]any, error)) error {
	if err := ValidIdentifier(table); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	cols, err := columns(recs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, build(cols))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		a, err := args(r, cols)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, a...); err != nil {
			return fmt.Errorf("bulk write %s: %w", table, err)
		}
	}
	return nil
}

// BulkInsert inserts recs immediately, bypassing the staging list.
func (s *SQLSession) BulkInsert(ctx context.Context, table string, recs []Record) error {
	return s.bulk(ctx, table, recs,
		func(cols []string) string { return insertSQL(table, cols, false) },
		func(r Record, cols []string) ([]any, error) { return values(r, cols), nil })
}

// BulkUpdate updates recs by Id immediately.
func (s *SQLSession) BulkUpdate(ctx context.Context, table string, recs []Record) error {
	return s.bulk(ctx, table, recs,
		func(cols []string) string { return updateSQL(table, cols) },
		func(r Record, cols []string) ([]any, error) {
			id, ok := r[IDColumn]
			if !ok {
				return nil, ErrMissingID
			}
			var a []any
			for _, c := range cols {
				if c != IDColumn {
					a = append(a, r[c])
				}
			}
			return append(a, id), nil
		})
}

// BulkSave upserts recs by Id immediately.
func (s *SQLSession) BulkSave(ctx context.Context, table string, recs []Record) error {
	return s.bulk(ctx, table, recs,
		func(cols []string) string { return insertSQL(table, cols, true) },
		func(r Record, cols []string) ([]any, error) {
			if _, ok := r[IDColumn]; !ok {
				return nil, ErrMissingID
			}
			return values(r, cols), nil
		})
}

// Rollback discards staged changes and the open transaction.
func (s *SQLSession) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Close rolls back anything uncommitted and returns the connection to the
// pool, restoring query_only if this session enabled it. Close is idempotent.
func (s *SQLSession) Close() error {
	if err := s.Rollback(); err != nil {
		logging.SessionWarn("Rollback on close failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.queryOnly {
		if _, err := s.conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
			logging.SessionWarn("Failed to reset query_only: %v", err)
		}
	}
	logging.SessionDebug("Session closed")
	return s.conn.Close()
}

// SetAutoFlush controls whether reads flush staged changes first.
func (s *SQLSession) SetAutoFlush(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoFlush = on
}
