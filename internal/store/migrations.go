package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"auditkit/internal/logging"
)

// Migration adds a column to an existing table when it is missing.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var (
	migrationsMu      sync.Mutex
	pendingMigrations []Migration
)

// RegisterMigrations queues column migrations applied on every Open.
func RegisterMigrations(ms ...Migration) {
	migrationsMu.Lock()
	defer migrationsMu.Unlock()
	pendingMigrations = append(pendingMigrations, ms...)
}

// RunMigrations applies the registered column migrations to db. Tables that
// do not exist yet are skipped quietly.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrationsMu.Lock()
	ms := append([]Migration(nil), pendingMigrations...)
	migrationsMu.Unlock()

	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied, skipped := 0, 0
	for _, m := range ms {
		if err := ValidIdentifier(m.Table); err != nil {
			return err
		}
		if err := ValidIdentifier(m.Column); err != nil {
			return err
		}
		if !tableExists(ctx, db, m.Table) || columnExists(ctx, db, m.Table, m.Column) {
			skipped++
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(m.Table), quote(m.Column), m.Def)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", applied, skipped)
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) bool {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(ctx context.Context, db *sql.DB, table string) bool {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
