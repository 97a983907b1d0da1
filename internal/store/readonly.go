package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"auditkit/internal/logging"
)

// ErrPermissionDenied is returned for every mutation attempted through a
// ReadOnlySession.
var ErrPermissionDenied = errors.New("write operations are not allowed: session is read-only")

// ReadOnlySession is the only data handle analysis units receive. Reads are
// forwarded to the wrapped Session; every mutating operation fails with
// ErrPermissionDenied without reaching it. This sits on top of, not instead
// of, the database's own permissions.
type ReadOnlySession struct {
	inner Session
}

// NewReadOnly wraps s and turns off its auto-flush.
func NewReadOnly(s Session) *ReadOnlySession {
	s.SetAutoFlush(false)
	return &ReadOnlySession{inner: s}
}

func (r *ReadOnlySession) deny(op, target string) error {
	logging.SessionWarn("Read-only session rejected %s %s", op, target)
	logging.Audit().BoundaryViolation(op, target)
	return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
}

// Query runs a read statement and returns every row.
func (r *ReadOnlySession) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	if !IsReadStatement(query) {
		return nil, r.deny("Query", firstWord(query))
	}
	return r.inner.Query(ctx, query, args...)
}

// Execute is the read form of Execute: it accepts only statements that
// cannot modify data and returns their rows.
func (r *ReadOnlySession) Execute(ctx context.Context, stmt string, args ...any) ([]Record, error) {
	if !IsReadStatement(stmt) {
		return nil, r.deny("Execute", firstWord(stmt))
	}
	return r.inner.Query(ctx, stmt, args...)
}

// Get loads one record by primary key.
func (r *ReadOnlySession) Get(ctx context.Context, table string, id any) (Record, error) {
	return r.inner.Get(ctx, table, id)
}

// Rollback is forwarded; it cannot modify data.
func (r *ReadOnlySession) Rollback() error { return r.inner.Rollback() }

// Close releases the wrapped session.
func (r *ReadOnlySession) Close() error { return r.inner.Close() }

func (r *ReadOnlySession) Add(table string, rec Record) error      { return r.deny("Add", table) }
func (r *ReadOnlySession) AddAll(table string, recs []Record) error { return r.deny("AddAll", table) }
func (r *ReadOnlySession) Delete(table string, id any) error        { return r.deny("Delete", table) }
func (r *ReadOnlySession) Merge(table string, rec Record) error     { return r.deny("Merge", table) }
func (r *ReadOnlySession) Flush(ctx context.Context) error          { return r.deny("Flush", "") }
func (r *ReadOnlySession) Commit(ctx context.Context) error         { return r.deny("Commit", "") }

func (r *ReadOnlySession) BulkInsert(ctx context.Context, table string, recs []Record) error {
	return r.deny("BulkInsert", table)
}

func (r *ReadOnlySession) BulkUpdate(ctx context.Context, table string, recs []Record) error {
	return r.deny("BulkUpdate", table)
}

func (r *ReadOnlySession) BulkSave(ctx context.Context, table string, recs []Record) error {
	return r.deny("BulkSave", table)
}

var readLeaders = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "EXPLAIN": true, "PRAGMA": true,
}

var writeWords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "CREATE": true, "DROP": true,
	"ALTER": true, "ATTACH": true, "DETACH": true, "VACUUM": true, "REINDEX": true,
}

// IsReadStatement reports whether stmt is a single statement that only reads.
// It looks at keywords outside string literals, quoted identifiers and
// comments: the leading keyword must be a read form, no write keyword may
// appear, and nothing may follow a terminating semicolon. A PRAGMA must name
// one of the introspection pragmas and may only take an argument when that
// argument is a table or index name.
func IsReadStatement(stmt string) bool {
	words, ok := tokenize(stmt)
	if !ok || len(words) == 0 {
		return false
	}
	if !readLeaders[words[0]] {
		return false
	}
	for _, w := range words[1:] {
		if writeWords[w] {
			return false
		}
	}
	if words[0] == "PRAGMA" {
		return isReadPragma(words[1:])
	}
	return true
}

// queryPragmas report state and are accepted only without an argument.
var queryPragmas = map[string]bool{
	"TABLE_LIST": true, "DATABASE_LIST": true, "COLLATION_LIST": true,
	"FUNCTION_LIST": true, "MODULE_LIST": true, "PRAGMA_LIST": true,
	"COMPILE_OPTIONS": true, "USER_VERSION": true, "SCHEMA_VERSION": true,
	"APPLICATION_ID": true, "DATA_VERSION": true, "PAGE_COUNT": true,
	"PAGE_SIZE": true, "FREELIST_COUNT": true, "ENCODING": true,
	"FOREIGN_KEYS": true, "QUERY_ONLY": true, "INTEGRITY_CHECK": true,
	"QUICK_CHECK": true,
}

// objectPragmas take a table or index name and only read the schema.
var objectPragmas = map[string]bool{
	"TABLE_INFO": true, "TABLE_XINFO": true, "INDEX_LIST": true,
	"INDEX_INFO": true, "INDEX_XINFO": true, "FOREIGN_KEY_LIST": true,
	"FOREIGN_KEY_CHECK": true,
}

// isReadPragma checks the tokens after PRAGMA: an optional "schema ." prefix,
// the pragma name, then nothing or a single parenthesized name. String
// literals are dropped by tokenize, so table_info('t') arrives as "(" ")".
func isReadPragma(rest []string) bool {
	if len(rest) >= 2 && rest[1] == "." {
		rest = rest[2:]
	}
	if len(rest) == 0 {
		return false
	}
	name, args := rest[0], rest[1:]
	switch {
	case len(args) == 0:
		return queryPragmas[name] || objectPragmas[name]
	case !objectPragmas[name]:
		return false
	case len(args) == 2:
		return args[0] == "(" && args[1] == ")"
	case len(args) == 3:
		return args[0] == "(" && args[2] == ")" && isWordRune([]rune(args[1])[0])
	}
	return false
}

func firstWord(stmt string) string {
	words, _ := tokenize(stmt)
	if len(words) == 0 {
		return ""
	}
	return words[0]
}

// tokenize returns the upper-cased bare words of stmt plus the punctuation
// "=", "(", ")", "," and ".".
// ok is false when a second statement follows a semicolon or a literal is
// left unterminated.
func tokenize(stmt string) (words []string, ok bool) {
	rs := []rune(stmt)
	ended := false
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			end := strings.Index(string(rs[i+2:]), "*/")
			if end < 0 {
				return words, false
			}
			i += 2 + len([]rune(string(rs[i+2:])[:end])) + 1
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := i + 1
			for j < len(rs) && rs[j] != closer {
				j++
			}
			if j >= len(rs) {
				return words, false
			}
			if ended {
				return words, false
			}
			i = j
		case c == ';':
			ended = true
		case unicode.IsSpace(c):
		case isWordRune(c):
			if ended {
				return words, false
			}
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			words = append(words, strings.ToUpper(string(rs[i:j])))
			i = j - 1
		case strings.ContainsRune("=(),.", c):
			if ended {
				return words, false
			}
			words = append(words, string(c))
		default:
			if ended {
				return words, false
			}
		}
	}
	return words, true
}

func isWordRune(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
