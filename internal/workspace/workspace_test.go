package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditkit/internal/config"
	"auditkit/internal/ledger"
	"auditkit/internal/loader"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func TestInitCreatesLayout(t *testing.T) {
	root := t.TempDir()

	res, err := Init(root)
	require.NoError(t, err)
	ws := res.Workspace

	for _, dir := range []string{
		ws.Dir(),
		filepath.Join(ws.Dir(), "units"),
		filepath.Join(ws.Dir(), "units", loader.GeneratedDir),
		ws.LogsDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	cfg, err := config.Load(ws.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir(), "units"), ws.UnitsDir(cfg))
	assert.Equal(t, filepath.Join(ws.Dir(), "ledger.db"), ws.DBPath(cfg))

	names, err := StarterUnits()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"benford_first_digit_test",
		"duplicate_document_test",
		"large_amount_test",
		"weekend_posting_test",
	}, names)
	for _, name := range names {
		assert.FileExists(t, filepath.Join(ws.Dir(), "units", name+".go"))
	}
	assert.FileExists(t, filepath.Join(ws.Dir(), "units", "doc.go"))
	assert.Empty(t, res.Skipped)
}

func TestInitKeepsExistingFiles(t *testing.T) {
	root := t.TempDir()
	_, err := Init(root)
	require.NoError(t, err)

	edited := filepath.Join(root, DirName, "units", "large_amount_test.go")
	require.NoError(t, os.WriteFile(edited, []byte("// mine\npackage main\n"), 0644))

	res, err := Init(root)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Contains(t, res.Skipped, edited)

	data, err := os.ReadFile(edited)
	require.NoError(t, err)
	assert.Equal(t, "// mine\npackage main\n", string(data))
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	_, err := Init(root)
	require.NoError(t, err)

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	ws, err := Find(nested)
	require.NoError(t, err)
	want, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, want, ws.Root)
}

func TestFindNotFound(t *testing.T) {
	_, err := Find(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStarterUnitsPassCheck(t *testing.T) {
	names, err := StarterUnits()
	require.NoError(t, err)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			src, err := StarterSource(name)
			require.NoError(t, err)

			res := loader.Check(name+".go", src)
			require.NoError(t, res.Err())
			assert.True(t, res.HasDefine)

			u, err := loader.Interpret(name+".go", src)
			require.NoError(t, err)
			require.NoError(t, u.Define().Validate())
		})
	}
}

func date(s string) time.Time {
	t, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// seededRegistry initializes a workspace and loads four journal lines:
// a Friday rent payment, two identical Monday rent payments and a
// Saturday fee.
func seededRegistry(t *testing.T) *loader.Registry {
	t.Helper()
	ctx := context.Background()

	res, err := Init(t.TempDir())
	require.NoError(t, err)
	ws := res.Workspace
	cfg := config.DefaultConfig()

	db, err := store.Open(ctx, ws.DBPath(cfg), ledger.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	txs := []ledger.Transaction{
		{Id: 1, DocumentDate: date("2024-07-05"), DocumentNumber: 10, AccountCode: "6100", Debit: 20000000, Description: "Rent", Uuid: "u1"},
		{Id: 2, DocumentDate: date("2024-07-08"), DocumentNumber: 11, AccountCode: "6100", Debit: 20000000, Description: "Rent", Uuid: "u2"},
		{Id: 3, DocumentDate: date("2024-07-08"), DocumentNumber: 12, AccountCode: "6100", Debit: 20000000, Description: "Rent", Uuid: "u3"},
		{Id: 4, DocumentDate: date("2024-07-06"), DocumentNumber: 13, AccountCode: "6200", Credit: 500, Description: "Fee", Uuid: "u4"},
	}
	s, err := db.Session(ctx)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, ledger.Seed(ctx, s, txs, nil, false))

	return loader.New(loader.Options{Dir: ws.UnitsDir(cfg), Sessions: db})
}

func ids(rows []unit.Row) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["Id"]
	}
	return out
}

func TestStarterUnitsRun(t *testing.T) {
	reg := seededRegistry(t)
	ctx := context.Background()

	entries, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	t.Run("large amount", func(t *testing.T) {
		res, err := reg.Invoke(ctx, "large_amount_test", nil)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ids(res.Rows))
		assert.Empty(t, res.Warnings)
	})

	t.Run("weekend posting", func(t *testing.T) {
		res, err := reg.Invoke(ctx, "weekend_posting_test", nil)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(4), int64(1)}, ids(res.Rows))
		assert.Equal(t, "شنبه", res.Rows[0]["DayOfWeek"])
		assert.Equal(t, "جمعه", res.Rows[1]["DayOfWeek"])

		res, err = reg.Invoke(ctx, "weekend_posting_test", map[string]any{"weekend": "sat-sun"})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(4)}, ids(res.Rows))
	})

	t.Run("duplicate document", func(t *testing.T) {
		res, err := reg.Invoke(ctx, "duplicate_document_test", nil)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2), int64(3)}, ids(res.Rows))
		for _, r := range res.Rows {
			assert.Equal(t, 2, r["DuplicateCount"])
			assert.Equal(t, "G0001", r["DuplicateGroupId"])
		}
	})

	t.Run("benford first digit", func(t *testing.T) {
		res, err := reg.Invoke(ctx, "benford_first_digit_test", nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 9)
		assert.Equal(t, 3, res.Rows[1]["ActualCount"], "all three debits start with 2")
		assert.Equal(t, true, res.Rows[0]["Conforms"], "chi-square 14.04 is under 15.51")
		assert.Empty(t, res.Warnings)

		res, err = reg.Invoke(ctx, "benford_first_digit_test", map[string]any{"chiSquareThreshold": 10})
		require.NoError(t, err)
		assert.Equal(t, false, res.Rows[8]["Conforms"])

		res, err = reg.Invoke(ctx, "benford_first_digit_test", map[string]any{"columnName": "Credit"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Rows[4]["ActualCount"])
	})

	t.Run("catalog", func(t *testing.T) {
		cats, err := reg.Catalog(ctx)
		require.NoError(t, err)
		var names []string
		for _, c := range cats {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"amounts", "benford", "dates", "duplicates"}, names)
	})
}
