package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auditkit/internal/authoring"
	"auditkit/internal/llm"
	"auditkit/internal/logging"
	"auditkit/internal/workspace"
)

// setupWorkspace initializes a fresh workspace and points the global flags
// at it.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	for _, name := range []string{"AUDITKIT_DB", "AUDITKIT_UNITS", "AUDITKIT_PROVIDER", "AUDITKIT_MODEL", "OPENAI_API_KEY"} {
		t.Setenv(name, "")
	}

	ws := t.TempDir()
	workspaceFlag = ws
	configFlag = ""
	formatFlag = ""
	docsFlag = false
	exportFlag = ""
	t.Cleanup(func() {
		workspaceFlag = ""
		formatFlag = ""
		exportFlag = ""
		logging.CloseAudit()
	})

	cmd, _ := newTestCmd()
	require.NoError(t, runInit(cmd, nil))
	return ws
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())
	return cmd, buf
}

func seed(t *testing.T) {
	t.Helper()
	seedRows, seedChecks, seedValue, seedAppend = 60, 10, 7, false
	cmd, buf := newTestCmd()
	require.NoError(t, runSeed(cmd, nil))
	assert.Contains(t, buf.String(), "seeded 60 transactions and 10 checks")
}

type envelope struct {
	Schema struct {
		Columns []struct {
			Key  string `json:"key"`
			Type string `json:"type"`
		} `json:"columns"`
	} `json:"schema"`
	Data       []map[string]any `json:"data"`
	Parameters []struct {
		Key          string `json:"key"`
		Type         string `json:"type"`
		DefaultValue any    `json:"defaultValue"`
	} `json:"parameters"`
}

func TestInitCmd(t *testing.T) {
	ws := setupWorkspace(t)
	assert.DirExists(t, filepath.Join(ws, workspace.DirName, "units", "generated"))

	// Running it again keeps everything.
	cmd, buf := newTestCmd()
	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "created")
}

func TestCommandsOutsideWorkspace(t *testing.T) {
	logger = zap.NewNop()
	workspaceFlag = t.TempDir()
	defer func() { workspaceFlag = "" }()

	cmd, _ := newTestCmd()
	err := runList(cmd, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workspace.ErrNotFound))
}

func TestListCmd(t *testing.T) {
	setupWorkspace(t)
	cmd, buf := newTestCmd()
	require.NoError(t, runList(cmd, nil))
	assert.Equal(t,
		"benford_first_digit_test\nduplicate_document_test\nlarge_amount_test\nweekend_posting_test\n",
		buf.String())
}

func TestDescribeCmd(t *testing.T) {
	setupWorkspace(t)
	cmd, buf := newTestCmd()
	require.NoError(t, runDescribe(cmd, []string{"large_amount_test"}))

	var def struct {
		Parameters []struct {
			Key string `json:"key"`
		} `json:"parameters"`
		Category string `json:"category"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &def))
	assert.Equal(t, "amounts", def.Category)
	require.NotEmpty(t, def.Parameters)
	assert.Equal(t, "minAmount", def.Parameters[0].Key)

	cmd, buf = newTestCmd()
	err := runDescribe(cmd, []string{"nope"})
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, buf.String(), `"error"`)
}

func TestDescribeDocs(t *testing.T) {
	ws := setupWorkspace(t)
	docsFlag = true
	defer func() { docsFlag = false }()

	cmd, _ := newTestCmd()
	err := runDescribe(cmd, []string{"large_amount_test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documentation")

	md := filepath.Join(ws, workspace.DirName, "units", "large_amount_test.md")
	require.NoError(t, os.WriteFile(md, []byte("# Large amounts\n\nLists big lines.\n"), 0644))
	cmd, buf := newTestCmd()
	require.NoError(t, runDescribe(cmd, []string{"large_amount_test"}))
	assert.Contains(t, buf.String(), "Large amounts")
}

func TestRunCmd(t *testing.T) {
	setupWorkspace(t)
	seed(t)

	cmd, buf := newTestCmd()
	require.NoError(t, runUnit(cmd, []string{"large_amount_test", `{"minAmount": 0, "limit": 5}`}))

	var env envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Len(t, env.Data, 5)
	require.NotEmpty(t, env.Schema.Columns)
	assert.Equal(t, "Id", env.Schema.Columns[0].Key)
	keys := make([]string, len(env.Parameters))
	for i, p := range env.Parameters {
		keys[i] = p.Key
	}
	assert.Equal(t, []string{"minAmount", "from", "to", "limit"}, keys)
	assert.Equal(t, float64(100), env.Parameters[3].DefaultValue)
	for _, row := range env.Data {
		assert.NotNil(t, row["Amount"])
		assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, row["DocumentDate"])
	}
}

func TestRunCmdTable(t *testing.T) {
	setupWorkspace(t)
	seed(t)

	formatFlag = "table"
	cmd, buf := newTestCmd()
	require.NoError(t, runUnit(cmd, []string{"large_amount_test", `{"minAmount": 0, "limit": 3}`}))
	assert.Contains(t, buf.String(), "Total rows: 3")
}

func TestRunCmdExport(t *testing.T) {
	ws := setupWorkspace(t)
	seed(t)

	exportFlag = filepath.Join(ws, "large.csv")
	cmd, buf := newTestCmd()
	require.NoError(t, runUnit(cmd, []string{"large_amount_test", `{"minAmount": 0, "limit": 4}`}))

	var env envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	require.Len(t, env.Data, 4)

	f, err := os.Open(exportFlag)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	require.NotEmpty(t, env.Schema.Columns)
	assert.Equal(t, env.Schema.Columns[0].Key, records[0][0])
	assert.Equal(t, fmt.Sprint(env.Data[0]["Id"]), records[1][0])
}

func TestRunCmdExportUnwritable(t *testing.T) {
	ws := setupWorkspace(t)
	seed(t)

	exportFlag = filepath.Join(ws, "missing", "dir", "out.csv")
	cmd, buf := newTestCmd()
	err := runUnit(cmd, []string{"large_amount_test"})
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, buf.String(), "export")
}

func TestRequirementsCmd(t *testing.T) {
	setupWorkspace(t)
	seed(t)

	cmd, buf := newTestCmd()
	require.NoError(t, runRequirements(cmd, []string{"large_amount_test", "benford_first_digit_test"}))

	var got requirementsOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got.Units, 2)
	assert.Equal(t, "large_amount_test", got.Units[0].Name)
	assert.True(t, got.Units[0].Declared)
	assert.Equal(t, []requirementTable{{Name: "transactions", Known: true, Rows: 60}}, got.Tables)

	cmd, _ = newTestCmd()
	assert.Error(t, runRequirements(cmd, []string{"missing_test"}))
}

func TestRunCmdErrors(t *testing.T) {
	setupWorkspace(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown unit", []string{"missing_test"}, "unit not found"},
		{"bad params", []string{"large_amount_test", `[1,2]`}, "JSON object"},
		{"invalid param", []string{"large_amount_test", `{"minAmount": "lots"}`}, "minAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, buf := newTestCmd()
			err := runUnit(cmd, tt.args)
			assert.ErrorIs(t, err, errReported)

			var body map[string]string
			require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestRunAllCmd(t *testing.T) {
	ws := setupWorkspace(t)
	seed(t)
	broken := filepath.Join(ws, workspace.DirName, "units", "broken_test.go")
	require.NoError(t, os.WriteFile(broken, []byte("package main\n"), 0644))

	cmd, buf := newTestCmd()
	require.NoError(t, runAll(cmd, nil))

	var items []struct {
		Unit   string    `json:"unit"`
		Result *envelope `json:"result"`
		Error  string    `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 5)
	for _, item := range items {
		if item.Unit == "broken_test" {
			assert.Contains(t, item.Error, "no Execute function")
			assert.Nil(t, item.Result)
			continue
		}
		assert.Empty(t, item.Error, item.Unit)
		assert.NotNil(t, item.Result, item.Unit)
	}
}

func TestCatalogCmd(t *testing.T) {
	setupWorkspace(t)
	cmd, buf := newTestCmd()
	require.NoError(t, runCatalog(cmd, nil))

	var cats []struct {
		Category string `json:"category"`
		Units    []struct {
			Name string `json:"name"`
		} `json:"units"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &cats))
	var names []string
	for _, c := range cats {
		names = append(names, c.Category)
	}
	assert.Equal(t, []string{"amounts", "benford", "dates", "duplicates"}, names)
}

func TestCheckCmd(t *testing.T) {
	ws := setupWorkspace(t)
	units := filepath.Join(ws, workspace.DirName, "units")
	bad := filepath.Join(units, "bad_test.go")
	require.NoError(t, os.WriteFile(bad, []byte("package main\n\nimport \"os\"\n\nfunc Execute() { os.Exit(1) }\n"), 0644))

	cmd, buf := newTestCmd()
	require.NoError(t, runCheck(cmd, []string{filepath.Join(units, "large_amount_test.go")}))
	assert.True(t, strings.HasPrefix(buf.String(), "ok"))

	cmd, buf = newTestCmd()
	err := runCheck(cmd, []string{bad})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "FAIL")
	assert.Contains(t, buf.String(), "os.Exit")
}

type stubClient struct{ reply string }

func (s stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.reply, nil
}

func (s stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return s.reply, nil
}

func TestGenerateCmd(t *testing.T) {
	ws := setupWorkspace(t)

	src, err := workspace.StarterSource("weekend_posting_test")
	require.NoError(t, err)
	reply := "```go\n" + string(src) + "```\n" + authoring.Sentinel + "\n# Weekend postings\n"

	var gotCfg llm.Config
	newLLMClient = func(cfg llm.Config) (llm.Client, error) {
		gotCfg = cfg
		return stubClient{reply: reply}, nil
	}
	defer func() { newLLMClient = llm.NewClientFromConfig }()

	genReq = authoring.Request{Description: "weekend postings", Provider: "avalai", APIKey: "k"}
	defer func() { genReq = authoring.Request{} }()

	cmd, buf := newTestCmd()
	require.NoError(t, runGenerate(cmd, nil))
	assert.Equal(t, llm.ProviderAvalAI, gotCfg.Provider)

	var resp authoring.Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.Success, resp.Message)
	assert.Equal(t, "generated/weekend_posting_test", resp.Unit)
	assert.FileExists(t, filepath.Join(ws, workspace.DirName, "units", "generated", "weekend_posting_test.md"))

	cmd, buf = newTestCmd()
	require.NoError(t, runList(cmd, nil))
	assert.Contains(t, buf.String(), "generated/weekend_posting_test\n")
}

func TestGenerateCmdFailure(t *testing.T) {
	setupWorkspace(t)

	newLLMClient = func(cfg llm.Config) (llm.Client, error) {
		return stubClient{reply: "package main\n"}, nil
	}
	defer func() { newLLMClient = llm.NewClientFromConfig }()
	genReq = authoring.Request{Description: "anything", APIKey: "k"}
	defer func() { genReq = authoring.Request{} }()

	cmd, buf := newTestCmd()
	err := runGenerate(cmd, nil)
	assert.ErrorIs(t, err, errReported)

	var resp authoring.Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, authoring.StageValidation, resp.Stage)
}
