package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

const itemsCSV = "物料名称,规格型号,制造商\n球阀,DN50 PN25,天津泵业\n闸阀,DN80 PN16,上海阀门厂\n离心泵,DN40,天津泵业\n"

func writeItems(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.csv")
	require.NoError(t, os.WriteFile(path, []byte(itemsCSV), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRecognizeCommand(t *testing.T) {
	out, err := run(t, "recognize", writeItems(t), "--metadata", "source_id=erp")
	require.NoError(t, err)

	var sch schema.Schema
	require.NoError(t, json.Unmarshal([]byte(out), &sch))
	assert.Equal(t, "manufacturing", sch.Industry)
	assert.Equal(t, 3, sch.SampleSize)
}

func TestRecognizeYAML(t *testing.T) {
	out, err := run(t, "recognize", writeItems(t), "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "industry: manufacturing")
}

func TestGenerateCommandPersists(t *testing.T) {
	db := filepath.Join(t.TempDir(), "categorizer.db")

	out, err := run(t, "generate", writeItems(t), "--store", "sqlite:"+db, "--metadata", "source_id=erp")
	require.NoError(t, err)

	var tpl taxonomy.Template
	require.NoError(t, json.Unmarshal([]byte(out), &tpl))
	assert.Equal(t, "manufacturing_erp", tpl.ID)

	ctx := context.Background()
	st, err := store.NewSQLite(ctx, db)
	require.NoError(t, err)
	defer st.Close()

	stored, err := st.GetTemplate(ctx, "manufacturing_erp")
	require.NoError(t, err)
	assert.Len(t, stored.Rules, len(tpl.Rules))
}

func TestGenerateWithCategories(t *testing.T) {
	categories := filepath.Join(t.TempDir(), "categories.csv")
	require.NoError(t, os.WriteFile(categories, []byte(
		"一级分类,二级分类,三级分类\n仪器仪表,流量仪表,电磁流量计\n仪器仪表,压力仪表,\n"), 0o644))

	out, err := run(t, "generate", writeItems(t), "--categories", categories)
	require.NoError(t, err)

	var tpl taxonomy.Template
	require.NoError(t, json.Unmarshal([]byte(out), &tpl))
	assert.Contains(t, out, "电磁流量计")
	assert.Contains(t, out, "压力仪表")

	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("名称\n球阀\n"), 0o644))
	_, err = run(t, "generate", writeItems(t), "--categories", empty)
	assert.ErrorContains(t, err, "no category rows")
}

func TestTemplatesCommands(t *testing.T) {
	db := "sqlite:" + filepath.Join(t.TempDir(), "categorizer.db")

	_, err := run(t, "generate", writeItems(t), "--store", db, "--metadata", "source_id=erp")
	require.NoError(t, err)

	out, err := run(t, "templates", "list", "--store", db, "--industry", "manufacturing")
	require.NoError(t, err)
	var summaries []templateSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "manufacturing_erp", summaries[0].ID)
	assert.Equal(t, 1, summaries[0].Revision)
	assert.NotZero(t, summaries[0].Rules)

	out, err = run(t, "templates", "list", "--store", db, "--industry", "medical")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = run(t, "templates", "list", "--store", db, "--industry", "aerospace")
	assert.Error(t, err)

	out, err = run(t, "templates", "history", "manufacturing_erp", "--store", db)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = run(t, "templates", "history", "missing", "--store", db)
	assert.Error(t, err)
}

func TestCacheClearCommand(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/cache/clear" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("X-API-Key")
		if gotKey != "k1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Invalid API key","message":"Invalid API key","code":"AUTH002"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(core.Stats{Industries: []string{"manufacturing"}})
	}))
	defer srv.Close()

	out, err := run(t, "cache", "clear", "--server", srv.URL+"/", "--api-key", "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", gotKey)

	var stats core.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.CachedTemplates)
	assert.Equal(t, []string{"manufacturing"}, stats.Industries)

	_, err = run(t, "cache", "clear", "--server", srv.URL, "--api-key", "bad")
	assert.ErrorContains(t, err, "AUTH002")
}

func TestClassifyCommand(t *testing.T) {
	out, err := run(t, "classify", writeItems(t), "--metadata", "source_id=erp", "--batch-size", "1", "--workers", "2")
	require.NoError(t, err)

	var res core.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Total)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Results, 3)
	assert.Equal(t, taxonomy.Path{"管道阀门", "控制阀门", "球阀"}, res.Results[0].Category)

	out, err = run(t, "classify", writeItems(t), "--summary")
	require.NoError(t, err)
	res = core.BatchResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Processed)
	assert.Empty(t, res.Results)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing argument", []string{"recognize"}},
		{"missing file", []string{"classify", filepath.Join(t.TempDir(), "none.csv")}},
		{"unsupported file", []string{"recognize", "items.pdf"}},
		{"unknown output", []string{"recognize", writeItems(t), "-o", "xml"}},
		{"unknown store", []string{"recognize", writeItems(t), "--store", "redis:localhost"}},
		{"bad sample size", []string{"recognize", writeItems(t), "--sample-size", "0"}},
		{"missing categories file", []string{"generate", writeItems(t), "--categories", filepath.Join(t.TempDir(), "none.csv")}},
		{"history without id", []string{"templates", "history"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
