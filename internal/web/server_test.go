package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/categorizer/internal/config"
	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/engine"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

var valveRecords = []map[string]string{
	{"id": "m1", "物料名称": "球阀", "规格型号": "DN50 PN25", "制造商": "天津泵业"},
	{"id": "m2", "物料名称": "闸阀", "规格型号": "DN80 PN16", "制造商": "上海阀门厂"},
	{"id": "m3", "物料名称": "离心泵", "规格型号": "DN40", "制造商": "天津泵业"},
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{MaxUploadSize: 1 << 20},
		Engine: config.EngineConfig{SampleSize: 100},
		Batch:  config.BatchConfig{MaxRecords: 100},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := core.NewService(store.NewMemory(), vocab.MustDefault(), core.Options{AutoGenerate: true}, logger)
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(t.Context()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig())
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRecognize(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/schemas/recognize", map[string]any{
		"records":  valveRecords,
		"metadata": map[string]string{"source_id": "erp"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sch := decode[schema.Schema](t, rec)
	assert.Equal(t, "manufacturing", sch.Industry)
	assert.NotEmpty(t, sch.Fingerprint)

	rec = do(t, srv, http.MethodGet, "/api/schemas/"+sch.Fingerprint, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sch.SourceID, decode[schema.Schema](t, rec).SourceID)
}

func TestRecognizeErrors(t *testing.T) {
	srv := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed json", http.MethodPost, "/api/schemas/recognize", "{", http.StatusBadRequest, "REQ003"},
		{"missing records", http.MethodPost, "/api/schemas/recognize", map[string]any{}, http.StatusBadRequest, "REQ003"},
		{"empty sample", http.MethodPost, "/api/schemas/recognize", map[string]any{"records": []any{}}, http.StatusBadRequest, "SCH001"},
		{"only malformed records", http.MethodPost, "/api/schemas/recognize", map[string]any{"records": []any{"x", nil}}, http.StatusBadRequest, "SCH001"},
		{"unknown schema", http.MethodGet, "/api/schemas/nope", nil, http.StatusNotFound, "SCH002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestTemplateLifecycle(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/templates", map[string]any{
		"records":  valveRecords,
		"metadata": map[string]string{"source_id": "erp"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	gen := decode[generateResponse](t, rec)
	require.NotNil(t, gen.Template)
	assert.Equal(t, "manufacturing_erp", gen.Template.ID)
	assert.Equal(t, 1, gen.Template.Revision)
	assert.NotEmpty(t, gen.Template.Rules)

	rec = do(t, srv, http.MethodGet, "/api/templates/manufacturing_erp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[taxonomy.Template](t, rec)
	assert.Len(t, got.Rules, len(gen.Template.Rules))

	rec = do(t, srv, http.MethodPost, "/api/templates/manufacturing_erp/optimize", taxonomy.Feedback{Accuracy: 0.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[taxonomy.Template](t, rec).Revision)

	rec = do(t, srv, http.MethodPost, "/api/templates/manufacturing_erp/optimize", taxonomy.Feedback{Accuracy: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/templates", map[string]any{"fingerprint": gen.Schema.Fingerprint})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "manufacturing_erp", decode[generateResponse](t, rec).Template.ID)
}

func TestTemplateCategoriesAndHistory(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/templates", map[string]any{
		"records":    valveRecords,
		"metadata":   map[string]string{"source_id": "erp"},
		"categories": [][]string{{"仪器仪表", "流量仪表", "电磁流量计"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpl := decode[generateResponse](t, rec).Template
	var found bool
	for _, l := range taxonomy.Leaves(tpl.Tree) {
		if l.Path.String() == "仪器仪表/流量仪表/电磁流量计" {
			found = true
		}
	}
	assert.True(t, found, "flat category row merged into the tree")

	rec = do(t, srv, http.MethodGet, "/api/templates?industry=manufacturing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]taxonomy.Template](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, "manufacturing_erp", listed[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/templates?industry=medical", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/templates?industry=aerospace", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/templates/manufacturing_erp/performance",
		taxonomy.Feedback{Accuracy: 0.8, Records: 50, CommonErrors: []string{"闸阀→球阀"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[taxonomy.Performance](t, rec).Revision)

	rec = do(t, srv, http.MethodPost, "/api/templates/manufacturing_erp/performance", taxonomy.Feedback{Accuracy: 0.8, Records: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/templates/manufacturing_erp/performance?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]taxonomy.Performance](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, 50, history[0].Records)

	rec = do(t, srv, http.MethodGet, "/api/templates/manufacturing_erp/performance?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/templates/missing/performance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearCaches(t *testing.T) {
	srv := newTestServer(t, testConfig())
	do(t, srv, http.MethodPost, "/api/schemas/recognize", map[string]any{"records": valveRecords})

	rec := do(t, srv, http.MethodPost, "/api/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[core.Stats](t, rec)
	assert.Zero(t, stats.CachedSchemas)
	assert.Zero(t, stats.CachedTemplates)

	rec = do(t, srv, http.MethodGet, "/api/cache/clear", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTemplateErrors(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodGet, "/api/templates/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TPL001", decode[ErrorResponse](t, rec).Code)

	rec = do(t, srv, http.MethodPost, "/api/templates/missing/optimize", taxonomy.Feedback{Accuracy: 0.5})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/templates", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassify(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/classify", map[string]any{
		"record":   map[string]string{"物料名称": "球阀", "规格型号": "DN50 PN25", "制造商": "天津泵业"},
		"metadata": map[string]string{"source_id": "erp"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.Result](t, rec)
	assert.Equal(t, engine.StatusClassified, res.Status)
	assert.Equal(t, taxonomy.Path{"管道阀门", "控制阀门", "球阀"}, res.Category)
	assert.Equal(t, "manufacturing_erp", res.TemplateID)

	rec = do(t, srv, http.MethodPost, "/api/classify", map[string]any{
		"record":      map[string]string{"id": "x1", "物料名称": "闸阀", "规格型号": "DN80"},
		"template_id": "manufacturing_erp",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[engine.Result](t, rec)
	assert.Equal(t, "x1", res.RecordID)
	assert.Equal(t, "manufacturing_erp", res.TemplateID)
}

func TestClassifyErrors(t *testing.T) {
	srv := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"record not an object", map[string]any{"record": []int{1}}, http.StatusBadRequest},
		{"record missing", map[string]any{}, http.StatusBadRequest},
		{"unknown template", map[string]any{"record": map[string]string{"a": "b"}, "template_id": "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/classify", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	t.Run("empty record degrades", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/classify", map[string]any{"record": map[string]string{"a": ""}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, engine.StatusFailed, decode[engine.Result](t, rec).Status)
	})
}

func TestClassifyBatch(t *testing.T) {
	srv := newTestServer(t, testConfig())

	records := []any{valveRecords[0], valveRecords[1], valveRecords[2], "not a record"}
	rec := do(t, srv, http.MethodPost, "/api/classify/batch", map[string]any{
		"records":    records,
		"metadata":   map[string]string{"source_id": "erp"},
		"batch_size": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.BatchResult](t, rec)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "manufacturing_erp", res.TemplateID)
	require.Len(t, res.Results, 4)
	assert.Equal(t, "m1", res.Results[0].RecordID)
	assert.Equal(t, "row-4", res.Results[3].RecordID)
}

func TestClassifyBatchLimits(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.MaxRecords = 2
	srv := newTestServer(t, cfg)

	rec := do(t, srv, http.MethodPost, "/api/classify/batch", map[string]any{"records": valveRecords})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "REQ004", decode[ErrorResponse](t, rec).Code)

	rec = do(t, srv, http.MethodPost, "/api/classify/batch", map[string]any{"records": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cfg = testConfig()
	cfg.Server.MaxUploadSize = 16
	srv = newTestServer(t, cfg)
	rec = do(t, srv, http.MethodPost, "/api/classify/batch", map[string]any{"records": valveRecords})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decode[ErrorResponse](t, rec).Code)
}

func upload(t *testing.T, srv *Server, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/classify/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestClassifyUpload(t *testing.T) {
	srv := newTestServer(t, testConfig())

	csv := "物料名称,规格型号,制造商\n球阀,DN50 PN25,天津泵业\n闸阀,DN80 PN16,上海阀门厂\n"
	rec := upload(t, srv, "items.csv", csv, map[string]string{
		"metadata": `{"source_id":"erp"}`,
		"workers":  "2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.BatchResult](t, rec)
	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.Failed)
	assert.Equal(t, "manufacturing_erp", res.TemplateID)
	assert.Equal(t, "row-1", res.Results[0].RecordID)

	tests := []struct {
		name       string
		filename   string
		content    string
		fields     map[string]string
		wantStatus int
		wantCode   string
	}{
		{"unsupported type", "items.pdf", "x", nil, http.StatusUnsupportedMediaType, "FILE002"},
		{"no file", "", "", nil, http.StatusBadRequest, "FILE003"},
		{"empty file", "items.csv", "a,b\n", nil, http.StatusBadRequest, "FILE004"},
		{"bad metadata", "items.csv", csv, map[string]string{"metadata": "{"}, http.StatusBadRequest, "REQ003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := upload(t, srv, tt.filename, tt.content, tt.fields)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, testConfig())
	do(t, srv, http.MethodPost, "/api/schemas/recognize", map[string]any{"records": valveRecords})

	rec := do(t, srv, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[core.Stats](t, rec)
	assert.Equal(t, 1, stats.CachedSchemas)
	assert.Contains(t, stats.Industries, "manufacturing")
	assert.True(t, stats.AutoGenerate)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	srv := newTestServer(t, cfg)

	tests := []struct {
		name       string
		path       string
		key        string
		wantStatus int
	}{
		{"health is public", "/healthz", "", http.StatusOK},
		{"missing key", "/api/stats", "", http.StatusUnauthorized},
		{"wrong key", "/api/stats", "nope", http.StatusForbidden},
		{"valid key", "/api/stats", "k2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var header []string
			if tt.key != "" {
				header = []string{"X-API-Key", tt.key}
			}
			rec := do(t, srv, http.MethodGet, tt.path, nil, header...)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, BatchLimit: 1}
	srv := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil).Code)

	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", core.ErrTooManyBatches, http.StatusServiceUnavailable},
		{"not found", core.ErrTemplateNotFound, http.StatusNotFound},
		{"bad input", schema.ErrInvalidInput, http.StatusBadRequest},
		{"store failure", &store.Error{Op: "put", Key: "k", Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
