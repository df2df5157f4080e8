package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"labeling-service/internal/llm"
	"labeling-service/internal/llm/llmtest"
	"labeling-service/internal/models"
	"labeling-service/internal/project"
	"labeling-service/internal/repository"
	"labeling-service/internal/service"
	"labeling-service/internal/session"
)

type testServer struct {
	router  *gin.Engine
	labeler *service.Labeler
}

func teaJudge(_ context.Context, p string) (string, error) {
	row := p[strings.Index(p, "Text:\n---\n"):]
	if strings.Contains(row, "tea") {
		return "1", nil
	}
	return "0", nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	dir := t.TempDir()

	db, err := repository.NewSQLiteDB(filepath.Join(dir, "runs.db"), logger)
	require.NoError(t, err)
	repo := repository.NewRunRepository(db, logger)
	t.Cleanup(func() { repo.Close() })

	store, err := project.NewStore(filepath.Join(dir, "projects"), logger)
	require.NoError(t, err)

	labeler := service.NewLabeler(service.Options{
		Factory: func(context.Context, models.ProviderConfig) (llm.Provider, error) {
			return &llmtest.Stub{Fn: teaJudge}, nil
		},
		Repo:     repo,
		Projects: store,
		Retry:    llm.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Workers:  3,
		Logger:   logger,
	})

	router := gin.New()
	NewHandler(labeler, session.NewManager(logger), 1<<20, logger).RegisterRoutes(router)
	return &testServer{router: router, labeler: labeler}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, sessionID, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/dataset", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// readySession creates a session with the tea dataset, prompt and provider set
func (ts *testServer) readySession(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = ts.upload(t, id, "reviews.csv", "id,text\n1,I love green tea\n2,Coffee is better\n3,Nice weather\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/column", ColumnRequest{Column: "text"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/prompt", models.PromptSpec{
		Role:         "You are a classifier.",
		Include:      "mentions of tea",
		Exclude:      "everything else",
		OutputFormat: "Answer 1 or 0.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/provider", ProviderRequest{Provider: models.ProviderOpenAI, APIKey: "sk-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-secret")
	assert.Equal(t, true, decode(t, w)["has_api_key"])

	return id
}

func (ts *testServer) finishedRun(t *testing.T, id string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/runs", StartRunRequest{Workers: 2})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	runID := decode(t, w)["run_id"].(string)
	ts.labeler.Wait()
	return runID
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", decode(t, w)["status"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.readySession(t)

	w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, "text", info["column"])
	assert.Equal(t, float64(3), info["row_count"])

	w = ts.do(t, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/sessions", nil)
	id := decode(t, w)["id"].(string)

	w = ts.upload(t, id, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.upload(t, id, "broken.json", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/dataset", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/column", ColumnRequest{Column: "text"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.upload(t, "missing", "rows.csv", "text\nx\n")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetProviderRejectsUnknown(t *testing.T) {
	ts := newTestServer(t)
	id := decode(t, ts.do(t, http.MethodPost, "/api/v1/sessions", nil))["id"].(string)

	w := ts.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/provider", ProviderRequest{Provider: "claude"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRunConfigErrors(t *testing.T) {
	ts := newTestServer(t)
	id := decode(t, ts.do(t, http.MethodPost, "/api/v1/sessions", nil))["id"].(string)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/runs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "no dataset")

	id = ts.readySession(t)
	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/runs", StartRunRequest{Workers: 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/runs/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunAndResults(t *testing.T) {
	ts := newTestServer(t)
	id := ts.readySession(t)

	w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/results", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	runID := ts.finishedRun(t, id)

	w = ts.do(t, http.MethodGet, "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 1.0, body["progress"])
	assert.Equal(t, "completed", body["run"].(map[string]interface{})["status"])

	w = ts.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/labels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"0": "1", "1": "0", "2": "0"}, decode(t, w)["labels"])

	w = ts.do(t, http.MethodGet, "/api/v1/runs?session_id="+id, nil)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = ts.do(t, http.MethodGet, "/api/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/results?filter=relevant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{float64(0)}, decode(t, w)["indices"])

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/results?q=weather", nil)
	assert.Equal(t, []interface{}{float64(2)}, decode(t, w)["indices"])

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/results?filter=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/results/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(3), stats["total"])
	assert.Equal(t, float64(1), stats["relevant"])
	assert.Equal(t, float64(2), stats["irrelevant"])
}

func TestApplyEdits(t *testing.T) {
	ts := newTestServer(t)
	id := ts.readySession(t)
	ts.finishedRun(t, id)

	bad := map[string]interface{}{
		"rows":         []interface{}{map[string]interface{}{"index": 1, "values": map[string]string{"AI_Response": "yes"}}},
		"view_indices": []int{1, 2},
	}
	w := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/results/edits", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	edit := map[string]interface{}{
		"rows":         []interface{}{map[string]interface{}{"index": 1, "values": map[string]string{"AI_Response": "1"}}},
		"view_indices": []int{1, 2},
	}
	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/results/edits", edit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["stats"].(map[string]interface{})["relevant"])
}

func TestExport(t *testing.T) {
	ts := newTestServer(t)
	id := ts.readySession(t)

	w := ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export/json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.finishedRun(t, id)

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export/json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "results.json")
	var records []map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 3)
	assert.Equal(t, "1", records[0]["AI_Response"])

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export/xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	rows, err := f.GetRows("Results")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	require.NoError(t, f.Close())

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export/csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,text,AI_Response\n"))

	w = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export/pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProjects(t *testing.T) {
	ts := newTestServer(t)
	id := ts.readySession(t)

	w := ts.do(t, http.MethodPost, "/api/v1/projects", ProjectRequest{Name: "tea", Brand: "Tea Co", SessionID: id})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "sk-secret")

	w = ts.do(t, http.MethodPost, "/api/v1/projects", ProjectRequest{
		Name:     "coffee",
		Prompt:   models.PromptSpec{Include: "coffee"},
		Provider: models.ProviderGemini,
		Model:    "gemini-1.5-flash",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/projects", ProjectRequest{Name: "../etc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, []interface{}{"coffee", "tea"}, decode(t, w)["projects"])

	w = ts.do(t, http.MethodGet, "/api/v1/projects/tea", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Tea Co", decode(t, w)["brand"])

	w = ts.do(t, http.MethodGet, "/api/v1/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/projects/coffee/load", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode(t, w)["session"].(map[string]interface{})
	assert.Equal(t, "coffee", sess["project"])
	assert.Equal(t, true, sess["has_api_key"])
}
