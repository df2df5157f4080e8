package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI answers 1 for rows that mention tea
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		text := req.Messages[0].Content
		text = text[strings.Index(text, "Text:\n---\n"):]
		label := "0"
		if strings.Contains(text, "tea") {
			label = "1"
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" ` + label + `\n"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestLabelCommand(t *testing.T) {
	srv := fakeOpenAI(t)
	dir := t.TempDir()

	cfg := filepath.Join(dir, "config.yml")
	writeFile(t, cfg, `
log:
  level: error
providers:
  openai:
    base_url: `+srv.URL+`
    api_key: sk-test
retry:
  max_attempts: 1
storage:
  database_path: `+filepath.Join(dir, "data", "runs.db")+`
  projects_dir: `+filepath.Join(dir, "projects")+`
`)

	input := filepath.Join(dir, "reviews.csv")
	writeFile(t, input, "id,text\n1,I love green tea\n2,Coffee is better\n3,Nice weather\n")
	output := filepath.Join(dir, "labeled.json")

	stdout, err := execute(t, "--config", cfg, "label",
		"--input", input,
		"--column", "text",
		"--role", "You are a classifier.",
		"--include", "mentions of tea",
		"--output-format", "Answer 1 or 0.",
		"--workers", "2",
		"--save-as", "tea",
		"--output", output)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 rows, 1 relevant, 2 irrelevant, 0 errors")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var records []map[string]string
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 3)
	assert.Equal(t, []string{"1", "0", "0"}, []string{records[0]["AI_Response"], records[1]["AI_Response"], records[2]["AI_Response"]})

	stdout, err = execute(t, "--config", cfg, "projects", "list")
	require.NoError(t, err)
	assert.Equal(t, "tea\n", stdout)

	stdout, err = execute(t, "--config", cfg, "projects", "show", "tea")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"include": "mentions of tea"`)
	assert.NotContains(t, stdout, "sk-test")
}

func TestLabelCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yml")
	writeFile(t, cfg, `
log:
  level: error
storage:
  database_path: `+filepath.Join(dir, "runs.db")+`
  projects_dir: `+filepath.Join(dir, "projects")+`
`)
	input := filepath.Join(dir, "reviews.csv")
	writeFile(t, input, "text\ntea\n")

	_, err := execute(t, "--config", cfg, "label", "--column", "text")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "label", "-i", input, "-c", "text", "-o", filepath.Join(dir, "out.pdf"))
	assert.ErrorContains(t, err, "unknown export format")

	_, err = execute(t, "--config", cfg, "label", "-i", input, "-c", "text")
	assert.ErrorContains(t, err, "empty prompt")

	_, err = execute(t, "--config", cfg, "label", "-i", input, "-c", "text", "--project", "missing")
	assert.ErrorContains(t, err, "project not found")

	_, err = execute(t, "--config", cfg, "label", "-i", filepath.Join(dir, "missing.csv"), "-c", "text", "--include", "tea")
	assert.ErrorContains(t, err, "invalid dataset")
}
