package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"labeling-service/internal/models"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "projects")
	s, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)
	return s, dir
}

func teaProject() *models.Project {
	return &models.Project{
		Name:  "tea",
		Brand: "Tea Co",
		Prompt: models.PromptSpec{
			Role:         "You are a classifier.",
			Include:      "tea",
			Exclude:      "coffee",
			OutputFormat: "Answer 1 or 0.",
		},
		Provider: models.ProviderOpenAI,
		Model:    "gpt-4o-mini",
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s, dir := newStore(t)

	require.NoError(t, s.Save(teaProject()))

	got, err := s.Load("tea")
	require.NoError(t, err)
	assert.Equal(t, teaProject(), got)

	data, err := os.ReadFile(filepath.Join(dir, "tea.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"brand\": \"Tea Co\"")
	assert.NotContains(t, string(data), "api_key")
	assert.NotContains(t, string(data), "APIKey")
}

func TestStore_SaveOverwrites(t *testing.T) {
	s, _ := newStore(t)
	p := teaProject()
	require.NoError(t, s.Save(p))

	p.Prompt.Include = "green tea"
	require.NoError(t, s.Save(p))

	got, err := s.Load("tea")
	require.NoError(t, err)
	assert.Equal(t, "green tea", got.Prompt.Include)
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_InvalidNames(t *testing.T) {
	s, _ := newStore(t)

	for _, name := range []string{"", "..", "../etc", "a/b", "tea shop", "чай"} {
		p := teaProject()
		p.Name = name
		assert.ErrorIs(t, s.Save(p), ErrInvalidName, name)

		_, err := s.Load(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestStore_List(t *testing.T) {
	s, dir := newStore(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"zeta", "alpha", "mid.v2"} {
		p := teaProject()
		p.Name = name
		require.NoError(t, s.Save(p))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid.v2", "zeta"}, names)
}

func TestStore_Delete(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Save(teaProject()))

	require.NoError(t, s.Delete("tea"))
	assert.ErrorIs(t, s.Delete("tea"), ErrNotFound)
}
