package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"labeling-service/internal/models"
)

func TestAssemble(t *testing.T) {
	spec := models.PromptSpec{
		Role:         "You are an annotator.",
		Include:      "1) Any consumer experience with tea",
		Exclude:      "1) Advertising",
		OutputFormat: "Respond with ONLY one character: 1 or 0.",
	}

	t.Run("blocks appear in order", func(t *testing.T) {
		out := Assemble(spec, "great tea")

		order := []string{
			spec.Role,
			"Relevant if the text includes:\n" + spec.Include,
			"Exclude as irrelevant:\n" + spec.Exclude,
			spec.OutputFormat,
			"Text:\n---\ngreat tea\n---\n",
		}
		pos := -1
		for _, part := range order {
			i := strings.Index(out, part)
			assert.Greater(t, i, pos, "part %q out of order", part)
			pos = i
		}
	})

	t.Run("matches template exactly", func(t *testing.T) {
		want := "\nR\n\nRelevant if the text includes:\nI\n\nExclude as irrelevant:\nE\n\nO\n\nText:\n---\nrow\n---\n"
		got := Assemble(models.PromptSpec{Role: "R", Include: "I", Exclude: "E", OutputFormat: "O"}, "row")
		assert.Equal(t, want, got)
	})

	t.Run("sentinel in row text is not escaped", func(t *testing.T) {
		out := Assemble(spec, "before\n---\nafter")
		assert.Contains(t, out, "---\nbefore\n---\nafter\n---\n")
	})

	t.Run("is pure", func(t *testing.T) {
		assert.Equal(t, Assemble(spec, "x"), Assemble(spec, "x"))
	})
}
