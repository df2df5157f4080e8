package prompt

import (
	"strings"

	"labeling-service/internal/models"
)

// Sentinel delimits the row text inside the assembled prompt.
// Row text is not escaped, so a sentinel inside the text passes through as is.
const Sentinel = "---"

// Assemble builds the request text for one row
func Assemble(spec models.PromptSpec, rowText string) string {
	var b strings.Builder
	b.Grow(len(spec.Role) + len(spec.Include) + len(spec.Exclude) + len(spec.OutputFormat) + len(rowText) + 96)

	b.WriteString("\n")
	b.WriteString(spec.Role)
	b.WriteString("\n\nRelevant if the text includes:\n")
	b.WriteString(spec.Include)
	b.WriteString("\n\nExclude as irrelevant:\n")
	b.WriteString(spec.Exclude)
	b.WriteString("\n\n")
	b.WriteString(spec.OutputFormat)
	b.WriteString("\n\nText:\n")
	b.WriteString(Sentinel)
	b.WriteString("\n")
	b.WriteString(rowText)
	b.WriteString("\n")
	b.WriteString(Sentinel)
	b.WriteString("\n")

	return b.String()
}
