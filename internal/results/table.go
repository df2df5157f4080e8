// Package results holds the labeled table of a session.
//
// Views and searches are pure projections that copy rows. Edits made on a
// projection only reach the canonical table through ApplyEdits.
package results

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"labeling-service/internal/dispatch"
	"labeling-service/internal/models"
)

// LabelColumn is the column appended to the dataset for model output
const LabelColumn = "AI_Response"

// Row is one table row keyed by its index in the dispatched snapshot
type Row struct {
	Index  int               `json:"index"`
	Values map[string]string `json:"values"`
}

func (r Row) clone() Row {
	values := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Row{Index: r.Index, Values: values}
}

// Label returns the row's label cell
func (r Row) Label() string {
	return r.Values[LabelColumn]
}

// Table is the dataset snapshot plus the label column
type Table struct {
	Columns    []string `json:"columns"`
	TextColumn string   `json:"text_column"`
	Rows       []Row    `json:"rows"`
}

// FromDataset joins a dataset snapshot with labels keyed by row position
func FromDataset(ds *models.Dataset, textColumn string, labels map[int]string) *Table {
	columns := make([]string, 0, len(ds.Columns)+1)
	for _, c := range ds.Columns {
		if c != LabelColumn {
			columns = append(columns, c)
		}
	}
	columns = append(columns, LabelColumn)

	rows := make([]Row, len(ds.Rows))
	for i, src := range ds.Rows {
		values := make(map[string]string, len(columns))
		for _, c := range ds.Columns {
			values[c] = src[c]
		}
		values[LabelColumn] = labels[i]
		rows[i] = Row{Index: i, Values: values}
	}

	return &Table{Columns: columns, TextColumn: textColumn, Rows: rows}
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Indices returns the row indices in table order
func (t *Table) Indices() []int {
	out := make([]int, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Index
	}
	return out
}

// Row returns a copy of the row with the given index
func (t *Table) Row(index int) (Row, bool) {
	for _, r := range t.Rows {
		if r.Index == index {
			return r.clone(), true
		}
	}
	return Row{}, false
}

// Labels returns index -> label for every row
func (t *Table) Labels() map[int]string {
	out := make(map[int]string, len(t.Rows))
	for _, r := range t.Rows {
		out[r.Index] = r.Label()
	}
	return out
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	return View(t, func(Row) bool { return true })
}

// Predicate selects rows for a view
type Predicate func(Row) bool

// View returns a copy of the rows matching pred, in table order
func View(t *Table, pred Predicate) *Table {
	out := &Table{
		Columns:    append([]string(nil), t.Columns...),
		TextColumn: t.TextColumn,
		Rows:       make([]Row, 0, len(t.Rows)),
	}
	for _, r := range t.Rows {
		if pred(r) {
			out.Rows = append(out.Rows, r.clone())
		}
	}
	return out
}

// Search returns the rows whose column contains term, ignoring case.
// An empty column searches the text column; an empty term matches every row.
func Search(t *Table, column, term string) *Table {
	if column == "" {
		column = t.TextColumn
	}
	needle := strings.ToLower(term)
	return View(t, func(r Row) bool {
		return strings.Contains(strings.ToLower(r.Values[column]), needle)
	})
}

// Filter names a label filter
type Filter string

const (
	FilterAll        Filter = "all"
	FilterRelevant   Filter = "relevant"
	FilterIrrelevant Filter = "irrelevant"
	FilterErrors     Filter = "errors"
)

// ParseFilter parses a filter name; empty means all
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterRelevant, FilterIrrelevant, FilterErrors:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// Predicate returns the row predicate of the filter.
// Relevant and irrelevant match non-error labels containing "1" and "0".
func (f Filter) Predicate() Predicate {
	switch f {
	case FilterRelevant:
		return func(r Row) bool { return labelContains(r, "1") }
	case FilterIrrelevant:
		return func(r Row) bool { return labelContains(r, "0") }
	case FilterErrors:
		return func(r Row) bool { return dispatch.IsFailure(r.Label()) }
	default:
		return func(Row) bool { return true }
	}
}

func labelContains(r Row, class string) bool {
	label := r.Label()
	return !dispatch.IsFailure(label) && strings.Contains(label, class)
}

// ApplyEdits reconciles an edited view back into current and returns the new table.
//
// Rows of edited overwrite the cells they carry on the row with the same index.
// Indices in viewIndices that edited no longer contains are deleted.
// All other rows are left untouched, and current itself is not modified.
func ApplyEdits(current *Table, edited []Row, viewIndices []int) *Table {
	out := current.Clone()

	known := make(map[string]bool, len(out.Columns))
	for _, c := range out.Columns {
		known[c] = true
	}

	pos := make(map[int]int, len(out.Rows))
	for i, r := range out.Rows {
		pos[r.Index] = i
	}

	kept := make(map[int]bool, len(edited))
	for _, e := range edited {
		kept[e.Index] = true
		i, ok := pos[e.Index]
		if !ok {
			continue
		}
		for col, v := range e.Values {
			if known[col] {
				out.Rows[i].Values[col] = v
			}
		}
	}

	deleted := make(map[int]bool)
	for _, idx := range viewIndices {
		if !kept[idx] {
			deleted[idx] = true
		}
	}
	if len(deleted) == 0 {
		return out
	}

	rows := out.Rows[:0]
	for _, r := range out.Rows {
		if !deleted[r.Index] {
			rows = append(rows, r)
		}
	}
	out.Rows = rows
	return out
}

// Summary counts labels by class
type Summary struct {
	Total      int `json:"total"`
	Relevant   int `json:"relevant"`
	Irrelevant int `json:"irrelevant"`
	Errors     int `json:"errors"`
}

// Stats summarizes the labels of t
func Stats(t *Table) Summary {
	s := Summary{Total: t.Len()}
	relevant, irrelevant, errs := FilterRelevant.Predicate(), FilterIrrelevant.Predicate(), FilterErrors.Predicate()
	for _, r := range t.Rows {
		if relevant(r) {
			s.Relevant++
		}
		if irrelevant(r) {
			s.Irrelevant++
		}
		if errs(r) {
			s.Errors++
		}
	}
	return s
}

var labelPattern = regexp.MustCompile(`^[01]$`)

// ValidateLabel accepts only a single "0" or "1"
func ValidateLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("label %q must be 0 or 1", label)
	}
	return nil
}

// ChangedLabels returns the indices of edited rows whose label differs from current
func ChangedLabels(current *Table, edited []Row) []int {
	labels := current.Labels()
	var changed []int
	for _, e := range edited {
		label, ok := e.Values[LabelColumn]
		if !ok {
			continue
		}
		if old, found := labels[e.Index]; found && old == label {
			continue
		}
		changed = append(changed, e.Index)
	}
	sort.Ints(changed)
	return changed
}
