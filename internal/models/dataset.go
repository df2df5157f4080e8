package models

// Row maps column name to cell value
type Row map[string]string

// Dataset is an ordered table of rows loaded from an uploaded file
type Dataset struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"-"`
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// HasColumn reports whether col is one of the dataset columns
func (d *Dataset) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the first limit rows (all rows when limit <= 0).
// Dispatch always works on a snapshot so later uploads cannot shift row indices.
func (d *Dataset) Snapshot(limit int) *Dataset {
	n := len(d.Rows)
	if limit > 0 && limit < n {
		n = limit
	}
	cp := &Dataset{
		Name:    d.Name,
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([]Row, n),
	}
	for i := 0; i < n; i++ {
		row := make(Row, len(d.Rows[i]))
		for k, v := range d.Rows[i] {
			row[k] = v
		}
		cp.Rows[i] = row
	}
	return cp
}
