// Package export writes a results table as XLSX, JSON or CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"labeling-service/internal/results"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding exported rows
const SheetName = "Results"

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeJSON = "application/json; charset=utf-8"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

// Format names an export file type
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrUnknownFormat is returned for an unsupported export format
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts a format name or file extension such as ".xlsx"
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(s), ".")); f {
	case FormatXLSX, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of f
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return ContentTypeXLSX
	case FormatCSV:
		return ContentTypeCSV
	default:
		return ContentTypeJSON
	}
}

// Write encodes t in format f
func Write(w io.Writer, f Format, t *results.Table) error {
	switch f {
	case FormatXLSX:
		return XLSX(w, t)
	case FormatJSON:
		return JSON(w, t)
	case FormatCSV:
		return CSV(w, t)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// XLSX writes the whole table to one sheet with a header row
func XLSX(w io.Writer, t *results.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range t.Rows {
		cells := make([]interface{}, len(t.Columns))
		for j, c := range t.Columns {
			cells[j] = row.Values[c]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row.Index, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// JSON writes the table as an array of records.
// Keys follow column order, non-ASCII text is kept as is and nesting is indented by four spaces.
func JSON(w io.Writer, t *results.Table) error {
	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, row := range t.Rows {
		if i > 0 {
			compact.WriteByte(',')
		}
		compact.WriteByte('{')
		for j, c := range t.Columns {
			if j > 0 {
				compact.WriteByte(',')
			}
			if err := writeString(&compact, c); err != nil {
				return err
			}
			compact.WriteByte(':')
			if err := writeString(&compact, row.Values[c]); err != nil {
				return err
			}
		}
		compact.WriteByte('}')
	}
	compact.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "    "); err != nil {
		return fmt.Errorf("failed to indent export: %w", err)
	}
	out.WriteByte('\n')

	_, err := out.WriteTo(w)
	return err
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates each value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// CSV writes the table with a header row
func CSV(w io.Writer, t *results.Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for j, c := range t.Columns {
			record[j] = row.Values[c]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row.Index, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
