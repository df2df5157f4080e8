// Package dataset parses uploaded files into ordered tables.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"labeling-service/internal/models"

	"github.com/xuri/excelize/v2"
)

// ErrInput marks a dataset that cannot be read or parsed
var ErrInput = errors.New("invalid dataset")

// Extensions lists the supported file types
var Extensions = []string{".csv", ".xlsx", ".jsonl", ".json"}

// LoadFile opens path and parses it by extension
func LoadFile(path string) (*models.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	defer f.Close()

	return Load(filepath.Base(path), f)
}

// Load parses r according to the extension of name
func Load(name string, r io.Reader) (*models.Dataset, error) {
	var (
		ds  *models.Dataset
		err error
	)

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv":
		ds, err = loadCSV(r)
	case ".xlsx":
		ds, err = loadXLSX(r)
	case ".jsonl":
		ds, err = loadJSONL(r)
	case ".json":
		ds, err = loadJSON(r)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInput, ext)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInput, name, err)
	}

	if len(ds.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s: no columns found", ErrInput, name)
	}

	ds.Name = name
	return ds, nil
}

func loadCSV(r io.Reader) (*models.Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &models.Dataset{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	columns := uniqueColumns(header)
	ds := &models.Dataset{Columns: columns}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) > len(columns) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("record on line %d: expected at most %d fields, got %d", line, len(columns), len(record))
		}
		ds.Rows = append(ds.Rows, makeRow(columns, record))
	}

	return ds, nil
}

func loadXLSX(r io.Reader) (*models.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &models.Dataset{}, nil
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &models.Dataset{}, nil
	}

	columns := uniqueColumns(records[0])
	ds := &models.Dataset{Columns: columns}
	for _, record := range records[1:] {
		ds.Rows = append(ds.Rows, makeRow(columns, record))
	}

	return ds, nil
}

func loadJSONL(r io.Reader) (*models.Dataset, error) {
	acc := newAccumulator()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		if err := acc.readObject(dec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return acc.dataset(), nil
}

func loadJSON(r io.Reader) (*models.Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	acc := newAccumulator()
	for dec.More() {
		if err := acc.readObject(dec); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(acc.rows)+1, err)
		}
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	return acc.dataset(), nil
}

// accumulator keeps columns in order of first appearance across records
type accumulator struct {
	columns []string
	seen    map[string]bool
	rows    []models.Row
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]bool)}
}

func (a *accumulator) readObject(dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	row := make(models.Row)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		if !a.seen[key] {
			a.seen[key] = true
			a.columns = append(a.columns, key)
		}
		row[key] = cellString(raw)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return err
	}

	a.rows = append(a.rows, row)
	return nil
}

func (a *accumulator) dataset() *models.Dataset {
	for _, row := range a.rows {
		for _, c := range a.columns {
			if _, ok := row[c]; !ok {
				row[c] = ""
			}
		}
	}
	return &models.Dataset{Columns: a.columns, Rows: a.rows}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// cellString renders a JSON value as cell text; nested values stay compact JSON
func cellString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}

	return string(trimmed)
}

// uniqueColumns names blank headers and suffixes duplicates with .1, .2, ...
func uniqueColumns(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if taken[name] {
			for n := 1; ; n++ {
				candidate := name + "." + strconv.Itoa(n)
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		}
		taken[name] = true
		out[i] = name
	}
	return out
}

func makeRow(columns []string, record []string) models.Row {
	row := make(models.Row, len(columns))
	for i, c := range columns {
		if i < len(record) {
			row[c] = record[i]
		} else {
			row[c] = ""
		}
	}
	return row
}
