// Package dataset loads the reference CSV the explainers draw background and
// perturbation statistics from.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fractal-lba/healthxai/internal/api"
)

// ErrMissingColumns is returned when a frame lacks columns a caller needs.
var ErrMissingColumns = errors.New("dataset lacks required columns")

// Frame is a parsed, read-only table. Cell kinds follow api.Schema.
type Frame struct {
	Path    string
	Columns []string
	// Skipped counts records dropped because a cell failed to parse.
	Skipped int

	index   map[string]int
	records [][]api.Value
}

// NewFrame builds a frame from already-typed records.
func NewFrame(columns []string, records [][]api.Value) (*Frame, error) {
	f := &Frame{Columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if _, dup := f.index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		f.index[c] = i
	}
	for i, rec := range records {
		if len(rec) != len(columns) {
			return nil, fmt.Errorf("record %d has %d cells, want %d", i, len(rec), len(columns))
		}
	}
	f.records = records
	return f, nil
}

// Load reads a CSV file with a header row.
func Load(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	f, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse reads CSV from r. Records with unparsable numeric cells are skipped.
func Parse(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	f, err := NewFrame(columns, nil)
	if err != nil {
		return nil, err
	}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				f.Skipped++
				continue
			}
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		row := make([]api.Value, len(columns))
		ok := true
		for i, cell := range rec {
			v, err := api.ParseValue(columns[i], cell)
			if err != nil {
				ok = false
				break
			}
			row[i] = v
		}
		if !ok {
			f.Skipped++
			continue
		}
		f.records = append(f.records, row)
	}

	return f, nil
}

// Len returns the number of records.
func (f *Frame) Len() int { return len(f.records) }

// Missing lists the named columns the frame lacks.
func (f *Frame) Missing(columns []string) []string {
	var out []string
	for _, c := range columns {
		if _, ok := f.index[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Column returns all values of one column.
func (f *Frame) Column(name string) ([]api.Value, error) {
	j, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, name)
	}
	out := make([]api.Value, len(f.records))
	for i, rec := range f.records {
		out[i] = rec[j]
	}
	return out, nil
}

// Row returns record i restricted to columns, in that order.
func (f *Frame) Row(i int, columns []string) (api.InputRow, error) {
	if i < 0 || i >= len(f.records) {
		return api.InputRow{}, fmt.Errorf("record %d out of range [0,%d)", i, len(f.records))
	}
	vals := make([]api.Value, len(columns))
	for k, c := range columns {
		j, ok := f.index[c]
		if !ok {
			return api.InputRow{}, fmt.Errorf("%w: %s", ErrMissingColumns, c)
		}
		vals[k] = f.records[i][j]
	}
	return api.NewInputRow(columns, vals)
}
