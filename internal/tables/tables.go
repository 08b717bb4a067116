// Package tables reads and writes the CSV tables the pipeline exchanges with
// its users: the reference list, subject lists, ROI name maps, the treatment
// tracker and the session-day table.
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrExists is returned by writers when the table is already on disk.
var ErrExists = errors.New("table already exists")

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = errors.New("missing column")

// table is a parsed CSV with a header row.
type table struct {
	path    string
	columns map[string]int
	rows    [][]string
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty table", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t := &table{path: path, columns: make(map[string]int, len(header))}
	for i, h := range header {
		// Spreadsheet exports sometimes carry a BOM on the first cell.
		t.columns[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := t.columns[col]; !ok {
			return nil, fmt.Errorf("%s: %w %q", path, ErrMissingColumn, col)
		}
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

// get returns the trimmed cell of row in column, or "" when the row is short.
func (t *table) get(row []string, column string) string {
	i, ok := t.columns[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// writeTable creates path (and its directory) and writes header + rows.
// An existing file is left untouched and ErrExists returned.
func writeTable(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Exists reports whether a table is already on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
