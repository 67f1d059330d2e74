// Package feed reads quote records from local files. A feed yields untyped
// rows in file order; all typing and validation happens downstream in the
// reconciliation engine.
package feed

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Row is one untyped quote record: field name to string value.
type Row map[string]string

// Load reads a feed file, choosing the format from the extension
// (.csv or .json).
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f)
	case ".json":
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", filepath.Ext(path))
	}
}

// ReadCSV reads a feed with a header line naming the columns. Empty cells
// are treated as absent fields so that downstream validation sees them as
// missing rather than empty.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feed header: %w", err)
	}

	var rows []Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed row: %w", err)
		}
		row := Row{}
		for i, col := range header {
			if i < len(record) && record[i] != "" {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadJSON reads a feed formatted as a JSON array of flat objects. Numbers
// keep their source representation; null fields are absent.
func ReadJSON(r io.Reader) ([]Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	rows := make([]Row, 0, len(raw))
	for _, obj := range raw {
		row := Row{}
		for col, v := range obj {
			switch val := v.(type) {
			case string:
				row[col] = val
			case json.Number:
				row[col] = val.String()
			case bool:
				row[col] = fmt.Sprintf("%t", val)
			case nil:
				// absent
			default:
				return nil, fmt.Errorf("feed column %s: unsupported value %v", col, v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
