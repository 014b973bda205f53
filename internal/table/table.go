// Package table holds the pipeline's intermediate data shape: ordered columns
// plus ordered rows, every row carrying exactly the declared columns.
package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Row maps column name to a scalar: nil, string, int64 or float64.
type Row map[string]any

type Table struct {
	Columns []string
	Rows    []Row
}

func New(columns ...string) *Table {
	return &Table{Columns: slices.Clone(columns), Rows: []Row{}}
}

// FromRecords builds a table from loosely shaped records. Column order is
// the first-seen key order given by keys; values missing from a record
// become nil.
func FromRecords(columns []string, records []map[string]any) *Table {
	t := New(columns...)
	for _, rec := range records {
		t.Append(rec)
	}
	return t
}

// Append adds a row holding exactly the table columns. Keys not declared
// as columns are dropped, absent ones are set to nil.
func (t *Table) Append(values map[string]any) {
	row := make(Row, len(t.Columns))
	for _, c := range t.Columns {
		row[c] = Normalize(values[c])
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Len() int { return len(t.Rows) }

func (t *Table) Index(column string) int { return slices.Index(t.Columns, column) }

func (t *Table) HasColumn(column string) bool { return t.Index(column) >= 0 }

// AddColumn declares a new trailing column, null-filled in existing rows.
// It is a no-op when the column already exists.
func (t *Table) AddColumn(column string) {
	if t.HasColumn(column) {
		return
	}
	t.Columns = append(t.Columns, column)
	for _, r := range t.Rows {
		r[column] = nil
	}
}

func (t *Table) Clone() *Table {
	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Check reports the first row that violates the exact-columns invariant.
func (t *Table) Check() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(r), len(t.Columns))
		}
		for _, c := range t.Columns {
			if _, ok := r[c]; !ok {
				return fmt.Errorf("row %d is missing column %q", i, c)
			}
		}
	}
	return nil
}

// SameColumnSet reports whether both tables declare the same columns,
// ignoring order.
func SameColumnSet(a, b *Table) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for _, c := range a.Columns {
		if !b.HasColumn(c) {
			return false
		}
	}
	return true
}

type wire struct {
	Columns  []string `json:"columns"`
	Data     []Row    `json:"data"`
	RowCount int      `json:"row_count"`
}

func (t *Table) MarshalJSON() ([]byte, error) {
	rows := t.Rows
	if rows == nil {
		rows = []Row{}
	}
	cols := t.Columns
	if cols == nil {
		cols = []string{}
	}
	return json.Marshal(wire{Columns: cols, Data: rows, RowCount: len(rows)})
}

func (t *Table) UnmarshalJSON(b []byte) error {
	var w struct {
		Columns []string         `json:"columns"`
		Data    []map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*t = *FromRecords(w.Columns, w.Data)
	return nil
}

// Slice returns a view over rows [offset, offset+limit). The rows are
// shared with the receiver.
func (t *Table) Slice(offset, limit int) *Table {
	n := len(t.Rows)
	offset = max(0, min(offset, n))
	end := n
	if limit > 0 {
		end = min(n, offset+limit)
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[offset:end]}
}
