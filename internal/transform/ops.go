package transform

import (
	"regexp"
	"slices"
	"strings"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/table"
)

func (s *Extract) apply(ws *Workspace) error {
	cur := ws.Current()
	if err := requireColumns(cur, "column", s.Column); err != nil {
		return err
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return errs.Invalid("pattern", "%v", err)
	}
	out := cur.Clone()
	out.AddColumn(s.OutputColumn)
	for _, r := range out.Rows {
		r[s.OutputColumn] = extract(re, r[s.Column])
	}
	ws.setCurrent(out)
	return nil
}

// extract returns the first capture group, or the whole match for a
// pattern without groups.
func extract(re *regexp.Regexp, v any) any {
	if v == nil {
		return nil
	}
	m := re.FindStringSubmatch(table.Format(v))
	switch {
	case m == nil:
		return nil
	case len(m) > 1:
		return m[1]
	}
	return m[0]
}

func (s *Rename) apply(ws *Workspace) error {
	cur := ws.Current()
	cols := make([]string, len(cur.Columns))
	for i, c := range cur.Columns {
		cols[i] = c
		if to, ok := s.Mapping[c]; ok {
			cols[i] = to
		}
	}
	for i, c := range cols {
		if slices.Index(cols, c) != i {
			return errs.Invalid("mapping", "rename produces duplicate column %q", c)
		}
	}
	out := table.New(cols...)
	for _, r := range cur.Rows {
		nr := make(table.Row, len(cols))
		for i, c := range cur.Columns {
			nr[cols[i]] = r[c]
		}
		out.Rows = append(out.Rows, nr)
	}
	ws.setCurrent(out)
	return nil
}

func (s *Sort) apply(ws *Workspace) error {
	cur := ws.Current()
	if err := requireColumns(cur, "columns", s.Columns...); err != nil {
		return err
	}
	desc := s.Ascending != nil && !*s.Ascending
	out := &table.Table{Columns: slices.Clone(cur.Columns), Rows: slices.Clone(cur.Rows)}
	slices.SortStableFunc(out.Rows, func(a, b table.Row) int {
		for _, c := range s.Columns {
			av, bv := a[c], b[c]
			n := table.Compare(av, bv)
			if desc && av != nil && bv != nil {
				n = -n
			}
			if n != 0 {
				return n
			}
		}
		return 0
	})
	ws.setCurrent(out)
	return nil
}

func (s *Filter) apply(ws *Workspace) error {
	cur := ws.Current()
	if err := requireColumns(cur, "column", s.Column); err != nil {
		return err
	}
	out := table.New(cur.Columns...)
	for _, r := range cur.Rows {
		if s.match(r[s.Column]) {
			out.Rows = append(out.Rows, r)
		}
	}
	ws.setCurrent(out)
	return nil
}

// match evaluates one cell. Cells that cannot be compared with the filter
// value are excluded, never an error.
func (s *Filter) match(v any) bool {
	switch s.Operator {
	case "is_null":
		return v == nil
	case "not_null":
		return v != nil
	}
	if v == nil {
		return false
	}
	switch s.Operator {
	case "eq":
		return equal(v, s.Value)
	case "ne":
		return sameKind(v, s.Value) && !equal(v, s.Value)
	case "contains":
		return strings.Contains(table.Format(v), table.Format(table.Normalize(s.Value)))
	case "in":
		return slices.ContainsFunc(listValues(s.Value), func(x any) bool { return equal(v, x) })
	}
	n, ok := order(v, s.Value)
	if !ok {
		return false
	}
	switch s.Operator {
	case "gt":
		return n > 0
	case "gte":
		return n >= 0
	case "lt":
		return n < 0
	case "lte":
		return n <= 0
	}
	return false
}

func equal(a, b any) bool {
	ka, okA := table.Key(table.Normalize(a))
	kb, okB := table.Key(table.Normalize(b))
	return okA && okB && ka == kb
}

// sameKind reports whether cell and value are both numeric or both text.
func sameKind(cell, value any) bool {
	_, cellNum := table.Number(cell)
	_, valNum := table.Number(table.Normalize(value))
	return cellNum == valNum
}

// order compares a cell with the filter value. A numeric filter value only
// orders numeric cells; a text value only orders text cells.
func order(cell, value any) (int, bool) {
	value = table.Normalize(value)
	if value == nil || !sameKind(cell, value) {
		return 0, false
	}
	return table.Compare(cell, value), true
}

func listValues(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case string:
		var out []any
		for _, p := range strings.Split(x, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []any{v}
}
