package transform

import (
	"strings"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/table"
)

func (s *Join) apply(ws *Workspace) error {
	left, err := ws.Table(s.Left)
	if err != nil {
		return err
	}
	right, err := ws.Table(s.Right)
	if err != nil {
		return err
	}
	lk, ok := keyColumn(left, first(s.LeftOn, s.On))
	if !ok {
		return errs.Invalid("on", "table %q has no column %q", s.Left, first(s.LeftOn, s.On))
	}
	rk, ok := keyColumn(right, first(s.RightOn, s.On))
	if !ok {
		return errs.Invalid("on", "table %q has no column %q", s.Right, first(s.RightOn, s.On))
	}
	key := first(s.On, lk)

	lcols, rcols := nonKey(left, lk), nonKey(right, rk)
	lname, rname := outputNames(lcols, rcols, key, s.Left, s.Right)

	cols := []string{key}
	cols = append(cols, lname...)
	cols = append(cols, rname...)
	out := table.New(cols...)

	emit := func(l, r table.Row) {
		row := make(table.Row, len(cols))
		row[key] = nil
		if l != nil {
			row[key] = l[lk]
		} else if r != nil {
			row[key] = r[rk]
		}
		for i, c := range lcols {
			row[lname[i]] = nil
			if l != nil {
				row[lname[i]] = l[c]
			}
		}
		for i, c := range rcols {
			row[rname[i]] = nil
			if r != nil {
				row[rname[i]] = r[c]
			}
		}
		out.Rows = append(out.Rows, row)
	}

	how := first(s.How, "inner")
	if how == "right" {
		byKey := index(left, lk)
		for _, r := range right.Rows {
			matches := lookup(byKey, r[rk])
			if len(matches) == 0 {
				emit(nil, r)
			}
			for _, i := range matches {
				emit(left.Rows[i], r)
			}
		}
		ws.setCurrent(out)
		return nil
	}

	byKey := index(right, rk)
	matched := make([]bool, len(right.Rows))
	for _, l := range left.Rows {
		matches := lookup(byKey, l[lk])
		if len(matches) == 0 && how != "inner" {
			emit(l, nil)
		}
		for _, i := range matches {
			matched[i] = true
			emit(l, right.Rows[i])
		}
	}
	if how == "outer" {
		for i, r := range right.Rows {
			if !matched[i] {
				emit(nil, r)
			}
		}
	}
	ws.setCurrent(out)
	return nil
}

// keyColumn finds the join key in t, falling back to the logical name
// (case and separators ignored) so campaign_id matches CampaignId.
func keyColumn(t *table.Table, name string) (string, bool) {
	if t.HasColumn(name) {
		return name, true
	}
	want := logical(name)
	for _, c := range t.Columns {
		if logical(c) == want {
			return c, true
		}
	}
	return "", false
}

func logical(name string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(name))
}

func nonKey(t *table.Table, key string) []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != key {
			out = append(out, c)
		}
	}
	return out
}

// outputNames suffixes colliding non-key columns with their table name.
func outputNames(lcols, rcols []string, key, lt, rt string) ([]string, []string) {
	inL := map[string]bool{}
	for _, c := range lcols {
		inL[c] = true
	}
	inR := map[string]bool{}
	for _, c := range rcols {
		inR[c] = true
	}
	ln := make([]string, len(lcols))
	for i, c := range lcols {
		ln[i] = c
		if inR[c] || c == key {
			ln[i] = c + "_" + lt
		}
	}
	rn := make([]string, len(rcols))
	for i, c := range rcols {
		rn[i] = c
		if inL[c] || c == key {
			rn[i] = c + "_" + rt
		}
	}
	return ln, rn
}

func index(t *table.Table, col string) map[string][]int {
	out := map[string][]int{}
	for i, r := range t.Rows {
		if k, ok := table.Key(r[col]); ok {
			out[k] = append(out[k], i)
		}
	}
	return out
}

func lookup(idx map[string][]int, v any) []int {
	k, ok := table.Key(v)
	if !ok {
		return nil
	}
	return idx[k]
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
