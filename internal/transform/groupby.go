package transform

import (
	"strings"

	"github.com/AngelCh415/adreports/internal/table"
)

type group struct {
	keys table.Row
	rows []table.Row
}

func (s *GroupBy) apply(ws *Workspace) error {
	cur := ws.Current()
	if err := requireColumns(cur, "columns", s.Columns...); err != nil {
		return err
	}
	for col := range s.Aggregations {
		if err := requireColumns(cur, "aggregations", col); err != nil {
			return err
		}
	}

	// aggregated columns keep the input column order
	cols := append([]string{}, s.Columns...)
	var aggCols []string
	for _, c := range cur.Columns {
		if _, ok := s.Aggregations[c]; ok {
			aggCols = append(aggCols, c)
		}
	}
	cols = append(cols, aggCols...)

	var order []string
	groups := map[string]*group{}
	for _, r := range cur.Rows {
		k := groupKey(r, s.Columns)
		g, ok := groups[k]
		if !ok {
			g = &group{keys: table.Row{}}
			for _, c := range s.Columns {
				g.keys[c] = r[c]
			}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, r)
	}

	out := table.New(cols...)
	for _, k := range order {
		g := groups[k]
		row := g.keys.Clone()
		for _, c := range aggCols {
			row[c] = aggregate(s.Aggregations[c], g.rows, c)
		}
		out.Rows = append(out.Rows, row)
	}
	ws.setCurrent(out)
	return nil
}

// groupKey uses the engine's value equality, so "42" and 42 share a group.
// Nulls form one group of their own.
func groupKey(r table.Row, cols []string) string {
	var b strings.Builder
	for _, c := range cols {
		k, ok := table.Key(r[c])
		if !ok {
			k = "\x00null"
		}
		b.WriteString(k)
		b.WriteByte(0x1f)
	}
	return b.String()
}

func aggregate(fn string, rows []table.Row, col string) any {
	switch fn {
	case "count":
		var n int64
		for _, r := range rows {
			if r[col] != nil {
				n++
			}
		}
		return n
	case "sum":
		return sum(rows, col)
	case "avg":
		var total float64
		var n int
		for _, r := range rows {
			if f, ok := table.Number(r[col]); ok {
				total += f
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return total / float64(n)
	case "min", "max":
		var best any
		for _, r := range rows {
			v := r[col]
			if v == nil {
				continue
			}
			c := table.Compare(v, best)
			if best == nil || (fn == "min" && c < 0) || (fn == "max" && c > 0) {
				best = v
			}
		}
		return best
	}
	return nil
}

// sum stays integral while every contributing value is an integer.
func sum(rows []table.Row, col string) any {
	var (
		ints     int64
		floats   float64
		integral = true
	)
	for _, r := range rows {
		v := r[col]
		if i, ok := table.Integer(v); ok && integral {
			ints += i
			continue
		}
		f, ok := table.Number(v)
		if !ok {
			continue
		}
		if integral {
			floats = float64(ints)
			integral = false
		}
		floats += f
	}
	if integral {
		return ints
	}
	return floats
}
