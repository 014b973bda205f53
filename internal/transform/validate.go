package transform

import (
	"regexp"
	"slices"
	"strings"

	"github.com/AngelCh415/adreports/internal/errs"
)

var (
	aggregations = []string{"sum", "count", "avg", "min", "max"}
	joinModes    = []string{"inner", "left", "right", "outer"}
	operators    = []string{"eq", "ne", "gt", "gte", "lt", "lte", "contains", "in", "is_null", "not_null"}
)

func (u *unknownStep) Validate() error {
	if strings.TrimSpace(u.Type) == "" {
		return errs.Invalid("type", "is required")
	}
	return errs.Invalid("type", "unknown transformation %q", u.Type)
}

func (u *unknownStep) apply(*Workspace) error { return u.Validate() }

func (s *Extract) Validate() error {
	if s.Column == "" {
		return errs.Invalid("column", "extract needs a source column")
	}
	if s.OutputColumn == "" {
		return errs.Invalid("output_column", "extract needs an output column")
	}
	if s.Pattern == "" {
		return errs.Invalid("pattern", "extract needs a pattern")
	}
	if _, err := regexp.Compile(s.Pattern); err != nil {
		return errs.Invalid("pattern", "%v", err)
	}
	return nil
}

func (s *GroupBy) Validate() error {
	if len(s.Columns) == 0 {
		return errs.Invalid("columns", "group_by needs at least one column")
	}
	for col, fn := range s.Aggregations {
		if !slices.Contains(aggregations, fn) {
			return errs.Invalid("aggregations", "%q: unknown aggregation %q", col, fn)
		}
		if slices.Contains(s.Columns, col) {
			return errs.Invalid("aggregations", "%q is also a group column", col)
		}
	}
	return nil
}

func (s *Join) Validate() error {
	if s.Left == "" || s.Right == "" {
		return errs.Invalid("left/right", "join needs both table names")
	}
	if s.Left == s.Right {
		return errs.Invalid("right", "cannot join %q with itself", s.Left)
	}
	if s.On == "" && (s.LeftOn == "" || s.RightOn == "") {
		return errs.Invalid("on", "join needs a key")
	}
	if s.How != "" && !slices.Contains(joinModes, s.How) {
		return errs.Invalid("how", "unknown join mode %q", s.How)
	}
	return nil
}

// References lists the table names the join reads.
func (s *Join) References() []string { return []string{s.Left, s.Right} }

func (s *Rename) Validate() error {
	if len(s.Mapping) == 0 {
		return errs.Invalid("mapping", "rename needs a mapping")
	}
	seen := map[string]string{}
	for from, to := range s.Mapping {
		if strings.TrimSpace(to) == "" {
			return errs.Invalid("mapping", "%q maps to an empty name", from)
		}
		if other, dup := seen[to]; dup {
			return errs.Invalid("mapping", "%q and %q both rename to %q", other, from, to)
		}
		seen[to] = from
	}
	return nil
}

func (s *Filter) Validate() error {
	if s.Column == "" {
		return errs.Invalid("column", "filter needs a column")
	}
	if !slices.Contains(operators, s.Operator) {
		return errs.Invalid("operator", "unknown operator %q", s.Operator)
	}
	if s.Value == nil && s.Operator != "is_null" && s.Operator != "not_null" {
		return errs.Invalid("value", "operator %q needs a value", s.Operator)
	}
	return nil
}

func (s *Calculate) Validate() error {
	if s.OutputColumn == "" {
		return errs.Invalid("output_column", "calculate needs an output column")
	}
	if _, err := compileFormula(s.Formula); err != nil {
		return err
	}
	return nil
}

func (s *Sort) Validate() error {
	if len(s.Columns) == 0 {
		return errs.Invalid("columns", "sort needs at least one column")
	}
	return nil
}

// Validate checks every step and that each join only names tables from
// known (or the reserved "current"). It returns the index of the first bad
// step with its error, or -1.
func Validate(steps Steps, known []string) (int, error) {
	for i, st := range steps {
		if st == nil {
			return i, errs.Invalid("type", "empty transformation")
		}
		if err := st.Validate(); err != nil {
			return i, err
		}
		j, ok := st.(*Join)
		if !ok || known == nil {
			continue
		}
		for _, name := range j.References() {
			if name != Current && !slices.Contains(known, name) {
				return i, errs.Invalid("join", "unknown table %q", name)
			}
		}
	}
	return -1, nil
}

// HasJoin reports whether any step combines tables.
func HasJoin(steps Steps) bool {
	return slices.ContainsFunc(steps, func(s Step) bool { return s != nil && s.Kind() == KindJoin })
}
