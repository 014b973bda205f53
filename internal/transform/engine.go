package transform

import (
	"fmt"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/metrics"
	"github.com/AngelCh415/adreports/internal/table"
)

// Current is the reserved table name for the working table.
const Current = "current"

// Workspace is the set of named tables a step list runs against plus the
// designated current table. Steps never mutate tables in place; every step
// installs a new current table.
type Workspace struct {
	named   map[string]*table.Table
	current *table.Table
}

func NewWorkspace(current *table.Table, named map[string]*table.Table) *Workspace {
	if current == nil {
		current = table.New()
	}
	if named == nil {
		named = map[string]*table.Table{}
	}
	return &Workspace{named: named, current: current}
}

func (w *Workspace) Current() *table.Table { return w.current }

func (w *Workspace) setCurrent(t *table.Table) { w.current = t }

// Table looks up a named table; "current" resolves to the working table.
func (w *Workspace) Table(name string) (*table.Table, error) {
	if name == Current {
		return w.current, nil
	}
	t, ok := w.named[name]
	if !ok {
		return nil, errs.Invalid("table", "unknown table %q", name)
	}
	return t, nil
}

// Apply runs a single step against the workspace.
func Apply(ws *Workspace, st Step) error {
	if st == nil {
		return errs.Invalid("type", "empty transformation")
	}
	if err := st.Validate(); err != nil {
		return err
	}
	return st.apply(ws)
}

// StepError locates a failure inside a step list.
type StepError struct {
	Index int
	Kind  Kind
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %d (%s): %v", e.Index, e.Kind, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Run applies steps in order and returns the resulting current table.
func Run(ws *Workspace, steps Steps) (*table.Table, error) {
	for i, st := range steps {
		if err := Apply(ws, st); err != nil {
			kind := Kind("")
			if st != nil {
				kind = st.Kind()
			}
			return nil, &StepError{Index: i, Kind: kind, Err: err}
		}
		metrics.TransformSteps.WithLabelValues(string(st.Kind())).Inc()
	}
	return ws.Current(), nil
}

func requireColumns(t *table.Table, field string, cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return errs.Invalid(field, "unknown column %q", c)
		}
	}
	return nil
}
