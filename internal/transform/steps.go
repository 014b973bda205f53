// Package transform executes the fixed vocabulary of table operations a
// report can apply: extract, group_by, join, rename, filter, calculate and
// sort. Each kind is its own struct carrying only the fields it needs.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindExtract   Kind = "extract"
	KindGroupBy   Kind = "group_by"
	KindJoin      Kind = "join"
	KindRename    Kind = "rename"
	KindFilter    Kind = "filter"
	KindCalculate Kind = "calculate"
	KindSort      Kind = "sort"
)

// Step is one typed operation. The set of implementations is closed.
type Step interface {
	Kind() Kind
	// Validate checks the step shape without looking at any table.
	Validate() error
	apply(ws *Workspace) error
}

type Extract struct {
	Column       string `json:"column"`
	Pattern      string `json:"pattern"`
	OutputColumn string `json:"output_column"`
}

type GroupBy struct {
	Columns      []string          `json:"columns"`
	Aggregations map[string]string `json:"aggregations,omitempty"`
}

type Join struct {
	Left    string `json:"left"`
	Right   string `json:"right"`
	On      string `json:"on,omitempty"`
	LeftOn  string `json:"left_on,omitempty"`
	RightOn string `json:"right_on,omitempty"`
	How     string `json:"how,omitempty"`
}

type Rename struct {
	Mapping map[string]string `json:"mapping"`
}

type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

type Calculate struct {
	Formula      string `json:"formula"`
	OutputColumn string `json:"output_column"`
}

type Sort struct {
	Columns   []string `json:"columns"`
	Ascending *bool    `json:"ascending,omitempty"`
}

// unknownStep keeps an unrecognised type around so validation can report
// it with its position instead of failing the whole decode.
type unknownStep struct {
	Type string `json:"-"`
}

func (*Extract) Kind() Kind       { return KindExtract }
func (*GroupBy) Kind() Kind       { return KindGroupBy }
func (*Join) Kind() Kind          { return KindJoin }
func (*Rename) Kind() Kind        { return KindRename }
func (*Filter) Kind() Kind        { return KindFilter }
func (*Calculate) Kind() Kind     { return KindCalculate }
func (*Sort) Kind() Kind          { return KindSort }
func (u *unknownStep) Kind() Kind { return Kind(u.Type) }

// Steps is an ordered step list with a {"type": ..., ...} wire form.
type Steps []Step

// flat is the loose wire record; only the fields of the tagged kind are read.
type flat struct {
	Type         string            `json:"type"`
	Source       string            `json:"source,omitempty"`
	Left         string            `json:"left,omitempty"`
	Right        string            `json:"right,omitempty"`
	Column       string            `json:"column,omitempty"`
	Columns      []string          `json:"columns,omitempty"`
	Pattern      string            `json:"pattern,omitempty"`
	OutputColumn string            `json:"output_column,omitempty"`
	Aggregations map[string]string `json:"aggregations,omitempty"`
	On           string            `json:"on,omitempty"`
	LeftOn       string            `json:"left_on,omitempty"`
	RightOn      string            `json:"right_on,omitempty"`
	How          string            `json:"how,omitempty"`
	Mapping      map[string]string `json:"mapping,omitempty"`
	Operator     string            `json:"operator,omitempty"`
	Value        any               `json:"value,omitempty"`
	Formula      string            `json:"formula,omitempty"`
	Ascending    *bool             `json:"ascending,omitempty"`
}

func decodeStep(f flat) Step {
	switch Kind(strings.TrimSpace(f.Type)) {
	case KindExtract:
		col := f.Column
		if col == "" {
			col = f.Source
		}
		return &Extract{Column: col, Pattern: f.Pattern, OutputColumn: f.OutputColumn}
	case KindGroupBy:
		return &GroupBy{Columns: f.Columns, Aggregations: f.Aggregations}
	case KindJoin:
		return &Join{Left: f.Left, Right: f.Right, On: f.On, LeftOn: f.LeftOn, RightOn: f.RightOn, How: f.How}
	case KindRename:
		return &Rename{Mapping: f.Mapping}
	case KindFilter:
		return &Filter{Column: f.Column, Operator: f.Operator, Value: f.Value}
	case KindCalculate:
		return &Calculate{Formula: f.Formula, OutputColumn: f.OutputColumn}
	case KindSort:
		cols := f.Columns
		if len(cols) == 0 && f.Column != "" {
			cols = []string{f.Column}
		}
		return &Sort{Columns: cols, Ascending: f.Ascending}
	}
	return &unknownStep{Type: f.Type}
}

func (s *Steps) UnmarshalJSON(b []byte) error {
	var raw []flat
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("transformations: %w", err)
	}
	out := make(Steps, 0, len(raw))
	for _, f := range raw {
		out = append(out, decodeStep(f))
	}
	*s = out
	return nil
}

func (s Steps) MarshalJSON() ([]byte, error) {
	out := make([]map[string]any, 0, len(s))
	for _, st := range s {
		b, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		m := map[string]any{}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		m["type"] = string(st.Kind())
		out = append(out, m)
	}
	return json.Marshal(out)
}
