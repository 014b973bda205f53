package transform

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/table"
)

// formula is a parsed arithmetic expression over column names. The expr
// parser supplies the grammar; only identifiers, numeric literals, unary
// sign, + - * / and parentheses are accepted, and evaluation is ours so
// nothing but arithmetic can run.
type formula struct {
	root    ast.Node
	columns []string
}

func compileFormula(src string) (*formula, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errs.Invalid("formula", "calculate needs a formula")
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, errs.Invalid("formula", "%q: %v", src, err)
	}
	f := &formula{root: tree.Node}
	if err := f.check(tree.Node); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *formula) check(n ast.Node) error {
	switch x := n.(type) {
	case *ast.IdentifierNode:
		if !slices.Contains(f.columns, x.Value) {
			f.columns = append(f.columns, x.Value)
		}
		return nil
	case *ast.IntegerNode, *ast.FloatNode:
		return nil
	case *ast.UnaryNode:
		if x.Operator != "-" && x.Operator != "+" {
			return errs.Invalid("formula", "operator %q is not allowed", x.Operator)
		}
		return f.check(x.Node)
	case *ast.BinaryNode:
		switch x.Operator {
		case "+", "-", "*", "/":
		default:
			return errs.Invalid("formula", "operator %q is not allowed", x.Operator)
		}
		if err := f.check(x.Left); err != nil {
			return err
		}
		return f.check(x.Right)
	}
	return errs.Invalid("formula", "unsupported expression %s", strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast."))
}

// num is an evaluated operand; valid is false for null results.
type num struct {
	f       float64
	i       int64
	integer bool
	valid   bool
}

func (n num) float() float64 {
	if n.integer {
		return float64(n.i)
	}
	return n.f
}

func (n num) value() any {
	switch {
	case !n.valid:
		return nil
	case n.integer:
		return n.i
	}
	return table.Normalize(n.f)
}

func operand(v any) num {
	if i, ok := v.(int64); ok {
		return num{i: i, integer: true, valid: true}
	}
	if f, ok := table.Number(v); ok {
		return num{f: f, valid: true}
	}
	return num{}
}

func (f *formula) eval(row table.Row) any { return f.evalNode(f.root, row).value() }

func (f *formula) evalNode(n ast.Node, row table.Row) num {
	switch x := n.(type) {
	case *ast.IdentifierNode:
		return operand(row[x.Value])
	case *ast.IntegerNode:
		return num{i: int64(x.Value), integer: true, valid: true}
	case *ast.FloatNode:
		return num{f: x.Value, valid: true}
	case *ast.UnaryNode:
		v := f.evalNode(x.Node, row)
		if x.Operator == "-" {
			v.i, v.f = -v.i, -v.f
		}
		return v
	case *ast.BinaryNode:
		l, r := f.evalNode(x.Left, row), f.evalNode(x.Right, row)
		if !l.valid || !r.valid {
			return num{}
		}
		if x.Operator == "/" {
			if r.float() == 0 {
				return num{}
			}
			return finite(l.float() / r.float())
		}
		if l.integer && r.integer {
			switch x.Operator {
			case "+":
				return num{i: l.i + r.i, integer: true, valid: true}
			case "-":
				return num{i: l.i - r.i, integer: true, valid: true}
			case "*":
				return num{i: l.i * r.i, integer: true, valid: true}
			}
		}
		switch x.Operator {
		case "+":
			return finite(l.float() + r.float())
		case "-":
			return finite(l.float() - r.float())
		case "*":
			return finite(l.float() * r.float())
		}
	}
	return num{}
}

func finite(f float64) num {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return num{}
	}
	return num{f: f, valid: true}
}

func (s *Calculate) apply(ws *Workspace) error {
	f, err := compileFormula(s.Formula)
	if err != nil {
		return err
	}
	cur := ws.Current()
	if err := requireColumns(cur, "formula", f.columns...); err != nil {
		return err
	}
	out := cur.Clone()
	out.AddColumn(s.OutputColumn)
	for _, r := range out.Rows {
		r[s.OutputColumn] = f.eval(r)
	}
	ws.setCurrent(out)
	return nil
}
