package engine

import (
	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
)

// matcher reports whether a row satisfies a compiled predicate.
type matcher func(row table.Row) bool

// Evaluate reports whether row of t satisfies p. A column missing from t
// reads as null, so comparisons against it are false.
func Evaluate(p workflow.Predicate, t *table.Table, row table.Row) (bool, error) {
	m, err := compilePredicate(p, t)
	if err != nil {
		return false, err
	}
	return m(row), nil
}

func execFilter(s *workflow.FilterStep, t *table.Table) (*table.Table, error) {
	m, err := compilePredicate(s.Predicate, t)
	if err != nil {
		return nil, err
	}
	result := table.NewTable(t.Columns)
	for _, row := range t.Rows {
		if m(row) {
			result.AddRow(row.Values)
		}
	}
	return result, nil
}

// compilePredicate resolves column references once so per-row evaluation
// does no name lookups.
func compilePredicate(p workflow.Predicate, t *table.Table) (matcher, error) {
	switch pr := p.(type) {
	case *workflow.ComparePredicate:
		return compileCompare(pr, t)

	case *workflow.NotPredicate:
		inner, err := compilePredicate(pr.Operand, t)
		if err != nil {
			return nil, err
		}
		return func(row table.Row) bool { return !inner(row) }, nil

	case *workflow.AndPredicate:
		ms, err := compileOperands(pr.Operands, t)
		if err != nil {
			return nil, err
		}
		return func(row table.Row) bool {
			for _, m := range ms {
				if !m(row) {
					return false
				}
			}
			return true
		}, nil

	case *workflow.OrPredicate:
		ms, err := compileOperands(pr.Operands, t)
		if err != nil {
			return nil, err
		}
		return func(row table.Row) bool {
			for _, m := range ms {
				if m(row) {
					return true
				}
			}
			return false
		}, nil

	case nil:
		return nil, workflow.Errorf(workflow.KindInvalidWorkflow, "filter has no predicate")

	default:
		return nil, workflow.Errorf(workflow.KindUnknownFilterType, "unknown filter type %T", p)
	}
}

func compileOperands(ps []workflow.Predicate, t *table.Table) ([]matcher, error) {
	ms := make([]matcher, len(ps))
	for i, p := range ps {
		m, err := compilePredicate(p, t)
		if err != nil {
			return nil, err
		}
		ms[i] = m
	}
	return ms, nil
}

func compileCompare(p *workflow.ComparePredicate, t *table.Table) (matcher, error) {
	var holds func(cmp int) bool
	switch p.Op {
	case workflow.OpEq:
		holds = func(cmp int) bool { return cmp == 0 }
	case workflow.OpGt:
		holds = func(cmp int) bool { return cmp > 0 }
	case workflow.OpGe:
		holds = func(cmp int) bool { return cmp >= 0 }
	case workflow.OpLt:
		holds = func(cmp int) bool { return cmp < 0 }
	case workflow.OpLe:
		holds = func(cmp int) bool { return cmp <= 0 }
	default:
		return nil, workflow.Errorf(workflow.KindUnknownFilterType, "unknown filter type %q", p.Op)
	}

	idx := t.ColIndex(p.Column)
	lit := p.Value
	return func(row table.Row) bool {
		v := table.Null()
		if idx >= 0 {
			v = row.Values[idx]
		}
		cmp, ok := table.Compare(v, lit)
		return ok && holds(cmp)
	}, nil
}
