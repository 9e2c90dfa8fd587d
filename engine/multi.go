package engine

import (
	"sort"

	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
)

// windowFunc computes one output per input value, in the same order.
type windowFunc func(vals []table.Value) ([]table.Value, *workflow.Error)

func (e *Engine) execAggregateMulti(s *workflow.AggregateMultiStep, t *table.Table) (*table.Table, error) {
	keyIdx, err := columnIndices(t, s.GroupBy)
	if err != nil {
		return nil, err
	}

	cols := newColumnSet(t.Columns)
	srcIdx := make([]int, len(s.Aggregations))
	dstIdx := make([]int, len(s.Aggregations))
	fns := make([]windowFunc, len(s.Aggregations))
	written := make(map[string]bool, len(s.Aggregations))
	for i, a := range s.Aggregations {
		src := t.ColIndex(a.Src)
		if src < 0 {
			return nil, workflow.MissingColumn(a.Src)
		}
		fn, err := multiReducer(a.Func)
		if err != nil {
			return nil, err
		}
		// an input column may be overwritten, but only once per step
		if written[a.Dst] {
			return nil, workflow.Errorf(workflow.KindDuplicateColumn, "output column %q produced more than once", a.Dst).WithColumn(a.Dst)
		}
		written[a.Dst] = true
		srcIdx[i], fns[i] = src, fn
		dstIdx[i] = cols.upsert(a.Dst)
	}

	// outputs[a][r] is the value of aggregation a for input row r.
	outputs := make([][]table.Value, len(s.Aggregations))
	for i := range outputs {
		outputs[i] = make([]table.Value, len(t.Rows))
	}

	groups := groupByIndex(t, keyIdx)
	err = e.forEachGroup(len(groups), func(gi int) error {
		rows := groups[gi].Rows
		for ai, fn := range fns {
			res, err := fn(getColValues(t, srcIdx[ai], rows))
			if err != nil {
				return err.WithColumn(s.Aggregations[ai].Src)
			}
			for k, ri := range rows {
				outputs[ai][ri] = res[k]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := table.NewTable(cols.names)
	for ri, row := range t.Rows {
		vals := make([]table.Value, len(cols.names))
		copy(vals, row.Values)
		for ai, di := range dstIdx {
			vals[di] = outputs[ai][ri]
		}
		result.AddRow(vals)
	}
	return result, nil
}

func multiReducer(fn workflow.MultiFunc) (windowFunc, error) {
	switch fn {
	case workflow.MultiCumsum:
		return windowCumsum, nil
	case workflow.MultiRank:
		return windowRank, nil
	default:
		return nil, workflow.Errorf(workflow.KindUnknownAggregationType, "unknown multi-aggregation type %q", fn)
	}
}

// windowCumsum accumulates in member order. A null contributes nothing to
// the running total and its own row gets null.
func windowCumsum(vals []table.Value) ([]table.Value, *workflow.Error) {
	out := make([]table.Value, len(vals))
	var total float64
	for i, v := range vals {
		if v.IsNull() {
			out[i] = table.Null()
			continue
		}
		f, ok := v.AsFloat()
		if !ok {
			return nil, workflow.Errorf(workflow.KindTypeMismatch, "cumsum: non-numeric value %q", v.AsString())
		}
		total += f
		out[i] = table.Num(total)
	}
	return out, nil
}

// windowRank assigns descending competition ranks: 1 + the number of values
// strictly greater. Nulls and NaNs share the rank after the last value.
func windowRank(vals []table.Value) ([]table.Value, *workflow.Error) {
	desc := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v.IsNull() || isNaN(v) {
			continue
		}
		f, ok := v.AsFloat()
		if !ok {
			return nil, workflow.Errorf(workflow.KindTypeMismatch, "rank: non-numeric value %q", v.AsString())
		}
		desc = append(desc, f)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(desc)))

	out := make([]table.Value, len(vals))
	for i, v := range vals {
		if v.IsNull() || isNaN(v) {
			out[i] = table.Num(float64(len(desc) + 1))
			continue
		}
		greater := sort.Search(len(desc), func(j int) bool { return desc[j] <= v.Num })
		out[i] = table.Num(float64(greater + 1))
	}
	return out, nil
}
