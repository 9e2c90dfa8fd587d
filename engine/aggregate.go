package engine

import (
	"math"
	"sort"

	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
)

// reducer turns the member rows of one group into its output values.
type reducer func(rows []int) ([]table.Value, error)

func (e *Engine) execAggregate(s *workflow.AggregateStep, t *table.Table) (*table.Table, error) {
	keyIdx, err := columnIndices(t, s.GroupBy)
	if err != nil {
		return nil, err
	}

	out := newColumnSet(nil)
	for _, c := range s.GroupBy {
		if err := out.add(c); err != nil {
			return nil, err
		}
	}

	reducers := make([]reducer, 0, len(s.Aggregations))
	for _, a := range s.Aggregations {
		r, err := planAggregation(a, t, keyIdx, out)
		if err != nil {
			return nil, err
		}
		reducers = append(reducers, r)
	}

	groups := groupByIndex(t, keyIdx)
	results := make([][]table.Value, len(groups))
	err = e.forEachGroup(len(groups), func(gi int) error {
		g := groups[gi]
		vals := make([]table.Value, 0, len(out.names))
		vals = append(vals, g.Key...)
		for _, r := range reducers {
			v, err := r(g.Rows)
			if err != nil {
				return err
			}
			vals = append(vals, v...)
		}
		results[gi] = vals
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := table.NewTable(out.names)
	for _, vals := range results {
		result.AddRow(vals)
	}
	return result, nil
}

// planAggregation resolves the columns of a and registers its output
// columns with out.
func planAggregation(a workflow.Aggregation, t *table.Table, keyIdx []int, out *columnSet) (reducer, error) {
	switch ag := a.(type) {
	case *workflow.ColumnAggregation:
		src := t.ColIndex(ag.Src)
		if src < 0 {
			return nil, workflow.MissingColumn(ag.Src)
		}
		fn, err := columnReducer(ag.Func)
		if err != nil {
			return nil, err
		}
		if err := out.add(ag.Dst); err != nil {
			return nil, err
		}
		return func(rows []int) ([]table.Value, error) {
			v, err := fn(getColValues(t, src, rows))
			if err != nil {
				return nil, err.WithColumn(ag.Src)
			}
			return []table.Value{v}, nil
		}, nil

	case *workflow.MaxByAggregation:
		rank := t.ColIndex(ag.RankingCol)
		if rank < 0 {
			return nil, workflow.MissingColumn(ag.RankingCol)
		}
		picks, err := maxByPicks(ag, t, keyIdx)
		if err != nil {
			return nil, err
		}
		for _, p := range picks {
			if err := out.add(p.dst); err != nil {
				return nil, err
			}
		}
		return func(rows []int) ([]table.Value, error) {
			winner, err := aggMaxBy(t, rank, rows)
			if err != nil {
				return nil, err.WithColumn(ag.RankingCol)
			}
			vals := make([]table.Value, len(picks))
			for i, p := range picks {
				vals[i] = t.Rows[winner].Values[p.src]
			}
			return vals, nil
		}, nil

	default:
		return nil, workflow.Errorf(workflow.KindUnknownAggregationType, "unknown aggregation type %T", a)
	}
}

type pick struct {
	src int
	dst string
}

func maxByPicks(ag *workflow.MaxByAggregation, t *table.Table, keyIdx []int) ([]pick, error) {
	if len(ag.PickCols) == 0 {
		isKey := make(map[int]bool, len(keyIdx))
		for _, idx := range keyIdx {
			isKey[idx] = true
		}
		var picks []pick
		for i, c := range t.Columns {
			if !isKey[i] {
				picks = append(picks, pick{src: i, dst: c})
			}
		}
		return picks, nil
	}

	picks := make([]pick, len(ag.PickCols))
	for i, pc := range ag.PickCols {
		idx := t.ColIndex(pc.Src)
		if idx < 0 {
			return nil, workflow.MissingColumn(pc.Src)
		}
		picks[i] = pick{src: idx, dst: pc.Dst}
	}
	return picks, nil
}

// columnSet tracks output column names, rejecting duplicates.
type columnSet struct {
	names []string
	index map[string]int
}

func newColumnSet(cols []string) *columnSet {
	s := &columnSet{index: make(map[string]int)}
	for _, c := range cols {
		s.index[c] = len(s.names)
		s.names = append(s.names, c)
	}
	return s
}

func (s *columnSet) add(name string) error {
	if _, ok := s.index[name]; ok {
		return workflow.Errorf(workflow.KindDuplicateColumn, "output column %q produced more than once", name).WithColumn(name)
	}
	s.index[name] = len(s.names)
	s.names = append(s.names, name)
	return nil
}

// upsert returns the position of name, appending it when new.
func (s *columnSet) upsert(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	s.index[name] = len(s.names)
	s.names = append(s.names, name)
	return len(s.names) - 1
}

func getColValues(t *table.Table, idx int, rows []int) []table.Value {
	vals := make([]table.Value, len(rows))
	for i, ri := range rows {
		vals[i] = t.Rows[ri].Values[idx]
	}
	return vals
}

// --- single-output reductions ---

type columnFunc func(vals []table.Value) (table.Value, *workflow.Error)

func columnReducer(fn workflow.AggFunc) (columnFunc, error) {
	switch fn {
	case workflow.AggCount:
		return aggCount, nil
	case workflow.AggMax:
		return func(vals []table.Value) (table.Value, *workflow.Error) { return aggExtreme(vals, 1) }, nil
	case workflow.AggMin:
		return func(vals []table.Value) (table.Value, *workflow.Error) { return aggExtreme(vals, -1) }, nil
	case workflow.AggSum:
		return aggSum, nil
	case workflow.AggMean:
		return aggMean, nil
	case workflow.AggMedian:
		return aggMedian, nil
	case workflow.AggFirst:
		return aggFirst, nil
	default:
		return nil, workflow.Errorf(workflow.KindUnknownAggregationType, "unknown aggregation type %q", fn)
	}
}

func aggCount(vals []table.Value) (table.Value, *workflow.Error) {
	n := 0
	for _, v := range vals {
		if !v.IsNull() {
			n++
		}
	}
	return table.Num(float64(n)), nil
}

func isNaN(v table.Value) bool {
	return v.Type == table.TypeNumber && math.IsNaN(v.Num)
}

// aggExtreme returns the largest (want=1) or smallest (want=-1) non-null
// value. NaN never wins; ties keep the earliest value.
func aggExtreme(vals []table.Value, want int) (table.Value, *workflow.Error) {
	best := table.Null()
	for _, v := range vals {
		if v.IsNull() || isNaN(v) {
			continue
		}
		if best.IsNull() {
			best = v
			continue
		}
		cmp, ok := table.Compare(v, best)
		if !ok {
			return table.Null(), workflow.Errorf(workflow.KindTypeMismatch, "cannot order %s against %s", v.Type, best.Type)
		}
		if cmp == want {
			best = v
		}
	}
	return best, nil
}

// numbers collects the non-null values, all of which must be numbers. NaN is
// skipped like null, as in max, min and rank.
func numbers(vals []table.Value, fn string) ([]float64, *workflow.Error) {
	nums := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v.IsNull() || isNaN(v) {
			continue
		}
		f, ok := v.AsFloat()
		if !ok {
			return nil, workflow.Errorf(workflow.KindTypeMismatch, "%s: non-numeric value %q", fn, v.AsString())
		}
		nums = append(nums, f)
	}
	return nums, nil
}

func aggSum(vals []table.Value) (table.Value, *workflow.Error) {
	nums, err := numbers(vals, "sum")
	if err != nil {
		return table.Null(), err
	}
	if len(nums) == 0 {
		return table.Null(), nil
	}
	var sum float64
	for _, f := range nums {
		sum += f
	}
	return table.Num(sum), nil
}

func aggMean(vals []table.Value) (table.Value, *workflow.Error) {
	nums, err := numbers(vals, "mean")
	if err != nil {
		return table.Null(), err
	}
	if len(nums) == 0 {
		return table.Null(), nil
	}
	var sum float64
	for _, f := range nums {
		sum += f
	}
	return table.Num(sum / float64(len(nums))), nil
}

func aggMedian(vals []table.Value) (table.Value, *workflow.Error) {
	nums, err := numbers(vals, "median")
	if err != nil {
		return table.Null(), err
	}
	n := len(nums)
	if n == 0 {
		return table.Null(), nil
	}
	sort.Float64s(nums)
	if n%2 == 1 {
		return table.Num(nums[n/2]), nil
	}
	return table.Num((nums[n/2-1] + nums[n/2]) / 2), nil
}

func aggFirst(vals []table.Value) (table.Value, *workflow.Error) {
	if len(vals) == 0 {
		return table.Null(), nil
	}
	return vals[0], nil
}

// aggMaxBy returns the row (from rows) holding the largest value of column
// rank. Ties go to the earliest row; nulls rank below every value, so a group
// without any ranking value yields its first row.
func aggMaxBy(t *table.Table, rank int, rows []int) (int, *workflow.Error) {
	winner := rows[0]
	best := table.Null()
	for _, ri := range rows {
		v := t.Rows[ri].Values[rank]
		if v.IsNull() || isNaN(v) {
			continue
		}
		if best.IsNull() {
			winner, best = ri, v
			continue
		}
		cmp, ok := table.Compare(v, best)
		if !ok {
			return 0, workflow.Errorf(workflow.KindTypeMismatch, "max_by: cannot order %s against %s", v.Type, best.Type)
		}
		if cmp > 0 {
			winner, best = ri, v
		}
	}
	return winner, nil
}
