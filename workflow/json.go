package workflow

import (
	"encoding/json"
	"errors"

	"github.com/razeghi71/dqflow/table"
)

// UnmarshalJSON decodes the tagged wire format. Unknown tags are reported as
// UnknownStepType, UnknownFilterType or UnknownAggregationType with the
// index of the step they occur in.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Steps []json.RawMessage `json:"steps"`
	}
	if err := decode(data, &raw, "workflow"); err != nil {
		return err
	}
	steps := make([]Step, 0, len(raw.Steps))
	for i, r := range raw.Steps {
		s, err := decodeStep(r)
		if err != nil {
			return atStep(err, i)
		}
		steps = append(steps, s)
	}
	w.Steps = steps
	return nil
}

// MarshalJSON encodes the workflow in the same tagged wire format.
func (w Workflow) MarshalJSON() ([]byte, error) {
	steps := make([]any, len(w.Steps))
	for i, s := range w.Steps {
		steps[i] = wireStep(s)
	}
	return json.Marshal(struct {
		Steps []any `json:"steps"`
	}{steps})
}

func atStep(err error, i int) error {
	var we *Error
	if errors.As(err, &we) {
		return we.AtStep(i)
	}
	return Errorf(KindInvalidWorkflow, "%v", err).AtStep(i).WithCause(err)
}

func decode(data []byte, v any, what string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return Errorf(KindInvalidWorkflow, "decode %s: %v", what, err).WithCause(err)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

type tagged struct {
	Type string `json:"type"`
}

func decodeStep(data []byte) (Step, error) {
	var head tagged
	if err := decode(data, &head, "step"); err != nil {
		return nil, err
	}

	switch head.Type {
	case TypeFilter:
		var s struct {
			Predicate json.RawMessage `json:"predicate"`
		}
		if err := decode(data, &s, "filter step"); err != nil {
			return nil, err
		}
		if isAbsent(s.Predicate) {
			return nil, Errorf(KindInvalidWorkflow, "filter step has no predicate")
		}
		p, err := decodePredicate(s.Predicate)
		if err != nil {
			return nil, err
		}
		return &FilterStep{Predicate: p}, nil

	case TypeCombineColumnsAsJSON:
		var s struct {
			Src []string `json:"src"`
			Dst string   `json:"dst"`
		}
		if err := decode(data, &s, "combine_columns_as_json step"); err != nil {
			return nil, err
		}
		return &CombineColumnsAsJSONStep{Src: s.Src, Dst: s.Dst}, nil

	case TypeAggregate:
		var s struct {
			GroupBy      []string          `json:"group_by"`
			Aggregations []json.RawMessage `json:"aggregations"`
		}
		if err := decode(data, &s, "aggregate step"); err != nil {
			return nil, err
		}
		aggs := make([]Aggregation, 0, len(s.Aggregations))
		for _, r := range s.Aggregations {
			a, err := decodeAggregation(r)
			if err != nil {
				return nil, err
			}
			aggs = append(aggs, a)
		}
		return &AggregateStep{GroupBy: s.GroupBy, Aggregations: aggs}, nil

	case TypeAggregateMulti:
		var s struct {
			GroupBy      []string          `json:"group_by"`
			Aggregations []json.RawMessage `json:"aggregations"`
		}
		if err := decode(data, &s, "aggregate_multi step"); err != nil {
			return nil, err
		}
		aggs := make([]MultiAggregation, 0, len(s.Aggregations))
		for _, r := range s.Aggregations {
			a, err := decodeMultiAggregation(r)
			if err != nil {
				return nil, err
			}
			aggs = append(aggs, a)
		}
		return &AggregateMultiStep{GroupBy: s.GroupBy, Aggregations: aggs}, nil

	default:
		return nil, Errorf(KindUnknownStepType, "unknown step type %q", head.Type)
	}
}

func decodePredicate(data []byte) (Predicate, error) {
	var head tagged
	if err := decode(data, &head, "predicate"); err != nil {
		return nil, err
	}

	switch op := CompareOp(head.Type); op {
	case OpEq, OpGt, OpGe, OpLt, OpLe:
		var p struct {
			Column string          `json:"column"`
			Value  json.RawMessage `json:"value"`
		}
		if err := decode(data, &p, string(op)+" predicate"); err != nil {
			return nil, err
		}
		v, err := decodeLiteral(p.Value)
		if err != nil {
			return nil, err
		}
		return &ComparePredicate{Op: op, Column: p.Column, Value: v}, nil

	case "not":
		var p struct {
			Operand json.RawMessage `json:"operand"`
		}
		if err := decode(data, &p, "not predicate"); err != nil {
			return nil, err
		}
		if isAbsent(p.Operand) {
			return nil, Errorf(KindInvalidWorkflow, "not predicate has no operand")
		}
		inner, err := decodePredicate(p.Operand)
		if err != nil {
			return nil, err
		}
		return &NotPredicate{Operand: inner}, nil

	case "and", "or":
		var p struct {
			Operands []json.RawMessage `json:"operands"`
		}
		if err := decode(data, &p, head.Type+" predicate"); err != nil {
			return nil, err
		}
		operands := make([]Predicate, 0, len(p.Operands))
		for _, r := range p.Operands {
			inner, err := decodePredicate(r)
			if err != nil {
				return nil, err
			}
			operands = append(operands, inner)
		}
		if head.Type == "and" {
			return &AndPredicate{Operands: operands}, nil
		}
		return &OrPredicate{Operands: operands}, nil

	default:
		return nil, Errorf(KindUnknownFilterType, "unknown filter type %q", head.Type)
	}
}

func decodeLiteral(raw json.RawMessage) (table.Value, error) {
	var v any
	if len(raw) > 0 {
		if err := decode(raw, &v, "comparison value"); err != nil {
			return table.Null(), err
		}
	}
	switch val := v.(type) {
	case float64:
		return table.Num(val), nil
	case string:
		return table.Str(val), nil
	default:
		return table.Null(), Errorf(KindInvalidWorkflow, "comparison value must be a number or a string, got %s", string(raw))
	}
}

func decodeAggregation(data []byte) (Aggregation, error) {
	var head tagged
	if err := decode(data, &head, "aggregation"); err != nil {
		return nil, err
	}

	switch fn := AggFunc(head.Type); fn {
	case AggCount, AggMax, AggMin, AggMean, AggMedian, AggSum, AggFirst:
		var a struct {
			Src string `json:"src"`
			Dst string `json:"dst"`
		}
		if err := decode(data, &a, string(fn)+" aggregation"); err != nil {
			return nil, err
		}
		return &ColumnAggregation{Func: fn, Src: a.Src, Dst: a.Dst}, nil

	case AggMaxBy:
		var a struct {
			RankingCol string     `json:"ranking_col"`
			PickCols   [][]string `json:"pick_cols"`
		}
		if err := decode(data, &a, "max_by aggregation"); err != nil {
			return nil, err
		}
		var picks []ColumnPair
		for _, pc := range a.PickCols {
			if len(pc) != 2 {
				return nil, Errorf(KindInvalidWorkflow, "max_by pick_cols entries must be [src, dst] pairs, got %d elements", len(pc))
			}
			picks = append(picks, ColumnPair{Src: pc[0], Dst: pc[1]})
		}
		return &MaxByAggregation{RankingCol: a.RankingCol, PickCols: picks}, nil

	default:
		return nil, Errorf(KindUnknownAggregationType, "unknown aggregation type %q", head.Type)
	}
}

func decodeMultiAggregation(data []byte) (MultiAggregation, error) {
	var a struct {
		Type string `json:"type"`
		Src  string `json:"src"`
		Dst  string `json:"dst"`
	}
	if err := decode(data, &a, "multi-aggregation"); err != nil {
		return MultiAggregation{}, err
	}
	switch fn := MultiFunc(a.Type); fn {
	case MultiCumsum, MultiRank:
		return MultiAggregation{Func: fn, Src: a.Src, Dst: a.Dst}, nil
	default:
		return MultiAggregation{}, Errorf(KindUnknownAggregationType, "unknown multi-aggregation type %q", a.Type)
	}
}

// --- encoding ---

type wireColumnAgg struct {
	Type string `json:"type"`
	Src  string `json:"src"`
	Dst  string `json:"dst"`
}

func wireStep(s Step) any {
	switch st := s.(type) {
	case *FilterStep:
		return struct {
			Type      string `json:"type"`
			Predicate any    `json:"predicate"`
		}{TypeFilter, wirePredicate(st.Predicate)}
	case *CombineColumnsAsJSONStep:
		return struct {
			Type string   `json:"type"`
			Src  []string `json:"src"`
			Dst  string   `json:"dst"`
		}{TypeCombineColumnsAsJSON, st.Src, st.Dst}
	case *AggregateStep:
		aggs := make([]any, len(st.Aggregations))
		for i, a := range st.Aggregations {
			aggs[i] = wireAggregation(a)
		}
		return struct {
			Type         string   `json:"type"`
			GroupBy      []string `json:"group_by"`
			Aggregations []any    `json:"aggregations"`
		}{TypeAggregate, st.GroupBy, aggs}
	case *AggregateMultiStep:
		aggs := make([]wireColumnAgg, len(st.Aggregations))
		for i, a := range st.Aggregations {
			aggs[i] = wireColumnAgg{string(a.Func), a.Src, a.Dst}
		}
		return struct {
			Type         string          `json:"type"`
			GroupBy      []string        `json:"group_by"`
			Aggregations []wireColumnAgg `json:"aggregations"`
		}{TypeAggregateMulti, st.GroupBy, aggs}
	default:
		return nil
	}
}

func wirePredicate(p Predicate) any {
	switch pr := p.(type) {
	case *ComparePredicate:
		var v any
		if f, ok := pr.Value.AsFloat(); ok {
			v = f
		} else if pr.Value.Type == table.TypeString {
			v = pr.Value.Str
		}
		return struct {
			Type   string `json:"type"`
			Column string `json:"column"`
			Value  any    `json:"value"`
		}{string(pr.Op), pr.Column, v}
	case *NotPredicate:
		return struct {
			Type    string `json:"type"`
			Operand any    `json:"operand"`
		}{"not", wirePredicate(pr.Operand)}
	case *AndPredicate:
		return wireOperands("and", pr.Operands)
	case *OrPredicate:
		return wireOperands("or", pr.Operands)
	default:
		return nil
	}
}

func wireOperands(tag string, ps []Predicate) any {
	ops := make([]any, len(ps))
	for i, p := range ps {
		ops[i] = wirePredicate(p)
	}
	return struct {
		Type     string `json:"type"`
		Operands []any  `json:"operands"`
	}{tag, ops}
}

func wireAggregation(a Aggregation) any {
	switch ag := a.(type) {
	case *ColumnAggregation:
		return wireColumnAgg{string(ag.Func), ag.Src, ag.Dst}
	case *MaxByAggregation:
		var picks [][2]string
		for _, pc := range ag.PickCols {
			picks = append(picks, [2]string{pc.Src, pc.Dst})
		}
		return struct {
			Type       string      `json:"type"`
			RankingCol string      `json:"ranking_col"`
			PickCols   [][2]string `json:"pick_cols,omitempty"`
		}{string(AggMaxBy), ag.RankingCol, picks}
	default:
		return nil
	}
}
