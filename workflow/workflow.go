// Package workflow defines the data model of a transformation workflow: an
// ordered list of steps that each consume a table and produce a new one.
//
// Every variant set (steps, filter predicates, aggregations) is closed: the
// interfaces carry an unexported marker method so only the types declared
// here satisfy them, and consumers dispatch with an exhaustive type switch.
package workflow

import "github.com/razeghi71/dqflow/table"

// Step type tags as they appear in the wire format.
const (
	TypeFilter               = "filter"
	TypeCombineColumnsAsJSON = "combine_columns_as_json"
	TypeAggregate            = "aggregate"
	TypeAggregateMulti       = "aggregate_multi"
)

// Workflow is an ordered list of steps executed sequentially.
type Workflow struct {
	Steps []Step
}

// Step represents a single stage of the pipeline.
type Step interface {
	// Type returns the wire tag of the step.
	Type() string
	stepNode()
}

// FilterStep keeps the rows for which Predicate holds.
type FilterStep struct {
	Predicate Predicate
}

func (s *FilterStep) Type() string { return TypeFilter }
func (s *FilterStep) stepNode()    {}

// CombineColumnsAsJSONStep writes the Src values of each row, as a JSON
// array string, into Dst.
type CombineColumnsAsJSONStep struct {
	Src []string
	Dst string
}

func (s *CombineColumnsAsJSONStep) Type() string { return TypeCombineColumnsAsJSON }
func (s *CombineColumnsAsJSONStep) stepNode()    {}

// AggregateStep reduces every group to one row.
type AggregateStep struct {
	GroupBy      []string
	Aggregations []Aggregation
}

func (s *AggregateStep) Type() string { return TypeAggregate }
func (s *AggregateStep) stepNode()    {}

// AggregateMultiStep adds per-row values computed over each row's group,
// preserving row count and order.
type AggregateMultiStep struct {
	GroupBy      []string
	Aggregations []MultiAggregation
}

func (s *AggregateMultiStep) Type() string { return TypeAggregateMulti }
func (s *AggregateMultiStep) stepNode()    {}

// --- Filter predicates ---

// CompareOp is the operator of a column comparison leaf.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
)

// Predicate is a boolean expression tree evaluated against one row.
type Predicate interface {
	predicateNode()
}

// ComparePredicate compares a column against a literal.
type ComparePredicate struct {
	Op     CompareOp
	Column string
	Value  table.Value // number or string
}

func (p *ComparePredicate) predicateNode() {}

// NotPredicate negates its operand.
type NotPredicate struct {
	Operand Predicate
}

func (p *NotPredicate) predicateNode() {}

// AndPredicate holds when every operand holds. No operands: true.
type AndPredicate struct {
	Operands []Predicate
}

func (p *AndPredicate) predicateNode() {}

// OrPredicate holds when any operand holds. No operands: false.
type OrPredicate struct {
	Operands []Predicate
}

func (p *OrPredicate) predicateNode() {}

// --- Aggregations ---

// AggFunc names a single-output column aggregation.
type AggFunc string

const (
	AggCount  AggFunc = "count"
	AggMax    AggFunc = "max"
	AggMin    AggFunc = "min"
	AggMean   AggFunc = "mean"
	AggMedian AggFunc = "median"
	AggSum    AggFunc = "sum"
	AggFirst  AggFunc = "first"
	AggMaxBy  AggFunc = "max_by"
)

// Aggregation is a single-output aggregation: one value per group.
type Aggregation interface {
	aggregationNode()
}

// ColumnAggregation reduces the Src column of a group into Dst.
type ColumnAggregation struct {
	Func AggFunc
	Src  string
	Dst  string
}

func (a *ColumnAggregation) aggregationNode() {}

// ColumnPair maps a source column to a destination column.
type ColumnPair struct {
	Src string
	Dst string
}

// MaxByAggregation picks the row with the largest RankingCol value.
// An empty PickCols copies every non-group column under its own name.
type MaxByAggregation struct {
	RankingCol string
	PickCols   []ColumnPair
}

func (a *MaxByAggregation) aggregationNode() {}

// MultiFunc names a row-count-preserving aggregation.
type MultiFunc string

const (
	MultiCumsum MultiFunc = "cumsum"
	MultiRank   MultiFunc = "rank"
)

// MultiAggregation computes one value per input row into Dst.
type MultiAggregation struct {
	Func MultiFunc
	Src  string
	Dst  string
}
