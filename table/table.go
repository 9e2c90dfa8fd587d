package table

import (
	"math"
	"strconv"
	"strings"
)

// ValueType represents the type of a Value.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeNumber
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	default:
		return "?"
	}
}

// Value is a dynamically-typed cell in a table.
type Value struct {
	Type ValueType
	Num  float64
	Str  string
}

// Null returns a null value.
func Null() Value {
	return Value{Type: TypeNull}
}

// Num creates a number value.
func Num(v float64) Value {
	return Value{Type: TypeNumber, Num: v}
}

// Str creates a string value.
func Str(v string) Value {
	return Value{Type: TypeString, Str: v}
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool {
	return v.Type == TypeNull
}

// AsFloat returns the number held by v.
func (v Value) AsFloat() (float64, bool) {
	if v.Type == TypeNumber {
		return v.Num, true
	}
	return 0, false
}

// AsString returns the string representation.
func (v Value) AsString() string {
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeNumber:
		return FormatNumber(v.Num)
	case TypeString:
		return v.Str
	default:
		return "?"
	}
}

// FormatNumber renders integral numbers without a fraction and everything
// else in the shortest form that round-trips.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Compare orders a against b. The second result is false when the two values
// have no ordering relation: either is null, the types differ, or a NaN is
// involved.
func Compare(a, b Value) (int, bool) {
	if a.Type != b.Type || a.IsNull() {
		return 0, false
	}
	if a.Type == TypeString {
		return strings.Compare(a.Str, b.Str), true
	}
	switch {
	case a.Num < b.Num:
		return -1, true
	case a.Num > b.Num:
		return 1, true
	case a.Num == b.Num:
		return 0, true
	default:
		return 0, false
	}
}

// Equal reports whether a and b compare equal. Null is not equal to anything.
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// KeyEqual is the equality used for grouping: nulls are equal to each other
// and so are NaNs.
func KeyEqual(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeNull:
		return true
	case TypeNumber:
		return a.Num == b.Num || (math.IsNaN(a.Num) && math.IsNaN(b.Num))
	default:
		return a.Str == b.Str
	}
}

// Row is a single row in a table, mapping column index to value.
type Row struct {
	Values []Value
}

// Table is the core data structure: columns + rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []string) *Table {
	return &Table{
		Columns: columns,
		Rows:    nil,
	}
}

// ColIndex returns the index of a column by name, or -1.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AddRow appends a row to the table.
func (t *Table) AddRow(values []Value) {
	t.Rows = append(t.Rows, Row{Values: values})
}

// Get returns the value at a given row and column name.
func (t *Table) Get(row int, col string) Value {
	idx := t.ColIndex(col)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return Null()
	}
	return t.Rows[row].Values[idx]
}

// Column returns every value of the named column in row order, or nil if the
// column does not exist.
func (t *Table) Column(name string) []Value {
	idx := t.ColIndex(name)
	if idx < 0 {
		return nil
	}
	vals := make([]Value, len(t.Rows))
	for i, r := range t.Rows {
		vals[i] = r.Values[idx]
	}
	return vals
}

// Clone creates a deep copy of the table structure (shares Value data).
func (t *Table) Clone() *Table {
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		vals := make([]Value, len(r.Values))
		copy(vals, r.Values)
		rows[i] = Row{Values: vals}
	}
	return &Table{Columns: cols, Rows: rows}
}

// String returns a compact representation of the table.
func (t *Table) String() string {
	if len(t.Rows) == 0 {
		return "[" + strings.Join(t.Columns, ", ") + "] (0 rows)"
	}

	var sb strings.Builder
	sb.WriteString("[ ")
	for i, r := range t.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("{")
		for j, v := range r.Values {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.Columns[j])
			sb.WriteString(":")
			sb.WriteString(v.AsString())
		}
		sb.WriteString("}")
	}
	sb.WriteString(" ]")
	return sb.String()
}
