package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/razeghi71/dqflow/parser"
	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleTable has two keys with four rows each and v1 = 1..8.
func sampleTable() *table.Table {
	k1 := []string{"a", "a", "a", "a", "b", "b", "b", "b"}
	k2 := []string{"a", "a", "b", "b", "a", "a", "b", "b"}
	t := table.NewTable([]string{"k1", "k2", "v1"})
	for i := range k1 {
		t.AddRow([]table.Value{table.Str(k1[i]), table.Str(k2[i]), table.Num(float64(i + 1))})
	}
	return t
}

func newTable(cols []string, rows ...[]table.Value) *table.Table {
	t := table.NewTable(cols)
	for _, r := range rows {
		t.AddRow(r)
	}
	return t
}

func nums(fs ...float64) []table.Value {
	vals := make([]table.Value, len(fs))
	for i, f := range fs {
		vals[i] = table.Num(f)
	}
	return vals
}

func strs(ss ...string) []table.Value {
	vals := make([]table.Value, len(ss))
	for i, s := range ss {
		vals[i] = table.Str(s)
	}
	return vals
}

func parse(t *testing.T, doc string) *workflow.Workflow {
	t.Helper()
	wf, err := parser.Parse([]byte(doc))
	require.NoError(t, err)
	return wf
}

func run(t *testing.T, input *table.Table, doc string) *table.Table {
	t.Helper()
	out, err := Execute(parse(t, doc), input)
	require.NoError(t, err)
	return out
}

func runErr(t *testing.T, input *table.Table, doc string) *workflow.Error {
	t.Helper()
	_, err := Execute(parse(t, doc), input)
	require.Error(t, err)
	var we *workflow.Error
	require.True(t, errors.As(err, &we), "expected *workflow.Error, got %T: %v", err, err)
	return we
}

func TestPipelineThreadsSteps(t *testing.T) {
	out := run(t, sampleTable(), `{"steps": [
		{"type": "filter", "predicate": {"type": "gt", "column": "v1", "value": 2}},
		{"type": "aggregate", "group_by": ["k1", "k2"], "aggregations": [
			{"type": "sum", "src": "v1", "dst": "total"}
		]},
		{"type": "aggregate_multi", "group_by": ["k1"], "aggregations": [
			{"type": "cumsum", "src": "total", "dst": "running"}
		]},
		{"type": "combine_columns_as_json", "src": ["k1", "k2", "running"], "dst": "key"}
	]}`)

	assert.Equal(t, []string{"k1", "k2", "total", "running", "key"}, out.Columns)
	require.Len(t, out.Rows, 3)
	assert.Equal(t, nums(7, 11, 15), out.Column("total"))
	assert.Equal(t, nums(7, 11, 26), out.Column("running"))
	assert.Equal(t, strs(`["a","b",7]`, `["b","a",11]`, `["b","b",26]`), out.Column("key"))
}

func TestEmptyWorkflowReturnsInput(t *testing.T) {
	in := sampleTable()
	out := run(t, in, `{"steps": []}`)
	assert.Equal(t, in, out)
}

func TestInputTableIsNotModified(t *testing.T) {
	in := sampleTable()
	before := in.Clone()
	run(t, in, `{"steps": [
		{"type": "combine_columns_as_json", "src": ["k2", "v1"], "dst": "k2"},
		{"type": "aggregate_multi", "group_by": ["k1"], "aggregations": [{"type": "rank", "src": "v1", "dst": "v1"}]}
	]}`)
	assert.Equal(t, before, in)
}

func TestFailFastReportsStepIndex(t *testing.T) {
	we := runErr(t, sampleTable(), `{"steps": [
		{"type": "filter", "predicate": {"type": "and", "operands": []}},
		{"type": "aggregate", "group_by": ["k1"], "aggregations": [{"type": "sum", "src": "nope", "dst": "s"}]},
		{"type": "aggregate", "group_by": ["missing_too"], "aggregations": []}
	]}`)
	assert.Equal(t, workflow.KindMissingColumn, we.Kind)
	assert.Equal(t, 1, we.Step)
	assert.Equal(t, "nope", we.Column)
	assert.ErrorIs(t, we, workflow.ErrMissingColumn)
}

func TestUnknownStepTypeAtRunTime(t *testing.T) {
	wf := &workflow.Workflow{Steps: []workflow.Step{nil}}
	_, err := Execute(wf, sampleTable())
	assert.ErrorIs(t, err, workflow.ErrUnknownStepType)
}

func TestContextCancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wf := parse(t, `{"steps": [{"type": "filter", "predicate": {"type": "and", "operands": []}}]}`)
	_, err := New(Options{}).Execute(ctx, wf, sampleTable())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkersProduceSameResult(t *testing.T) {
	in := table.NewTable([]string{"g", "v"})
	for i := 0; i < 500; i++ {
		in.AddRow([]table.Value{table.Num(float64(i % 37)), table.Num(float64(i))})
	}
	wf := parse(t, `{"steps": [
		{"type": "aggregate_multi", "group_by": ["g"], "aggregations": [
			{"type": "cumsum", "src": "v", "dst": "c"},
			{"type": "rank", "src": "v", "dst": "r"}
		]},
		{"type": "aggregate", "group_by": ["g"], "aggregations": [
			{"type": "median", "src": "c", "dst": "m"},
			{"type": "max_by", "ranking_col": "r", "pick_cols": [["v", "lowest"]]}
		]}
	]}`)

	serial, err := New(Options{Workers: 1}).Execute(context.Background(), wf, in)
	require.NoError(t, err)
	parallel, err := New(Options{Workers: 8}).Execute(context.Background(), wf, in)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
	assert.Len(t, parallel.Rows, 37)
}

func TestWorkersReportLowestGroupError(t *testing.T) {
	in := newTable([]string{"g", "v"})
	for i := 0; i < 50; i++ {
		in.AddRow([]table.Value{table.Num(float64(i)), table.Num(1)})
	}
	in.Rows[3].Values[1] = table.Str("first bad")
	in.Rows[40].Values[1] = table.Str("second bad")

	wf := parse(t, `{"steps": [{"type": "aggregate", "group_by": ["g"], "aggregations": [{"type": "sum", "src": "v", "dst": "s"}]}]}`)
	for i := 0; i < 5; i++ {
		_, err := New(Options{Workers: 4}).Execute(context.Background(), wf, in)
		require.ErrorIs(t, err, workflow.ErrTypeMismatch)
		assert.Contains(t, err.Error(), "first bad")
	}
}

func TestExecuteLogsRun(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	wf := parse(t, `{"steps": [{"type": "filter", "predicate": {"type": "eq", "column": "k1", "value": "a"}}]}`)
	_, err := New(Options{Logger: logger}).Execute(context.Background(), wf, sampleTable())
	require.NoError(t, err)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "workflow started", entries[0].Message)
	assert.Equal(t, "step finished", entries[1].Message)
	assert.Equal(t, 8, entries[1].Data["rows_in"])
	assert.Equal(t, 4, entries[1].Data["rows_out"])
	assert.Equal(t, "workflow finished", entries[2].Message)
	assert.Equal(t, entries[0].Data["run_id"], entries[2].Data["run_id"])
	assert.NotEmpty(t, entries[0].Data["run_id"])
}
