package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/razeghi71/dqflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	wf, err := Parse([]byte(`{
		"steps": [
			{"type": "filter", "predicate": {"type": "or", "operands": [
				{"type": "lt", "column": "v1", "value": 3},
				{"type": "eq", "column": "k1", "value": "b"}
			]}},
			{"type": "aggregate", "group_by": ["k1"], "aggregations": [
				{"type": "median", "src": "v1", "dst": "m"},
				{"type": "max_by", "ranking_col": "v1", "pick_cols": null}
			]},
			{"type": "aggregate_multi", "group_by": ["k1"], "aggregations": [
				{"type": "rank", "src": "m", "dst": "r"}
			]},
			{"type": "combine_columns_as_json", "src": ["k1", "r"], "dst": "j"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, wf.Steps, 4)
	assert.Equal(t, workflow.TypeFilter, wf.Steps[0].Type())
	assert.Equal(t, workflow.TypeAggregate, wf.Steps[1].Type())
	assert.Equal(t, workflow.TypeAggregateMulti, wf.Steps[2].Type())
	assert.Equal(t, workflow.TypeCombineColumnsAsJSON, wf.Steps[3].Type())
}

func TestParseEmptySteps(t *testing.T) {
	wf, err := Parse([]byte(`{"steps": []}`))
	require.NoError(t, err)
	assert.Empty(t, wf.Steps)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind *workflow.Error
		step int
	}{
		{"syntax", `{"steps": [`, workflow.ErrInvalidWorkflow, workflow.NoStep},
		{"no steps", `{}`, workflow.ErrInvalidWorkflow, workflow.NoStep},
		{"unknown step", `{"steps": [{"type": "pivot"}]}`, workflow.ErrUnknownStepType, 0},
		{
			"missing dst",
			`{"steps": [{"type": "filter", "predicate": {"type": "and", "operands": []}}, {"type": "combine_columns_as_json", "src": ["a"]}]}`,
			workflow.ErrInvalidWorkflow, 1,
		},
		{
			"missing aggregation src",
			`{"steps": [{"type": "aggregate", "group_by": [], "aggregations": [{"type": "sum", "dst": "s"}]}]}`,
			workflow.ErrInvalidWorkflow, 0,
		},
		{
			"boolean comparison value",
			`{"steps": [{"type": "filter", "predicate": {"type": "gt", "column": "a", "value": true}}]}`,
			workflow.ErrInvalidWorkflow, 0,
		},
		{
			"unknown aggregation",
			`{"steps": [{"type": "aggregate_multi", "group_by": [], "aggregations": [{"type": "lag", "src": "a", "dst": "b"}]}]}`,
			workflow.ErrUnknownAggregationType, 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var we *workflow.Error
			require.True(t, errors.As(err, &we))
			assert.Equal(t, tt.step, we.Step)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"steps": [{"type": "combine_columns_as_json", "src": ["a", "b"], "dst": "c"}]}`), 0o644))

	wf, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, &workflow.CombineColumnsAsJSONStep{Src: []string{"a", "b"}, Dst: "c"}, wf.Steps[0])

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
