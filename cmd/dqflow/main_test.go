package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesWorkflow = `{"steps": [
	{"type": "filter", "predicate": {"type": "gt", "column": "amount", "value": 0}},
	{"type": "aggregate", "group_by": ["region"], "aggregations": [
		{"type": "sum", "src": "amount", "dst": "total"},
		{"type": "count", "src": "amount", "dst": "n"}
	]}
]}`

const salesTSV = "region\tamount\n" +
	"north\t10\n" +
	"south\t5\n" +
	"north\t-1\n" +
	"north\t2.5\n"

func setup(t *testing.T, wf string) (dir, wfPath, inPath string) {
	t.Helper()
	dir = t.TempDir()
	wfPath = filepath.Join(dir, "wf.json")
	inPath = filepath.Join(dir, "in.tsv")
	require.NoError(t, os.WriteFile(wfPath, []byte(wf), 0o644))
	require.NoError(t, os.WriteFile(inPath, []byte(salesTSV), 0o644))
	return dir, wfPath, inPath
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(context.Background(), append([]string{"dqflow"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestRunWritesOutputFile(t *testing.T) {
	dir, wf, in := setup(t, salesWorkflow)
	out := filepath.Join(dir, "out.tsv")

	_, _, err := runApp(t, "-w", wf, in, out)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "region\ttotal\tn\nnorth\t12.5\t2\nsouth\t5\t1\n", string(got))
}

func TestRunStdout(t *testing.T) {
	_, wf, in := setup(t, salesWorkflow)

	stdout, _, err := runApp(t, "--workflow", wf, "--workers", "4", in, "-")
	require.NoError(t, err)
	assert.Equal(t, "region\ttotal\tn\nnorth\t12.5\t2\nsouth\t5\t1\n", stdout)
}

func TestRunPrintsTable(t *testing.T) {
	_, wf, in := setup(t, salesWorkflow)

	stdout, _, err := runApp(t, "-w", wf, in)
	require.NoError(t, err)
	assert.Equal(t, "region | total | n\n"+
		"-------+-------+--\n"+
		"north  | 12.5  | 2\n"+
		"south  | 5     | 1\n", stdout)
}

func TestCheckOnly(t *testing.T) {
	_, wf, _ := setup(t, salesWorkflow)

	stdout, _, err := runApp(t, "-w", wf, "--check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok (2 steps)")
}

func TestRunReportsWorkflowErrors(t *testing.T) {
	_, wf, in := setup(t, `{"steps": [{"type": "aggregate", "group_by": ["store"], "aggregations": []}]}`)

	_, _, err := runApp(t, "-w", wf, in, "-")
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrMissingColumn)
	assert.Contains(t, err.Error(), "step 0")

	_, wf, _ = setup(t, `{"steps": [{"type": "sort"}]}`)
	_, _, err = runApp(t, "-w", wf, "--check")
	assert.ErrorIs(t, err, workflow.ErrUnknownStepType)
}

func TestRunJSONLogs(t *testing.T) {
	_, wf, in := setup(t, salesWorkflow)

	_, stderr, err := runApp(t, "-w", wf, "--log-level", "debug", "--log-format", "json", in, "-")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"msg":"workflow finished"`)
	assert.Contains(t, stderr, `"run_id":`)
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, wf, in := setup(t, salesWorkflow)

	_, _, err := runApp(t, "-w", wf, "--log-format", "xml", in, "-")
	assert.ErrorContains(t, err, "unknown log format")

	_, _, err = runApp(t, "-w", wf, "--log-level", "loud", in, "-")
	assert.Error(t, err)

	_, _, err = runApp(t, "-w", wf)
	assert.ErrorContains(t, err, "usage")
}

func TestSampleWorkflow(t *testing.T) {
	stdout, _, err := runApp(t, "-w", "../../testdata/sales_workflow.json", "../../testdata/sales.tsv", "-")
	require.NoError(t, err)
	assert.Equal(t, "region\ttotal\tmedian_amount\ttop_location\n"+
		"north\t400.5\t120\t\"[\"\"north\"\",\"\"n2\"\"]\"\n"+
		"south\t355.25\t177.625\t\"[\"\"south\"\",\"\"s2\"\"]\"\n", stdout)
}

func TestPrintTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, table.NewTable(nil))
	assert.Empty(t, buf.String())
}
