package engine

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
)

func execCombineColumnsAsJSON(s *workflow.CombineColumnsAsJSONStep, t *table.Table) (*table.Table, error) {
	srcIdx, err := columnIndices(t, s.Src)
	if err != nil {
		return nil, err
	}

	newCols := make([]string, len(t.Columns))
	copy(newCols, t.Columns)
	dstIdx := t.ColIndex(s.Dst)
	if dstIdx < 0 {
		dstIdx = len(newCols)
		newCols = append(newCols, s.Dst)
	}

	result := table.NewTable(newCols)
	src := make([]table.Value, len(srcIdx))
	for _, row := range t.Rows {
		// Sources are read from the input row, which is never written, so a
		// dst that is also a src still contributes its old value.
		for i, idx := range srcIdx {
			src[i] = row.Values[idx]
		}
		combined, err := JSONArray(src)
		if err != nil {
			return nil, workflow.Errorf(workflow.KindInvalidWorkflow, "combine into %q: %v", s.Dst, err).WithColumn(s.Dst)
		}

		vals := make([]table.Value, len(newCols))
		copy(vals, row.Values)
		vals[dstIdx] = table.Str(combined)
		result.AddRow(vals)
	}
	return result, nil
}

// JSONArray renders values as a compact JSON array. Numbers without a JSON
// representation (NaN, ±Inf) render as null.
func JSONArray(vals []table.Value) (string, error) {
	items := make([]any, len(vals))
	for i, v := range vals {
		switch v.Type {
		case table.TypeNumber:
			if !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0) {
				items[i] = v.Num
			}
		case table.TypeString:
			items[i] = v.Str
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
