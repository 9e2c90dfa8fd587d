// Package parser turns workflow documents into workflow.Workflow values.
//
// A document is first decoded with the tag dispatch of the workflow package,
// so unknown step, filter and aggregation tags surface with their own error
// kinds, and then checked against an embedded JSON Schema that catches
// missing or mistyped fields.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/razeghi71/dqflow/workflow"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://dqflow.dev/schemas/workflow.json"

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://dqflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "$defs": {
    "column": { "type": "string", "minLength": 1 },
    "columns": { "type": "array", "items": { "$ref": "#/$defs/column" } },
    "step": {
      "type": "object",
      "required": ["type"],
      "oneOf": [
        { "$ref": "#/$defs/filter" },
        { "$ref": "#/$defs/combine_columns_as_json" },
        { "$ref": "#/$defs/aggregate" },
        { "$ref": "#/$defs/aggregate_multi" }
      ]
    },
    "filter": {
      "required": ["type", "predicate"],
      "properties": {
        "type": { "const": "filter" },
        "predicate": { "$ref": "#/$defs/predicate" }
      }
    },
    "combine_columns_as_json": {
      "required": ["type", "src", "dst"],
      "properties": {
        "type": { "const": "combine_columns_as_json" },
        "src": { "$ref": "#/$defs/columns" },
        "dst": { "$ref": "#/$defs/column" }
      }
    },
    "aggregate": {
      "required": ["type", "group_by", "aggregations"],
      "properties": {
        "type": { "const": "aggregate" },
        "group_by": { "$ref": "#/$defs/columns" },
        "aggregations": { "type": "array", "items": { "$ref": "#/$defs/aggregation" } }
      }
    },
    "aggregate_multi": {
      "required": ["type", "group_by", "aggregations"],
      "properties": {
        "type": { "const": "aggregate_multi" },
        "group_by": { "$ref": "#/$defs/columns" },
        "aggregations": { "type": "array", "items": { "$ref": "#/$defs/multi_aggregation" } }
      }
    },
    "predicate": {
      "type": "object",
      "required": ["type"],
      "oneOf": [
        {
          "required": ["column", "value"],
          "properties": {
            "type": { "enum": ["eq", "gt", "ge", "lt", "le"] },
            "column": { "$ref": "#/$defs/column" },
            "value": { "type": ["number", "string"] }
          }
        },
        {
          "required": ["operand"],
          "properties": {
            "type": { "const": "not" },
            "operand": { "$ref": "#/$defs/predicate" }
          }
        },
        {
          "required": ["operands"],
          "properties": {
            "type": { "enum": ["and", "or"] },
            "operands": { "type": "array", "items": { "$ref": "#/$defs/predicate" } }
          }
        }
      ]
    },
    "aggregation": {
      "type": "object",
      "required": ["type"],
      "oneOf": [
        {
          "required": ["src", "dst"],
          "properties": {
            "type": { "enum": ["count", "max", "min", "mean", "median", "sum", "first"] },
            "src": { "$ref": "#/$defs/column" },
            "dst": { "$ref": "#/$defs/column" }
          }
        },
        {
          "required": ["ranking_col"],
          "properties": {
            "type": { "const": "max_by" },
            "ranking_col": { "$ref": "#/$defs/column" },
            "pick_cols": {
              "type": ["array", "null"],
              "items": {
                "type": "array",
                "prefixItems": [{ "$ref": "#/$defs/column" }, { "$ref": "#/$defs/column" }],
                "minItems": 2,
                "maxItems": 2
              }
            }
          }
        }
      ]
    },
    "multi_aggregation": {
      "type": "object",
      "required": ["type", "src", "dst"],
      "properties": {
        "type": { "enum": ["cumsum", "rank"] },
        "src": { "$ref": "#/$defs/column" },
        "dst": { "$ref": "#/$defs/column" }
      }
    }
  }
}`

var workflowSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal workflow schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("add workflow schema resource: %v", err))
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile workflow schema: %v", err))
	}
	return sch
}

// Parse decodes and validates a workflow document.
func Parse(data []byte) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		var we *workflow.Error
		if errors.As(err, &we) {
			return nil, we
		}
		return nil, workflow.Errorf(workflow.KindInvalidWorkflow, "cannot parse workflow JSON: %v", err).WithCause(err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ParseFile reads and parses a workflow file.
func ParseFile(filename string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot read workflow %s: %w", filename, err)
	}
	return Parse(data)
}

// Validate checks a workflow document against the workflow JSON Schema.
func Validate(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return workflow.Errorf(workflow.KindInvalidWorkflow, "cannot parse workflow JSON: %v", err).WithCause(err)
	}
	err = workflowSchema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return workflow.Errorf(workflow.KindInvalidWorkflow, "%v", err).WithCause(err)
	}
	leaf := firstLeaf(verr)
	loc := "/" + strings.Join(leaf.InstanceLocation, "/")
	return workflow.Errorf(workflow.KindInvalidWorkflow, "%s: %s", loc, leaf.Error()).
		AtStep(stepOf(leaf.InstanceLocation)).
		WithCause(err)
}

// firstLeaf follows the first cause down to the most specific violation.
func firstLeaf(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}

func stepOf(loc []string) int {
	if len(loc) < 2 || loc[0] != "steps" {
		return workflow.NoStep
	}
	i, err := strconv.Atoi(loc[1])
	if err != nil {
		return workflow.NoStep
	}
	return i
}
