// Package engine executes workflows against in-memory tables.
//
// Steps run strictly in order and each one materializes a new table; the
// input table of a step is never modified. The first failing step aborts the
// run with a *workflow.Error carrying the step index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/razeghi71/dqflow/table"
	"github.com/razeghi71/dqflow/workflow"
	"github.com/sirupsen/logrus"
)

// Options configures an Engine.
type Options struct {
	// Workers bounds the goroutines used to aggregate independent groups
	// within one step. Values <= 1 aggregate on the calling goroutine.
	Workers int
	// Logger receives run and step events. Nil discards them.
	Logger logrus.FieldLogger
}

// Engine runs workflows. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	workers int
	log     logrus.FieldLogger
}

// New creates an Engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{workers: opts.Workers, log: log}
}

var defaultEngine = New(Options{})

// Execute runs a workflow on the given input table with default options.
func Execute(wf *workflow.Workflow, input *table.Table) (*table.Table, error) {
	return defaultEngine.Execute(context.Background(), wf, input)
}

// Execute runs every step of wf in order, threading the table through.
// ctx is only checked between steps.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow, input *table.Table) (*table.Table, error) {
	log := e.log.WithField("run_id", uuid.NewString())
	log.WithFields(logrus.Fields{
		"steps": len(wf.Steps),
		"rows":  len(input.Rows),
	}).Info("workflow started")

	start := time.Now()
	current := input
	for i, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		stepStart := time.Now()
		next, err := e.execStep(step, current)
		if err != nil {
			err = atStep(err, i)
			log.WithError(err).WithField("step", i).Warn("workflow failed")
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"step":     i,
			"type":     step.Type(),
			"rows_in":  len(current.Rows),
			"rows_out": len(next.Rows),
			"took":     time.Since(stepStart),
		}).Debug("step finished")
		current = next
	}

	log.WithFields(logrus.Fields{
		"rows": len(current.Rows),
		"took": time.Since(start),
	}).Info("workflow finished")
	return current, nil
}

func (e *Engine) execStep(step workflow.Step, t *table.Table) (*table.Table, error) {
	switch s := step.(type) {
	case *workflow.FilterStep:
		return execFilter(s, t)
	case *workflow.CombineColumnsAsJSONStep:
		return execCombineColumnsAsJSON(s, t)
	case *workflow.AggregateStep:
		return e.execAggregate(s, t)
	case *workflow.AggregateMultiStep:
		return e.execAggregateMulti(s, t)
	default:
		return nil, workflow.Errorf(workflow.KindUnknownStepType, "unknown step type %T", step)
	}
}

func atStep(err error, i int) error {
	var we *workflow.Error
	if errors.As(err, &we) {
		we.AtStep(i)
		return err
	}
	return fmt.Errorf("step %d: %w", i, err)
}

// columnIndices resolves column names against t.
func columnIndices(t *table.Table, cols []string) ([]int, error) {
	indices := make([]int, len(cols))
	for i, c := range cols {
		idx := t.ColIndex(c)
		if idx < 0 {
			return nil, workflow.MissingColumn(c)
		}
		indices[i] = idx
	}
	return indices, nil
}
