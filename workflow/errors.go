package workflow

import "fmt"

// Kind classifies an Error.
type Kind string

const (
	KindUnknownStepType        Kind = "UnknownStepType"
	KindUnknownFilterType      Kind = "UnknownFilterType"
	KindUnknownAggregationType Kind = "UnknownAggregationType"
	KindMissingColumn          Kind = "MissingColumn"
	KindTypeMismatch           Kind = "TypeMismatch"
	KindDuplicateColumn        Kind = "DuplicateColumn"
	KindInvalidWorkflow        Kind = "InvalidWorkflow"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrUnknownStepType        = &Error{Kind: KindUnknownStepType, Step: NoStep}
	ErrUnknownFilterType      = &Error{Kind: KindUnknownFilterType, Step: NoStep}
	ErrUnknownAggregationType = &Error{Kind: KindUnknownAggregationType, Step: NoStep}
	ErrMissingColumn          = &Error{Kind: KindMissingColumn, Step: NoStep}
	ErrTypeMismatch           = &Error{Kind: KindTypeMismatch, Step: NoStep}
	ErrDuplicateColumn        = &Error{Kind: KindDuplicateColumn, Step: NoStep}
	ErrInvalidWorkflow        = &Error{Kind: KindInvalidWorkflow, Step: NoStep}
)

// NoStep marks an error that is not tied to a step.
const NoStep = -1

// Error is the structured error reported by workflow decoding and execution.
type Error struct {
	Kind    Kind
	Step    int // index into Workflow.Steps, or NoStep
	Column  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Step != NoStep {
		return fmt.Sprintf("step %d: [%s] %s", e.Step, e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf creates an Error with a formatted message and no step.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: NoStep, Message: fmt.Sprintf(format, args...)}
}

// MissingColumn reports a reference to a column the table does not have.
func MissingColumn(col string) *Error {
	return &Error{Kind: KindMissingColumn, Step: NoStep, Column: col,
		Message: fmt.Sprintf("column %q not found", col)}
}

// AtStep attaches a step index.
func (e *Error) AtStep(i int) *Error {
	e.Step = i
	return e
}

// WithColumn attaches the offending column name.
func (e *Error) WithColumn(col string) *Error {
	e.Column = col
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}
