// Package copyerr holds the error kinds raised while copying a table.
//
// Every kind is fatal to the job that raised it. The worker loop turns
// them into ERROR status lines; only the trigger error escapes to the caller.
package copyerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrOversizedRow is returned when one formatted row does not fit an empty
// insert buffer.
var ErrOversizedRow = errors.New("Found record bigger than max_allowed_packet")

// ConnectionError wraps a driver failure with the operation that triggered it.
type ConnectionError struct {
	Op    string
	Cause error
}

func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Connection builds a ConnectionError, formatting op like Printf.
func Connection(cause error, op string, args ...any) error {
	return &ConnectionError{Op: fmt.Sprintf(op, args...), Cause: cause}
}

// TypeMismatchError is raised when a value is stored into a cell of another kind.
// Field is 1-based.
type TypeMismatchError struct {
	Field    int
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("Type mismatch fetching field %d (should be %s, was %s)", e.Field, e.Expected, e.Actual)
}

// LogicError marks a gap in the type mapping or a misuse of the row cursor.
type LogicError struct {
	Msg string
}

func (e *LogicError) Error() string {
	return e.Msg
}

// Logic builds a LogicError.
func Logic(format string, args ...any) error {
	return &LogicError{Msg: fmt.Sprintf(format, args...)}
}

// DataError is raised for values the policy refuses to load.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string {
	return e.Msg
}

// Data builds a DataError.
func Data(format string, args ...any) error {
	return &DataError{Msg: fmt.Sprintf(format, args...)}
}

// TargetError wraps a failed statement on the target server.
type TargetError struct {
	Query string
	Cause error
}

func (e *TargetError) Error() string {
	return e.Cause.Error()
}

func (e *TargetError) Unwrap() error {
	return e.Cause
}

// TriggerRestoreRequiredError reports a trigger that was backed up but could
// not be dropped. The backup table is left in place.
type TriggerRestoreRequiredError struct {
	Schema  string
	Trigger string
	Cause   error
}

func (e *TriggerRestoreRequiredError) Error() string {
	return fmt.Sprintf("Error dropping trigger %s.%s: %v. Triggers are backed up in %s.wb_tmp_triggers and must be restored",
		e.Schema, e.Trigger, e.Cause, e.Schema)
}

func (e *TriggerRestoreRequiredError) Unwrap() error {
	return e.Cause
}
