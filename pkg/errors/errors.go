// Package errors provides the structured error types used across the
// reconciliation engine.
//
// Every failure surfaced by the engine is an *EngineError carrying a
// category, a machine-readable code, optional context values and an
// optional suggestion for the caller. Constructors exist for each error
// in the engine's taxonomy so call sites never assemble categories and
// codes by hand.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the subsystem that produced them.
type ErrorCategory string

const (
	CategoryNormalization ErrorCategory = "normalization"
	CategoryState         ErrorCategory = "state"
	CategoryResolution    ErrorCategory = "resolution"
	CategoryConcurrency   ErrorCategory = "concurrency"
	CategoryStorage       ErrorCategory = "storage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// Normalization errors
	CodeMalformedRow ErrorCode = "malformed_row"

	// State machine errors
	CodeEmptyRecordSet           ErrorCode = "empty_record_set"
	CodeInvalidTransition        ErrorCode = "invalid_transition"
	CodeIrreversibleState        ErrorCode = "irreversible_state"
	CodeIncompleteReconciliation ErrorCode = "incomplete_reconciliation"

	// Resolution errors
	CodeMissingNote     ErrorCode = "missing_note"
	CodeRecordCovered   ErrorCode = "record_covered"
	CodeUnknownEntity   ErrorCode = "unknown_entity"
	CodeInvariantBroken ErrorCode = "invariant_broken"

	// Concurrency errors
	CodeConcurrentModification ErrorCode = "concurrent_modification"
	CodeCancelled              ErrorCode = "cancelled"

	// Storage errors
	CodeSessionNotFound ErrorCode = "session_not_found"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// Context holds additional key/value information about an error.
type Context map[string]interface{}

// EngineError is the base error type for all engine errors.
type EngineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// stackTracer is the interface pkg/errors uses to expose stack traces.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new EngineError.
func New(category ErrorCategory, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// Taxonomy constructors

// MalformedRowError reports a raw row that lacks a parseable date or amount.
// It is recoverable: the caller decides whether to skip the row or abort.
func MalformedRowError(source string, rowNumber int, field, value string, err error) *EngineError {
	message := fmt.Sprintf("malformed %s row %d: field %q has unparseable value %q", source, rowNumber, field, value)
	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryNormalization, CodeMalformedRow, message)
	} else {
		result = New(CategoryNormalization, CodeMalformedRow, message)
	}
	return result.
		WithSuggestion("fix the row in the source file or rerun with strict mode disabled").
		WithContext("source", source).
		WithContext("row_number", rowNumber).
		WithContext("field", field).
		WithContext("value", value)
}

// EmptyRecordSetError reports an attempt to start matching for a session
// with zero records on one side.
func EmptyRecordSetError(side string) *EngineError {
	return New(CategoryState, CodeEmptyRecordSet,
		fmt.Sprintf("cannot start matching: %s record set is empty", side)).
		WithSuggestion("load at least one record on each side before starting").
		WithContext("side", side)
}

// InvalidTransitionError reports a state or status transition that the
// lifecycle does not permit.
func InvalidTransitionError(entity, from, to string) *EngineError {
	return New(CategoryState, CodeInvalidTransition,
		fmt.Sprintf("invalid %s transition from %s to %s", entity, from, to)).
		WithContext("entity", entity).
		WithContext("from", from).
		WithContext("to", to)
}

// IrreversibleStateError reports an attempt to re-enter matching after
// confirmations have begun.
func IrreversibleStateError(sessionID string, confirmedMatches int) *EngineError {
	return New(CategoryState, CodeIrreversibleState,
		fmt.Sprintf("session %s has %d confirmed matches and cannot be re-matched", sessionID, confirmedMatches)).
		WithSuggestion("reject the confirmed matches first if a re-run is really intended").
		WithContext("session_id", sessionID).
		WithContext("confirmed_matches", confirmedMatches)
}

// IncompleteReconciliationError reports a completion attempt while records
// remain without a confirmed match or resolved exception.
func IncompleteReconciliationError(sessionID string, uncovered int) *EngineError {
	return New(CategoryState, CodeIncompleteReconciliation,
		fmt.Sprintf("session %s has %d records without a confirmed match or resolved exception", sessionID, uncovered)).
		WithSuggestion("confirm or reject remaining matches and resolve open exceptions").
		WithContext("session_id", sessionID).
		WithContext("uncovered_records", uncovered)
}

// ConcurrentModificationError reports lock contention on a session. Callers
// retry with backoff; the engine never retries internally.
func ConcurrentModificationError(sessionID string) *EngineError {
	return New(CategoryConcurrency, CodeConcurrentModification,
		fmt.Sprintf("session %s is being modified by another operation", sessionID)).
		WithSuggestion("retry the operation after a short backoff").
		WithContext("session_id", sessionID)
}

// SessionNotFoundError reports a session lookup miss.
func SessionNotFoundError(sessionID string) *EngineError {
	return New(CategoryStorage, CodeSessionNotFound,
		fmt.Sprintf("session %s not found", sessionID)).
		WithContext("session_id", sessionID)
}

// ResolutionError reports a human-resolution operation that failed its
// preconditions.
func ResolutionError(code ErrorCode, message string) *EngineError {
	return New(CategoryResolution, code, message)
}

// ConfigurationError reports an invalid engine or matcher configuration value.
func ConfigurationError(setting string, value interface{}, err error) *EngineError {
	message := fmt.Sprintf("invalid configuration for %q: %v", setting, value)
	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, CodeInvalidConfig, message)
	} else {
		result = New(CategoryConfiguration, CodeInvalidConfig, message)
	}
	return result.
		WithContext("setting", setting).
		WithContext("value", value)
}

// Utility functions

// IsCode reports whether err is an EngineError with the given code.
func IsCode(err error, code ErrorCode) bool {
	engineErr, ok := AsEngineError(err)
	return ok && engineErr.Code == code
}

// IsCategory reports whether err is an EngineError in the given category.
func IsCategory(err error, category ErrorCategory) bool {
	engineErr, ok := AsEngineError(err)
	return ok && engineErr.Category == category
}

// AsEngineError extracts an EngineError from an error chain.
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// RowErrors aggregates the malformed-row errors from one normalization pass.
type RowErrors struct {
	Errors []*EngineError `json:"errors"`
}

// NewRowErrors builds a RowErrors aggregate. Returns nil when errs is empty
// so callers can use the result directly as an error value.
func NewRowErrors(errs []*EngineError) *RowErrors {
	if len(errs) == 0 {
		return nil
	}
	return &RowErrors{Errors: errs}
}

// Error returns a formatted message for the aggregate.
func (re *RowErrors) Error() string {
	if len(re.Errors) == 1 {
		return re.Errors[0].Error()
	}
	samples := make([]string, 0, 3)
	for i, err := range re.Errors {
		if i == 3 {
			break
		}
		samples = append(samples, err.Message)
	}
	return fmt.Sprintf("%d malformed rows (%s)", len(re.Errors), strings.Join(samples, "; "))
}

// Len returns the number of aggregated row errors.
func (re *RowErrors) Len() int {
	if re == nil {
		return 0
	}
	return len(re.Errors)
}
