package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// Common reconciler errors. Use `ErrX.WithCausef()` to clone and add context.
var (
	ErrValidation  = Error{Code: "validation", Message: "Resource spec is not valid"}
	ErrExecution   = Error{Code: "execution", Message: "External command failed"}
	ErrTimeout     = Error{Code: "timeout", Message: "External command timed out"}
	ErrConflict    = Error{Code: "conflict", Message: "Desired revision changed during reconciliation"}
	ErrStore       = Error{Code: "store", Message: "Resource store failure"}
	ErrNotFound    = Error{Code: "not_found", Message: "Requested resource not found"}
	ErrUnsupported = Error{Code: "unsupported", Message: "Requested resource kind is not supported"}
)

// Error represents any error returned by burrow components along with any
// relevant context.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// WithCausef returns clone of err with the cause added.
func (err Error) WithCausef(format string, args ...interface{}) Error {
	cloned := err
	cloned.Cause = fmt.Sprintf(format, args...)
	return cloned
}

// WithMsgf returns a clone of the error with message set.
func (err Error) WithMsgf(format string, args ...interface{}) Error {
	cloned := err
	cloned.Message = fmt.Sprintf(format, args...)
	return cloned
}

// Is checks if 'other' is of type Error and has the same code.
func (err Error) Is(other error) bool {
	oe, ok := other.(Error)
	return ok && oe.Code == err.Code
}

func (err Error) Error() string {
	if err.Cause == "" {
		return fmt.Sprintf("%s: %s", err.Code, strings.ToLower(err.Message))
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Cause)
}

// E converts any error into Error. Errors without a code become ErrStore
// since they can only originate below the reconciler.
func E(err error) Error {
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return ErrStore.WithCausef("%v", err)
}

// Class maps an error to the class persisted on a record
func Class(err error) types.ErrorClass {
	switch {
	case err == nil:
		return types.ErrorClassNone
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupported):
		return types.ErrorClassValidation
	case errors.Is(err, ErrTimeout):
		return types.ErrorClassTimeout
	case errors.Is(err, ErrExecution):
		return types.ErrorClassExecution
	default:
		return types.ErrorClassStore
	}
}

// Retryable reports whether a failure is transient. Validation failures need
// the input fixed and are never retried.
func Retryable(err error) bool {
	switch Class(err) {
	case types.ErrorClassExecution, types.ErrorClassTimeout, types.ErrorClassStore:
		return true
	default:
		return false
	}
}

// Is and As are re-exported so callers only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }
