package model

import (
	"errors"
	"fmt"
)

// Backend and transport failure codes. Handlers abort the current step and
// keep the session intact when they see one of these.
const (
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrBackendRejected    = "BACKEND_REJECTED"
	ErrInternalError      = "INTERNAL_ERROR"
)

// Conversation-level codes. These are answered locally with a neutral
// guidance message and never reach the administrator.
const (
	ErrWrongStep       = "WRONG_STEP"
	ErrStaleSelection  = "STALE_SELECTION"
	ErrWorkflowBusy    = "WORKFLOW_BUSY"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrEmptyInput      = "EMPTY_INPUT"
	ErrInvalidCallback = "INVALID_CALLBACK"
)

// ErrorEnvelope is the error type shared by every package of the bot.
// Message is safe to show to the end user. Detail may carry raw backend
// output and is only ever forwarded to the administrator destination.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsEnvelope unwraps err into an *ErrorEnvelope. Errors of any other type
// are reported as INTERNAL_ERROR with the original text kept in Detail.
func AsEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "Something went wrong. Please try again.",
		Detail:  err.Error(),
	}
}

// IsBackendError reports whether err is a network, timeout or
// backend-reported failure (as opposed to a malformed event).
func IsBackendError(err error) bool {
	var env *ErrorEnvelope
	if !errors.As(err, &env) {
		return false
	}
	switch env.Code {
	case ErrBackendUnavailable, ErrBackendTimeout, ErrBackendRejected:
		return true
	}
	return false
}

// HasCode reports whether err is an *ErrorEnvelope carrying code.
func HasCode(err error, code string) bool {
	var env *ErrorEnvelope
	return errors.As(err, &env) && env.Code == code
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError(detail string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The content service is temporarily unavailable. Please try again.",
		Detail:  detail,
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError(detail string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The content service did not respond in time. Please try again.",
		Detail:  detail,
	}
}

// NewBackendRejectedError returns a BACKEND_REJECTED error carrying the raw
// response body in Detail.
func NewBackendRejectedError(status int, body string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendRejected,
		Message: "The content service rejected the request. The administrator has been notified.",
		Detail:  body,
		Status:  status,
	}
}

// NewWrongStepError returns a WRONG_STEP error naming the expected input.
func NewWrongStepError(expected string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWrongStep,
		Message: "That doesn't fit this step. " + expected,
	}
}

// NewStaleSelectionError returns a STALE_SELECTION error.
func NewStaleSelectionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStaleSelection, Message: msg}
}

// NewWorkflowBusyError returns a WORKFLOW_BUSY error for an attempt to
// start one workflow while another owns the chat.
func NewWorkflowBusyError(active Workflow) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowBusy,
		Message: fmt.Sprintf("You are in the middle of %s. Finish it or press Cancel first.", active.Title()),
	}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: "This action is only available to the administrator."}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewEmptyInputError returns an EMPTY_INPUT error.
func NewEmptyInputError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEmptyInput, Message: "Please send some text."}
}

// NewInvalidCallbackError returns an INVALID_CALLBACK error.
func NewInvalidCallbackError(detail string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidCallback,
		Message: "This button is no longer valid.",
		Detail:  detail,
	}
}
