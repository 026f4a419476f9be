// Package errors provides the standardized error kinds shared by the sync and
// transition engines, plus their BPMN mapping for the job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotFound            ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeTransport           ErrorCode = "TRANSPORT_ERROR"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrCodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	ErrCodeCompensationFailure ErrorCode = "COMPENSATION_FAILURE"
	ErrCodeVersionConflict     ErrorCode = "VERSION_CONFLICT"
	ErrCodeTransitionCancelled ErrorCode = "TRANSITION_CANCELLED"
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeFeedParseFailed     ErrorCode = "FEED_PARSE_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches any *StandardError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e after merging the given metadata.
func (e *StandardError) WithMetadata(md map[string]interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{}, len(md))
	}
	for k, v := range md {
		e.Metadata[k] = v
	}
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound            = &StandardError{Code: ErrCodeNotFound}
	ErrTransport           = &StandardError{Code: ErrCodeTransport}
	ErrRateLimited         = &StandardError{Code: ErrCodeRateLimited}
	ErrConstraintViolation = &StandardError{Code: ErrCodeConstraintViolation}
	ErrCompensationFailure = &StandardError{Code: ErrCodeCompensationFailure}
	ErrVersionConflict     = &StandardError{Code: ErrCodeVersionConflict}
	ErrTransitionCancelled = &StandardError{Code: ErrCodeTransitionCancelled}
	ErrInvalidInput        = &StandardError{Code: ErrCodeInvalidInput}
	ErrFeedParseFailed     = &StandardError{Code: ErrCodeFeedParseFailed}

	ErrNotificationSendFailed = &StandardError{Code: ErrCodeNotificationSendFailed}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

// NewNotFoundError reports an operation on an unknown id, or on an id with no
// Pending record to transition.
func NewNotFoundError(id, details string) *StandardError {
	return newError(ErrCodeNotFound, "No valid pending application", fmt.Sprintf("id: %s, %s", id, details), false, nil).
		WithMetadata(map[string]interface{}{"id": id})
}

// NewTransportError wraps a store or feed that is unreachable or answered non-2xx.
func NewTransportError(target string, err error) *StandardError {
	return newError(ErrCodeTransport, fmt.Sprintf("%s unreachable", target), errDetails(err), true, err)
}

// NewRateLimitedError reports an HTTP 429 from the feed provider.
func NewRateLimitedError(target string) *StandardError {
	return newError(ErrCodeRateLimited, "Rate limited by provider", fmt.Sprintf("target: %s", target), true, nil)
}

// NewConstraintViolationError wraps a write the store rejected.
func NewConstraintViolationError(table string, err error) *StandardError {
	return newError(ErrCodeConstraintViolation, "Write rejected by store", fmt.Sprintf("table: %s, error: %s", table, errDetails(err)), false, err).
		WithMetadata(map[string]interface{}{"table": table})
}

// NewCompensationFailureError reports a rollback write that failed. The record
// may now look decided without an audit row.
func NewCompensationFailureError(id string, original, rollback error) *StandardError {
	return newError(ErrCodeCompensationFailure, "Rollback failed, record may be inconsistent",
		fmt.Sprintf("id: %s, original: %s, rollback: %s", id, errDetails(original), errDetails(rollback)), false, rollback).
		WithMetadata(map[string]interface{}{"id": id})
}

// NewVersionConflictError reports a conditional write that matched no row.
func NewVersionConflictError(id string, version int64) *StandardError {
	return newError(ErrCodeVersionConflict, "Application changed concurrently", fmt.Sprintf("id: %s, expected version: %d", id, version), true, nil).
		WithMetadata(map[string]interface{}{"id": id, "version": version})
}

// NewTransitionCancelledError reports an approval or rejection that was undone
// because a secondary write failed.
func NewTransitionCancelledError(action, id string, cause error) *StandardError {
	return newError(ErrCodeTransitionCancelled, fmt.Sprintf("Failed to save %s record. %s cancelled.", action, actionTitle(action)),
		fmt.Sprintf("id: %s, cause: %s", id, errDetails(cause)), false, cause).
		WithMetadata(map[string]interface{}{"id": id, "action": action})
}

// NewInvalidInputError reports a request that fails validation before any write.
func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false, nil)
}

// NewFeedParseError wraps a feed body that could not be parsed.
func NewFeedParseError(err error) *StandardError {
	return newError(ErrCodeFeedParseFailed, "Feed could not be parsed", errDetails(err), true, err)
}

// NewNotificationSendFailedError wraps a failed decision notification.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification send failed", fmt.Sprintf("channel: %s, error: %s", channel, errDetails(err)), true, err)
}

// NewInternalError wraps anything unexpected.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false, err)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func actionTitle(action string) string {
	switch action {
	case "approval":
		return "Approval"
	case "rejection":
		return "Rejection"
	default:
		return "Operation"
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeNotFound:               "APPLICATION_NOT_FOUND",
	ErrCodeTransport:              "TRANSPORT_ERROR",
	ErrCodeRateLimited:            "RATE_LIMITED",
	ErrCodeConstraintViolation:    "CONSTRAINT_VIOLATION",
	ErrCodeCompensationFailure:    "COMPENSATION_FAILURE",
	ErrCodeVersionConflict:        "VERSION_CONFLICT",
	ErrCodeTransitionCancelled:    "TRANSITION_CANCELLED",
	ErrCodeInvalidInput:           "INVALID_INPUT",
	ErrCodeFeedParseFailed:        "FEED_PARSE_FAILED",
	ErrCodeNotificationSendFailed: "NOTIFICATION_SEND_FAILED",
	ErrCodeInternal:               "INTERNAL_ERROR",
}

// GetRetryCount returns the recommended job retry count for a code.
// Transitions are never retried automatically once a write was attempted.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransport, ErrCodeFeedParseFailed:
		return 3
	case ErrCodeVersionConflict, ErrCodeNotificationSendFailed:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	code, ok := BPMNErrorMapping[stdErr.Code]
	if !ok {
		code = string(stdErr.Code)
	}
	return &BPMNError{
		Code:           code,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        GetRetryCount(stdErr.Code),
		ErrorVariables: stdErr.Metadata,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandard normalizes any error into a StandardError.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// CodeOf returns the code of the outermost StandardError in err's chain.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsStandard(err).Code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeVersionConflict:
		return "BUSINESS_RULE"
	case ErrCodeTransport, ErrCodeRateLimited:
		return "TRANSPORT"
	case ErrCodeConstraintViolation:
		return "DATABASE"
	case ErrCodeCompensationFailure, ErrCodeTransitionCancelled:
		return "CONSISTENCY"
	case ErrCodeFeedParseFailed:
		return "FEED"
	case ErrCodeNotificationSendFailed:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}
