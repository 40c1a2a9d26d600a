package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// Session / connection
	ErrCodeConnection          ErrorCode = "CONNECTION_ERROR"
	ErrCodeSessionNotConnected ErrorCode = "SESSION_NOT_CONNECTED"
	ErrCodeSessionOwned        ErrorCode = "SESSION_OWNED_ELSEWHERE"
	ErrCodeSessionLoggedOut    ErrorCode = "SESSION_LOGGED_OUT"

	// Delivery
	ErrCodeSendFailed      ErrorCode = "SEND_FAILED"
	ErrCodeSweepInProgress ErrorCode = "SWEEP_IN_PROGRESS"

	// Classification / actions
	ErrCodeClassification ErrorCode = "CLASSIFICATION_ERROR"
	ErrCodeActionFailed   ErrorCode = "ACTION_FAILED"
	ErrCodeUnknownAction  ErrorCode = "UNKNOWN_ACTION"

	// Configuration
	ErrCodeTemplateMissing ErrorCode = "TEMPLATE_MISSING"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func Connection(sessionID string, cause error) *AppError {
	return Wrap(ErrCodeConnection, fmt.Sprintf("Connection failed for session %s", sessionID), cause)
}

func SessionNotConnected(sessionID string) *AppError {
	return New(ErrCodeSessionNotConnected, fmt.Sprintf("Session %s is not connected", sessionID))
}

func SessionOwnedElsewhere(sessionID string) *AppError {
	return New(ErrCodeSessionOwned, fmt.Sprintf("Session %s is owned by another instance", sessionID))
}

func SessionLoggedOut(sessionID string) *AppError {
	return New(ErrCodeSessionLoggedOut, fmt.Sprintf("Session %s was logged out", sessionID))
}

func SendFailed(cause error) *AppError {
	return Wrap(ErrCodeSendFailed, "Failed to send message", cause)
}

func SweepInProgress() *AppError {
	return New(ErrCodeSweepInProgress, "A queue sweep is already running")
}

func Classification(cause error) *AppError {
	return Wrap(ErrCodeClassification, "Classification failed", cause)
}

func ActionFailed(action string, cause error) *AppError {
	return Wrap(ErrCodeActionFailed, fmt.Sprintf("Action %s failed", action), cause)
}

func UnknownAction(action string) *AppError {
	return New(ErrCodeUnknownAction, fmt.Sprintf("Unknown action: %s", action))
}

func TemplateMissing(eventTag string) *AppError {
	return New(ErrCodeTemplateMissing, fmt.Sprintf("No active template for event %s", eventTag))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
