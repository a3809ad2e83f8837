package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// Admission control
	ErrCodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeInsufficientCoin ErrorCode = "INSUFFICIENT_COIN"
	ErrCodeTenantSuspended  ErrorCode = "TENANT_SUSPENDED"

	// Connection lifecycle
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	ErrCodeNotRunning     ErrorCode = "NOT_RUNNING"
	ErrCodeReauthRequired ErrorCode = "REAUTH_REQUIRED"
	ErrCodeTransport      ErrorCode = "TRANSPORT_ERROR"

	// Gating pipeline
	ErrCodeMessageBlocked    ErrorCode = "MESSAGE_BLOCKED"
	ErrCodeModerationFlagged ErrorCode = "MODERATION_FLAGGED"

	// Command dispatch
	ErrCodeCommandNotFound   ErrorCode = "COMMAND_NOT_FOUND"
	ErrCodeCommandTimeout    ErrorCode = "COMMAND_TIMEOUT"
	ErrCodeCommandFailed     ErrorCode = "COMMAND_FAILED"
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

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

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

func QuotaExceeded(resource string, limit int) *AppError {
	return New(ErrCodeQuotaExceeded,
		fmt.Sprintf("Plan limit reached for %s (limit %d); upgrade your plan to continue", resource, limit))
}

func InsufficientCoin(required int) *AppError {
	return New(ErrCodeInsufficientCoin,
		fmt.Sprintf("This command costs %d coin; top up your balance to continue", required))
}

func TenantSuspended() *AppError {
	return New(ErrCodeTenantSuspended, "Tenant account is suspended")
}

func AlreadyRunning(botID string) *AppError {
	return New(ErrCodeAlreadyRunning, fmt.Sprintf("Bot instance %s is already running", botID))
}

func NotRunning(botID string) *AppError {
	return New(ErrCodeNotRunning, fmt.Sprintf("Bot instance %s is not running", botID))
}

func ReauthRequired(botID string) *AppError {
	return New(ErrCodeReauthRequired,
		fmt.Sprintf("Bot instance %s was logged out; re-authentication is required", botID))
}

func Transport(message string, cause error) *AppError {
	return Wrap(ErrCodeTransport, message, cause)
}

func CommandNotFound(name string) *AppError {
	return New(ErrCodeCommandNotFound, fmt.Sprintf("Command not found: %s", name))
}

func CommandTimeout(name string) *AppError {
	return New(ErrCodeCommandTimeout, fmt.Sprintf("Command %s timed out", name))
}

func CommandFailed() *AppError {
	return New(ErrCodeCommandFailed, "Command failed; please try again later")
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
