package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures across the pipeline. Codes drive both the
// HTTP status mapping at the gateway and retry classification in workers.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeBlockedByPref      ErrorCode = "BLOCKED_BY_PREFERENCE"
	ErrCodeMissingRecipient   ErrorCode = "MISSING_RECIPIENT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeUserUnavailable    ErrorCode = "USER_SERVICE_UNAVAILABLE"
	ErrCodeQueueUnavailable   ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeTemplateInvalid    ErrorCode = "TEMPLATE_INVALID"
	ErrCodeProviderError      ErrorCode = "PROVIDER_ERROR"
	ErrCodeRetryable          ErrorCode = "RETRYABLE_ERROR"
	ErrCodePermanentFailure   ErrorCode = "PERMANENT_FAILURE"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// AppError is the typed error threaded through the pipeline.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Retryable reports whether the worker pipeline should retry after err.
// Unknown (untyped) errors default to retryable; only errors positively
// classified as permanent skip the retry budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case ErrCodeRetryable, ErrCodeProviderError, ErrCodeQueueUnavailable,
		ErrCodeUserUnavailable, ErrCodeStorageUnavailable, ErrCodeInternal:
		return true
	case ErrCodeInvalidInput, ErrCodeMissingRecipient, ErrCodeTemplateInvalid,
		ErrCodeUnauthorized, ErrCodePermanentFailure, ErrCodeNotFound,
		ErrCodeBlockedByPref:
		return false
	}
	return false
}

func NewInvalidInput(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: ErrCodeUnauthorized, Message: message}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

func NewBlockedByPreference(t NotificationType) *AppError {
	return &AppError{
		Code:    ErrCodeBlockedByPref,
		Message: fmt.Sprintf("user has disabled %s notifications", t),
	}
}

func NewMissingRecipient(t NotificationType) *AppError {
	return &AppError{
		Code:    ErrCodeMissingRecipient,
		Message: fmt.Sprintf("user has no %s address configured", t),
	}
}

func NewRateLimited(message string) *AppError {
	return &AppError{Code: ErrCodeRateLimited, Message: message}
}

func NewUserUnavailable(err error) *AppError {
	return &AppError{Code: ErrCodeUserUnavailable, Message: "user service unavailable", Err: err}
}

func NewQueueUnavailable(err error) *AppError {
	return &AppError{Code: ErrCodeQueueUnavailable, Message: "message queue unavailable", Err: err}
}

func NewStorageUnavailable(err error) *AppError {
	return &AppError{Code: ErrCodeStorageUnavailable, Message: "notification store unavailable", Err: err}
}

func NewTemplateInvalid(message string) *AppError {
	return &AppError{Code: ErrCodeTemplateInvalid, Message: message}
}

func NewProviderError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeProviderError, Message: message, Err: err}
}

func NewRetryableError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeRetryable, Message: message, Err: err}
}

func NewPermanentFailure(message string, err error) *AppError {
	return &AppError{Code: ErrCodePermanentFailure, Message: message, Err: err}
}

func NewInternal(message string, err error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, Err: err}
}
