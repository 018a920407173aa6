package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/baechuer/notify-platform/internal/domain"
)

// Envelope is the response body for every endpoint:
// {"success":true,"data":...,"message":"...","meta":{...}}
// {"success":false,"error":{"code":"...","message":"..."}}
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
	Meta    any        `json:"meta,omitempty"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Message: message})
}

// OKPaged writes a success envelope with pagination meta.
func OKPaged(w http.ResponseWriter, data any, meta *domain.PaginationMeta) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: meta})
}

// Fail writes an error envelope with an explicit code.
func Fail(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, RequestID: requestID},
	})
}

// FailErr maps a pipeline error to its HTTP status and writes the envelope.
func FailErr(w http.ResponseWriter, err error, requestID string) {
	code := domain.CodeOf(err)
	message := "internal error"

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	Fail(w, statusFor(code), string(code), message, requestID)
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCodeInvalidInput, domain.ErrCodeTemplateInvalid:
		return http.StatusBadRequest
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeBlockedByPref:
		return http.StatusForbidden
	case domain.ErrCodeMissingRecipient:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrCodeUserUnavailable, domain.ErrCodeQueueUnavailable,
		domain.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
