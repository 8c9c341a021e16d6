// Package apperr carries typed, status-aware errors from the store and the
// upgrade runner up to the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error with a stable machine code and an HTTP status.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Status  int            `json:"-"`
	Fields  map[string]any `json:"fields,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	}
	return "error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code, so wrapped copies of a
// sentinel still satisfy errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap copies base and attaches err as the cause.
func Wrap(err error, base *Error, message string) *Error {
	if err == nil {
		return nil
	}
	if base == nil {
		base = ErrInternal
	}
	cp := *base
	if message != "" {
		cp.Message = message
	}
	cp.Err = err
	return &cp
}

// Newf copies base with a formatted message and no cause.
func Newf(base *Error, format string, args ...any) *Error {
	if base == nil {
		base = ErrInternal
	}
	cp := *base
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func WithFields(base *Error, fields map[string]any) *Error {
	if base == nil {
		return nil
	}
	cp := *base
	cp.Fields = fields
	return &cp
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

func Status(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

func Message(err error) string {
	if e, ok := As(err); ok {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Code
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Payload is the JSON body handlers send for err.
func Payload(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	payload := map[string]any{
		"code":    Code(err),
		"message": Message(err),
	}
	if e, ok := As(err); ok && len(e.Fields) > 0 {
		payload["fields"] = e.Fields
	}
	return payload
}

var (
	ErrBadRequest     = New("bad_request", http.StatusBadRequest, "")
	ErrValidation     = New("validation_error", http.StatusBadRequest, "")
	ErrUnauthorized   = New("unauthorized", http.StatusUnauthorized, "")
	ErrForbidden      = New("forbidden", http.StatusForbidden, "")
	ErrNotFound       = New("not_found", http.StatusNotFound, "")
	ErrConflict       = New("conflict", http.StatusConflict, "")
	ErrCommentsClosed = New("comments_closed", http.StatusForbidden, "comments are closed for this article")
	ErrRateLimited    = New("rate_limited", http.StatusTooManyRequests, "too many requests")
	ErrInternal       = New("internal_error", http.StatusInternalServerError, "")
	ErrUnavailable    = New("service_unavailable", http.StatusServiceUnavailable, "")
	ErrDatabase       = New("database_error", http.StatusInternalServerError, "")
)
