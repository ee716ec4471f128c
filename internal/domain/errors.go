package domain

import (
	"errors"
	"fmt"
)

// ErrCacheMiss is returned by cache lookups when the key is absent. Callers
// fall through to the authoritative source.
var ErrCacheMiss = errors.New("cache miss")

type ErrCode string

const (
	CodeValidation ErrCode = "validation_error"
	CodeNotFound   ErrCode = "not_found"
	CodeConflict   ErrCode = "version_conflict"
	CodeDuplicate  ErrCode = "duplicate_message"
	CodeTransient  ErrCode = "transient_error"
)

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrValidationMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeValidation, Message: msg, Meta: meta}
}
func ErrNotFound(msg string) error  { return &AppError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) error  { return &AppError{Code: CodeConflict, Message: msg} }
func ErrDuplicate(msg string) error { return &AppError{Code: CodeDuplicate, Message: msg} }
func ErrTransient(msg string) error { return &AppError{Code: CodeTransient, Message: msg} }

// CodeOf extracts the ErrCode from err, or CodeTransient when err is not an
// AppError. Unknown failures are treated as retryable so the broker's
// redelivery path owns them.
func CodeOf(err error) ErrCode {
	if err == nil {
		return ""
	}
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return CodeTransient
}

// IsValidation reports whether err must be dead-lettered without retry.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }
