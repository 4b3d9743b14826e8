package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies store failures.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindParse              Kind = "parse"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindQuotaExceeded      Kind = "quota_exceeded"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrParse              = errors.New("malformed document")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
)

var sentinelByKind = map[Kind]error{
	KindValidation:         ErrValidation,
	KindNotFound:           ErrNotFound,
	KindParse:              ErrParse,
	KindBackendUnavailable: ErrBackendUnavailable,
	KindQuotaExceeded:      ErrQuotaExceeded,
}

// Error is a classified error carrying a numeric code and the underlying cause.
type Error struct {
	Kind Kind
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		if sentinel, ok := sentinelByKind[e.Kind]; ok {
			return sentinel.Error()
		}
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the sentinel for the error kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := sentinelByKind[e.Kind]
	return ok && target == sentinel
}

func newError(kind Kind, code int, err error) error {
	if err == nil {
		err = sentinelByKind[kind]
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// Validation classifies err as a validation failure.
func Validation(err error) error {
	return ValidationCode(err, CodeInvalidArgument)
}

// ValidationCode classifies err as a validation failure with a specific code.
func ValidationCode(err error, code int) error {
	return newError(KindValidation, code, err)
}

// Validationf formats a validation failure.
func Validationf(format string, args ...any) error {
	return Validation(fmt.Errorf(format, args...))
}

// NotFound classifies err as a missing entity.
func NotFound(err error) error {
	return NotFoundCode(err, CodeNotFound)
}

// NotFoundCode classifies err as a missing entity with a specific code.
func NotFoundCode(err error, code int) error {
	return newError(KindNotFound, code, err)
}

// Parse classifies err as an undecodable document.
func Parse(err error) error {
	return ParseCode(err, CodeMalformedDocument)
}

// ParseCode classifies err as an undecodable document with a specific code.
func ParseCode(err error, code int) error {
	return newError(KindParse, code, err)
}

// Parsef formats a parse failure.
func Parsef(format string, args ...any) error {
	return Parse(fmt.Errorf(format, args...))
}

// BackendUnavailable classifies err as a backend initialisation failure.
func BackendUnavailable(err error) error {
	return newError(KindBackendUnavailable, CodeBackendUnavailable, err)
}

// QuotaExceeded classifies err as a capacity rejection.
func QuotaExceeded(err error) error {
	return newError(KindQuotaExceeded, CodeQuotaExceeded, err)
}

// KindOf returns the kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinelByKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// CodeOf returns the numeric code of err, or 0 when err is unclassified.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
