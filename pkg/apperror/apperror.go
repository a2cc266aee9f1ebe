// Package apperror classifies domain errors into a small set of kinds so the
// transport layer can map them without knowing every domain sentinel.
package apperror

import "errors"

type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation_error"
	KindConflict    Kind = "conflict"
	KindConcurrency Kind = "concurrency_error"
	KindPermission  Kind = "permission_denied"
	KindToken       Kind = "token_error"
	KindTokenStale  Kind = "token_stale"
)

// Error is a classified sentinel. Code is the stable snake_case identifier
// returned to API clients.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func NotFound(code string) *Error    { return New(KindNotFound, code) }
func Validation(code string) *Error  { return New(KindValidation, code) }
func Conflict(code string) *Error    { return New(KindConflict, code) }
func Concurrency(code string) *Error { return New(KindConcurrency, code) }
func Permission(code string) *Error  { return New(KindPermission, code) }
func Token(code string) *Error       { return New(KindToken, code) }
func TokenStale(code string) *Error  { return New(KindTokenStale, code) }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first classified error in err's chain.
func CodeOf(err error) string {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target.Code
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
