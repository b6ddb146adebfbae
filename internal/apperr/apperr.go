// Package apperr holds the business-rule error taxonomy shared by the
// scope, content, task, assignment and submission packages.
//
// Every error here is synchronous and non-retryable: it reports a rule the
// request broke, together with enough context (offending ids, current
// state) for the caller to correct the request.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindScopeViolation   Kind = "scope_violation"
	KindInvalidSchedule  Kind = "invalid_schedule"
	KindResourceNotFound Kind = "resource_not_found"
	KindResourceInUse    Kind = "resource_in_use"
	KindOutOfWindow      Kind = "out_of_window"
	KindAlreadySubmitted Kind = "already_submitted"
	KindNotGrading       Kind = "not_grading"
	KindWrongAnswerKind  Kind = "wrong_answer_kind"
	KindAlreadyClosed    Kind = "already_closed"
	KindForbidden        Kind = "forbidden"
)

type Error struct {
	Kind  Kind     `json:"error"`
	Msg   string   `json:"message"`
	IDs   []string `json:"ids,omitempty"`
	State string   `json:"state,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.IDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.IDs, ","))
		b.WriteString("]")
	}
	if e.State != "" {
		b.WriteString(" (state=")
		b.WriteString(e.State)
		b.WriteString(")")
	}
	return b.String()
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.OutOfWindow).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	InvalidInput     = &Error{Kind: KindInvalidInput}
	ScopeViolation   = &Error{Kind: KindScopeViolation}
	InvalidSchedule  = &Error{Kind: KindInvalidSchedule}
	ResourceNotFound = &Error{Kind: KindResourceNotFound}
	ResourceInUse    = &Error{Kind: KindResourceInUse}
	OutOfWindow      = &Error{Kind: KindOutOfWindow}
	AlreadySubmitted = &Error{Kind: KindAlreadySubmitted}
	NotGrading       = &Error{Kind: KindNotGrading}
	WrongAnswerKind  = &Error{Kind: KindWrongAnswerKind}
	AlreadyClosed    = &Error{Kind: KindAlreadyClosed}
	Forbidden        = &Error{Kind: KindForbidden}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) WithIDs(ids ...string) *Error {
	e.IDs = append(e.IDs, ids...)
	return e
}

func (e *Error) WithState(state string) *Error {
	e.State = state
	return e
}

// As returns the *Error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// NotFound is shorthand for the common "id does not resolve" case.
func NotFound(what, id string) *Error {
	return New(KindResourceNotFound, "%s not found", what).WithIDs(id)
}
