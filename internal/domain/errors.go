package domain

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeResourceExhausted  = Code(codes.ResourceExhausted)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeFailedPrecondition: http.StatusConflict,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a coded failure. Kind is the stable identifier sent to clients.
type Error struct {
	Code    Code   `json:"-"`
	Kind    string `json:"code"`
	Message string `json:"message"`
	err     error
}

var (
	ErrNotFound           = newKind(CodeNotFound, "not_found", "session not found")
	ErrQuizNotFound       = newKind(CodeNotFound, "quiz_not_found", "quiz not found")
	ErrForbidden          = newKind(CodePermissionDenied, "forbidden", "only the host can do that")
	ErrSessionNotJoinable = newKind(CodeFailedPrecondition, "session_not_joinable", "session is no longer joinable")
	ErrSessionFull        = newKind(CodeResourceExhausted, "session_full", "session is full")
	ErrWindowClosed       = newKind(CodeFailedPrecondition, "window_closed", "answer window is closed")
	ErrAlreadyAnswered    = newKind(CodeAlreadyExists, "already_answered", "question already answered")
	ErrCapacityExceeded   = newKind(CodeUnavailable, "capacity_exceeded", "no capacity for new sessions")
	ErrInvalidArgument    = newKind(CodeInvalidArgument, "invalid_argument", "invalid argument")
	ErrInvalidState       = newKind(CodeFailedPrecondition, "invalid_state", "operation not allowed in the current state")
	ErrRateLimited        = newKind(CodeResourceExhausted, "rate_limited", "too many messages")
)

func newKind(code Code, kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// New builds an error of the given code.
func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Kind:    "internal",
		Message: codes.Code(code).String(),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(": %s", e.err)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches errors of the same kind so copies made by With compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// With returns a copy of e customised by opts.
func (e *Error) With(opts ...Option) *Error {
	cp := *e
	for _, opt := range opts {
		opt.apply(&cp)
	}
	return &cp
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// Convert finds the coded error in err's chain. The outermost message is kept
// when err wraps a sentinel with extra context.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}
	if err.Error() != e.Error() {
		return e.With(WithMessagef("%s", trimKind(err.Error(), e.Kind)))
	}
	return e
}

// Benign reports whether err is an expected rejection that should not be logged as a fault.
func Benign(err error) bool {
	return errors.Is(err, ErrWindowClosed) || errors.Is(err, ErrAlreadyAnswered)
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func trimKind(msg, kind string) string {
	prefix := kind + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
