package bridge

import (
	"errors"
	"fmt"
)

// Code classifies an invocation failure.
type Code string

const (
	InvalidInput          Code = "InvalidInput"
	RunnerSpawnFailed     Code = "RunnerSpawnFailed"
	MalformedReply        Code = "MalformedReply"
	RunnerProcessFailed   Code = "RunnerProcessFailed"
	RunnerTimeout         Code = "RunnerTimeout"
	ServiceBusy           Code = "ServiceBusy"
	RunnerReportedFailure Code = "RunnerReportedFailure"
)

var publicMessages = map[Code]string{
	RunnerSpawnFailed:     "model runner could not be started",
	MalformedReply:        "model runner returned an unreadable reply",
	RunnerProcessFailed:   "model runner exited without a reply",
	RunnerTimeout:         "model runner did not finish before the deadline",
	ServiceBusy:           "too many concurrent model invocations, retry later",
	RunnerReportedFailure: "model runner reported an error",
}

// Error is a classified invocation failure. Message is safe to show to callers;
// the wrapped error keeps process level detail for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the message together with the wrapped cause.
func (e *Error) Detail() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func newError(code Code, cause error) *Error {
	return &Error{Code: code, Message: publicMessages[code], Err: cause}
}

func invalidInputf(format string, args ...any) *Error {
	return &Error{Code: InvalidInput, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the taxonomy code of err, or "" if err is not classified.
func CodeOf(err error) Code {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Code
	}
	return ""
}

// MalformedReplyError keeps the raw runner output that failed to parse.
type MalformedReplyError struct {
	Raw string
	Err error
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("malformed runner reply %q: %v", truncate(e.Raw, 512), e.Err)
}

func (e *MalformedReplyError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
