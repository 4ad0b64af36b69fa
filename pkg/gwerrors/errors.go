// Package gwerrors provides the stable error taxonomy shared by every
// gitswarm component. Components return a *SwarmError; the gitswarmd router
// maps it to an HTTP status and the gitswarm CLI maps it to an exit code.
package gwerrors

import (
	"errors"
	"fmt"
)

// Code is one of the stable wire-level error categories.
type Code string

const (
	CodeAuth        Code = "auth"
	CodePermission  Code = "permission"
	CodeValidation  Code = "validation"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeConsensus   Code = "consensus"
	CodeGitBackend  Code = "git_backend"
	CodeRateLimit   Code = "rate_limit"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// SwarmError is the error type returned by every gitswarm component.
type SwarmError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *SwarmError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SwarmError) Unwrap() error { return e.Err }

// WithDetail attaches a detail key/value and returns the receiver for chaining.
func (e *SwarmError) WithDetail(key string, value any) *SwarmError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *SwarmError {
	return &SwarmError{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *SwarmError {
	return &SwarmError{Code: code, Message: message, Err: err}
}

// Constructors, one per taxonomy entry (spec.md §7).

func Auth(message string) *SwarmError {
	return New(CodeAuth, message)
}

func Permission(action, level string) *SwarmError {
	return New(CodePermission, "insufficient access").
		WithDetail("action", action).
		WithDetail("required_level", level)
}

func Validation(field, reason string) *SwarmError {
	return New(CodeValidation, "validation failed").
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NotFound(resource, id string) *SwarmError {
	return New(CodeNotFound, "resource not found").
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func Conflict(message string) *SwarmError {
	return New(CodeConflict, message)
}

// Consensus represents a merge blocked by consensus/ordering rules:
// reason is one of "changes_requested", "insufficient_reviews",
// "insufficient_owner_approval", "parent_not_merged".
func Consensus(reason string) *SwarmError {
	return New(CodeConsensus, "consensus not satisfied").WithDetail("reason", reason)
}

func GitBackend(operation string, err error) *SwarmError {
	return Wrap(CodeGitBackend, "git backend operation failed", err).WithDetail("operation", operation)
}

func RateLimit(retryAfterSeconds int) *SwarmError {
	return New(CodeRateLimit, "rate limit exceeded").WithDetail("retry_after_seconds", retryAfterSeconds)
}

func Unavailable(what string, err error) *SwarmError {
	return Wrap(CodeUnavailable, fmt.Sprintf("%s unavailable", what), err)
}

func Internal(message string, err error) *SwarmError {
	return Wrap(CodeInternal, message, err)
}

// As extracts a *SwarmError from an error chain, or nil if none is present.
func As(err error) *SwarmError {
	var se *SwarmError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether err is a *SwarmError with the given code.
func Is(err error, code Code) bool {
	se := As(err)
	return se != nil && se.Code == code
}
