// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is a machine-readable failure category. The HTTP boundary maps
// kinds to status codes; kinds are stable API surface.
type ErrorKind string

const (
	KindValidation       ErrorKind = "INVALID_REQUEST"
	KindConflict         ErrorKind = "WORKFLOW_CONFLICT"
	KindConcurrencyLimit ErrorKind = "CONCURRENCY_LIMIT"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindInvalidState     ErrorKind = "INVALID_STATE"
	KindShuttingDown     ErrorKind = "SHUTTING_DOWN"
	KindRateLimited      ErrorKind = "RATE_LIMITED"
	KindInternal         ErrorKind = "INTERNAL_ERROR"
)

// Error is the domain failure type surfaced at the API boundary.
type Error struct {
	Kind    ErrorKind
	Message string

	// Details carries structured context for the response body, e.g. the
	// existing workflow on a conflict.
	Details map[string]any

	// RetryAfter is a hint for CONCURRENCY_LIMIT and RATE_LIMITED errors.
	RetryAfter time.Duration

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.err }

// WithCause attaches an underlying cause to the error.
func (e *Error) WithCause(err error) *Error {
	e.err = err
	return e
}

// WithDetail adds a structured detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewValidation creates an INVALID_REQUEST error.
func NewValidation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewConflict creates a WORKFLOW_CONFLICT error for a worktree that already
// has an active workflow.
func NewConflict(worktreePath, existingID string) *Error {
	e := &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf("worktree %s already has an active workflow", worktreePath),
	}
	return e.WithDetail("worktree_path", worktreePath).WithDetail("existing_workflow_id", existingID)
}

// NewConcurrencyLimit creates a CONCURRENCY_LIMIT error with a retry hint.
func NewConcurrencyLimit(max int, retryAfter time.Duration) *Error {
	e := &Error{
		Kind:       KindConcurrencyLimit,
		Message:    fmt.Sprintf("maximum of %d concurrent workflows reached", max),
		RetryAfter: retryAfter,
	}
	return e.WithDetail("max_concurrent", max)
}

// NewNotFound creates a NOT_FOUND error for an unknown workflow.
func NewNotFound(workflowID string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("workflow not found: %s", workflowID),
	}
}

// NewInvalidState creates an INVALID_STATE error.
func NewInvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NewShuttingDown creates a SHUTTING_DOWN error.
func NewShuttingDown() *Error {
	return &Error{Kind: KindShuttingDown, Message: "server is shutting down"}
}

// NewInternal creates an INTERNAL_ERROR wrapping err.
func NewInternal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", err: err}
}

// KindOf extracts the error kind from err, defaulting to INTERNAL_ERROR
// for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts a domain *Error from err, wrapping unclassified errors
// as INTERNAL_ERROR.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternal(err)
}
