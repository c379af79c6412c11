package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ParseError is returned for slash-command input that does not match the grammar.
type ParseError struct {
	Expected string
	Got      string
}

func (e *ParseError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("parse error: expected %s", e.Expected)
	}
	return fmt.Sprintf("parse error: expected %s, got %q", e.Expected, e.Got)
}

// NotFoundError names what was missing. It matches ErrNotFound.
type NotFoundError struct {
	What string
	Note string
}

func (e *NotFoundError) Error() string {
	if e.Note != "" {
		return fmt.Sprintf("%s not found: %s", e.What, e.Note)
	}
	return fmt.Sprintf("%s not found", e.What)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NotFound(what string) error {
	return &NotFoundError{What: what}
}

// AmbiguousResolution is returned when a lookup ties between several candidates.
// It also matches ErrNotFound so callers that only care about "resolved or not" keep working.
type AmbiguousResolution struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousResolution) Error() string {
	return fmt.Sprintf("ambiguous match for %q: %s", e.Query, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousResolution) Is(target error) bool {
	return target == ErrNotFound
}

// UpstreamError wraps a collaborator failure. It matches ErrUpstreamUnavailable.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func Upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

// RateLimited is returned when a collaborator asks us to back off.
type RateLimited struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimited) Unwrap() error {
	return e.Err
}

// AuthRequired is returned by the document service when the user has not connected an account.
type AuthRequired struct {
	Service    string
	ConnectURL string
}

func (e *AuthRequired) Error() string {
	return fmt.Sprintf("%s authorization required", e.Service)
}

// StateConflict is returned when another actor changed the state first.
type StateConflict struct {
	Reason      string
	DocumentURL string
}

func (e *StateConflict) Error() string {
	return "state conflict: " + e.Reason
}
