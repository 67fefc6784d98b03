// Package apperr defines the structured errors surfaced by the crawler,
// the orchestrator and the query engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: scope errors
//   - 2XX: availability errors
//   - 3XX: concurrency errors
//   - 4XX: query errors
//   - 5XX: fetch errors
//   - 6XX: persistence errors
package apperr

import (
	"errors"
	"fmt"
)

// Category groups error codes for classification.
type Category string

const (
	CategoryScope        Category = "SCOPE"
	CategoryAvailability Category = "AVAILABILITY"
	CategoryConcurrency  Category = "CONCURRENCY"
	CategoryQuery        Category = "QUERY"
	CategoryFetch        Category = "FETCH"
	CategoryPersistence  Category = "PERSISTENCE"
)

const (
	CodePageOutOfScope = "ERR_101_PAGE_OUT_OF_SCOPE"

	CodeSiteUnreachable = "ERR_201_SITE_UNREACHABLE"
	CodeBadStatusCode   = "ERR_202_BAD_STATUS_CODE"

	CodeIndexingInProgress = "ERR_301_INDEXING_IN_PROGRESS"
	CodeIndexingNotStarted = "ERR_302_INDEXING_NOT_STARTED"
	CodeEmptySiteList      = "ERR_303_EMPTY_SITE_LIST"

	CodeEmptyQuery   = "ERR_401_EMPTY_QUERY"
	CodeEmptyIndex   = "ERR_402_EMPTY_INDEX"
	CodeInvalidQuery = "ERR_403_INVALID_QUERY"

	CodeFetchTimeout       = "ERR_501_FETCH_TIMEOUT"
	CodeConnectionFailed   = "ERR_502_CONNECTION_FAILED"
	CodeUnsupportedContent = "ERR_503_UNSUPPORTED_CONTENT"

	CodePersistenceConflict = "ERR_601_PERSISTENCE_CONFLICT"
)

// Error is the structured error type. Two errors are considered equal by
// errors.Is when their codes match, so the sentinels below can be compared
// against wrapped copies carrying a cause.
type Error struct {
	Code     string
	Message  string
	Category Category
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func New(code, message string, category Category) *Error {
	return &Error{Code: code, Message: message, Category: category}
}

var (
	ErrPageOutOfScope = New(CodePageOutOfScope, "page is outside the configured sites", CategoryScope)

	ErrSiteUnreachable = New(CodeSiteUnreachable, "site is unreachable", CategoryAvailability)
	ErrBadStatusCode   = New(CodeBadStatusCode, "unexpected status code", CategoryAvailability)

	ErrIndexingInProgress = New(CodeIndexingInProgress, "indexing is already in progress", CategoryConcurrency)
	ErrIndexingNotStarted = New(CodeIndexingNotStarted, "indexing is not started", CategoryConcurrency)
	ErrEmptySiteList      = New(CodeEmptySiteList, "site list is empty", CategoryConcurrency)

	ErrEmptyQuery   = New(CodeEmptyQuery, "empty search query", CategoryQuery)
	ErrEmptyIndex   = New(CodeEmptyIndex, "no pages are indexed", CategoryQuery)
	ErrInvalidQuery = New(CodeInvalidQuery, "search query contains no searchable words", CategoryQuery)

	ErrFetchTimeout       = New(CodeFetchTimeout, "fetch timed out", CategoryFetch)
	ErrConnectionFailed   = New(CodeConnectionFailed, "connection failed", CategoryFetch)
	ErrUnsupportedContent = New(CodeUnsupportedContent, "unsupported content type", CategoryFetch)

	ErrPersistenceConflict = New(CodePersistenceConflict, "persistence conflict", CategoryPersistence)
)

// CategoryOf returns the category of err, or "" if err is not an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}
