// Package errors defines the sentinel errors shared by the indexer, the
// stores and the query path, plus an AppError wrapper that carries an HTTP
// status for the search service.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrTermNotFound     = errors.New("term not found")
	ErrStoreIntegrity   = errors.New("store integrity violation")
	ErrBuildFailed      = errors.New("index build failed")
	ErrNotReady         = errors.New("index not built")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
	ErrConflict         = errors.New("conflict")
	ErrUnavailable      = errors.New("service unavailable")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Integrity reports that the term index references docID but the document
// store has no content for it.
func Integrity(docID int) *AppError {
	return Newf(ErrStoreIntegrity, http.StatusInternalServerError,
		"index references document %d missing from document store", docID)
}

// TermIntegrity reports that term is in the vocabulary but the term store has
// no postings for it.
func TermIntegrity(term string) *AppError {
	return Newf(ErrStoreIntegrity, http.StatusInternalServerError,
		"vocabulary term %q missing from term store", term)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrTermNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
