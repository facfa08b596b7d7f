// Package backend defines the index backend boundary: any search or database
// service that can ensure an index from a field schema and bulk-upsert
// records by id is interchangeable behind these interfaces.
package backend

import (
	"context"
	"errors"
	"fmt"

	"docindex/internal/flatten"
	"docindex/internal/schema"
)

// EnsureStatus reports what EnsureIndex found or did.
type EnsureStatus string

const (
	StatusCreated      EnsureStatus = "created"
	StatusExisting     EnsureStatus = "existing"
	StatusIncompatible EnsureStatus = "incompatible"
)

// EnsureResult carries the status plus per-field mismatch warnings when an
// existing index does not match the declared schema. Mismatches are never
// migrated automatically.
type EnsureResult struct {
	Status   EnsureStatus
	Warnings []string
}

// RecordFailure is one record the backend rejected individually. Content
// failures are deterministic, so these are never retried.
type RecordFailure struct {
	ID     string
	Reason string
}

// BatchOutcome is the per-record result of one bulk-write call.
type BatchOutcome struct {
	Succeeded []string
	Failed    []RecordFailure
}

// Backend is the bulk-write contract the uploader relies on. UploadBatch must
// behave as insert-or-replace by record id so that re-sending after an
// ambiguous timeout is safe.
type Backend interface {
	EnsureIndex(ctx context.Context, s *schema.Schema) (EnsureResult, error)
	UploadBatch(ctx context.Context, records []flatten.Record) (BatchOutcome, error)
}

// TransientError marks a retryable backend failure (rate limit, 5xx,
// timeout). The uploader retries these with bounded backoff.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient backend error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError marks an authentication or authorization failure. Further
// attempts cannot succeed, so it aborts the whole run.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("backend rejected credentials (status %d)", e.StatusCode)
}

// IsTransient reports whether err should count as a retryable attempt.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is a run-fatal credential failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ClassifyStatus maps an HTTP-style status code onto the error taxonomy.
// Codes that are neither auth nor transient return nil and must be handled by
// the caller.
func ClassifyStatus(status int, err error) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{StatusCode: status}
	case status == 408 || status == 429 || status >= 500:
		return &TransientError{StatusCode: status, Err: err}
	}
	return nil
}
