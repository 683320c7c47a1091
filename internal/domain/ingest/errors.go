package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	crerr "github.com/cockroachdb/errors"
)

// FailureKind classifies every error the pipeline can surface.
type FailureKind string

const (
	FailureTransient          FailureKind = "transient"
	FailureRateLimited        FailureKind = "rate_limited"
	FailurePermanent          FailureKind = "permanent"
	FailureMalformedPayload   FailureKind = "malformed_payload"
	FailureValidation         FailureKind = "validation"
	FailureStorageUnreachable FailureKind = "storage_unreachable"
	FailureCircuitOpen        FailureKind = "circuit_open"
)

var (
	ErrUnknownFormat      = crerr.New("unrecognized payload format")
	ErrMissingPrimaryKey  = crerr.New("payload missing primary key")
	ErrStorageUnreachable = crerr.New("storage unreachable")
	// ErrUnstorableRecord marks a record the sink can never encode. Retrying
	// the same payload fails the same way.
	ErrUnstorableRecord = crerr.New("record cannot be stored")
)

// FetchError is returned by provider fetchers.
type FetchError struct {
	SourceID    string
	ResourceKey string
	Kind        FailureKind
	StatusCode  int
	RetryAfter  time.Duration
	Err         error
}

func NewFetchError(kind FailureKind, sourceID, resourceKey string, statusCode int, err error) *FetchError {
	return &FetchError{
		SourceID:    sourceID,
		ResourceKey: resourceKey,
		Kind:        kind,
		StatusCode:  statusCode,
		Err:         err,
	}
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s/%s: %s", e.SourceID, e.ResourceKey, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// PayloadError is the structured error an adapter returns when a payload
// cannot produce any record.
type PayloadError struct {
	SourceID    string
	ResourceKey string
	Format      FormatTag
	Field       string
	Reason      string
	Err         error
}

func (e *PayloadError) Error() string {
	msg := fmt.Sprintf("payload %s/%s", e.SourceID, e.ResourceKey)
	if e.Format != "" {
		msg += fmt.Sprintf(" [%s]", e.Format)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" field %s", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PayloadError) Unwrap() error { return e.Err }

// StorageError wraps blob store and sink failures.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageUnreachable, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageUnreachable, e.Err} }

// KindOf walks the error chain and reports its classification. Unknown
// errors count as transient: network stacks rarely say more.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}

	var fetchErr *FetchError
	if stderrors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	var payloadErr *PayloadError
	if stderrors.As(err, &payloadErr) {
		return FailureMalformedPayload
	}
	if stderrors.Is(err, ErrUnstorableRecord) {
		return FailureValidation
	}
	if stderrors.Is(err, ErrStorageUnreachable) {
		return FailureStorageUnreachable
	}
	if stderrors.Is(err, context.Canceled) {
		return FailurePermanent
	}
	return FailureTransient
}

// RetryAfterOf returns the upstream-provided resume delay, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var fetchErr *FetchError
	if stderrors.As(err, &fetchErr) && fetchErr.Kind == FailureRateLimited && fetchErr.RetryAfter > 0 {
		return fetchErr.RetryAfter, true
	}
	return 0, false
}
