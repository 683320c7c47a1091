package usecase

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to HTTP statuses by the admin API.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

var (
	errPipelineClosed     = fmt.Errorf("%w: pipeline is shutting down", ErrDependencyUnavailable)
	errReconcilerDisabled = fmt.Errorf("%w: reconciliation is not configured", ErrDependencyUnavailable)
)

func sourceNotConfigured(sourceID string) error {
	return fmt.Errorf("%w: source %s is not configured", ErrNotFound, sourceID)
}
