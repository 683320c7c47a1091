package httpapi

import (
	"context"
	"errors"
	"net/http"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/usecase"
)

const (
	googleAPIVersion = "2.0"
	errorDomain      = "statharvest"
)

type googleResponseEnvelope struct {
	APIVersion string           `json:"apiVersion"`
	Data       any              `json:"data,omitempty"`
	Error      *googleErrorBody `json:"error,omitempty"`
}

type googleErrorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Status  string            `json:"status"`
	Errors  []googleErrorItem `json:"errors,omitempty"`
}

type googleErrorItem struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type mappedError struct {
	HTTPStatus int
	Reason     string
	Status     string
}

var internalError = mappedError{HTTPStatus: http.StatusInternalServerError, Reason: "internalError", Status: "INTERNAL"}

// Checked in order; the first match wins.
var errorMappings = []struct {
	match  func(error) bool
	mapped mappedError
}{
	{is(usecase.ErrInvalidInput), mappedError{http.StatusBadRequest, "invalidInput", "INVALID_ARGUMENT"}},
	{is(usecase.ErrNotFound), mappedError{http.StatusNotFound, "notFound", "NOT_FOUND"}},
	{is(usecase.ErrUnauthorized), mappedError{http.StatusUnauthorized, "unauthorized", "UNAUTHENTICATED"}},
	{is(usecase.ErrDependencyUnavailable), mappedError{http.StatusServiceUnavailable, "dependencyUnavailable", "UNAVAILABLE"}},
	{kind(ingest.FailureStorageUnreachable), mappedError{http.StatusServiceUnavailable, "storageUnreachable", "UNAVAILABLE"}},
	{kind(ingest.FailureRateLimited), mappedError{http.StatusTooManyRequests, "rateLimited", "RESOURCE_EXHAUSTED"}},
	{is(context.DeadlineExceeded), mappedError{http.StatusGatewayTimeout, "deadlineExceeded", "DEADLINE_EXCEEDED"}},
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func kind(k ingest.FailureKind) func(error) bool {
	return func(err error) bool { return ingest.KindOf(err) == k }
}

func mapError(err error) mappedError {
	for _, m := range errorMappings {
		if m.match(err) {
			return m.mapped
		}
	}
	return internalError
}

func writeJSON(_ context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

func writeSuccess(ctx context.Context, w http.ResponseWriter, status int, data any) {
	writeJSON(ctx, w, status, googleResponseEnvelope{
		APIVersion: googleAPIVersion,
		Data:       data,
	})
}

// writeError never echoes the cause of an unmapped error.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	mapped := mapError(err)
	msg := err.Error()
	if mapped == internalError {
		msg = "internal server error"
	}
	writeMapped(ctx, w, mapped, msg)
}

func writeInternalError(ctx context.Context, w http.ResponseWriter) {
	writeMapped(ctx, w, internalError, "internal server error")
}

func writeMapped(ctx context.Context, w http.ResponseWriter, mapped mappedError, msg string) {
	writeJSON(ctx, w, mapped.HTTPStatus, googleResponseEnvelope{
		APIVersion: googleAPIVersion,
		Error: &googleErrorBody{
			Code:    mapped.HTTPStatus,
			Message: msg,
			Status:  mapped.Status,
			Errors:  []googleErrorItem{{Domain: errorDomain, Reason: mapped.Reason, Message: msg}},
		},
	})
}
