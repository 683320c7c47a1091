package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/usecase"
)

const maxRequestBodyBytes = 1 << 20

// Pipeline is the part of the orchestrator the admin API drives.
type Pipeline interface {
	Enqueue(ctx context.Context, sourceID, resourceKey string, priority int) (usecase.EnqueueResult, error)
	RunReconciliationCycle(ctx context.Context) (usecase.CycleReport, error)
	TriggerReconciliation()
	ReconcileState() usecase.ReconcileState
	LastReconcileReport() (usecase.CycleReport, bool)
	Stats() []usecase.SourceStats
	DeadLetters() []usecase.FailedTask
	FailedTasks() []usecase.FailedTask
	PendingTasks() []ingest.Task
}

// CatalogReloader drops cached expected inventory.
type CatalogReloader interface {
	Invalidate(ctx context.Context)
}

type Handler struct {
	pipeline  Pipeline
	events    ingest.TaskEventRepository
	flags     ingest.FlagRepository
	catalog   CatalogReloader
	logger    *logging.Logger
	validator *validator.Validate
}

func NewHandler(
	pipeline Pipeline,
	events ingest.TaskEventRepository,
	flags ingest.FlagRepository,
	catalog CatalogReloader,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		pipeline:  pipeline,
		events:    events,
		flags:     flags,
		catalog:   catalog,
		logger:    logger.Named("httpapi"),
		validator: validator.New(),
	}
}

type enqueueTaskRequest struct {
	SourceID    string `json:"source_id" validate:"required,max=64"`
	ResourceKey string `json:"resource_key" validate:"required,max=512"`
	Priority    int    `json:"priority" validate:"gte=-1000,lte=1000"`
}

type taskEventDTO struct {
	EventID      string         `json:"event_id"`
	SourceID     string         `json:"source_id"`
	ResourceKey  string         `json:"resource_key"`
	Outcome      string         `json:"outcome"`
	FailureKind  string         `json:"failure_kind,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	TraceID      string         `json:"trace_id,omitempty"`
}

type resourceFlagDTO struct {
	SourceID    string    `json:"source_id"`
	ResourceKey string    `json:"resource_key"`
	Reason      string    `json:"reason"`
	Format      string    `json:"format,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	FlaggedAt   time.Time `json:"flagged_at"`
}

type reconciliationDTO struct {
	State      usecase.ReconcileState `json:"state"`
	LastReport *usecase.CycleReport   `json:"last_report,omitempty"`
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{
		"status":    "ok",
		"reconcile": string(h.pipeline.ReconcileState()),
	})
}

func (h *Handler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.EnqueueTask")
	defer span.End()

	var req enqueueTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	tagSource(span, req.SourceID, req.ResourceKey)

	result, err := h.pipeline.Enqueue(ctx, req.SourceID, req.ResourceKey, req.Priority)
	if err != nil {
		h.logger.WarnContext(ctx, "enqueue task failed", "source_id", req.SourceID, "resource_key", req.ResourceKey, "error", err)
		writeError(ctx, w, err)
		return
	}

	status := http.StatusAccepted
	if !result.Added {
		status = http.StatusOK
	}
	writeSuccess(ctx, w, status, result)
}

func (h *Handler) ListPendingTasks(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListPendingTasks")
	defer span.End()

	source := strings.TrimSpace(r.URL.Query().Get("source_id"))
	tagSource(span, source, "")
	items := make([]ingest.Task, 0)
	for _, task := range h.pipeline.PendingTasks() {
		if source == "" || task.SourceID == source {
			items = append(items, task)
		}
	}
	writeSuccess(ctx, w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ListFailedTasks(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListFailedTasks")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]any{"items": nonNil(h.pipeline.FailedTasks())})
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListDeadLetters")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]any{"items": nonNil(h.pipeline.DeadLetters())})
}

func (h *Handler) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListTaskEvents")
	defer span.End()

	if h.events == nil {
		writeError(ctx, w, fmt.Errorf("%w: task event log is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	query := r.URL.Query()
	outcome := ingest.TaskOutcome(strings.TrimSpace(query.Get("outcome")))
	switch outcome {
	case "", ingest.OutcomeSucceeded, ingest.OutcomeRequeued, ingest.OutcomePermanentFailure,
		ingest.OutcomeDeadLetter, ingest.OutcomePersistentGap:
	default:
		writeError(ctx, w, fmt.Errorf("%w: unknown outcome %q", usecase.ErrInvalidInput, outcome))
		return
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	events, err := h.events.ListEvents(ctx, outcome, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list task events failed", "error", err)
		writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrDependencyUnavailable, err))
		return
	}

	items := make([]taskEventDTO, 0, len(events))
	for _, ev := range events {
		items = append(items, taskEventDTO{
			EventID:      ev.EventID,
			SourceID:     ev.SourceID,
			ResourceKey:  ev.ResourceKey,
			Outcome:      string(ev.Outcome),
			FailureKind:  string(ev.FailureKind),
			AttemptCount: ev.AttemptCount,
			ErrorMessage: ev.ErrorMessage,
			Payload:      ev.Payload,
			OccurredAt:   ev.OccurredAt,
			TraceID:      ev.TraceID,
		})
	}
	writeSuccess(ctx, w, http.StatusOK, map[string]any{"items": items})
}

// RunReconciliation runs one cycle and returns its report. With async=true
// it only wakes the background loop.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunReconciliation")
	defer span.End()

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.pipeline.TriggerReconciliation()
		writeSuccess(ctx, w, http.StatusAccepted, reconciliationDTO{State: h.pipeline.ReconcileState()})
		return
	}

	report, err := h.pipeline.RunReconciliationCycle(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "reconciliation cycle failed", "error", err)
		writeError(ctx, w, err)
		return
	}
	writeSuccess(ctx, w, http.StatusOK, report)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetReconciliation")
	defer span.End()

	out := reconciliationDTO{State: h.pipeline.ReconcileState()}
	if report, ok := h.pipeline.LastReconcileReport(); ok {
		out.LastReport = &report
	}
	writeSuccess(ctx, w, http.StatusOK, out)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetStats")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]any{"sources": nonNil(h.pipeline.Stats())})
}

func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListFlags")
	defer span.End()

	if h.flags == nil {
		writeError(ctx, w, fmt.Errorf("%w: resource flags are not configured", usecase.ErrDependencyUnavailable))
		return
	}

	sourceID := strings.TrimSpace(r.URL.Query().Get("source_id"))
	tagSource(span, sourceID, "")

	flags, err := h.flags.ListOpen(ctx, sourceID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list resource flags failed", "error", err)
		writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrDependencyUnavailable, err))
		return
	}

	items := make([]resourceFlagDTO, 0, len(flags))
	for _, f := range flags {
		items = append(items, resourceFlagDTO{
			SourceID:    f.SourceID,
			ResourceKey: f.ResourceKey,
			Reason:      string(f.Reason),
			Format:      string(f.Format),
			Detail:      f.Detail,
			FlaggedAt:   f.FlaggedAt,
		})
	}
	writeSuccess(ctx, w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ReloadCatalog")
	defer span.End()

	if h.catalog == nil {
		writeError(ctx, w, fmt.Errorf("%w: catalog is not reloadable", usecase.ErrDependencyUnavailable))
		return
	}
	h.catalog.Invalidate(ctx)
	h.logger.InfoContext(ctx, "catalog cache invalidated")
	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}

	return nil
}

func decodeJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read request body: %v", usecase.ErrInvalidInput, err)
	}
	if len(body) > maxRequestBodyBytes {
		return fmt.Errorf("%w: request body too large", usecase.ErrInvalidInput)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%w: request body is required", usecase.ErrInvalidInput)
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", usecase.ErrInvalidInput, err)
	}
	return nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 100, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return 0, fmt.Errorf("%w: limit must be between 1 and 500", usecase.ErrInvalidInput)
	}
	return limit, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
