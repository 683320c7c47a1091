package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerInternalRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	internal := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, RequireInternalJobToken(internalJobToken, fn))
	}

	internal("POST /v1/internal/tasks", handler.EnqueueTask)
	internal("GET /v1/internal/tasks/pending", handler.ListPendingTasks)
	internal("GET /v1/internal/tasks/failed", handler.ListFailedTasks)
	internal("GET /v1/internal/dead-letters", handler.ListDeadLetters)
	internal("GET /v1/internal/task-events", handler.ListTaskEvents)
	internal("POST /v1/internal/reconciliation/run", handler.RunReconciliation)
	internal("GET /v1/internal/reconciliation", handler.GetReconciliation)
	internal("GET /v1/internal/stats", handler.GetStats)
	internal("GET /v1/internal/flags", handler.ListFlags)
	internal("POST /v1/internal/catalog/reload", handler.ReloadCatalog)
}
