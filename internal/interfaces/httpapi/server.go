// Package httpapi exposes the ledger over HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"xledger/internal/application/service"
)

type Deps struct {
	Query     *service.QueryService
	Reconcile *service.ReconcileService
	Transfer  *service.TransferService
	// Sync is nil when no exchange is configured.
	Sync *service.SyncService
	// Events serves the run-events websocket; optional.
	Events http.Handler

	RatePerSecond  float64
	Burst          int
	MaxUploadBytes int64
}

// NewRouter builds the API handler.
func NewRouter(deps Deps) http.Handler {
	if deps.RatePerSecond <= 0 {
		deps.RatePerSecond = 20
	}
	if deps.Burst <= 0 {
		deps.Burst = 40
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 16 << 20
	}

	tx := &TransactionHandler{
		query:     deps.Query,
		reconcile: deps.Reconcile,
		transfer:  deps.Transfer,
		maxUpload: deps.MaxUploadBytes,
	}
	sh := &SyncHandler{sync: deps.Sync}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(deps.RatePerSecond), deps.Burst)))

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", tx.HandleQuery)
			r.Delete("/", tx.HandleDelete)
			r.Get("/export", tx.HandleExport)
			r.Post("/import", tx.HandleImport)
			r.Post("/sync", sh.HandleStart)
			r.Post("/reconcile", tx.HandleReconcile)
			r.Post("/pending", tx.HandleMarkPending)
			r.Post("/tag", tx.HandleTag)
			r.Post("/untag", tx.HandleUntag)
			r.Get("/{id}", tx.HandleGet)
			r.Patch("/{id}", tx.HandlePatch)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/runs/active", sh.HandleActive)
			r.Get("/runs/{id}", sh.HandleStatus)
			r.Delete("/runs/{id}", sh.HandleCancel)
			if deps.Events != nil {
				r.Handle("/events", deps.Events)
			}
		})
	})
	return r
}
