package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"xledger/internal/application/service"
	"xledger/internal/domain/model"
)

type SyncHandler struct {
	sync *service.SyncService
}

// HandleStart answers 202 with the new run id, or 409 with the id of the
// run already in progress.
func (h *SyncHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		sendError(w, r, ErrSyncUnavailable)
		return
	}
	var req service.SyncRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res, err := h.sync.Start(r.Context(), req)
	if errors.Is(err, model.ErrSyncAlreadyInProgress) {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *SyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		sendError(w, r, ErrSyncUnavailable)
		return
	}
	run, ok := h.sync.Status(chi.URLParam(r, "id"))
	if !ok {
		sendError(w, r, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *SyncHandler) HandleActive(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		sendError(w, r, ErrSyncUnavailable)
		return
	}
	run, ok := h.sync.Active()
	if !ok {
		sendError(w, r, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *SyncHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		sendError(w, r, ErrSyncUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	if !h.sync.Cancel(id) {
		sendError(w, r, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": true, "runId": id})
}
