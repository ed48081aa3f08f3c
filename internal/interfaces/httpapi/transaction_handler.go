package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"xledger/internal/application/service"
	"xledger/internal/domain/model"
	"xledger/internal/infrastructure/csvio"
)

type TransactionHandler struct {
	query     *service.QueryService
	reconcile *service.ReconcileService
	transfer  *service.TransferService
	maxUpload int64
}

type idsRequest struct {
	IDs []string `json:"ids"`
	Tag string   `json:"tag,omitempty"`
}

type patchRequest struct {
	Notes *string `json:"notes"`
}

// parseTimeParam accepts RFC 3339 instants and plain dates (UTC midnight).
func parseTimeParam(name, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", model.ErrInvalidFilter, name)
}

// queryRequest reads the shared filter parameters of list and export calls.
func queryRequest(r *http.Request) (service.QueryRequest, error) {
	q := r.URL.Query()
	req := service.QueryRequest{
		Cursor: q.Get("cursor"),
		Pair:   q.Get("pair"),
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Q:      q.Get("q"),
		Sort:   q.Get("sort"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, fmt.Errorf("%w: limit must be a non-negative integer", model.ErrInvalidFilter)
		}
		req.Limit = n
	}
	var err error
	if req.From, err = parseTimeParam("from", q.Get("from")); err != nil {
		return req, err
	}
	if req.To, err = parseTimeParam("to", q.Get("to")); err != nil {
		return req, err
	}
	return req, nil
}

func (h *TransactionHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := queryRequest(r)
	if err != nil {
		sendError(w, r, err)
		return
	}
	res, err := h.query.Query(r.Context(), req)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TransactionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tx, err := h.query.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *TransactionHandler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Notes == nil {
		sendJSONError(w, "nothing to update", http.StatusBadRequest)
		return
	}
	tx, err := h.reconcile.SetNotes(r.Context(), chi.URLParam(r, "id"), *req.Notes)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *TransactionHandler) readIDs(w http.ResponseWriter, r *http.Request) (idsRequest, bool) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	if len(req.IDs) == 0 {
		sendJSONError(w, "ids is empty", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *TransactionHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readIDs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.reconcile.Reconcile(r.Context(), req.IDs))
}

func (h *TransactionHandler) HandleMarkPending(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readIDs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.reconcile.MarkPending(r.Context(), req.IDs))
}

func (h *TransactionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readIDs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.reconcile.Delete(r.Context(), req.IDs))
}

func (h *TransactionHandler) HandleTag(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readIDs(w, r)
	if !ok {
		return
	}
	res, err := h.reconcile.Tag(r.Context(), req.IDs, req.Tag)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TransactionHandler) HandleUntag(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readIDs(w, r)
	if !ok {
		return
	}
	res, err := h.reconcile.Untag(r.Context(), req.IDs, req.Tag)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleImport accepts a multipart upload in field "file" or a raw CSV body.
func (h *TransactionHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if tooLarge(err) {
			sendJSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			sendJSONError(w, "multipart field \"file\" is required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		src = file
	}

	reader, err := csvio.NewReader(src)
	if err != nil {
		if tooLarge(err) {
			sendJSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.transfer.Import(r.Context(), reader)
	if tooLarge(err) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "upload too large", "partial": res})
		return
	}
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (h *TransactionHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	req, err := queryRequest(r)
	if err != nil {
		sendError(w, r, err)
		return
	}
	// validate before the header goes out
	if _, err := h.query.Filter(req); err != nil {
		sendError(w, r, err)
		return
	}
	if _, _, err := model.ParseSort(req.Sort); err != nil {
		sendError(w, r, fmt.Errorf("%w: unknown sort %q", model.ErrInvalidFilter, req.Sort))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"transactions-%s.csv\"", time.Now().UTC().Format("20060102-150405")))
	w.WriteHeader(http.StatusOK)
	if _, err := h.transfer.Export(r.Context(), req, csvio.NewWriter(w)); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("export aborted mid-stream")
	}
}
