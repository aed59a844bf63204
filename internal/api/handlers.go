package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler holds API route handlers.
type Handler struct {
	store unison.Store
}

// NewHandler creates a new Handler.
func NewHandler(store unison.Store) *Handler {
	return &Handler{store: store}
}

// threadKey extracts the thread key from the URL. Keys contain spaces and
// parentheses in their display form, so clients URL-encode them.
func threadKey(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// pageParams reads limit/offset query parameters, applying defaults and caps.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListThreads handles GET /api/threads.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	threads, total, err := h.store.ListThreads(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list threads failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threads": threads,
		"total":   total,
	})
}

// ListMessages handles GET /api/threads/{key}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	key := threadKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("thread key is required"))
		return
	}
	limit, offset := pageParams(r)

	thread, err := h.store.GetThread(r.Context(), key)
	if err != nil {
		slog.Error("get thread failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if thread == nil {
		writeJSON(w, http.StatusNotFound, errorBody("thread not found"))
		return
	}

	messages, total, err := h.store.ListMessages(r.Context(), key, limit, offset)
	if err != nil {
		slog.Error("list messages failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread":   thread,
		"messages": messages,
		"total":    total,
	})
}

// MarkRead handles POST /api/threads/{key}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	key := threadKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("thread key is required"))
		return
	}

	thread, err := h.store.GetThread(r.Context(), key)
	if err != nil {
		slog.Error("get thread failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if thread == nil {
		writeJSON(w, http.StatusNotFound, errorBody("thread not found"))
		return
	}

	if err := h.store.MarkThreadRead(r.Context(), key); err != nil {
		slog.Error("mark read failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportThread handles GET /api/threads/{key}/export.
func (h *Handler) ExportThread(w http.ResponseWriter, r *http.Request) {
	key := threadKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("thread key is required"))
		return
	}

	thread, err := h.store.GetThread(r.Context(), key)
	if err != nil {
		slog.Error("get thread failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if thread == nil {
		writeJSON(w, http.StatusNotFound, errorBody("thread not found"))
		return
	}

	w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
	if err := unison.ExportThread(r.Context(), h.store, key, w); err != nil {
		// Headers are already out; all we can do is log.
		slog.Error("export failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
