package handler

import (
	"log/slog"
	"net/http"
)

// Snapshot is the read-only view into the Manager's admin introspection
// reports (§4.6). Implemented by internal/manager.Manager.
type Snapshot interface {
	Count() int
	Backpressure() int
	List() string
}

// AdminHandler exposes the three admin introspection reports over HTTP.
type AdminHandler struct {
	manager Snapshot
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler backed by manager.
func NewAdminHandler(manager Snapshot, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{manager: manager, logger: logger}
}

// Count reports the total number of live channels across all timelines.
// GET /admin/count
func (h *AdminHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"count": h.manager.Count()})
}

// Backpressure reports the current unread bus input window size in KiB.
// GET /admin/backpressure
func (h *AdminHandler) Backpressure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"backpressure_kib": h.manager.Backpressure()})
}

// List reports one line per timeline: "<Timeline>: <channel_count>".
// GET /admin/list
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.manager.List()))
}
