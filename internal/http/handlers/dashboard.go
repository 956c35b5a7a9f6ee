package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dashboard-sync/internal/dashboard"
	"github.com/wolfman30/dashboard-sync/internal/query"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

const (
	loginRedirect   = "/login"
	maxNoteBodySize = 64 << 10
)

// DashboardHandler serves the conversation list, detail, notes and export
// endpoints on top of the dashboard service.
type DashboardHandler struct {
	svc    *dashboard.Service
	logger *logging.Logger
}

func NewDashboardHandler(svc *dashboard.Service, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DashboardHandler{svc: svc, logger: logger}
}

// HealthCheck handles GET /health.
func (h *DashboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListConversations handles GET /dashboard/conversations.
func (h *DashboardHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("q")
	f, err := query.FromValues(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusOK, dashboard.EmptyListView(f.Normalize(), search, err))
		return
	}
	view, err := h.svc.ListConversations(r.Context(), f, search)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetConversation handles GET /dashboard/conversations/{conversationID}.
func (h *DashboardHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	view, err := h.svc.ConversationDetail(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type noteBody struct {
	Text string `json:"text"`
}

type noteResponse struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// GetNote handles GET /dashboard/conversations/{conversationID}/notes.
func (h *DashboardHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, noteResponse{ConversationID: id, Text: h.svc.Note(id)})
}

// PutNote handles PUT /dashboard/conversations/{conversationID}/notes. An
// empty text clears the note.
func (h *DashboardHandler) PutNote(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var body noteBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxNoteBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.svc.SetNote(r.Context(), id, body.Text); err != nil {
		h.logger.Error("failed to save note", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save note")
		return
	}
	writeJSON(w, http.StatusOK, noteResponse{ConversationID: id, Text: h.svc.Note(id)})
}

// Export handles GET /dashboard/conversations/{conversationID}/export. It
// only serves what the detail view already loaded.
func (h *DashboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	data, snap, err := h.svc.Export(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", dashboard.ExportFilename(id, snap.ExportedAt)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Refocus handles POST /dashboard/refocus.
func (h *DashboardHandler) Refocus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]int{"revalidating": h.svc.Refocus()})
}

// Invalidate handles POST /dashboard/invalidate?prefix=. With a
// conversation_id it targets that conversation and every list page.
func (h *DashboardHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var n int
	if id := strings.TrimSpace(r.URL.Query().Get("conversation_id")); id != "" {
		n = h.svc.InvalidateConversation(id)
	} else {
		n = h.svc.Invalidate(r.URL.Query().Get("prefix"))
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing conversation id")
		return "", false
	}
	return id, true
}

type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

func (h *DashboardHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dashboard.ErrSessionExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session expired", Redirect: loginRedirect})
	case errors.Is(err, dashboard.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, dashboard.ErrNotLoaded):
		writeError(w, http.StatusConflict, "open the conversation before exporting it")
	case errors.Is(err, dashboard.ErrTransport):
		h.logger.Warn("upstream unavailable", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:  "upstream unavailable",
			Notice: "Could not reach the dashboard API. Try again shortly.",
		})
	default:
		h.logger.Error("dashboard request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
