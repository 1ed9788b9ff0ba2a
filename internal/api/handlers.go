package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inseam/inseam/internal/auth"
	"github.com/inseam/inseam/internal/connector"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pipeline"
	"github.com/inseam/inseam/internal/pkg/logger"
	"github.com/inseam/inseam/internal/service/tracker"
	"github.com/inseam/inseam/internal/service/updates"
	"github.com/inseam/inseam/internal/storage"
)

// ConnectionStore manages per-user inbox grants.
type ConnectionStore interface {
	Get(ctx context.Context, userID string) (*domain.EmailConnection, error)
	Save(ctx context.Context, c *domain.EmailConnection) error
	SetAutoRefresh(ctx context.Context, userID string, enabled bool) error
	Delete(ctx context.Context, userID string) error
}

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	orchestrator *pipeline.Orchestrator
	updates      *updates.Service
	trackers     *tracker.Service
	connector    *connector.Client
	connections  ConnectionStore
	baseURL      string
}

func NewHandlers(orchestrator *pipeline.Orchestrator, updatesSvc *updates.Service, trackersSvc *tracker.Service, conn *connector.Client, connections ConnectionStore, baseURL string) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		updates:      updatesSvc,
		trackers:     trackersSvc,
		connector:    conn,
		connections:  connections,
		baseURL:      baseURL,
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service sentinels to HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, updates.ErrNotFound),
		errors.Is(err, tracker.ErrRowNotFound), errors.Is(err, storage.ErrWorkflowNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrForbidden), errors.Is(err, updates.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, updates.ErrAlreadyProcessed):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tracker.ErrDuplicateSlug):
		respondError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("request failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Email connection
// =============================================================================

func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connections.Get(r.Context(), auth.UserID(r.Context()))
	if errors.Is(err, connector.ErrNotConnected) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"connected": false})
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected":    true,
		"email":        conn.Email,
		"auto_refresh": conn.AutoRefresh,
	})
}

func (h *Handlers) ConnectionAuthURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}
	stateHex := hex.EncodeToString(state)

	http.SetCookie(w, &http.Cookie{
		Name:     "connect_state",
		Value:    stateHex,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	url := h.connector.InitiateAuth(h.redirectURI(), req.Provider, stateHex)
	respondJSON(w, http.StatusOK, map[string]string{"auth_url": url})
}

func (h *Handlers) ConnectionCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "authorization code is required")
		return
	}

	stateCookie, err := r.Cookie("connect_state")
	if err != nil || req.State == "" || req.State != stateCookie.Value {
		logger.Warn("connector oauth state mismatch", "user_id", auth.UserID(r.Context()))
		respondError(w, http.StatusBadRequest, "invalid state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "connect_state", Value: "", Path: "/", MaxAge: -1})

	result, err := h.connector.HandleCallback(r.Context(), req.Code, h.redirectURI())
	if err != nil {
		logger.Error("connector callback failed", "error", err.Error())
		respondError(w, http.StatusBadGateway, "email authorization failed")
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.connections.Save(r.Context(), &domain.EmailConnection{
		UserID:  userID,
		GrantID: result.GrantID,
		Email:   result.Email,
	}); err != nil {
		respondServiceError(w, err)
		return
	}

	logger.Info("inbox connected", "user_id", userID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"email":     result.Email,
	})
}

func (h *Handlers) SetAutoRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.connections.SetAutoRefresh(r.Context(), auth.UserID(r.Context()), req.Enabled)
	if errors.Is(err, connector.ErrNotConnected) {
		respondError(w, http.StatusBadRequest, "no email account connected")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"auto_refresh": req.Enabled})
}

func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.Delete(r.Context(), auth.UserID(r.Context())); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"connected": false})
}

func (h *Handlers) redirectURI() string {
	return h.baseURL + "/connect/callback"
}

// =============================================================================
// Inbox pipeline
// =============================================================================

// ProcessInbox kicks off one batch. "No account connected" and "nothing
// new" are deliberately distinct responses: the first prompts
// reconnection, the second is a caught-up success.
func (h *Handlers) ProcessInbox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	stats, err := h.orchestrator.ProcessInbox(r.Context(), auth.UserID(r.Context()), req.Count)
	if errors.Is(err, connector.ErrNotConnected) {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"reason":  "not_connected",
			"message": "No email account connected. Connect an inbox to process updates.",
		})
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := map[string]interface{}{
		"success":    true,
		"statistics": stats,
	}
	if stats.WorkflowID != "" {
		resp["workflow_id"] = stats.WorkflowID
	} else {
		resp["message"] = "All caught up. No new emails to process."
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) BatchStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := h.orchestrator.GetBatchStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "workflowID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws)
}

// =============================================================================
// Review queue
// =============================================================================

func (h *Handlers) ListUpdates(w http.ResponseWriter, r *http.Request) {
	f := updates.ListFilter{
		Pending: r.URL.Query().Get("pending") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	list, err := h.updates.List(r.Context(), auth.UserID(r.Context()), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.CentralizedUpdate{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"updates": list})
}

func (h *Handlers) GetUpdate(w http.ResponseWriter, r *http.Request) {
	u, err := h.updates.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "updateID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handlers) ApproveUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proposals []domain.TrackerProposal `json:"proposals"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.updates.Approve(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "updateID"), req.Proposals)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

func (h *Handlers) RejectUpdate(w http.ResponseWriter, r *http.Request) {
	err := h.updates.Reject(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "updateID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"rejected": true})
}

func (h *Handlers) MarkAllViewed(w http.ResponseWriter, r *http.Request) {
	n, err := h.updates.MarkAllViewed(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// =============================================================================
// Trackers
// =============================================================================

func (h *Handlers) ListTrackers(w http.ResponseWriter, r *http.Request) {
	list, err := h.trackers.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Tracker{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"trackers": list})
}

func (h *Handlers) GetTracker(w http.ResponseWriter, r *http.Request) {
	t, err := h.trackers.GetOwned(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "trackerID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handlers) CreateTracker(w http.ResponseWriter, r *http.Request) {
	var t domain.Tracker
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.trackers.Create(r.Context(), auth.UserID(r.Context()), &t)
	if err != nil {
		if errors.Is(err, tracker.ErrDuplicateSlug) {
			respondServiceError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) UpdateTracker(w http.ResponseWriter, r *http.Request) {
	var t domain.Tracker
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "trackerID")

	if err := h.trackers.Update(r.Context(), auth.UserID(r.Context()), &t); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *Handlers) DeleteTracker(w http.ResponseWriter, r *http.Request) {
	err := h.trackers.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "trackerID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handlers) ListTrackerRows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.trackers.ListRows(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "trackerID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
}
