package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// SyncHistory is the sync-log surface the status endpoint reads.
type SyncHistory interface {
	Last() (*domain.SyncResult, error)
	List(limit int) ([]domain.SyncResult, error)
}

// syncStatusHistoryLimit caps the history slice returned by /status.
const syncStatusHistoryLimit = 10

// Handler handles pipeline HTTP requests
type Handler struct {
	orchestrator *Orchestrator
	history      SyncHistory
	log          zerolog.Logger
}

// NewHandler creates a new pipeline handler
func NewHandler(orchestrator *Orchestrator, history SyncHistory, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		history:      history,
		log:          log.With().Str("handler", "pipeline").Logger(),
	}
}

// RegisterRoutes mounts the sync routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/trigger", h.HandleTrigger)
	r.Post("/trigger-blocking", h.HandleTriggerBlocking)
	r.Get("/progress", h.HandleProgress)
	r.Get("/status", h.HandleStatus)
}

// HandleTrigger handles POST /trigger - start a run in the background.
// The run outlives the request, so it gets its own context.
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	err := h.orchestrator.TriggerAsync(context.Background(), domain.SourceManual)
	if err != nil {
		var busy *BusyError
		if errors.As(err, &busy) {
			writeJSON(w, map[string]interface{}{
				"status":  "already_running",
				"stage":   busy.Stage,
				"message": "A sync is already in progress.",
			})
			return
		}
		h.log.Error().Err(err).Msg("Failed to trigger sync")
		http.Error(w, "Failed to trigger sync", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":  "started",
		"message": "Sync pipeline started in background. Check /api/sync/status for progress.",
	})
}

// HandleTriggerBlocking handles POST /trigger-blocking - run and wait.
// Used by workflow automations that need the result inline.
func (h *Handler) HandleTriggerBlocking(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.Run(context.Background(), domain.SourceManual)
	if err != nil {
		if errors.Is(err, ErrPipelineBusy) {
			http.Error(w, "A sync is already in progress.", http.StatusConflict)
			return
		}
		// The report still describes how far the run got.
		writeJSON(w, map[string]interface{}{
			"status": "failed",
			"result": report,
		})
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "completed",
		"result": report,
	})
}

// HandleProgress handles GET /progress - poll-friendly stage view
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	status := h.orchestrator.Status()
	writeJSON(w, map[string]interface{}{
		"is_syncing": status.Running,
		"stage":      status.Stage,
	})
}

// HandleStatus handles GET /status - last sync plus bounded history
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	last, err := h.history.Last()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load last sync")
		http.Error(w, "Failed to retrieve sync status", http.StatusInternalServerError)
		return
	}
	if last == nil {
		writeJSON(w, map[string]interface{}{
			"status":    "never_synced",
			"message":   "No sync yet.",
			"last_sync": nil,
			"history":   []domain.SyncResult{},
		})
		return
	}

	history, err := h.history.List(syncStatusHistoryLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load sync history")
		http.Error(w, "Failed to retrieve sync history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":    string(last.Status),
		"last_sync": last,
		"history":   history,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
