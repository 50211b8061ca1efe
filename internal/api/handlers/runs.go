package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/internal/pipeline"
	"github.com/twlin/formosa/internal/recorder"
	"github.com/twlin/formosa/pkg/logger"
)

var runIDRe = regexp.MustCompile(`^\d{8}_\d{6}$`)

const defaultRunsLimit = 20

// RunsHandler handles run-history and status API endpoints
type RunsHandler struct {
	rec      recorder.Recorder
	runsRoot string
	store    *backtest.Store
	logger   *logger.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(rec recorder.Recorder, runsRoot string, store *backtest.Store, log *logger.Logger) *RunsHandler {
	return &RunsHandler{rec: rec, runsRoot: runsRoot, store: store, logger: log}
}

// ListRuns returns recent runs, newest first
// GET /api/runs?limit=N
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.rec.ListRuns(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []recorder.RunRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// RunStatus returns the pipeline status document of one run
// GET /api/runs/{id}/status
func (h *RunsHandler) RunStatus(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if !runIDRe.MatchString(runID) {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	path := filepath.Join(h.runsRoot, runID, pipeline.StatusJSONFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.WithError(err).Error("Failed to read pipeline status")
		respondError(w, http.StatusInternalServerError, "Failed to read pipeline status")
		return
	}

	var doc pipeline.StatusDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		h.logger.WithError(err).Error("Corrupt pipeline status document")
		respondError(w, http.StatusInternalServerError, "Corrupt pipeline status document")
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// RunAttempts returns the per-stage attempt history of one run
// GET /api/runs/{id}/attempts
func (h *RunsHandler) RunAttempts(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if !runIDRe.MatchString(runID) {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	attempts, err := h.rec.Attempts(runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list attempts")
		respondError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []recorder.AttemptRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   runID,
		"attempts": attempts,
	})
}

// History returns the snapshot-store calendar days, oldest first
// GET /api/history
func (h *RunsHandler) History(w http.ResponseWriter, r *http.Request) {
	days, err := h.store.Days()
	if err != nil {
		h.logger.WithError(err).Error("Failed to scan snapshot store")
		respondError(w, http.StatusInternalServerError, "Failed to scan snapshot store")
		return
	}
	if days == nil {
		days = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root": h.store.Root(),
		"days": days,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
