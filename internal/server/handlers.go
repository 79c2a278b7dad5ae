package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"podship/internal/deploy"
)

const (
	MaxPayloadBytes        = 1_000_000 // 1 MB
	DefaultHistoryLimit    = 10
	RollbackCandidateLimit = 10
)

// DeployRequest is the POST /deploy payload.
type DeployRequest struct {
	ManifestPath string `json:"manifest_path"`
	AutoPromote  bool   `json:"auto_promote"`
}

// RollbackRequest is the POST /rollback payload. An empty target rolls
// back the most recent successful deployment.
type RollbackRequest struct {
	TargetID string `json:"target_id"`
}

// HandleDeploy accepts a deployment request and runs the pipeline
// asynchronously. The response acknowledges acceptance; outcome lands
// in the history endpoint.
func (s *Server) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ManifestPath) == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "manifest_path is required"})
		return
	}

	if !s.LockManager.TryLock(deployLock) {
		s.Logger.Warn("Deployment already in progress, rejecting")
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Deployment already in progress"})
		return
	}

	// Acknowledge immediately; generation and promotion can take
	// minutes.
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":      "Deployment accepted",
		"manifest":     req.ManifestPath,
		"auto_promote": req.AutoPromote,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(deployLock)

		result := s.Pipeline.DeployFullPipeline(context.Background(), req.ManifestPath, req.AutoPromote)
		if result.Completed() {
			s.Logger.Info("deployment completed",
				"id", result.ID,
				"promoted", result.Promotion != nil && result.Promotion.Completed())
		} else {
			s.Logger.Error("deployment failed", "id", result.ID, "error", result.ErrorMessage)
		}
	}()
}

// HandleRollback restores production from a backup. Rollbacks are fast,
// so this one runs synchronously.
func (s *Server) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if !s.LockManager.TryLock(deployLock) {
		s.Logger.Warn("Deployment in progress, rejecting rollback")
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Deployment already in progress"})
		return
	}
	defer s.LockManager.Unlock(deployLock)

	result := s.Production.RollbackDeployment(r.Context(), req.TargetID)
	status := http.StatusOK
	if result.Status != deploy.StatusRolledBack {
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, result)
}

// HandleHealth handles health check requests.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	candidates := s.Production.GetRollbackCandidates()

	response := map[string]interface{}{
		"status":              "ok",
		"deployments":         len(s.Production.GetDeploymentHistory(0)),
		"rollback_candidates": len(candidates),
	}
	s.respondJSON(w, http.StatusOK, response)
}

// HandleHistory returns persisted deployment history, newest first.
// ?limit=N bounds the result.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deployments": s.Production.GetDeploymentHistory(limit),
	})
}

// HandleRollbackCandidates returns deployments production can be rolled
// back to.
func (s *Server) HandleRollbackCandidates(w http.ResponseWriter, r *http.Request) {
	candidates := s.Production.GetRollbackCandidates()
	if len(candidates) > RollbackCandidateLimit {
		candidates = candidates[:RollbackCandidateLimit]
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
	})
}

// decodeJSON enforces content type and size, then decodes the body into
// dst. On failure it writes the error response and returns false.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return false
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return false
	}
	return true
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
