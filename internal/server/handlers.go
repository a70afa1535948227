package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stratolab/citeguard/internal/generate"
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/vector"
)

type askRequest struct {
	Question string `json:"question"`
	Intent   string `json:"intent,omitempty"`
	K        int    `json:"k,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.K < 0 {
		s.respondError(w, http.StatusBadRequest, "k must be positive")
		return
	}
	s.logger.Debug("ask request", zap.String("question", req.Question), zap.String("intent", req.Intent))

	idx := s.snapshots.Current()
	if idx == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no index snapshot available")
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("question embedding failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "embedding service unavailable")
		return
	}

	query := &models.Query{
		Text:      req.Question,
		Embedding: embedding,
		Intent:    models.ParseIntent(req.Intent),
		K:         req.K,
	}
	result, err := s.pipeline.Ask(r.Context(), idx, query)
	if err != nil {
		var invalid *vector.InvalidQueryError
		if errors.As(err, &invalid) {
			s.respondError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		var unavailable *generate.UnavailableError
		if errors.As(err, &unavailable) {
			s.respondError(w, http.StatusServiceUnavailable, unavailable.Error())
			return
		}
		s.logger.Error("pipeline failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Refusals are well-formed answers and ship with 200. A degraded
	// generation service is the one refusal cause that is our fault, so it
	// surfaces as 503 with the full result body.
	if result.SystemError {
		s.respondJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	passageCount, err := s.store.CountPassages(r.Context())
	if err != nil {
		s.logger.Error("status: count passages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"passages": passageCount,
	}
	if idx := s.snapshots.Current(); idx != nil {
		resp["snapshot"] = map[string]interface{}{
			"version":    idx.Version(),
			"size":       idx.Size(),
			"dimensions": idx.Dimensions(),
		}
	} else {
		resp["snapshot"] = nil
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		s.respondError(w, http.StatusNotImplemented, "trace store not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.traces.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.respondError(w, http.StatusNotFound, "trace not found")
			return
		}
		s.logger.Error("trace lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
