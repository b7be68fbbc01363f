package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/health"
)

const defaultCorrelationLimit = 100

func investigationID(r *http.Request) domain.InvestigationID {
	return domain.InvestigationID(mux.Vars(r)["id"])
}

// decodeJSON reads exactly one JSON value from the body
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest{errors.New("request body is empty")}
		}
		return badRequest{fmt.Errorf("invalid JSON body: %w", err)}
	}
	if dec.More() {
		return badRequest{errors.New("request body must contain a single JSON value")}
	}
	return nil
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status":    health.StatusHealthy,
			"timestamp": time.Now().UTC(),
			"version":   s.config.Version,
		})
		return
	}

	report := s.health.Run(r.Context())
	code := http.StatusOK
	if !report.Healthy() {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]any{
		"status":     report.Status,
		"timestamp":  report.Timestamp,
		"version":    s.config.Version,
		"components": report.Components,
	})
}

type createInvestigationRequest struct {
	ID           domain.InvestigationID `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	EvidencePath string                 `json:"evidence_path"`
	Location     *domain.Coordinate     `json:"location"`
	LocationName string                 `json:"location_name"`
	Timezone     string                 `json:"timezone"`
}

// handleCreateInvestigation handles POST /api/v1/investigations
func (s *Server) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req createInvestigationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}

	inv, err := s.backend.CreateInvestigation(r.Context(), domain.Investigation{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		EvidencePath: req.EvidencePath,
		Location:     req.Location,
		LocationName: req.LocationName,
		Timezone:     req.Timezone,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, inv)
}

// handleListInvestigations handles GET /api/v1/investigations
func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.backend.ListInvestigations(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if invs == nil {
		invs = []domain.Investigation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"investigations": invs,
		"count":          len(invs),
	})
}

// handleGetInvestigation handles GET /api/v1/investigations/{id}
func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.backend.GetInvestigation(r.Context(), investigationID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, inv)
}

// handleDeleteInvestigation handles DELETE /api/v1/investigations/{id}
func (s *Server) handleDeleteInvestigation(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteInvestigation(r.Context(), investigationID(r)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddEvents handles POST /api/v1/investigations/{id}/events
func (s *Server) handleAddEvents(w http.ResponseWriter, r *http.Request) {
	var events []domain.ForensicEvent
	if err := decodeJSON(r, &events); err != nil {
		s.handleError(w, r, err)
		return
	}
	n, err := s.backend.AddEvents(r.Context(), investigationID(r), events)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"stored": n})
}

// handleAddItems handles POST /api/v1/investigations/{id}/items
func (s *Server) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var items []domain.OSINTItem
	if err := decodeJSON(r, &items); err != nil {
		s.handleError(w, r, err)
		return
	}
	n, err := s.backend.AddItems(r.Context(), investigationID(r), items)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"stored": n})
}

// handleCorrelate handles POST /api/v1/investigations/{id}/correlate
func (s *Server) handleCorrelate(w http.ResponseWriter, r *http.Request) {
	id := investigationID(r)
	result, err := s.backend.Correlate(r.Context(), id)
	s.metrics.recordRun(result, err)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.logger.Info("Correlation run finished",
		zap.String("investigation_id", string(id)),
		zap.String("run_id", result.RunID),
		zap.Int("correlations", len(result.Correlations)))
	s.respondJSON(w, http.StatusOK, result.Summary)
}

// handleListCorrelations handles GET /api/v1/investigations/{id}/correlations
func (s *Server) handleListCorrelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minStrength := 0.0
	if v := q.Get("min_strength"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(parsed) || parsed < 0 || parsed > 1 {
			s.respondError(w, http.StatusBadRequest, "min_strength must be a number within [0,1]")
			return
		}
		minStrength = parsed
	}

	limit := defaultCorrelationLimit
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	correlations, err := s.backend.Correlations(r.Context(), investigationID(r), minStrength, limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if correlations == nil {
		correlations = []domain.Correlation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"correlations": correlations,
		"count":        len(correlations),
	})
}

// handleReport handles GET /api/v1/investigations/{id}/report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.Report(r.Context(), investigationID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// handleTimeline handles GET /api/v1/investigations/{id}/timeline
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := s.backend.Timeline(r.Context(), investigationID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"timeline": timeline})
}

// handlePatterns handles GET /api/v1/investigations/{id}/patterns
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.backend.Patterns(r.Context(), investigationID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, patterns)
}

// handleExport handles GET /api/v1/investigations/{id}/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := investigationID(r)
	export, err := s.backend.Export(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "investigation-"+string(id)+".json"))
	s.respondJSON(w, http.StatusOK, export)
}

// handleStatistics handles GET /api/v1/investigations/{id}/statistics
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.Statistics(r.Context(), investigationID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// handleSummary handles GET /api/v1/investigations/{id}/summary?notes=
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	text, err := s.backend.Summarize(r.Context(), investigationID(r), r.URL.Query().Get("notes"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"summary": text})
}

// handleInsights handles GET /api/v1/investigations/{id}/insights
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	text, err := s.backend.Insights(r.Context(), investigationID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"insights": text})
}
