package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/pipeline"
	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/storage/postgres"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	historyTimeout    = 3 * time.Second
)

// runRequest overrides a subset of the configured run options. Omitted
// fields keep the configured value.
type runRequest struct {
	Sources           []string          `json:"sources"`
	SourceOverrides   map[string]string `json:"source_overrides"`
	MismatchThreshold *float64          `json:"mismatch_threshold"`
	IncludePozos      *bool             `json:"include_pozos"`
	ForcePublish      *bool             `json:"force_publish"`
	FailFast          *bool             `json:"fail_fast"`
}

type runResponse struct {
	Summary polla.RunSummary       `json:"summary"`
	Report  polla.ComparisonReport `json:"report"`
}

// triggerRun handles POST /v1/runs. The run executes synchronously; 409 is
// returned while another run is in flight, 400 for configuration errors and
// 500 for aborted runs.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline runner unavailable")
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.busy.Store(false)

	out, err := s.runner.Run(r.Context(), s.applyRequest(req))
	if err != nil {
		var srcErr *polla.SourceError
		if errors.As(err, &srcErr) && srcErr.Kind == polla.KindConfig {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("triggered run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.remember(out)
	s.writeJSON(w, http.StatusOK, runResponse{Summary: out.Summary, Report: out.Report})
}

func (s *Server) applyRequest(req runRequest) pipeline.Options {
	opts := s.defaults
	if len(req.Sources) > 0 {
		opts.Sources = req.Sources
	}
	if len(req.SourceOverrides) > 0 {
		opts.Overrides = req.SourceOverrides
	}
	if req.MismatchThreshold != nil {
		opts.MismatchThreshold = *req.MismatchThreshold
	}
	if req.IncludePozos != nil {
		opts.IncludePozos = *req.IncludePozos
	}
	if req.ForcePublish != nil {
		opts.ForcePublish = *req.ForcePublish
	}
	if req.FailFast != nil {
		opts.FailFast = *req.FailFast
	}
	return opts
}

// latestRun handles GET /v1/runs/latest. The run history is preferred when
// configured; 404 means nothing has run yet.
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
		defer cancel()
		summary, err := s.history.LatestRun(ctx)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
			return
		case errors.Is(err, postgres.ErrNoRuns):
			s.writeError(w, http.StatusNotFound, "no runs recorded")
			return
		default:
			s.logger.Error("load latest run failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to load latest run")
			return
		}
	}
	out, ok := s.lastOutcome()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"summary": out.Summary})
}

// latestEvents handles GET /v1/runs/latest/events?stage=&limit=&offset= for
// the last run handled by this process.
func (s *Server) latestEvents(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := out.Events
	if stage := strings.TrimSpace(r.URL.Query().Get("stage")); stage != "" {
		filtered := events[:0:0]
		for _, e := range events {
			if string(e.Stage) == stage {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	total := len(events)
	start := min(offset, total)
	end := min(start+limit, total)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": out.Summary.RunID,
		"total":  total,
		"events": toEventDTOs(events[start:end]),
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	limit := def
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", raw)
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", raw)
		}
		offset = v
	}
	return limit, offset, nil
}
