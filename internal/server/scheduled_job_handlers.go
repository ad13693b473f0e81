package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skarveli/tradebook/internal/domain"
	"github.com/skarveli/tradebook/internal/registry"
	"github.com/skarveli/tradebook/internal/scheduler"
)

type contextKey string

const userIDKey contextKey = "user_id"

// identityMiddleware extracts the authenticated user id. Authentication
// itself happens upstream (gateway/middleware); an absent header is treated
// as unauthenticated.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			s.writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// handleListScheduledJobs handles GET /api/scheduled-jobs
func (s *Server) handleListScheduledJobs(w http.ResponseWriter, r *http.Request) {
	var filter registry.Filter

	if v := r.URL.Query().Get("isActive"); v != "" {
		active := v == "true"
		filter.IsActive = &active
	}
	if v := r.URL.Query().Get("analysisType"); v != "" {
		typ, err := domain.ParseAnalysisType(v)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		filter.AnalysisType = &typ
	}
	if v := r.URL.Query().Get("interval"); v != "" {
		interval, err := domain.ParseInterval(v)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		filter.Interval = &interval
	}

	jobs, err := s.facade.ListForUser(r.Context(), callerID(r), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*registry.ScheduledJob{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// handleGetScheduledJob handles GET /api/scheduled-jobs/{id}
func (s *Server) handleGetScheduledJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.facade.GetByID(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

type createScheduledJobRequest struct {
	AnalysisType string `json:"analysisType"`
	Interval     string `json:"interval"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	AccountID    string `json:"accountId"`
}

// handleCreateScheduledJob handles POST /api/scheduled-jobs
func (s *Server) handleCreateScheduledJob(w http.ResponseWriter, r *http.Request) {
	var req createScheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var fieldErrors []fieldError
	analysisType, err := domain.ParseAnalysisType(req.AnalysisType)
	if err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "analysisType", Message: err.Error()})
	}
	interval, err := domain.ParseInterval(req.Interval)
	if err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "interval", Message: err.Error()})
	}
	if len(fieldErrors) > 0 {
		s.writeValidationErrors(w, fieldErrors)
		return
	}

	job, err := s.facade.ScheduleRecurring(r.Context(), callerID(r), analysisType, interval, scheduler.ScheduleOptions{
		Name:        req.Name,
		Description: req.Description,
		AccountID:   req.AccountID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

type updateScheduledJobRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// handleUpdateScheduledJob handles PATCH /api/scheduled-jobs/{id}
func (s *Server) handleUpdateScheduledJob(w http.ResponseWriter, r *http.Request) {
	var req updateScheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.facade.Update(r.Context(), callerID(r), chi.URLParam(r, "id"), registry.Update{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleDeleteScheduledJob handles DELETE /api/scheduled-jobs/{id}
func (s *Server) handleDeleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.facade.RemoveScheduled(r.Context(), callerID(r), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleRunScheduledJob handles POST /api/scheduled-jobs/{id}/run
func (s *Server) handleRunScheduledJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.facade.RunNow(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// handleListAnalyses handles GET /api/analyses
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	var analysisType *domain.AnalysisType
	if v := r.URL.Query().Get("analysisType"); v != "" {
		typ, err := domain.ParseAnalysisType(v)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		analysisType = &typ
	}

	list, err := s.results.ListForUser(r.Context(), callerID(r), analysisType, 50)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleLatestAnalysis handles GET /api/analyses/latest?analysisType=&period=
func (s *Server) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisType, err := domain.ParseAnalysisType(r.URL.Query().Get("analysisType"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	period := domain.PeriodMonthly
	if v := r.URL.Query().Get("period"); v != "" {
		period, err = domain.ParsePeriod(v)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	result, err := s.results.Latest(r.Context(), callerID(r), analysisType, period)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a structured {message} error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

// writeValidationErrors writes a 400 with field-level errors
func (s *Server) writeValidationErrors(w http.ResponseWriter, errs []fieldError) {
	s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"message": "validation failed",
		"errors":  errs,
	})
}

// writeDomainError maps domain errors to conventional status codes
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var regErr *domain.RegistrationInconsistencyError
	var cancelErr *domain.CancellationInconsistencyError
	switch {
	case errors.As(err, &validationErr):
		s.writeValidationErrors(w, []fieldError{{Field: validationErr.Field, Message: validationErr.Message}})
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrOwnership):
		s.writeError(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &regErr), errors.As(err, &cancelErr):
		// Broker and registry diverged; the client can safely retry
		s.log.Error().Err(err).Msg("Store divergence surfaced to client")
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
