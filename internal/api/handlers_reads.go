package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"autoblog/internal/automation"
	"autoblog/internal/errlog"
	"autoblog/internal/runner"
)

const (
	defaultErrorLimit = 20
	defaultRunLimit   = 50
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.writeRuns(w, r, r.URL.Query().Get("automation_id"))
}

func (s *Server) writeRuns(w http.ResponseWriter, r *http.Request, automationID string) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultRunLimit)
	runs, err := s.deps.Runs.List(r.Context(), automationID, limit)
	if err != nil {
		s.writeFailure(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Usage.Summary(r.Context())
	if err != nil {
		s.writeFailure(w, "read usage", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultErrorLimit)
	entries, err := s.deps.Errors.Recent(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, "list errors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": nonNil(entries)})
}

func (s *Server) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Errors.Clear(r.Context()); err != nil {
		s.writeFailure(w, "clear errors", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryLast(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Runner.RetryLast(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeFailure(w, "retry last error", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Store.Settings(r.Context())
	if err != nil {
		s.writeFailure(w, "read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings automation.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	saved, err := s.deps.Store.SaveSettings(r.Context(), settings)
	if err != nil {
		s.writeFailure(w, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// writeFailure maps domain errors onto HTTP status codes. Anything it does
// not recognise is logged and reported as an internal error.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	var runErr *runner.RunError
	switch {
	case errors.Is(err, automation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errlog.ErrEmpty):
		writeError(w, http.StatusNotFound, "no_errors", err.Error())
	case errors.Is(err, automation.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, runner.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, runner.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "already_completed", err.Error())
	case errors.Is(err, errlog.ErrNotRetryable):
		writeError(w, http.StatusConflict, "not_retryable", err.Error())
	case errors.Is(err, runner.ErrNoCredential):
		writeError(w, http.StatusPreconditionFailed, "no_credential", err.Error())
	case errors.As(err, &runErr):
		s.logger.Warn().Err(err).Str("op", op).Str("automation_id", runErr.AutomationID).
			Str("stage", string(runErr.Stage)).Str("kind", string(runErr.Kind)).Msg("run failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]string{
				"code":    "generation_failed",
				"message": err.Error(),
				"stage":   string(runErr.Stage),
				"kind":    string(runErr.Kind),
			},
		})
	default:
		s.logger.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func parseIntDefault(value string, def int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
