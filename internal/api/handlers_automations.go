package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"autoblog/internal/automation"

	"github.com/go-chi/chi/v5"
)

type createAutomationRequest struct {
	Title    string              `json:"title"`
	Topic    string              `json:"topic"`
	Festival string              `json:"festival"`
	Status   automation.Status   `json:"status"`
	Schedule automation.Schedule `json:"schedule"`
}

type statusRequest struct {
	Status automation.Status `json:"status"`
}

type automationList struct {
	Automations []automation.Entry `json:"automations"`
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.List(r.Context())
	if err != nil {
		s.writeFailure(w, "list automations", err)
		return
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := automation.Status(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown status filter")
			return
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Status == st {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, automationList{Automations: nonNil(entries)})
}

func (s *Server) handleDueAutomations(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.Due(r.Context(), s.deps.Now())
	if err != nil {
		s.writeFailure(w, "list due automations", err)
		return
	}
	writeJSON(w, http.StatusOK, automationList{Automations: nonNil(entries)})
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req createAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	entry, err := s.deps.Store.Create(r.Context(), automation.Entry{
		Title:    strings.TrimSpace(req.Title),
		Topic:    strings.TrimSpace(req.Topic),
		Festival: strings.TrimSpace(req.Festival),
		Status:   req.Status,
		Schedule: req.Schedule,
	})
	if err != nil {
		s.writeFailure(w, "create automation", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.Store.Find(r.Context(), chi.URLParam(r, "automationID"))
	if err != nil {
		s.writeFailure(w, "get automation", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	var patch automation.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	entry, err := s.deps.Store.Update(r.Context(), chi.URLParam(r, "automationID"), patch)
	if err != nil {
		s.writeFailure(w, "update automation", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Delete(r.Context(), chi.URLParam(r, "automationID")); err != nil {
		s.writeFailure(w, "delete automation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	entry, err := s.deps.Store.SetStatus(r.Context(), chi.URLParam(r, "automationID"), req.Status)
	if err != nil {
		s.writeFailure(w, "set automation status", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRunAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "automationID")
	res, err := s.deps.Runner.RunNow(context.WithoutCancel(r.Context()), id)
	if err != nil {
		s.writeFailure(w, "run automation", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAutomationRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "automationID")
	if _, err := s.deps.Store.Find(r.Context(), id); err != nil {
		s.writeFailure(w, "list automation runs", err)
		return
	}
	s.writeRuns(w, r, id)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
