package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/user/agentpilot/internal/db"
	"github.com/user/agentpilot/internal/progress"
	"github.com/user/agentpilot/internal/session"
)

type startRunRequest struct {
	ProjectID       string `json:"project_id"`
	AgentType       string `json:"agent_type"`
	ProjectPath     string `json:"project_path"`
	SubProjectPath  string `json:"sub_project_path,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	PlanRef         string `json:"plan_ref,omitempty"`
}

func (h *handler) startPlanning(w http.ResponseWriter, r *http.Request) {
	h.startRun(w, r, false)
}

func (h *handler) startExecution(w http.ResponseWriter, r *http.Request) {
	h.startRun(w, r, true)
}

func (h *handler) startRun(w http.ResponseWriter, r *http.Request, execute bool) {
	taskID := r.PathValue("id")

	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if h.registry != nil && h.registry.Get(req.AgentType) == nil {
		jsonError(w, http.StatusBadRequest, "unknown agent type")
		return
	}

	startReq := session.StartRequest{
		TaskID:          taskID,
		ProjectID:       req.ProjectID,
		AgentType:       req.AgentType,
		ProjectPath:     req.ProjectPath,
		SubProjectPath:  req.SubProjectPath,
		TaskDescription: req.TaskDescription,
		PlanRef:         req.PlanRef,
	}

	var sess *db.AgentSession
	var err error
	if execute {
		sess, err = h.sessions.StartExecution(r.Context(), startReq)
	} else {
		sess, err = h.sessions.StartPlanning(r.Context(), startReq)
	}
	if err != nil {
		jsonSessionError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, sess)
}

func (h *handler) restartFromCheckpoint(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.RestartFromCheckpoint(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonSessionError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, sess)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	filter := db.SessionFilter{
		TaskID: r.URL.Query().Get("task_id"),
		Status: r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	sessions, err := h.sessions.List(r.Context(), filter)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, sessions)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonSessionError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, sess)
}

func (h *handler) killSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.KillSession(r.Context(), r.PathValue("id")); err != nil {
		jsonSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSessionProgress returns the parsed entries of a run's progress
// log. An empty or not-yet-created log is an empty list, not an error.
func (h *handler) getSessionProgress(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonSessionError(w, err)
		return
	}

	entries, err := progress.ReadAll(sess.ProgressPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			jsonResponse(w, http.StatusOK, []progress.Entry{})
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []progress.Entry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

func jsonSessionError(w http.ResponseWriter, err error) {
	var conflict *session.ConflictError
	var spawn *session.SpawnError
	switch {
	case errors.As(err, &conflict):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.As(err, &spawn):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}
