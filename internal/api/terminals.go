package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/user/agentpilot/internal/pty"
)

type openTerminalRequest struct {
	ID      string   `json:"id,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`
	Argv    []string `json:"argv,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
}

type terminalInputRequest struct {
	Data string `json:"data"`
}

type resizeTerminalRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (h *handler) openTerminal(w http.ResponseWriter, r *http.Request) {
	var req openTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sess, err := h.terminals.Open(req.ID, req.Cols, req.Rows, req.Argv, req.WorkDir, nil)
	if err != nil {
		if errors.Is(err, pty.ErrDuplicateSession) {
			jsonError(w, http.StatusConflict, err.Error())
			return
		}
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]string{"id": sess.ID()})
}

func (h *handler) listTerminals(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.terminals.ListSessions())
}

func (h *handler) writeTerminal(w http.ResponseWriter, r *http.Request) {
	var req terminalInputRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.terminals.Write(r.PathValue("id"), []byte(req.Data)); err != nil {
		jsonTerminalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) resizeTerminal(w http.ResponseWriter, r *http.Request) {
	var req resizeTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		jsonError(w, http.StatusBadRequest, "cols and rows must be positive")
		return
	}
	if err := h.terminals.Resize(r.PathValue("id"), req.Cols, req.Rows); err != nil {
		jsonTerminalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) closeTerminal(w http.ResponseWriter, r *http.Request) {
	// Closing an unknown terminal is a no-op by contract.
	if err := h.terminals.Close(r.PathValue("id")); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func jsonTerminalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pty.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pty.ErrClosed):
		jsonError(w, http.StatusGone, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}
