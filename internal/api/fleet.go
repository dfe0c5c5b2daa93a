package api

import (
	"net/http"
	"time"

	"github.com/user/agentpilot/internal/fleet"
)

type fleetStatusResponse struct {
	Report string `json:"report"`
}

// fleetStatus renders the cross-device report. Hub failures degrade to
// an explanatory line: this endpoint is advisory, not a control path.
func (h *handler) fleetStatus(w http.ResponseWriter, r *http.Request) {
	if h.fleet == nil {
		jsonResponse(w, http.StatusOK, fleetStatusResponse{Report: "no hub configured\n"})
		return
	}

	statuses, err := h.fleet.Query(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		jsonResponse(w, http.StatusOK, fleetStatusResponse{Report: "hub unavailable: " + err.Error() + "\n"})
		return
	}
	jsonResponse(w, http.StatusOK, fleetStatusResponse{Report: fleet.Report(statuses, time.Now())})
}
