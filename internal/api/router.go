// Package api is the daemon's HTTP surface: session lifecycle, agent
// registry management, interactive terminals, and fleet status.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/agentpilot/internal/fleet"
	"github.com/user/agentpilot/internal/pty"
	"github.com/user/agentpilot/internal/registry"
	"github.com/user/agentpilot/internal/session"
)

type handler struct {
	sessions  *session.Manager
	terminals *pty.Manager
	registry  *registry.Registry
	fleet     *fleet.Aggregator
}

// NewRouter builds the authenticated API handler. fleetAgg may be nil
// when no hub is configured; the fleet endpoint then degrades.
func NewRouter(sessions *session.Manager, terminals *pty.Manager, reg *registry.Registry, fleetAgg *fleet.Aggregator, token string) http.Handler {
	handler := &handler{
		sessions:  sessions,
		terminals: terminals,
		registry:  reg,
		fleet:     fleetAgg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks/{id}/plan", handler.startPlanning)
	mux.HandleFunc("POST /api/tasks/{id}/execute", handler.startExecution)
	mux.HandleFunc("POST /api/tasks/{id}/restart", handler.restartFromCheckpoint)

	mux.HandleFunc("GET /api/sessions", handler.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handler.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/kill", handler.killSession)
	mux.HandleFunc("GET /api/sessions/{id}/progress", handler.getSessionProgress)

	mux.HandleFunc("POST /api/terminals", handler.openTerminal)
	mux.HandleFunc("GET /api/terminals", handler.listTerminals)
	mux.HandleFunc("POST /api/terminals/{id}/input", handler.writeTerminal)
	mux.HandleFunc("POST /api/terminals/{id}/resize", handler.resizeTerminal)
	mux.HandleFunc("DELETE /api/terminals/{id}", handler.closeTerminal)

	mux.HandleFunc("GET /api/agents", handler.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", handler.getAgent)
	mux.HandleFunc("POST /api/agents", handler.createAgent)
	mux.HandleFunc("PUT /api/agents/{id}", handler.updateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", handler.deleteAgent)

	mux.HandleFunc("GET /api/fleet/status", handler.fleetStatus)

	wrapped := authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
