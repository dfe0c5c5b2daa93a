package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/agentpilot/internal/api"
	"github.com/user/agentpilot/internal/config"
	"github.com/user/agentpilot/internal/db"
	"github.com/user/agentpilot/internal/fleet"
	"github.com/user/agentpilot/internal/hub"
	"github.com/user/agentpilot/internal/hubclient"
	"github.com/user/agentpilot/internal/pty"
	"github.com/user/agentpilot/internal/registry"
	"github.com/user/agentpilot/internal/server"
	"github.com/user/agentpilot/internal/session"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	reg, err := registry.NewRegistry(cfg.AgentsDir)
	if err != nil {
		slog.Error("failed to load agent registry", "error", err)
		os.Exit(1)
	}

	eventHub := hub.New(cfg.Token)
	go eventHub.Run(ctx)

	terminals := pty.NewManager()
	defer terminals.CloseAll()
	wireTerminalControl(eventHub, terminals)

	sessions := session.NewManager(database.SQL(), reg, eventHub, session.Options{
		ProgressDir:       cfg.ProgressDir(),
		HooksDir:          cfg.HooksDir(),
		KillGrace:         cfg.KillGrace,
		ExitReconcileWait: cfg.ExitReconcileWait,
		WatchPoll:         cfg.WatchPoll,
	})
	if err := sessions.Start(ctx); err != nil {
		slog.Error("failed to start session manager", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()
	eventHub.SetSessionSnapshot(sessions.SessionSnapshot)

	var fleetAgg *fleet.Aggregator
	if cfg.HubURL != "" {
		fleetAgg = fleet.New(hubclient.New(cfg.HubURL))
	}

	router := api.NewRouter(sessions, terminals, reg, fleetAgg, cfg.Token)
	srv := server.New(cfg, eventHub, router)

	if cfg.PrintToken {
		fmt.Printf("\nagentpilot running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	} else {
		slog.Info("agentpilot running", "port", cfg.Port)
	}

	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	eventHub.FlushPendingOutput()
}

// wireTerminalControl connects hub client input to ptys and pty output
// back to the hub, one relay goroutine per opened terminal.
func wireTerminalControl(eventHub *hub.Hub, terminals *pty.Manager) {
	terminals.SetEventSink(func(ev pty.Event) {
		switch ev.Type {
		case pty.EventOutput:
			eventHub.BroadcastTerminalData("", ev.ID, ev.Data)
		case pty.EventTitle:
			eventHub.BroadcastTerminalTitle("", ev.ID, ev.Data)
		case pty.EventClosed:
			eventHub.BroadcastTerminalClosed(ev.ID)
		}
	})
	eventHub.SetOnTerminalInput(func(terminalID string, data string) {
		if err := terminals.Write(terminalID, []byte(data)); err != nil {
			slog.Debug("terminal input dropped", "terminal", terminalID, "error", err)
		}
	})
	eventHub.SetOnTerminalResize(func(terminalID string, cols, rows int) {
		if cols <= 0 || rows <= 0 || cols > 0xffff || rows > 0xffff {
			return
		}
		if err := terminals.Resize(terminalID, uint16(cols), uint16(rows)); err != nil {
			slog.Debug("terminal resize dropped", "terminal", terminalID, "error", err)
		}
	})
}
