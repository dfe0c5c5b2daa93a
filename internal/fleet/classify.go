package fleet

import (
	"time"

	"github.com/user/agentpilot/internal/hubclient"
)

// State is the derived liveness classification of a remote device. It
// is computed fresh from the heartbeat on every query and never cached:
// staleness is the classification.
type State string

const (
	StateOnline      State = "online"
	StateSleeping    State = "sleeping"
	StateOffline     State = "offline"
	StateUnreachable State = "unreachable"
)

const (
	onlineWindow   = 2 * time.Minute
	sleepingWindow = 30 * time.Minute
)

// Classify derives a device's liveness state from its heartbeat
// recency at the given instant.
func Classify(d hubclient.Device, now time.Time) State {
	if d.LastSeen == nil {
		return StateUnreachable
	}
	elapsed := now.Sub(*d.LastSeen)
	if d.IsOnline && elapsed < onlineWindow {
		return StateOnline
	}
	if elapsed < sleepingWindow {
		return StateSleeping
	}
	return StateOffline
}
