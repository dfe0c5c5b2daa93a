// Package fleet aggregates status across the devices registered with
// the sync hub. It classifies each device's liveness from heartbeat
// recency and, for devices that look online, pulls their assigned
// tasks so a single query answers "what is every machine doing".
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/agentpilot/internal/hubclient"
)

// DeviceStatus is one device's entry in a fleet report.
type DeviceStatus struct {
	Device hubclient.Device
	State  State
	Tasks  []hubclient.Task
	// TaskErr is set when the device looked online but its task list
	// could not be fetched.
	TaskErr error
}

// Aggregator queries the hub for device and task status.
type Aggregator struct {
	hub *hubclient.Client
	now func() time.Time
}

func New(hub *hubclient.Client) *Aggregator {
	return &Aggregator{hub: hub, now: time.Now}
}

// Query returns the status of every device whose name or nickname
// contains filter (case-insensitive). An empty filter matches all
// devices. Task lists are fetched concurrently, but only for devices
// classified as online; a per-device task fetch failure degrades that
// entry rather than failing the whole query.
func (a *Aggregator) Query(ctx context.Context, filter string) ([]DeviceStatus, error) {
	devices, err := a.hub.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fleet: list devices: %w", err)
	}

	now := a.now()
	needle := strings.ToLower(filter)

	var statuses []DeviceStatus
	for _, d := range devices {
		if needle != "" &&
			!strings.Contains(strings.ToLower(d.DeviceName), needle) &&
			!strings.Contains(strings.ToLower(d.Nickname), needle) {
			continue
		}
		statuses = append(statuses, DeviceStatus{Device: d, State: Classify(d, now)})
	}

	var wg sync.WaitGroup
	for i := range statuses {
		if statuses[i].State != StateOnline {
			continue
		}
		wg.Add(1)
		go func(st *DeviceStatus) {
			defer wg.Done()
			tasks, err := a.hub.TasksForDevice(ctx, st.Device.ID)
			if err != nil {
				slog.Warn("fleet: task fetch failed", "device", st.Device.DeviceName, "error", err)
				st.TaskErr = err
				return
			}
			st.Tasks = tasks
		}(&statuses[i])
	}
	wg.Wait()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Device.DeviceName < statuses[j].Device.DeviceName
	})
	return statuses, nil
}

// Report renders a Query result as a human-readable multi-line
// summary, one device per line with tasks indented underneath.
func Report(statuses []DeviceStatus, now time.Time) string {
	if len(statuses) == 0 {
		return "no devices found\n"
	}
	var b strings.Builder
	for _, st := range statuses {
		fmt.Fprintf(&b, "%s: %s", displayName(st.Device), st.State)
		if st.Device.LastSeen != nil && st.State != StateOnline {
			fmt.Fprintf(&b, " (last seen %s ago)", formatAge(now.Sub(*st.Device.LastSeen)))
		}
		b.WriteByte('\n')
		if st.TaskErr != nil {
			b.WriteString("    tasks unavailable\n")
			continue
		}
		for _, t := range st.Tasks {
			fmt.Fprintf(&b, "    [%s] %s\n", t.Status, t.Title)
		}
	}
	return b.String()
}

func displayName(d hubclient.Device) string {
	if d.Nickname != "" && d.Nickname != d.DeviceName {
		return fmt.Sprintf("%s (%s)", d.DeviceName, d.Nickname)
	}
	return d.DeviceName
}

func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
