package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/agentpilot/internal/hubclient"
)

func ptrTime(t time.Time) *time.Time { return &t }

// TestClassify covers the heartbeat recency thresholds.
func TestClassify(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		device hubclient.Device
		want   State
	}{
		{"fresh heartbeat", hubclient.Device{IsOnline: true, LastSeen: ptrTime(now)}, StateOnline},
		{"fresh but flagged offline", hubclient.Device{IsOnline: false, LastSeen: ptrTime(now)}, StateSleeping},
		{"ten minutes stale", hubclient.Device{IsOnline: true, LastSeen: ptrTime(now.Add(-10 * time.Minute))}, StateSleeping},
		{"one hour stale", hubclient.Device{IsOnline: true, LastSeen: ptrTime(now.Add(-time.Hour))}, StateOffline},
		{"no heartbeat", hubclient.Device{IsOnline: true}, StateUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.device, now); got != tc.want {
				t.Errorf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func newHubServer(t *testing.T, devices []hubclient.Device, tasks map[string][]hubclient.Task) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(devices)
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("assignedDeviceId")
		if tasks[id] == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(tasks[id])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryFetchesTasksOnlyForOnlineDevices(t *testing.T) {
	now := time.Now()
	devices := []hubclient.Device{
		{ID: "d1", DeviceName: "mbp", IsOnline: true, LastSeen: ptrTime(now)},
		{ID: "d2", DeviceName: "tower", IsOnline: true, LastSeen: ptrTime(now.Add(-10 * time.Minute))},
		{ID: "d3", DeviceName: "rack", IsOnline: false, LastSeen: ptrTime(now.Add(-time.Hour))},
	}
	tasks := map[string][]hubclient.Task{
		"d1": {{ID: "t1", Title: "Fix login", Status: "in_progress"}},
	}
	srv := newHubServer(t, devices, tasks)

	agg := New(hubclient.New(srv.URL))
	statuses, err := agg.Query(context.Background(), "")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("got %d statuses, want 3", len(statuses))
	}
	for _, st := range statuses {
		switch st.Device.ID {
		case "d1":
			if st.State != StateOnline {
				t.Errorf("d1 state = %q, want online", st.State)
			}
			if len(st.Tasks) != 1 || st.Tasks[0].Title != "Fix login" {
				t.Errorf("d1 tasks = %+v, want the assigned task", st.Tasks)
			}
		case "d2":
			if st.State != StateSleeping {
				t.Errorf("d2 state = %q, want sleeping", st.State)
			}
			if st.Tasks != nil {
				t.Errorf("d2 should not have tasks fetched, got %+v", st.Tasks)
			}
		case "d3":
			if st.State != StateOffline {
				t.Errorf("d3 state = %q, want offline", st.State)
			}
			if st.Tasks != nil {
				t.Errorf("d3 should not have tasks fetched, got %+v", st.Tasks)
			}
		}
	}
}

func TestQueryFilterMatchesNameAndNickname(t *testing.T) {
	now := time.Now()
	devices := []hubclient.Device{
		{ID: "d1", DeviceName: "mbp", Nickname: "laptop", LastSeen: ptrTime(now)},
		{ID: "d2", DeviceName: "tower", LastSeen: ptrTime(now)},
	}
	srv := newHubServer(t, devices, nil)
	agg := New(hubclient.New(srv.URL))

	statuses, err := agg.Query(context.Background(), "LAP")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Device.ID != "d1" {
		t.Fatalf("filter should match nickname case-insensitively, got %+v", statuses)
	}

	statuses, err = agg.Query(context.Background(), "tow")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Device.ID != "d2" {
		t.Fatalf("filter should match device name, got %+v", statuses)
	}
}

func TestQueryTaskFailureDegradesSingleDevice(t *testing.T) {
	now := time.Now()
	devices := []hubclient.Device{
		{ID: "d1", DeviceName: "mbp", IsOnline: true, LastSeen: ptrTime(now)},
	}
	// No task entry for d1, so the server returns 500 for it.
	srv := newHubServer(t, devices, nil)
	agg := New(hubclient.New(srv.URL))

	statuses, err := agg.Query(context.Background(), "")
	if err != nil {
		t.Fatalf("Query() should not fail on a task fetch error: %v", err)
	}
	if statuses[0].TaskErr == nil {
		t.Fatal("expected TaskErr on the degraded device")
	}
}

func TestQueryHubUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	agg := New(hubclient.New(srv.URL))
	if _, err := agg.Query(context.Background(), ""); err == nil {
		t.Fatal("expected error when the hub is unreachable")
	}
}

func TestReportShowsTasksUnderOnlineDevices(t *testing.T) {
	now := time.Now()
	statuses := []DeviceStatus{
		{
			Device: hubclient.Device{DeviceName: "mbp", Nickname: "laptop", LastSeen: ptrTime(now)},
			State:  StateOnline,
			Tasks:  []hubclient.Task{{Title: "Fix login", Status: "in_progress"}},
		},
		{
			Device: hubclient.Device{DeviceName: "tower", LastSeen: ptrTime(now.Add(-12 * time.Minute))},
			State:  StateSleeping,
		},
		{Device: hubclient.Device{DeviceName: "ghost"}, State: StateUnreachable},
	}
	out := Report(statuses, now)

	if !strings.Contains(out, "mbp (laptop): online") {
		t.Errorf("report missing online entry:\n%s", out)
	}
	if !strings.Contains(out, "[in_progress] Fix login") {
		t.Errorf("report missing task line:\n%s", out)
	}
	if !strings.Contains(out, "tower: sleeping (last seen 12m ago)") {
		t.Errorf("report missing sleeping entry with age:\n%s", out)
	}
	if !strings.Contains(out, "ghost: unreachable") {
		t.Errorf("report missing unreachable entry:\n%s", out)
	}
	if lines := strings.Count(out, "["); lines != 1 {
		t.Errorf("tasks should appear only under online devices, report:\n%s", out)
	}
}

func TestReportEmpty(t *testing.T) {
	if got := Report(nil, time.Now()); got != "no devices found\n" {
		t.Errorf("Report(nil) = %q", got)
	}
}
