package hubclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDevicesDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"d1","deviceName":"mbp","nickname":"laptop","isOnline":true,"lastSeen":"2026-08-29T10:00:00Z"},{"id":"d2","deviceName":"tower","isOnline":false}]`))
	}))
	defer srv.Close()

	devices, err := New(srv.URL).Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	if devices[0].Nickname != "laptop" || devices[0].LastSeen == nil {
		t.Fatalf("device[0] = %#v", devices[0])
	}
	if want := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC); !devices[0].LastSeen.Equal(want) {
		t.Fatalf("LastSeen = %v, want %v", devices[0].LastSeen, want)
	}
	if devices[1].LastSeen != nil {
		t.Fatalf("device[1].LastSeen = %v, want nil", devices[1].LastSeen)
	}
}

func TestTasksForDevicePassesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("assignedDeviceId"); got != "d1" {
			t.Errorf("assignedDeviceId = %q, want d1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"t1","title":"Fix login","status":"in_progress"}]`))
	}))
	defer srv.Close()

	tasks, err := New(srv.URL).TasksForDevice(context.Background(), "d1")
	if err != nil {
		t.Fatalf("TasksForDevice() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Fix login" {
		t.Fatalf("tasks = %#v", tasks)
	}
}

func TestServerErrorWrapsErrUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Devices(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestConnectionRefusedWrapsErrUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := New(srv.URL).Devices(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}
