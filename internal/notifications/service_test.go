package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""

	svc := notifications.NewService(cfg)
	if err := svc.NotifySyncStarted(context.Background(), "observation", 3); err != nil {
		t.Fatalf("noop notifier returned %v", err)
	}
}

func TestNtfyServiceFormatsRequests(t *testing.T) {
	type captured struct {
		title    string
		tags     string
		priority string
		body     string
	}
	var mu sync.Mutex
	var got []captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	if err := svc.NotifySyncCompleted(ctx, "observation", 0); err != nil {
		t.Fatalf("NotifySyncCompleted: %v", err)
	}
	if err := svc.NotifyItemFailed(ctx, "task", "172-ab", "backend returned 500"); err != nil {
		t.Fatalf("NotifyItemFailed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("requests = %d, want 2", len(got))
	}
	if got[0].title != "Fieldsync - Sync Complete" {
		t.Errorf("title = %q", got[0].title)
	}
	if got[0].priority != "" {
		t.Errorf("clean completion carried priority %q", got[0].priority)
	}
	if got[1].priority != "high" {
		t.Errorf("failure priority = %q, want high", got[1].priority)
	}
	if got[1].tags != "fieldsync,error,alert" {
		t.Errorf("failure tags = %q", got[1].tags)
	}
}

func TestNtfyServiceRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestBridgeForwardsQueueEvents(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL

	bus := events.NewBus(logging.NewNop())
	bridge := notifications.NewBridge(notifications.NewService(cfg), logging.NewNop())
	unsubscribe := bridge.Attach(bus)
	defer unsubscribe()

	bus.Publish(events.Event{
		Type:   events.EventSyncStarted,
		Family: queue.FamilyObservation,
		Count:  3,
	})
	bus.Publish(events.Event{
		Type:    events.EventSyncError,
		Family:  queue.FamilyObservation,
		LocalID: "172-ab",
		Error:   "backend returned 500",
	})
	bus.Publish(events.Event{
		Type:    events.EventStateChanged,
		Family:  queue.FamilyTask,
		LocalID: "172-cd",
		State:   queue.StateReview,
	})
	bus.Publish(events.Event{
		Type:   events.EventSyncCompleted,
		Family: queue.FamilyObservation,
		Count:  1,
	})
	// Events the bridge ignores.
	bus.Publish(events.Event{Type: events.EventProgressUpdated, Family: queue.FamilyObservation})
	bus.Publish(events.Event{Type: events.EventUpdated, Family: queue.FamilyTask, LocalID: "172-cd"})

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 4 {
		t.Fatalf("forwarded = %d, want 4: %v", len(bodies), bodies)
	}
}
