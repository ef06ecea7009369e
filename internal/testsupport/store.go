package testsupport

import (
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

// MustOpenObservations opens an observation store for tests and registers cleanup.
func MustOpenObservations(t testing.TB, cfg *config.Config) *queue.ObservationStore {
	t.Helper()

	store, err := queue.OpenObservations(cfg)
	if err != nil {
		t.Fatalf("queue.OpenObservations: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTasks opens a task store for tests and registers cleanup.
func MustOpenTasks(t testing.TB, cfg *config.Config) *queue.TaskStore {
	t.Helper()

	store, err := queue.OpenTasks(cfg)
	if err != nil {
		t.Fatalf("queue.OpenTasks: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewObservation builds a pending observation with sensible test defaults.
func NewObservation(t testing.TB, title string, parts ...queue.MediaPart) *queue.Observation {
	t.Helper()

	now := time.Now().UTC()
	obs := &queue.Observation{
		LocalID:    queue.NewLocalID(),
		ProjectID:  "P1",
		Title:      title,
		Parts:      parts,
		State:      queue.StatePending,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	obs.RecalcSizes()
	return obs
}

// NewTask builds a pending voice-note task with sensible test defaults.
func NewTask(t testing.TB, audioPath string) *queue.Task {
	t.Helper()

	now := time.Now().UTC()
	return &queue.Task{
		LocalID:    queue.NewLocalID(),
		ProjectID:  "P1",
		AudioPath:  audioPath,
		State:      queue.StatePending,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}
