package queue_test

import (
	"errors"
	"testing"

	"fieldsync/internal/queue"
)

func TestObservationTransitions(t *testing.T) {
	cases := []struct {
		from, to queue.State
		allowed  bool
	}{
		{queue.StatePending, queue.StateUploadingMetadata, true},
		{queue.StatePending, queue.StateUploadingMedia, true},
		{queue.StateUploadingMetadata, queue.StateUploadingMedia, true},
		{queue.StateUploadingMetadata, queue.StateFailed, true},
		{queue.StateUploadingMedia, queue.StateComplete, true},
		{queue.StateUploadingMedia, queue.StatePartial, true},
		{queue.StateFailed, queue.StatePending, true},
		{queue.StatePartial, queue.StateUploadingMedia, true},
		{queue.StateComplete, queue.StatePending, false},
		{queue.StatePending, queue.StateComplete, false},
		{queue.StateUploadingMetadata, queue.StateComplete, false},
		{queue.StatePending, queue.StateTranscribing, false},
	}
	for _, tc := range cases {
		if got := queue.ObservationCanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("ObservationCanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTaskTransitions(t *testing.T) {
	cases := []struct {
		from, to queue.State
		allowed  bool
	}{
		{queue.StatePending, queue.StateTranscribing, true},
		{queue.StateTranscribing, queue.StateReview, true},
		{queue.StateTranscribing, queue.StateFailed, true},
		{queue.StateReview, queue.StateAccepted, true},
		{queue.StateAccepted, queue.StateUploading, true},
		{queue.StateUploading, queue.StateComplete, true},
		{queue.StateUploading, queue.StateFailed, true},
		{queue.StateFailed, queue.StateAccepted, true},
		{queue.StateReview, queue.StateUploading, false},
		{queue.StateReview, queue.StateComplete, false},
		{queue.StateComplete, queue.StatePending, false},
		{queue.StatePending, queue.StateUploadingMedia, false},
	}
	for _, tc := range cases {
		if got := queue.TaskCanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("TaskCanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestDemoteInterruptedObservation(t *testing.T) {
	obs := &queue.Observation{
		State: queue.StateUploadingMedia,
		Parts: []queue.MediaPart{
			{ID: "a", State: queue.PartComplete, SizeBytes: 10},
			{ID: "b", State: queue.PartUploading, SizeBytes: 20},
		},
	}
	if !obs.DemoteInterrupted() {
		t.Fatal("expected demotion for in-progress state")
	}
	if obs.State != queue.StatePartial {
		t.Fatalf("expected partial (one part already complete), got %s", obs.State)
	}
	if obs.LastError != queue.InterruptReason {
		t.Fatalf("expected interrupt reason, got %q", obs.LastError)
	}
	if obs.Parts[1].State != queue.PartFailed {
		t.Fatalf("expected in-flight part demoted to failed, got %s", obs.Parts[1].State)
	}

	fresh := &queue.Observation{State: queue.StateUploadingMetadata}
	if !fresh.DemoteInterrupted() {
		t.Fatal("expected demotion")
	}
	if fresh.State != queue.StateFailed {
		t.Fatalf("expected failed with no completed parts, got %s", fresh.State)
	}

	resting := &queue.Observation{State: queue.StatePending}
	if resting.DemoteInterrupted() {
		t.Fatal("resting state must not be demoted")
	}
}

func TestDemoteInterruptedTask(t *testing.T) {
	for _, state := range []queue.State{queue.StateTranscribing, queue.StateUploading} {
		task := &queue.Task{State: state}
		if !task.DemoteInterrupted() {
			t.Fatalf("%s: expected demotion", state)
		}
		if task.State != queue.StateFailed || task.LastError != queue.InterruptReason {
			t.Fatalf("%s: unexpected result %s / %q", state, task.State, task.LastError)
		}
	}
	gated := &queue.Task{State: queue.StateReview}
	if gated.DemoteInterrupted() {
		t.Fatal("human-gated state must not be demoted")
	}
}

func TestTaskRetryTarget(t *testing.T) {
	cases := []struct {
		name   string
		task   queue.Task
		target queue.State
	}{
		{"no transcription", queue.Task{}, queue.StatePending},
		{"raw only", queue.Task{Transcription: "raw"}, queue.StateReview},
		{"accepted", queue.Task{Transcription: "raw", EditedTranscription: "final"}, queue.StateAccepted},
	}
	for _, tc := range cases {
		if got := tc.task.RetryTarget(); got != tc.target {
			t.Errorf("%s: RetryTarget = %s, want %s", tc.name, got, tc.target)
		}
	}
}

func TestValidateNew(t *testing.T) {
	obs := &queue.Observation{Title: "Crack in beam"}
	if err := obs.ValidateNew(); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("expected validation error for missing project, got %v", err)
	}
	obs.ProjectID = "P1"
	if err := obs.ValidateNew(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obs.Parts = []queue.MediaPart{{LocalPath: "/tmp/a.jpg", Type: "gif"}}
	if err := obs.ValidateNew(); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("expected validation error for unknown media type, got %v", err)
	}

	task := &queue.Task{ProjectID: "P1"}
	if err := task.ValidateNew(); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("expected validation error for missing audio, got %v", err)
	}
}

func TestRecalcSizes(t *testing.T) {
	obs := &queue.Observation{Parts: []queue.MediaPart{
		{SizeBytes: 100, State: queue.PartComplete},
		{SizeBytes: 50, State: queue.PartPending},
	}}
	obs.RecalcSizes()
	if obs.TotalSize != 150 || obs.UploadedSize != 100 {
		t.Fatalf("unexpected sizes: total=%d uploaded=%d", obs.TotalSize, obs.UploadedSize)
	}
}

func TestNewLocalIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := queue.NewLocalID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate local id %s", id)
		}
		seen[id] = struct{}{}
	}
}
