package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/media"
	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
	"fieldsync/internal/transport"
)

func newTasksEngine(t *testing.T, cfg *config.Config, client transport.Client, transcriber *testsupport.StubTranscriber) *Tasks {
	t.Helper()
	if transcriber == nil {
		transcriber = &testsupport.StubTranscriber{}
	}
	store := testsupport.MustOpenTasks(t, cfg)
	mover := media.NewMover(cfg.MediaDir(), logging.NewNop())
	eng := NewTasks(cfg, store, client, transcriber, mover, events.NewBus(logging.NewNop()), logging.NewNop())
	eng.backoff.initial = time.Millisecond
	eng.backoff.max = time.Millisecond
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return eng
}

func runTaskSync(t *testing.T, eng *Tasks) {
	t.Helper()
	if !eng.StartSync(context.Background()) {
		t.Fatal("StartSync refused, another pass running")
	}
	eng.Wait()
}

func addTask(t *testing.T, eng *Tasks, audioPath string) *queue.Task {
	t.Helper()
	task, err := eng.Add(context.Background(), TaskDraft{ProjectID: "P1", AudioPath: audioPath})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return task
}

func TestTasksAddAndRemoveEmitQueueEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng := newTasksEngine(t, cfg, testsupport.NewStubTransport(), nil)

	var mu sync.Mutex
	var seen []events.Event
	eng.bus.Subscribe(events.HandlerFunc(func(evt events.Event) {
		mu.Lock()
		seen = append(seen, evt)
		mu.Unlock()
	}))

	source := filepath.Join(t.TempDir(), "note.m4a")
	testsupport.WriteFile(t, source, 256)
	task := addTask(t, eng, source)
	if err := eng.Remove(context.Background(), task.LocalID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []events.Type{events.EventAdded, events.EventStateChanged, events.EventStateChanged}
	if len(seen) != len(want) {
		t.Fatalf("published %d events, want %d (%+v)", len(seen), len(want), seen)
	}
	for i, evt := range seen {
		if evt.Type != want[i] {
			t.Errorf("event %d type = %s, want %s", i, evt.Type, want[i])
		}
		if evt.LocalID != task.LocalID {
			t.Errorf("event %d local id = %q, want %q", i, evt.LocalID, task.LocalID)
		}
	}
}

func TestTasksAddMakesRecordingDurable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng := newTasksEngine(t, cfg, testsupport.NewStubTransport(), nil)

	source := filepath.Join(t.TempDir(), "note.m4a")
	testsupport.WriteFile(t, source, 512)
	task := addTask(t, eng, source)

	if !strings.HasPrefix(task.AudioPath, cfg.MediaDir()) {
		t.Errorf("audio path %q not under durable root %q", task.AudioPath, cfg.MediaDir())
	}
	if task.State != queue.StatePending {
		t.Errorf("state = %s, want pending", task.State)
	}
}

func TestTasksSyncStopsAtReviewGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.NewStubTransport()
	transcriber := &testsupport.StubTranscriber{Text: "fix the north gate"}
	eng := newTasksEngine(t, cfg, stub, transcriber)

	task := addTask(t, eng, "test://recording")

	runTaskSync(t, eng)

	got, _ := eng.ItemByID(task.LocalID)
	if got.State != queue.StateReview {
		t.Fatalf("state = %s, want review", got.State)
	}
	if got.Transcription != "fix the north gate" {
		t.Errorf("transcription = %q", got.Transcription)
	}
	if stub.Creates() != 0 || stub.Uploads() != 0 {
		t.Errorf("backend contacted before review: %d/%d", stub.Creates(), stub.Uploads())
	}

	// A second pass must not move a task waiting on its reviewer.
	runTaskSync(t, eng)
	got, _ = eng.ItemByID(task.LocalID)
	if got.State != queue.StateReview {
		t.Errorf("state after idle pass = %s, want review", got.State)
	}
}

func TestTasksTranscriptionFailureStillReachesReview(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	transcriber := &testsupport.StubTranscriber{Err: errors.New("speech service unavailable")}
	eng := newTasksEngine(t, cfg, testsupport.NewStubTransport(), transcriber)

	task := addTask(t, eng, "test://recording")
	runTaskSync(t, eng)

	got, _ := eng.ItemByID(task.LocalID)
	if got.State != queue.StateReview {
		t.Fatalf("state = %s, want review despite transcription failure", got.State)
	}
	if got.Transcription != "" {
		t.Errorf("transcription = %q, want empty", got.Transcription)
	}
}

func TestTasksAcceptThenDeliver(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.NewStubTransport()
	transcriber := &testsupport.StubTranscriber{Text: "fix the roof"}
	eng := newTasksEngine(t, cfg, stub, transcriber)

	source := filepath.Join(t.TempDir(), "note.m4a")
	testsupport.WriteFile(t, source, 256)
	task := addTask(t, eng, source)

	runTaskSync(t, eng)
	if err := eng.Accept(context.Background(), task.LocalID, "fix the roof before winter"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	runTaskSync(t, eng)

	got, _ := eng.ItemByID(task.LocalID)
	if got.State != queue.StateComplete {
		t.Fatalf("state = %s, want complete (lastError=%q)", got.State, got.LastError)
	}
	if got.RemoteID == "" || got.RemoteAudioID == "" {
		t.Errorf("remote ids missing: %+v", got)
	}
	if got.SyncCompletedAt == nil {
		t.Error("SyncCompletedAt not set")
	}
	if stub.Creates() != 1 || stub.Uploads() != 1 || stub.Confirms() != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", stub.Creates(), stub.Uploads(), stub.Confirms())
	}
	req := stub.CreateCalls[0]
	if req.Kind != "task" {
		t.Errorf("kind = %q, want task", req.Kind)
	}
	if req.Transcription != "fix the roof before winter" {
		t.Errorf("delivered transcription = %q, want the reviewed text", req.Transcription)
	}
	if req.IdempotencyKey != task.LocalID {
		t.Errorf("idempotency key = %q, want %q", req.IdempotencyKey, task.LocalID)
	}
}

func TestTasksAcceptWithoutEditKeepsMachineText(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.NewStubTransport()
	transcriber := &testsupport.StubTranscriber{Text: "clear the drain"}
	eng := newTasksEngine(t, cfg, stub, transcriber)

	task := addTask(t, eng, "test://recording")
	runTaskSync(t, eng)
	if err := eng.Accept(context.Background(), task.LocalID, ""); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	runTaskSync(t, eng)

	if req := stub.CreateCalls[0]; req.Transcription != "clear the drain" {
		t.Errorf("delivered transcription = %q, want machine text", req.Transcription)
	}
}

func TestTasksAcceptRejectsWrongState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng := newTasksEngine(t, cfg, testsupport.NewStubTransport(), nil)

	task := addTask(t, eng, "test://recording")
	if err := eng.Accept(context.Background(), task.LocalID, "text"); err == nil {
		t.Error("Accept moved a task that was never transcribed")
	}
	if err := eng.Accept(context.Background(), "missing", "text"); err == nil {
		t.Error("Accept accepted an unknown id")
	}
}

func TestTasksUploadFailureResumesWithoutRecreate(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(2))
	stub := testsupport.NewStubTransport()
	stub.FailUpload(
		transientErr("backend returned 503"),
		transientErr("backend returned 503"),
	)
	transcriber := &testsupport.StubTranscriber{Text: "check the pump"}
	eng := newTasksEngine(t, cfg, stub, transcriber)

	task := addTask(t, eng, "test://recording")
	runTaskSync(t, eng)
	if err := eng.Accept(context.Background(), task.LocalID, ""); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	runTaskSync(t, eng)

	got, _ := eng.ItemByID(task.LocalID)
	if got.State != queue.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", got.RetryCount)
	}
	if got.RemoteID == "" {
		t.Error("RemoteID lost on upload failure")
	}

	if err := eng.Retry(context.Background(), task.LocalID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, _ = eng.ItemByID(task.LocalID)
	if got.State != queue.StateAccepted {
		t.Fatalf("retry target = %s, want accepted", got.State)
	}

	runTaskSync(t, eng)
	got, _ = eng.ItemByID(task.LocalID)
	if got.State != queue.StateComplete {
		t.Fatalf("state = %s, want complete (lastError=%q)", got.State, got.LastError)
	}
	if stub.Creates() != 1 {
		t.Errorf("creates = %d, want 1; entity must not be recreated", stub.Creates())
	}
}

func TestTasksInitializeDemotesInterrupted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenTasks(t, cfg)
	seed := testsupport.NewTask(t, "test://recording")
	seed.State = queue.StateTranscribing
	if err := store.SaveAll(context.Background(), []*queue.Task{seed}); err != nil {
		t.Fatalf("seed SaveAll: %v", err)
	}
	store.Close()

	eng := newTasksEngine(t, cfg, testsupport.NewStubTransport(), nil)

	got, err := eng.ItemByID(seed.LocalID)
	if err != nil {
		t.Fatalf("ItemByID: %v", err)
	}
	if got.State != queue.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.LastError != queue.InterruptReason {
		t.Errorf("LastError = %q, want %q", got.LastError, queue.InterruptReason)
	}
}

func TestTasksAutoRetryResumesAtDurableStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenTasks(t, cfg)

	// Interrupted after review: edited text survived, so delivery resumes.
	seed := testsupport.NewTask(t, "test://recording")
	seed.State = queue.StateFailed
	seed.Transcription = "raw text"
	seed.EditedTranscription = "reviewed text"
	seed.LastError = queue.InterruptReason
	if err := store.SaveAll(context.Background(), []*queue.Task{seed}); err != nil {
		t.Fatalf("seed SaveAll: %v", err)
	}
	store.Close()

	stub := testsupport.NewStubTransport()
	eng := newTasksEngine(t, cfg, stub, nil)

	runTaskSync(t, eng)

	got, _ := eng.ItemByID(seed.LocalID)
	if got.State != queue.StateComplete {
		t.Fatalf("state = %s, want complete (lastError=%q)", got.State, got.LastError)
	}
	if stub.CreateCalls[0].Transcription != "reviewed text" {
		t.Errorf("delivered transcription = %q, want reviewed text", stub.CreateCalls[0].Transcription)
	}
}

func TestTasksRemoveAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.NewStubTransport()
	transcriber := &testsupport.StubTranscriber{Text: "done soon"}
	eng := newTasksEngine(t, cfg, stub, transcriber)

	doomed := addTask(t, eng, "test://one")
	kept := addTask(t, eng, "test://two")

	if err := eng.Remove(context.Background(), doomed.LocalID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := eng.Remove(context.Background(), doomed.LocalID); err != nil {
		t.Errorf("second Remove: %v", err)
	}

	runTaskSync(t, eng)
	if err := eng.Accept(context.Background(), kept.LocalID, ""); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	runTaskSync(t, eng)

	cleared, err := eng.ClearCompleted(context.Background())
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}
	if n := len(eng.Items()); n != 0 {
		t.Errorf("%d items left, want 0", n)
	}
}
