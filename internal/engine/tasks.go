package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/config"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/media"
	"fieldsync/internal/queue"
	"fieldsync/internal/transcribe"
	"fieldsync/internal/transport"
)

// TaskDraft carries the caller-supplied fields of a new voice task.
type TaskDraft struct {
	ProjectID string
	AudioPath string
}

// Tasks owns the voice task queue. Tasks flow through transcription and a
// mandatory human review before anything is sent to the backend.
type Tasks struct {
	cfg         *config.Config
	store       *queue.TaskStore
	client      transport.Client
	transcriber transcribe.Client
	mover       *media.Mover
	bus         *events.Bus
	logger      *slog.Logger
	backoff     backoffPolicy

	mu    sync.Mutex
	items []*queue.Task

	guard runGuard
}

// NewTasks wires a task engine around an open store.
func NewTasks(cfg *config.Config, store *queue.TaskStore, client transport.Client, transcriber transcribe.Client, mover *media.Mover, bus *events.Bus, logger *slog.Logger) *Tasks {
	return &Tasks{
		cfg:         cfg,
		store:       store,
		client:      client,
		transcriber: transcriber,
		mover:       mover,
		bus:         bus,
		logger:      logging.NewComponentLogger(logger, "tasks"),
		backoff:     backoffFromConfig(cfg),
	}
}

// Initialize loads the persisted queue and demotes items interrupted by the
// previous shutdown.
func (e *Tasks) Initialize(ctx context.Context) error {
	items, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Error("task queue unreadable, starting empty", logging.Error(err))
		items = nil
	}

	var demoted []string
	for _, item := range items {
		if item.DemoteInterrupted() {
			demoted = append(demoted, item.LocalID)
		}
	}

	e.mu.Lock()
	e.items = items
	var persistErr error
	if len(demoted) > 0 {
		persistErr = e.persistLocked(ctx)
	}
	e.mu.Unlock()

	for _, id := range demoted {
		e.logger.Warn("task interrupted by previous shutdown",
			logging.String(logging.FieldItemID, id),
		)
		e.publish(events.Event{Type: events.EventStateChanged, LocalID: id, State: queue.StateFailed})
	}
	e.logger.Info("task queue loaded", logging.Int("items", len(items)))
	return persistErr
}

// Add validates and queues a new voice task. The recording is copied into
// the durable media root before the item is persisted.
func (e *Tasks) Add(ctx context.Context, draft TaskDraft) (*queue.Task, error) {
	now := time.Now().UTC()
	task := &queue.Task{
		LocalID:    queue.NewLocalID(),
		ProjectID:  strings.TrimSpace(draft.ProjectID),
		AudioPath:  strings.TrimSpace(draft.AudioPath),
		State:      queue.StatePending,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := task.ValidateNew(); err != nil {
		return nil, err
	}
	task.AudioPath = e.mover.EnsureDurable(task.AudioPath, "")

	e.mu.Lock()
	e.items = append(e.items, task)
	persistErr := e.persistLocked(ctx)
	clone := task.Clone()
	e.mu.Unlock()

	e.publish(events.Event{Type: events.EventAdded, LocalID: task.LocalID, State: queue.StatePending})
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: task.LocalID, State: queue.StatePending})
	e.logger.Info("task queued", logging.String(logging.FieldItemID, task.LocalID))
	return clone, persistErr
}

// Accept closes the review gate: the reviewer approves the transcription,
// optionally replacing it, and the task becomes eligible for delivery.
func (e *Tasks) Accept(ctx context.Context, localID, finalTranscription string) error {
	err := e.withItem(ctx, localID, func(item *queue.Task) error {
		if !queue.TaskCanTransition(item.State, queue.StateAccepted) {
			return fmt.Errorf("task %s in state %s: %w", localID, item.State, ErrInvalidState)
		}
		if strings.TrimSpace(finalTranscription) != "" {
			item.EditedTranscription = finalTranscription
		} else if item.EditedTranscription == "" {
			item.EditedTranscription = item.Transcription
		}
		item.State = queue.StateAccepted
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: queue.StateAccepted})
	e.logger.Info("task accepted", logging.String(logging.FieldItemID, localID))
	return nil
}

// Remove deletes a task and its durable recording. Removing an unknown
// identifier is a no-op.
func (e *Tasks) Remove(ctx context.Context, localID string) error {
	e.mu.Lock()
	idx := -1
	for i, item := range e.items {
		if item.LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return nil
	}
	if e.items[idx].State.InProgress() {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", localID, ErrItemBusy)
	}
	removed := e.items[idx]
	e.items = append(e.items[:idx], e.items[idx+1:]...)
	persistErr := e.persistLocked(ctx)
	e.mu.Unlock()

	if err := e.mover.Delete(removed.AudioPath); err != nil {
		e.logger.Warn("reclaiming recording failed",
			logging.String(logging.FieldItemID, localID),
			logging.Error(err),
		)
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: removed.State})
	e.logger.Info("task removed", logging.String(logging.FieldItemID, localID))
	return persistErr
}

// Retry resets a failed task for another attempt, resuming from whatever
// stage its durable progress already covers.
func (e *Tasks) Retry(ctx context.Context, localID string) error {
	var target queue.State
	err := e.withItem(ctx, localID, func(item *queue.Task) error {
		if !item.State.Retryable() {
			return fmt.Errorf("task %s in state %s: %w", localID, item.State, ErrInvalidState)
		}
		target = item.RetryTarget()
		item.State = target
		item.RetryCount = 0
		item.LastError = ""
		item.ErrorPermanent = false
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: target})
	return nil
}

// ClearCompleted drops every completed task and reclaims its recording.
func (e *Tasks) ClearCompleted(ctx context.Context) (int, error) {
	e.mu.Lock()
	kept := e.items[:0]
	var cleared []*queue.Task
	for _, item := range e.items {
		if item.State == queue.StateComplete {
			cleared = append(cleared, item)
			continue
		}
		kept = append(kept, item)
	}
	e.items = kept
	var persistErr error
	if len(cleared) > 0 {
		persistErr = e.persistLocked(ctx)
	}
	e.mu.Unlock()

	for _, item := range cleared {
		if err := e.mover.Delete(item.AudioPath); err != nil {
			e.logger.Warn("reclaiming recording failed",
				logging.String(logging.FieldItemID, item.LocalID),
				logging.Error(err),
			)
		}
	}
	return len(cleared), persistErr
}

// Items returns the queue newest first. Returned values are copies.
func (e *Tasks) Items() []*queue.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*queue.Task, 0, len(e.items))
	for _, item := range e.items {
		out = append(out, item.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LocalID > out[j].LocalID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ItemByID returns a copy of one task.
func (e *Tasks) ItemByID(localID string) (*queue.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item := e.findLocked(localID)
	if item == nil {
		return nil, fmt.Errorf("task %s: %w", localID, queue.ErrNotFound)
	}
	return item.Clone(), nil
}

// Counts aggregates queued tasks per state.
func (e *Tasks) Counts() map[queue.State]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[queue.State]int)
	for _, item := range e.items {
		counts[item.State]++
	}
	return counts
}

// PendingCount reports tasks that have not reached the complete state.
func (e *Tasks) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, item := range e.items {
		if item.State != queue.StateComplete {
			n++
		}
	}
	return n
}

// ActionableCount reports tasks the next sync pass would pick up. Tasks
// waiting in review are excluded; only their reviewer can move them.
func (e *Tasks) ActionableCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, item := range e.items {
		switch {
		case item.State == queue.StatePending || item.State == queue.StateAccepted:
			n++
		case item.AutoRetryable(e.backoff.ceiling):
			n++
		}
	}
	return n
}

// StartSync launches a sync pass in the background. It returns false when a
// pass is already running.
func (e *Tasks) StartSync(ctx context.Context) bool {
	runCtx, finish, ok := e.guard.begin(ctx)
	if !ok {
		return false
	}
	e.publish(events.Event{Type: events.EventSyncStarted, Count: e.ActionableCount()})
	go func() {
		defer finish()
		e.runSync(runCtx)
	}()
	return true
}

// CancelSync asks the running pass, if any, to stop after the current
// operation.
func (e *Tasks) CancelSync() { e.guard.interrupt() }

// Wait blocks until the running pass, if any, finishes.
func (e *Tasks) Wait() { e.guard.wait() }

// Syncing reports whether a pass is currently running.
func (e *Tasks) Syncing() bool { return e.guard.running() }

func (e *Tasks) runSync(ctx context.Context) {
	run := uuid.NewString()
	started := time.Now()
	eligible := e.eligible()
	e.logger.Info("task sync started",
		logging.String(logging.FieldSyncRun, run),
		logging.Int("eligible", len(eligible)),
	)

	failures := 0
	for _, id := range eligible {
		if ctx.Err() != nil {
			break
		}
		if err := e.syncOne(ctx, id); err != nil {
			failures++
			e.logger.Warn("task sync failed",
				logging.String(logging.FieldItemID, id),
				logging.Error(err),
			)
		}
	}

	if failures > 0 {
		e.publish(events.Event{
			Type:  events.EventSyncError,
			Error: fmt.Sprintf("%d of %d tasks failed", failures, len(eligible)),
		})
	}
	e.publish(events.Event{Type: events.EventSyncCompleted, Count: failures})
	e.logger.Info("task sync finished",
		logging.String(logging.FieldSyncRun, run),
		logging.Int("eligible", len(eligible)),
		logging.Int("failures", failures),
		logging.Duration("elapsed", time.Since(started)),
	)
}

func (e *Tasks) eligible() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.items))
	for _, item := range e.items {
		switch {
		case item.State == queue.StatePending || item.State == queue.StateAccepted:
			ids = append(ids, item.LocalID)
		case item.AutoRetryable(e.backoff.ceiling):
			ids = append(ids, item.LocalID)
		}
	}
	return ids
}

func (e *Tasks) syncOne(ctx context.Context, localID string) error {
	snap, err := e.ItemByID(localID)
	if err != nil {
		return err
	}

	if snap.State.Retryable() {
		target := snap.RetryTarget()
		if err := e.transition(ctx, localID, target); err != nil {
			return err
		}
		snap.State = target
		if target == queue.StateReview {
			// Back at the gate; a reviewer has to move it.
			return nil
		}
	}

	switch snap.State {
	case queue.StatePending:
		return e.transcribeOne(ctx, localID, snap)
	case queue.StateAccepted:
		return e.deliverOne(ctx, localID, snap)
	default:
		return nil
	}
}

// transcribeOne runs the speech-to-text stage and always lands the task in
// review. A transcription failure is absorbed: the reviewer gets an empty
// text to fill in rather than a stuck item.
func (e *Tasks) transcribeOne(ctx context.Context, localID string, snap *queue.Task) error {
	if err := e.transition(ctx, localID, queue.StateTranscribing); err != nil {
		return err
	}

	text, err := e.transcriber.Transcribe(ctx, snap.AudioPath)
	if err != nil {
		if ctx.Err() != nil {
			return e.fail(ctx, localID, ctx.Err())
		}
		e.logger.Warn("transcription failed, sending task to review without text",
			logging.String(logging.FieldItemID, localID),
			logging.Error(err),
		)
		text = ""
	}

	persistErr := e.withItem(ctx, localID, func(item *queue.Task) error {
		item.Transcription = text
		item.State = queue.StateReview
		return nil
	})
	if persistErr != nil {
		return persistErr
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: queue.StateReview})
	return nil
}

// deliverOne pushes an accepted task to the backend: entity creation, audio
// upload, then confirmation. Steps already acknowledged remotely are skipped.
func (e *Tasks) deliverOne(ctx context.Context, localID string, snap *queue.Task) error {
	if err := e.transition(ctx, localID, queue.StateUploading); err != nil {
		return err
	}

	if snap.RemoteID == "" {
		req := transport.CreateRequest{
			Kind:           "task",
			IdempotencyKey: snap.LocalID,
			ProjectID:      snap.ProjectID,
			Transcription:  snap.FinalTranscription(),
		}
		var resp transport.CreateResponse
		err := retryTransient(ctx, e.backoff, func() error {
			var opErr error
			resp, opErr = e.client.CreateEntity(ctx, req)
			return opErr
		}, func(opErr error) int {
			return e.chargeRetry(ctx, localID, opErr)
		})
		if err != nil {
			return e.fail(ctx, localID, err)
		}
		persistErr := e.withItem(ctx, localID, func(item *queue.Task) error {
			item.RemoteID = resp.RemoteID
			return nil
		})
		if persistErr != nil {
			return persistErr
		}
		snap.RemoteID = resp.RemoteID
	}

	if snap.RemoteAudioID == "" {
		upload := transport.PartUpload{
			Name:      filepath.Base(snap.AudioPath),
			MediaType: string(queue.MediaAudio),
			Path:      snap.AudioPath,
			Progress: func(written, total int64) {
				if total <= 0 {
					return
				}
				e.publish(events.Event{
					Type:     events.EventProgressUpdated,
					LocalID:  localID,
					Progress: int(written * 100 / total),
				})
			},
		}
		var resp transport.UploadResponse
		err := retryTransient(ctx, e.backoff, func() error {
			var opErr error
			resp, opErr = e.client.UploadPart(ctx, snap.RemoteID, upload)
			return opErr
		}, func(opErr error) int {
			return e.chargeRetry(ctx, localID, opErr)
		})
		if err != nil {
			return e.fail(ctx, localID, err)
		}
		persistErr := e.withItem(ctx, localID, func(item *queue.Task) error {
			item.RemoteAudioID = resp.RemotePartID
			return nil
		})
		if persistErr != nil {
			return persistErr
		}
		snap.RemoteAudioID = resp.RemotePartID
	}

	err := retryTransient(ctx, e.backoff, func() error {
		return e.client.Confirm(ctx, snap.RemoteID)
	}, func(opErr error) int {
		return e.chargeRetry(ctx, localID, opErr)
	})
	if err != nil {
		return e.fail(ctx, localID, err)
	}

	now := time.Now().UTC()
	persistErr := e.withItem(ctx, localID, func(item *queue.Task) error {
		item.State = queue.StateComplete
		item.SyncCompletedAt = &now
		item.LastError = ""
		item.ErrorPermanent = false
		return nil
	})
	if persistErr != nil {
		return persistErr
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: queue.StateComplete})
	e.logger.Info("task synced", logging.String(logging.FieldItemID, localID))
	return nil
}

func (e *Tasks) fail(ctx context.Context, localID string, cause error) error {
	err := e.withItem(ctx, localID, func(item *queue.Task) error {
		item.MarkFailed(cause.Error(), permanentFailure(cause))
		return nil
	})
	if err != nil {
		e.logger.Error("persisting task failure", logging.Error(err))
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: queue.StateFailed})
	e.publish(events.Event{Type: events.EventSyncError, LocalID: localID, Error: cause.Error()})
	return cause
}

func (e *Tasks) chargeRetry(ctx context.Context, localID string, cause error) int {
	count := e.backoff.ceiling
	err := e.withItem(ctx, localID, func(item *queue.Task) error {
		item.RetryCount++
		item.LastError = cause.Error()
		count = item.RetryCount
		return nil
	})
	if err != nil {
		e.logger.Error("persisting retry count", logging.Error(err))
	}
	return count
}

func (e *Tasks) transition(ctx context.Context, localID string, to queue.State) error {
	err := e.withItem(ctx, localID, func(item *queue.Task) error {
		if item.State == to {
			return nil
		}
		if !queue.TaskCanTransition(item.State, to) {
			return fmt.Errorf("task %s: illegal transition %s -> %s", localID, item.State, to)
		}
		item.State = to
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: to})
	return nil
}

func (e *Tasks) withItem(ctx context.Context, localID string, fn func(*queue.Task) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	item := e.findLocked(localID)
	if item == nil {
		return fmt.Errorf("task %s: %w", localID, queue.ErrNotFound)
	}
	if err := fn(item); err != nil {
		return err
	}
	item.ModifiedAt = time.Now().UTC()
	return e.persistLocked(ctx)
}

func (e *Tasks) findLocked(localID string) *queue.Task {
	for _, item := range e.items {
		if item.LocalID == localID {
			return item
		}
	}
	return nil
}

func (e *Tasks) persistLocked(ctx context.Context) error {
	if err := e.store.SaveAll(ctx, e.items); err != nil {
		return fmt.Errorf("persist task queue: %w", err)
	}
	return nil
}

func (e *Tasks) publish(evt events.Event) {
	evt.Family = queue.FamilyTask
	e.bus.Publish(evt)
}
