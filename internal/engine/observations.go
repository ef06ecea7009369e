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
	"fieldsync/internal/fileutil"
	"fieldsync/internal/logging"
	"fieldsync/internal/media"
	"fieldsync/internal/queue"
	"fieldsync/internal/transport"
)

// ObservationDraft carries the caller-supplied fields of a new observation.
type ObservationDraft struct {
	ProjectID   string
	Title       string
	Description string
	Parts       []MediaDraft
}

// MediaDraft references one capture file to attach.
type MediaDraft struct {
	Type queue.MediaType
	Path string
}

// ObservationEdit lists the fields a queued observation may change. Nil
// pointers leave the current value untouched.
type ObservationEdit struct {
	Title         *string
	Description   *string
	Transcription *string
	Translation   *string
}

// Observations owns the observation queue: in-memory collection, durable
// store, and the sync pipeline that pushes items to the backend.
type Observations struct {
	cfg     *config.Config
	store   *queue.ObservationStore
	client  transport.Client
	mover   *media.Mover
	bus     *events.Bus
	logger  *slog.Logger
	backoff backoffPolicy

	mu    sync.Mutex
	items []*queue.Observation

	guard runGuard
}

// NewObservations wires an observation engine. The store must already be
// open; Initialize loads the collection and applies crash recovery.
func NewObservations(cfg *config.Config, store *queue.ObservationStore, client transport.Client, mover *media.Mover, bus *events.Bus, logger *slog.Logger) *Observations {
	return &Observations{
		cfg:     cfg,
		store:   store,
		client:  client,
		mover:   mover,
		bus:     bus,
		logger:  logging.NewComponentLogger(logger, "observations"),
		backoff: backoffFromConfig(cfg),
	}
}

// Initialize loads the persisted queue and demotes items interrupted by the
// previous shutdown. An unreadable store logs and starts empty rather than
// blocking startup; the next save rewrites it.
func (e *Observations) Initialize(ctx context.Context) error {
	items, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Error("observation queue unreadable, starting empty", logging.Error(err))
		items = nil
	}

	type change struct {
		id    string
		state queue.State
	}
	var demoted []change
	for _, item := range items {
		if item.DemoteInterrupted() {
			demoted = append(demoted, change{item.LocalID, item.State})
		}
	}

	e.mu.Lock()
	e.items = items
	var persistErr error
	if len(demoted) > 0 {
		persistErr = e.persistLocked(ctx)
	}
	e.mu.Unlock()

	for _, c := range demoted {
		e.logger.Warn("observation interrupted by previous shutdown",
			logging.String(logging.FieldItemID, c.id),
			logging.String(logging.FieldState, string(c.state)),
		)
		e.publish(events.Event{Type: events.EventStateChanged, LocalID: c.id, State: c.state})
	}
	e.logger.Info("observation queue loaded", logging.Int("items", len(items)))
	return persistErr
}

// Add validates and queues a new observation. Capture files are copied into
// the durable media root before the item is persisted.
func (e *Observations) Add(ctx context.Context, draft ObservationDraft) (*queue.Observation, error) {
	now := time.Now().UTC()
	obs := &queue.Observation{
		LocalID:     queue.NewLocalID(),
		ProjectID:   strings.TrimSpace(draft.ProjectID),
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		State:       queue.StatePending,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	for _, part := range draft.Parts {
		obs.Parts = append(obs.Parts, queue.MediaPart{
			ID:        queue.NewPartID(),
			Type:      part.Type,
			LocalPath: strings.TrimSpace(part.Path),
			State:     queue.PartPending,
		})
	}
	if err := obs.ValidateNew(); err != nil {
		return nil, err
	}
	for i := range obs.Parts {
		durable := e.mover.EnsureDurable(obs.Parts[i].LocalPath, "")
		obs.Parts[i].LocalPath = durable
		obs.Parts[i].SizeBytes = fileutil.FileSize(durable)
	}
	obs.RecalcSizes()

	e.mu.Lock()
	e.items = append(e.items, obs)
	persistErr := e.persistLocked(ctx)
	clone := obs.Clone()
	e.mu.Unlock()

	e.publish(events.Event{Type: events.EventAdded, LocalID: obs.LocalID, State: queue.StatePending})
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: obs.LocalID, State: queue.StatePending})
	e.logger.Info("observation queued",
		logging.String(logging.FieldItemID, obs.LocalID),
		logging.Int("parts", len(obs.Parts)),
	)
	return clone, persistErr
}

// Update applies an edit to a queued observation. Items mid-sync reject
// edits; everything else, including completed items, accepts them.
func (e *Observations) Update(ctx context.Context, localID string, edit ObservationEdit) error {
	var state queue.State
	err := e.withItem(ctx, localID, func(item *queue.Observation) error {
		if item.State.InProgress() {
			return fmt.Errorf("observation %s: %w", localID, ErrItemBusy)
		}
		if edit.Title != nil {
			if strings.TrimSpace(*edit.Title) == "" {
				return fmt.Errorf("%w: observation requires a title", queue.ErrValidation)
			}
			item.Title = strings.TrimSpace(*edit.Title)
		}
		if edit.Description != nil {
			item.Description = *edit.Description
		}
		if edit.Transcription != nil {
			item.Transcription = *edit.Transcription
		}
		if edit.Translation != nil {
			item.Translation = *edit.Translation
		}
		state = item.State
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventUpdated, LocalID: localID, State: state})
	return nil
}

// Remove deletes an observation and its durable media copies. Removing an
// unknown identifier is a no-op so removal stays idempotent.
func (e *Observations) Remove(ctx context.Context, localID string) error {
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
		return fmt.Errorf("observation %s: %w", localID, ErrItemBusy)
	}
	removed := e.items[idx]
	e.items = append(e.items[:idx], e.items[idx+1:]...)
	persistErr := e.persistLocked(ctx)
	e.mu.Unlock()

	e.deleteMedia(removed)
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: removed.State})
	e.logger.Info("observation removed", logging.String(logging.FieldItemID, localID))
	return persistErr
}

// Retry resets a failed or partial observation for another delivery attempt.
// Remote progress is kept: an existing entity is not recreated and
// acknowledged parts are not re-uploaded.
func (e *Observations) Retry(ctx context.Context, localID string) error {
	var target queue.State
	err := e.withItem(ctx, localID, func(item *queue.Observation) error {
		if !item.State.Retryable() {
			return fmt.Errorf("observation %s in state %s: %w", localID, item.State, ErrInvalidState)
		}
		target = item.RetryTarget()
		item.State = target
		item.RetryCount = 0
		item.LastError = ""
		item.ErrorPermanent = false
		for i := range item.Parts {
			part := &item.Parts[i]
			if part.State == queue.PartComplete {
				continue
			}
			part.State = queue.PartPending
			part.Progress = 0
			part.RetryCount = 0
			part.LastError = ""
			part.ErrorPermanent = false
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: target})
	return nil
}

// ClearCompleted drops every completed observation and reclaims its durable
// media. It returns how many items were cleared.
func (e *Observations) ClearCompleted(ctx context.Context) (int, error) {
	e.mu.Lock()
	kept := e.items[:0]
	var cleared []*queue.Observation
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
		e.deleteMedia(item)
	}
	return len(cleared), persistErr
}

// Items returns the queue newest first. Returned values are deep copies.
func (e *Observations) Items() []*queue.Observation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*queue.Observation, 0, len(e.items))
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

// ItemByID returns a deep copy of one observation.
func (e *Observations) ItemByID(localID string) (*queue.Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item := e.findLocked(localID)
	if item == nil {
		return nil, fmt.Errorf("observation %s: %w", localID, queue.ErrNotFound)
	}
	return item.Clone(), nil
}

// Counts aggregates queued observations per state.
func (e *Observations) Counts() map[queue.State]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[queue.State]int)
	for _, item := range e.items {
		counts[item.State]++
	}
	return counts
}

// PendingCount reports items that have not reached the complete state.
func (e *Observations) PendingCount() int {
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

// ActionableCount reports items the next sync pass would pick up.
func (e *Observations) ActionableCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, item := range e.items {
		if item.State == queue.StatePending || item.AutoRetryable(e.backoff.ceiling) {
			n++
		}
	}
	return n
}

// StartSync launches a sync pass in the background. It returns false when a
// pass is already running; at most one runs at a time.
func (e *Observations) StartSync(ctx context.Context) bool {
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
func (e *Observations) CancelSync() { e.guard.interrupt() }

// Wait blocks until the running pass, if any, finishes.
func (e *Observations) Wait() { e.guard.wait() }

// Syncing reports whether a pass is currently running.
func (e *Observations) Syncing() bool { return e.guard.running() }

func (e *Observations) runSync(ctx context.Context) {
	run := uuid.NewString()
	started := time.Now()
	eligible := e.eligible()
	e.logger.Info("observation sync started",
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
			e.logger.Warn("observation sync failed",
				logging.String(logging.FieldItemID, id),
				logging.Error(err),
			)
		}
	}

	if failures > 0 {
		e.publish(events.Event{
			Type:  events.EventSyncError,
			Error: fmt.Sprintf("%d of %d observations failed", failures, len(eligible)),
		})
	}
	e.publish(events.Event{Type: events.EventSyncCompleted, Count: failures})
	e.logger.Info("observation sync finished",
		logging.String(logging.FieldSyncRun, run),
		logging.Int("eligible", len(eligible)),
		logging.Int("failures", failures),
		logging.Duration("elapsed", time.Since(started)),
	)
}

// eligible returns, oldest first, the items the pass should process: pending
// ones plus failed or partial ones still under the automatic retry ceiling.
func (e *Observations) eligible() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.items))
	for _, item := range e.items {
		if item.State == queue.StatePending || item.AutoRetryable(e.backoff.ceiling) {
			ids = append(ids, item.LocalID)
		}
	}
	return ids
}

func (e *Observations) syncOne(ctx context.Context, localID string) error {
	snap, err := e.ItemByID(localID)
	if err != nil {
		return err
	}

	if snap.State.Retryable() {
		if err := e.transition(ctx, localID, snap.RetryTarget()); err != nil {
			return err
		}
	}

	if snap.RemoteID == "" {
		remoteID, err := e.createEntity(ctx, snap)
		if err != nil {
			return e.fail(ctx, localID, err)
		}
		err = e.withItem(ctx, localID, func(item *queue.Observation) error {
			item.RemoteID = remoteID
			return nil
		})
		if err != nil {
			return err
		}
		snap.RemoteID = remoteID
	}

	if err := e.transition(ctx, localID, queue.StateUploadingMedia); err != nil {
		return err
	}

	failedParts := 0
	permanent := false
	for _, part := range snap.Parts {
		if part.State == queue.PartComplete {
			continue
		}
		if ctx.Err() != nil {
			return e.fail(ctx, localID, ctx.Err())
		}
		if err := e.uploadPart(ctx, localID, snap.RemoteID, part.ID); err != nil {
			failedParts++
			if permanentFailure(err) {
				permanent = true
			}
		}
	}
	if failedParts > 0 {
		return e.fail(ctx, localID, classifyAggregate(permanent, "%d media part(s) failed to upload", failedParts))
	}

	err = retryTransient(ctx, e.backoff, func() error {
		return e.client.Confirm(ctx, snap.RemoteID)
	}, func(opErr error) int {
		return e.chargeItemRetry(ctx, localID, opErr)
	})
	if err != nil {
		return e.fail(ctx, localID, err)
	}

	return e.complete(ctx, localID)
}

func (e *Observations) createEntity(ctx context.Context, snap *queue.Observation) (string, error) {
	if err := e.transition(ctx, snap.LocalID, queue.StateUploadingMetadata); err != nil {
		return "", err
	}
	req := transport.CreateRequest{
		Kind:           "observation",
		IdempotencyKey: snap.LocalID,
		ProjectID:      snap.ProjectID,
		Title:          snap.Title,
		Description:    snap.Description,
		Transcription:  snap.Transcription,
		Translation:    snap.Translation,
	}
	var resp transport.CreateResponse
	err := retryTransient(ctx, e.backoff, func() error {
		var opErr error
		resp, opErr = e.client.CreateEntity(ctx, req)
		return opErr
	}, func(opErr error) int {
		return e.chargeItemRetry(ctx, snap.LocalID, opErr)
	})
	if err != nil {
		return "", err
	}
	return resp.RemoteID, nil
}

// uploadPart pushes one media part, charging retries against the part
// rather than the whole item.
func (e *Observations) uploadPart(ctx context.Context, localID, remoteID, partID string) error {
	var upload transport.PartUpload
	err := e.withPart(ctx, localID, partID, func(item *queue.Observation, part *queue.MediaPart) error {
		part.State = queue.PartUploading
		part.Progress = 0
		upload = transport.PartUpload{
			Name:      filepath.Base(part.LocalPath),
			MediaType: string(part.Type),
			Path:      part.LocalPath,
		}
		return nil
	})
	if err != nil {
		return err
	}
	upload.Progress = func(written, total int64) {
		e.reportPartProgress(localID, partID, written, total)
	}

	var resp transport.UploadResponse
	err = retryTransient(ctx, e.backoff, func() error {
		var opErr error
		resp, opErr = e.client.UploadPart(ctx, remoteID, upload)
		return opErr
	}, func(opErr error) int {
		return e.chargePartRetry(ctx, localID, partID, opErr)
	})
	if err != nil {
		persistErr := e.withPart(ctx, localID, partID, func(item *queue.Observation, part *queue.MediaPart) error {
			part.State = queue.PartFailed
			part.LastError = err.Error()
			part.ErrorPermanent = permanentFailure(err)
			item.RecalcSizes()
			return nil
		})
		if persistErr != nil {
			e.logger.Error("persisting part failure", logging.Error(persistErr))
		}
		return err
	}

	return e.withPart(ctx, localID, partID, func(item *queue.Observation, part *queue.MediaPart) error {
		part.State = queue.PartComplete
		part.Progress = 100
		part.RemoteID = resp.RemotePartID
		part.LastError = ""
		part.ErrorPermanent = false
		item.RecalcSizes()
		return nil
	})
}

// reportPartProgress publishes live upload progress. It touches memory only;
// durable progress is written when the part settles.
func (e *Observations) reportPartProgress(localID, partID string, written, total int64) {
	var percent int
	e.mu.Lock()
	item := e.findLocked(localID)
	if item == nil {
		e.mu.Unlock()
		return
	}
	var uploaded int64
	for i := range item.Parts {
		part := &item.Parts[i]
		if part.ID == partID && total > 0 {
			part.Progress = int(written * 100 / total)
		}
		if part.State == queue.PartComplete {
			uploaded += part.SizeBytes
		}
	}
	if item.TotalSize > 0 {
		percent = int((uploaded + written) * 100 / item.TotalSize)
		if percent > 100 {
			percent = 100
		}
	}
	item.UploadedSize = uploaded + written
	e.mu.Unlock()

	e.publish(events.Event{Type: events.EventProgressUpdated, LocalID: localID, Progress: percent})
}

func (e *Observations) complete(ctx context.Context, localID string) error {
	now := time.Now().UTC()
	err := e.withItem(ctx, localID, func(item *queue.Observation) error {
		if !queue.ObservationCanTransition(item.State, queue.StateComplete) {
			return fmt.Errorf("observation %s: illegal transition %s -> %s", localID, item.State, queue.StateComplete)
		}
		item.State = queue.StateComplete
		item.SyncCompletedAt = &now
		item.LastError = ""
		item.ErrorPermanent = false
		item.RecalcSizes()
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: queue.StateComplete})
	e.logger.Info("observation synced", logging.String(logging.FieldItemID, localID))
	return nil
}

// fail records cause on the item and settles it into failed or partial.
// The original error is returned so the pass can count the failure.
func (e *Observations) fail(ctx context.Context, localID string, cause error) error {
	var state queue.State
	err := e.withItem(ctx, localID, func(item *queue.Observation) error {
		item.MarkFailed(cause.Error(), permanentFailure(cause))
		item.RecalcSizes()
		state = item.State
		return nil
	})
	if err != nil {
		e.logger.Error("persisting observation failure", logging.Error(err))
	}
	e.publish(events.Event{Type: events.EventStateChanged, LocalID: localID, State: state})
	e.publish(events.Event{Type: events.EventSyncError, LocalID: localID, Error: cause.Error()})
	return cause
}

// chargeItemRetry increments the item retry counter after a transient
// failure and persists it so the count survives a crash mid-backoff.
func (e *Observations) chargeItemRetry(ctx context.Context, localID string, cause error) int {
	count := e.backoff.ceiling
	err := e.withItem(ctx, localID, func(item *queue.Observation) error {
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

func (e *Observations) chargePartRetry(ctx context.Context, localID, partID string, cause error) int {
	count := e.backoff.ceiling
	err := e.withPart(ctx, localID, partID, func(item *queue.Observation, part *queue.MediaPart) error {
		part.RetryCount++
		part.LastError = cause.Error()
		count = part.RetryCount
		return nil
	})
	if err != nil {
		e.logger.Error("persisting part retry count", logging.Error(err))
	}
	return count
}

// transition moves an item along the state graph and persists the change.
func (e *Observations) transition(ctx context.Context, localID string, to queue.State) error {
	err := e.withItem(ctx, localID, func(item *queue.Observation) error {
		if item.State == to {
			return nil
		}
		if !queue.ObservationCanTransition(item.State, to) {
			return fmt.Errorf("observation %s: illegal transition %s -> %s", localID, item.State, to)
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

// withItem runs fn against the live item under the lock and persists the
// whole collection afterwards. ModifiedAt is refreshed on every call.
func (e *Observations) withItem(ctx context.Context, localID string, fn func(*queue.Observation) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	item := e.findLocked(localID)
	if item == nil {
		return fmt.Errorf("observation %s: %w", localID, queue.ErrNotFound)
	}
	if err := fn(item); err != nil {
		return err
	}
	item.ModifiedAt = time.Now().UTC()
	return e.persistLocked(ctx)
}

func (e *Observations) withPart(ctx context.Context, localID, partID string, fn func(*queue.Observation, *queue.MediaPart) error) error {
	return e.withItem(ctx, localID, func(item *queue.Observation) error {
		for i := range item.Parts {
			if item.Parts[i].ID == partID {
				return fn(item, &item.Parts[i])
			}
		}
		return fmt.Errorf("observation part %s: %w", partID, queue.ErrNotFound)
	})
}

func (e *Observations) findLocked(localID string) *queue.Observation {
	for _, item := range e.items {
		if item.LocalID == localID {
			return item
		}
	}
	return nil
}

func (e *Observations) persistLocked(ctx context.Context) error {
	if err := e.store.SaveAll(ctx, e.items); err != nil {
		return fmt.Errorf("persist observation queue: %w", err)
	}
	return nil
}

func (e *Observations) deleteMedia(item *queue.Observation) {
	for _, part := range item.Parts {
		if err := e.mover.Delete(part.LocalPath); err != nil {
			e.logger.Warn("reclaiming media file failed",
				logging.String(logging.FieldItemID, item.LocalID),
				logging.Error(err),
			)
		}
	}
}

func (e *Observations) publish(evt events.Event) {
	evt.Family = queue.FamilyObservation
	e.bus.Publish(evt)
}
