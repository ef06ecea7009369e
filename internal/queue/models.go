package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State represents a position in the sync lifecycle of a queue item.
type State string

const (
	StatePending           State = "pending"
	StateUploadingMetadata State = "uploading_metadata"
	StateUploadingMedia    State = "uploading_media"
	StateTranscribing      State = "transcribing"
	StateReview            State = "review"
	StateAccepted          State = "accepted"
	StateUploading         State = "uploading"
	StateComplete          State = "complete"
	StateFailed            State = "failed"
	StatePartial           State = "partial"
)

// Family identifies which queue an item belongs to.
type Family string

const (
	FamilyObservation Family = "observation"
	FamilyTask        Family = "task"
)

// InterruptReason is the error recorded when crash recovery demotes an item
// that was mid-operation when the process died.
const InterruptReason = "Interrupted by restart, will retry"

// MediaType tags the kind of capture a media part holds.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// PartState tracks the upload lifecycle of one media part.
type PartState string

const (
	PartPending   PartState = "pending"
	PartUploading PartState = "uploading"
	PartComplete  PartState = "complete"
	PartFailed    PartState = "failed"
)

// MediaPart is one binary payload attached to an observation.
type MediaPart struct {
	ID             string
	Type           MediaType
	LocalPath      string
	RemoteID       string
	State          PartState
	Progress       int
	SizeBytes      int64
	RetryCount     int
	LastError      string
	ErrorPermanent bool
}

// Observation is a field observation queued for delivery: project metadata,
// free text, and zero or more media parts uploaded individually.
type Observation struct {
	LocalID         string
	ProjectID       string
	Title           string
	Description     string
	Transcription   string
	Translation     string
	Parts           []MediaPart
	State           State
	RemoteID        string
	RetryCount      int
	LastError       string
	ErrorPermanent  bool
	CreatedAt       time.Time
	ModifiedAt      time.Time
	SyncCompletedAt *time.Time
	TotalSize       int64
	UploadedSize    int64
}

// Task is a voice-recorded task queued for transcription review and delivery.
type Task struct {
	LocalID             string
	ProjectID           string
	AudioPath           string
	RemoteAudioID       string
	Transcription       string
	EditedTranscription string
	State               State
	RemoteID            string
	RetryCount          int
	LastError           string
	ErrorPermanent      bool
	CreatedAt           time.Time
	ModifiedAt          time.Time
	SyncCompletedAt     *time.Time
}

// NewLocalID generates a device-unique item identifier. The millisecond
// timestamp prefix keeps identifiers sortable; the random suffix guards
// against same-millisecond captures.
func NewLocalID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}

// NewPartID generates an identifier for a media part.
func NewPartID() string {
	return uuid.NewString()
}

// Clone returns a deep copy safe to hand to observers.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Parts = make([]MediaPart, len(o.Parts))
	copy(cp.Parts, o.Parts)
	if o.SyncCompletedAt != nil {
		t := *o.SyncCompletedAt
		cp.SyncCompletedAt = &t
	}
	return &cp
}

// Clone returns a copy safe to hand to observers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.SyncCompletedAt != nil {
		ts := *t.SyncCompletedAt
		cp.SyncCompletedAt = &ts
	}
	return &cp
}

// CompletedParts counts parts the remote side has acknowledged.
func (o *Observation) CompletedParts() int {
	n := 0
	for _, part := range o.Parts {
		if part.State == PartComplete {
			n++
		}
	}
	return n
}

// RecalcSizes refreshes the byte counters from the current part list.
func (o *Observation) RecalcSizes() {
	var total, uploaded int64
	for _, part := range o.Parts {
		total += part.SizeBytes
		if part.State == PartComplete {
			uploaded += part.SizeBytes
		}
	}
	o.TotalSize = total
	o.UploadedSize = uploaded
}

// MarkFailed records a failure cause. Retry counters are managed by the
// pipeline's attempt loop, not here. Permanent failures are excluded from
// automatic retry until a manual Retry clears the flag.
func (o *Observation) MarkFailed(message string, permanent bool) {
	o.LastError = message
	o.ErrorPermanent = permanent
	if o.CompletedParts() > 0 {
		o.State = StatePartial
	} else {
		o.State = StateFailed
	}
}

// MarkFailed records a failure cause.
func (t *Task) MarkFailed(message string, permanent bool) {
	t.LastError = message
	t.ErrorPermanent = permanent
	t.State = StateFailed
}

// AutoRetryable reports whether a failed observation may be picked up by an
// automatic sync run given the configured retry ceiling.
func (o *Observation) AutoRetryable(maxRetries int) bool {
	if !o.State.Retryable() {
		return false
	}
	return !o.ErrorPermanent && o.RetryCount < maxRetries
}

// AutoRetryable reports whether a failed task may be picked up by an
// automatic sync run given the configured retry ceiling.
func (t *Task) AutoRetryable(maxRetries int) bool {
	if !t.State.Retryable() {
		return false
	}
	return !t.ErrorPermanent && t.RetryCount < maxRetries
}

// ValidateNew checks the fields required before an observation may be queued.
func (o *Observation) ValidateNew() error {
	if strings.TrimSpace(o.ProjectID) == "" {
		return fmt.Errorf("%w: observation requires a project reference", ErrValidation)
	}
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("%w: observation requires a title", ErrValidation)
	}
	for i, part := range o.Parts {
		if strings.TrimSpace(part.LocalPath) == "" {
			return fmt.Errorf("%w: media part %d has no file reference", ErrValidation, i)
		}
		switch part.Type {
		case MediaPhoto, MediaVideo, MediaAudio:
		default:
			return fmt.Errorf("%w: media part %d has unknown type %q", ErrValidation, i, part.Type)
		}
	}
	return nil
}

// ValidateNew checks the fields required before a task may be queued.
func (t *Task) ValidateNew() error {
	if strings.TrimSpace(t.ProjectID) == "" {
		return fmt.Errorf("%w: task requires a project reference", ErrValidation)
	}
	if strings.TrimSpace(t.AudioPath) == "" {
		return fmt.Errorf("%w: task requires an audio recording", ErrValidation)
	}
	return nil
}

// FinalTranscription returns the user-edited transcription when present,
// falling back to the raw machine transcription.
func (t *Task) FinalTranscription() string {
	if strings.TrimSpace(t.EditedTranscription) != "" {
		return t.EditedTranscription
	}
	return t.Transcription
}
