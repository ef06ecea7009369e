package transport

import "context"

// CreateRequest describes the remote entity to create for a queue item.
type CreateRequest struct {
	Kind           string `json:"kind"`
	IdempotencyKey string `json:"-"`
	ProjectID      string `json:"project_id"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	Transcription  string `json:"transcription,omitempty"`
	Translation    string `json:"translation,omitempty"`
}

// CreateResponse is the backend acknowledgment of entity creation.
type CreateResponse struct {
	RemoteID string `json:"id"`
}

// PartUpload describes one media payload to push to an existing entity.
type PartUpload struct {
	Name      string
	MediaType string
	Path      string
	// Progress, when set, receives upload byte counts as the body streams.
	Progress func(written, total int64)
}

// UploadResponse is the backend acknowledgment of a part upload.
type UploadResponse struct {
	RemotePartID string `json:"id"`
}

// Client is the narrow remote surface the sync pipeline depends on. Exactly
// one success path exists per call: a 2xx response carrying the remote
// identifier. Every other outcome is an error classified transient or
// permanent.
type Client interface {
	CreateEntity(ctx context.Context, req CreateRequest) (CreateResponse, error)
	UploadPart(ctx context.Context, remoteID string, part PartUpload) (UploadResponse, error)
	Confirm(ctx context.Context, remoteID string) error
}
