package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldsync/internal/engine"
	"fieldsync/internal/logging"
	"fieldsync/internal/netmon"
	"fieldsync/internal/queue"
)

// Handler returns the local HTTP API. The API binds to loopback by default
// and carries no authentication; it is the capture client's control surface,
// not a public endpoint.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", d.handleStatus)
	r.Get("/api/health", d.handleHealth)
	r.Post("/api/sync", d.handleSync)
	r.Post("/api/network", d.handleNetwork)
	r.Post("/api/notify/test", d.handleNotifyTest)

	r.Route("/api/observations", func(r chi.Router) {
		r.Get("/", d.handleObservationList)
		r.Post("/", d.handleObservationAdd)
		r.Post("/clear", d.handleObservationClear)
		r.Get("/{id}", d.handleObservationGet)
		r.Delete("/{id}", d.handleObservationRemove)
		r.Patch("/{id}", d.handleObservationUpdate)
		r.Post("/{id}/retry", d.handleObservationRetry)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", d.handleTaskList)
		r.Post("/", d.handleTaskAdd)
		r.Post("/clear", d.handleTaskClear)
		r.Get("/{id}", d.handleTaskGet)
		r.Delete("/{id}", d.handleTaskRemove)
		r.Post("/{id}/retry", d.handleTaskRetry)
		r.Post("/{id}/accept", d.handleTaskAccept)
	})

	return r
}

type apiError struct {
	Error string `json:"error"`
}

func (d *Daemon) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		d.logger.Warn("encoding api response", logging.Error(err))
	}
}

func (d *Daemon) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		d.respond(w, http.StatusNotFound, apiError{Error: err.Error()})
	case errors.Is(err, queue.ErrValidation):
		d.respond(w, http.StatusBadRequest, apiError{Error: err.Error()})
	case errors.Is(err, engine.ErrItemBusy),
		errors.Is(err, engine.ErrSyncRunning),
		errors.Is(err, engine.ErrInvalidState):
		d.respond(w, http.StatusConflict, apiError{Error: err.Error()})
	default:
		d.respond(w, http.StatusInternalServerError, apiError{Error: err.Error()})
	}
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.respond(w, http.StatusOK, d.Status())
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := d.Status()
	d.respond(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"observations_pending": status.Observations.Pending,
		"tasks_pending":        status.Tasks.Pending,
	})
}

func (d *Daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	observations, tasks := d.SyncAll("api request")
	d.respond(w, http.StatusAccepted, map[string]bool{
		"observations_started": observations,
		"tasks_started":        tasks,
	})
}

func (d *Daemon) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Connection string `json:"connection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.respond(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	if !netmon.ValidConnection(req.Connection) {
		d.respond(w, http.StatusBadRequest, apiError{Error: "unknown connection kind"})
		return
	}
	d.monitor.SetState(netmon.Connection(req.Connection))
	d.respond(w, http.StatusOK, map[string]string{"connection": string(d.monitor.State())})
}

func (d *Daemon) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if err := d.notifier.TestNotification(r.Context()); err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, map[string]string{"status": "sent"})
}

// observationView is the wire shape of a queued observation.
type observationView struct {
	LocalID         string      `json:"local_id"`
	ProjectID       string      `json:"project_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Transcription   string      `json:"transcription,omitempty"`
	Translation     string      `json:"translation,omitempty"`
	State           queue.State `json:"state"`
	RemoteID        string      `json:"remote_id,omitempty"`
	RetryCount      int         `json:"retry_count"`
	LastError       string      `json:"last_error,omitempty"`
	ErrorPermanent  bool        `json:"error_permanent,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	ModifiedAt      time.Time   `json:"modified_at"`
	SyncCompletedAt *time.Time  `json:"sync_completed_at,omitempty"`
	TotalSize       int64       `json:"total_size"`
	UploadedSize    int64       `json:"uploaded_size"`
	Parts           []partView  `json:"parts"`
}

type partView struct {
	ID        string          `json:"id"`
	Type      queue.MediaType `json:"type"`
	LocalPath string          `json:"local_path"`
	RemoteID  string          `json:"remote_id,omitempty"`
	State     queue.PartState `json:"state"`
	Progress  int             `json:"progress"`
	SizeBytes int64           `json:"size_bytes"`
	LastError string          `json:"last_error,omitempty"`
}

func toObservationView(o *queue.Observation) observationView {
	view := observationView{
		LocalID:         o.LocalID,
		ProjectID:       o.ProjectID,
		Title:           o.Title,
		Description:     o.Description,
		Transcription:   o.Transcription,
		Translation:     o.Translation,
		State:           o.State,
		RemoteID:        o.RemoteID,
		RetryCount:      o.RetryCount,
		LastError:       o.LastError,
		ErrorPermanent:  o.ErrorPermanent,
		CreatedAt:       o.CreatedAt,
		ModifiedAt:      o.ModifiedAt,
		SyncCompletedAt: o.SyncCompletedAt,
		TotalSize:       o.TotalSize,
		UploadedSize:    o.UploadedSize,
		Parts:           make([]partView, 0, len(o.Parts)),
	}
	for _, part := range o.Parts {
		view.Parts = append(view.Parts, partView{
			ID:        part.ID,
			Type:      part.Type,
			LocalPath: part.LocalPath,
			RemoteID:  part.RemoteID,
			State:     part.State,
			Progress:  part.Progress,
			SizeBytes: part.SizeBytes,
			LastError: part.LastError,
		})
	}
	return view
}

// taskView is the wire shape of a queued task.
type taskView struct {
	LocalID             string      `json:"local_id"`
	ProjectID           string      `json:"project_id"`
	AudioPath           string      `json:"audio_path"`
	RemoteAudioID       string      `json:"remote_audio_id,omitempty"`
	Transcription       string      `json:"transcription,omitempty"`
	EditedTranscription string      `json:"edited_transcription,omitempty"`
	State               queue.State `json:"state"`
	RemoteID            string      `json:"remote_id,omitempty"`
	RetryCount          int         `json:"retry_count"`
	LastError           string      `json:"last_error,omitempty"`
	ErrorPermanent      bool        `json:"error_permanent,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	ModifiedAt          time.Time   `json:"modified_at"`
	SyncCompletedAt     *time.Time  `json:"sync_completed_at,omitempty"`
}

func toTaskView(t *queue.Task) taskView {
	return taskView{
		LocalID:             t.LocalID,
		ProjectID:           t.ProjectID,
		AudioPath:           t.AudioPath,
		RemoteAudioID:       t.RemoteAudioID,
		Transcription:       t.Transcription,
		EditedTranscription: t.EditedTranscription,
		State:               t.State,
		RemoteID:            t.RemoteID,
		RetryCount:          t.RetryCount,
		LastError:           t.LastError,
		ErrorPermanent:      t.ErrorPermanent,
		CreatedAt:           t.CreatedAt,
		ModifiedAt:          t.ModifiedAt,
		SyncCompletedAt:     t.SyncCompletedAt,
	}
}

func (d *Daemon) handleObservationList(w http.ResponseWriter, r *http.Request) {
	items := d.observations.Items()
	views := make([]observationView, 0, len(items))
	for _, item := range items {
		views = append(views, toObservationView(item))
	}
	d.respond(w, http.StatusOK, views)
}

func (d *Daemon) handleObservationGet(w http.ResponseWriter, r *http.Request) {
	item, err := d.observations.ItemByID(chi.URLParam(r, "id"))
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, toObservationView(item))
}

func (d *Daemon) handleObservationAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string `json:"project_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Parts       []struct {
			Type string `json:"type"`
			Path string `json:"path"`
		} `json:"parts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.respond(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	draft := engine.ObservationDraft{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
	}
	for _, part := range req.Parts {
		draft.Parts = append(draft.Parts, engine.MediaDraft{
			Type: queue.MediaType(part.Type),
			Path: part.Path,
		})
	}
	item, err := d.observations.Add(r.Context(), draft)
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusCreated, toObservationView(item))
}

func (d *Daemon) handleObservationUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		Transcription *string `json:"transcription"`
		Translation   *string `json:"translation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.respond(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	edit := engine.ObservationEdit{
		Title:         req.Title,
		Description:   req.Description,
		Transcription: req.Transcription,
		Translation:   req.Translation,
	}
	if err := d.observations.Update(r.Context(), chi.URLParam(r, "id"), edit); err != nil {
		d.respondErr(w, err)
		return
	}
	item, err := d.observations.ItemByID(chi.URLParam(r, "id"))
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, toObservationView(item))
}

func (d *Daemon) handleObservationRemove(w http.ResponseWriter, r *http.Request) {
	if err := d.observations.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusNoContent, nil)
}

func (d *Daemon) handleObservationRetry(w http.ResponseWriter, r *http.Request) {
	if err := d.observations.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		d.respondErr(w, err)
		return
	}
	item, err := d.observations.ItemByID(chi.URLParam(r, "id"))
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, toObservationView(item))
}

func (d *Daemon) handleObservationClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := d.observations.ClearCompleted(r.Context())
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (d *Daemon) handleTaskList(w http.ResponseWriter, r *http.Request) {
	items := d.tasks.Items()
	views := make([]taskView, 0, len(items))
	for _, item := range items {
		views = append(views, toTaskView(item))
	}
	d.respond(w, http.StatusOK, views)
}

func (d *Daemon) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	item, err := d.tasks.ItemByID(chi.URLParam(r, "id"))
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, toTaskView(item))
}

func (d *Daemon) handleTaskAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		AudioPath string `json:"audio_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.respond(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	item, err := d.tasks.Add(r.Context(), engine.TaskDraft{
		ProjectID: req.ProjectID,
		AudioPath: req.AudioPath,
	})
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusCreated, toTaskView(item))
}

func (d *Daemon) handleTaskRemove(w http.ResponseWriter, r *http.Request) {
	if err := d.tasks.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusNoContent, nil)
}

func (d *Daemon) handleTaskRetry(w http.ResponseWriter, r *http.Request) {
	if err := d.tasks.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		d.respondErr(w, err)
		return
	}
	item, err := d.tasks.ItemByID(chi.URLParam(r, "id"))
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, toTaskView(item))
}

func (d *Daemon) handleTaskAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.respond(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := d.tasks.Accept(r.Context(), id, req.Transcription); err != nil {
		d.respondErr(w, err)
		return
	}
	item, err := d.tasks.ItemByID(id)
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, toTaskView(item))
}

func (d *Daemon) handleTaskClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := d.tasks.ClearCompleted(r.Context())
	if err != nil {
		d.respondErr(w, err)
		return
	}
	d.respond(w, http.StatusOK, map[string]int{"cleared": cleared})
}
