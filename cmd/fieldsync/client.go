package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// apiClient speaks to the daemon's loopback HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := strings.TrimSpace(addr)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type observationItem struct {
	LocalID         string     `json:"local_id"`
	ProjectID       string     `json:"project_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Transcription   string     `json:"transcription"`
	Translation     string     `json:"translation"`
	State           string     `json:"state"`
	RemoteID        string     `json:"remote_id"`
	RetryCount      int        `json:"retry_count"`
	LastError       string     `json:"last_error"`
	ErrorPermanent  bool       `json:"error_permanent"`
	CreatedAt       time.Time  `json:"created_at"`
	ModifiedAt      time.Time  `json:"modified_at"`
	SyncCompletedAt *time.Time `json:"sync_completed_at"`
	TotalSize       int64      `json:"total_size"`
	UploadedSize    int64      `json:"uploaded_size"`
	Parts           []partItem `json:"parts"`
}

type partItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	LocalPath string `json:"local_path"`
	RemoteID  string `json:"remote_id"`
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	SizeBytes int64  `json:"size_bytes"`
	LastError string `json:"last_error"`
}

type taskItem struct {
	LocalID             string     `json:"local_id"`
	ProjectID           string     `json:"project_id"`
	AudioPath           string     `json:"audio_path"`
	RemoteAudioID       string     `json:"remote_audio_id"`
	Transcription       string     `json:"transcription"`
	EditedTranscription string     `json:"edited_transcription"`
	State               string     `json:"state"`
	RemoteID            string     `json:"remote_id"`
	RetryCount          int        `json:"retry_count"`
	LastError           string     `json:"last_error"`
	ErrorPermanent      bool       `json:"error_permanent"`
	CreatedAt           time.Time  `json:"created_at"`
	ModifiedAt          time.Time  `json:"modified_at"`
	SyncCompletedAt     *time.Time `json:"sync_completed_at"`
}

type daemonStatus struct {
	Running      bool         `json:"running"`
	Connection   string       `json:"connection"`
	APIAddr      string       `json:"api_addr"`
	LockFilePath string       `json:"lock_file"`
	Observations familyStatus `json:"observations"`
	Tasks        familyStatus `json:"tasks"`
}

type familyStatus struct {
	Syncing    bool           `json:"syncing"`
	Pending    int            `json:"pending"`
	Actionable int            `json:"actionable"`
	States     map[string]int `json:"states"`
}

type syncResult struct {
	ObservationsStarted bool `json:"observations_started"`
	TasksStarted        bool `json:"tasks_started"`
}

func (c *apiClient) Status(ctx context.Context) (daemonStatus, error) {
	var status daemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *apiClient) Sync(ctx context.Context) (syncResult, error) {
	var result syncResult
	err := c.do(ctx, http.MethodPost, "/api/sync", struct{}{}, &result)
	return result, err
}

func (c *apiClient) SetNetwork(ctx context.Context, connection string) error {
	body := map[string]string{"connection": connection}
	return c.do(ctx, http.MethodPost, "/api/network", body, nil)
}

func (c *apiClient) TestNotification(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notify/test", struct{}{}, nil)
}

func (c *apiClient) ListObservations(ctx context.Context) ([]observationItem, error) {
	var items []observationItem
	err := c.do(ctx, http.MethodGet, "/api/observations", nil, &items)
	return items, err
}

func (c *apiClient) GetObservation(ctx context.Context, id string) (observationItem, error) {
	var item observationItem
	err := c.do(ctx, http.MethodGet, "/api/observations/"+url.PathEscape(id), nil, &item)
	return item, err
}

type observationDraft struct {
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Parts       []mediaDraft `json:"parts,omitempty"`
}

type mediaDraft struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

func (c *apiClient) AddObservation(ctx context.Context, draft observationDraft) (observationItem, error) {
	var item observationItem
	err := c.do(ctx, http.MethodPost, "/api/observations", draft, &item)
	return item, err
}

func (c *apiClient) RetryObservation(ctx context.Context, id string) (observationItem, error) {
	var item observationItem
	err := c.do(ctx, http.MethodPost, "/api/observations/"+url.PathEscape(id)+"/retry", struct{}{}, &item)
	return item, err
}

func (c *apiClient) RemoveObservation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/observations/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) ClearObservations(ctx context.Context) (int, error) {
	var result struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodPost, "/api/observations/clear", struct{}{}, &result)
	return result.Cleared, err
}

type taskDraft struct {
	ProjectID string `json:"project_id"`
	AudioPath string `json:"audio_path"`
}

func (c *apiClient) ListTasks(ctx context.Context) ([]taskItem, error) {
	var items []taskItem
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &items)
	return items, err
}

func (c *apiClient) GetTask(ctx context.Context, id string) (taskItem, error) {
	var item taskItem
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &item)
	return item, err
}

func (c *apiClient) AddTask(ctx context.Context, draft taskDraft) (taskItem, error) {
	var item taskItem
	err := c.do(ctx, http.MethodPost, "/api/tasks", draft, &item)
	return item, err
}

func (c *apiClient) AcceptTask(ctx context.Context, id, transcription string) (taskItem, error) {
	var item taskItem
	body := map[string]string{"transcription": transcription}
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/accept", body, &item)
	return item, err
}

func (c *apiClient) RetryTask(ctx context.Context, id string) (taskItem, error) {
	var item taskItem
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/retry", struct{}{}, &item)
	return item, err
}

func (c *apiClient) RemoveTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) ClearTasks(ctx context.Context) (int, error) {
	var result struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodPost, "/api/tasks/clear", struct{}{}, &result)
	return result.Cleared, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `fieldsync run`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
