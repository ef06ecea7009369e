package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"fieldsync/internal/testsupport"
	"fieldsync/internal/transport"
)

func newClient(t *testing.T, url string) *transport.HTTPClient {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Backend.BaseURL = url
	client, err := transport.NewHTTPClient(cfg)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return client
}

func TestCreateEntitySuccess(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"remote-42"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	resp, err := client.CreateEntity(context.Background(), transport.CreateRequest{
		Kind:           "observation",
		IdempotencyKey: "local-1",
		ProjectID:      "P1",
		Title:          "Crack in beam",
	})
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if resp.RemoteID != "remote-42" {
		t.Fatalf("unexpected remote id %q", resp.RemoteID)
	}
	if gotKey != "local-1" {
		t.Fatalf("expected idempotency key forwarded, got %q", gotKey)
	}
}

func TestCreateEntityMissingIDIsNotSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.CreateEntity(context.Background(), transport.CreateRequest{Kind: "task"})
	if err == nil {
		t.Fatal("a 2xx without a remote id must not count as success")
	}
	if !transport.Retryable(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		client := newClient(t, server.URL)
		_, err := client.CreateEntity(context.Background(), transport.CreateRequest{Kind: "task"})
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := transport.Retryable(err); got != tc.retryable {
			t.Fatalf("status %d: Retryable = %v, want %v (err %v)", tc.status, got, tc.retryable, err)
		}
		var statusErr *transport.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected StatusError, got %v", tc.status, err)
		}
	}
}

func TestConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately, so the address refuses connections

	client := newClient(t, server.URL)
	_, err := client.CreateEntity(context.Background(), transport.CreateRequest{Kind: "task"})
	if err == nil || !transport.Retryable(err) {
		t.Fatalf("expected transient error for refused connection, got %v", err)
	}
}

func TestUploadPartStreamsFileWithProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("media_type") != "photo" {
			http.Error(w, "missing media_type", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"part-9"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	testsupport.WriteFile(t, path, 8192)

	var lastWritten, lastTotal int64
	client := newClient(t, server.URL)
	resp, err := client.UploadPart(context.Background(), "remote-42", transport.PartUpload{
		Name:      "photo.jpg",
		MediaType: "photo",
		Path:      path,
		Progress: func(written, total int64) {
			lastWritten, lastTotal = written, total
		},
	})
	if err != nil {
		t.Fatalf("UploadPart failed: %v", err)
	}
	if resp.RemotePartID != "part-9" {
		t.Fatalf("unexpected part id %q", resp.RemotePartID)
	}
	if lastWritten != 8192 || lastTotal != 8192 {
		t.Fatalf("expected full progress report, got %d/%d", lastWritten, lastTotal)
	}
}

func TestUploadPartMissingFileIsPermanent(t *testing.T) {
	client := newClient(t, "http://127.0.0.1:0")
	_, err := client.UploadPart(context.Background(), "remote-42", transport.PartUpload{
		Path: filepath.Join(t.TempDir(), "absent.jpg"),
	})
	if err == nil || transport.Retryable(err) {
		t.Fatalf("expected permanent error for missing local file, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/entities/remote-42/confirm" {
			http.Error(w, "wrong path", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	if err := client.Confirm(context.Background(), "remote-42"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
}
