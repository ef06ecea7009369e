package transcribe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"fieldsync/internal/testsupport"
	"fieldsync/internal/transcribe"
)

func TestTranscribeHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("language") != "en" {
			http.Error(w, "missing language", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"text":"replace the valve"}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Transcription.URL = server.URL

	audio := filepath.Join(t.TempDir(), "note.m4a")
	testsupport.WriteFile(t, audio, 512)

	text, err := transcribe.NewFromConfig(cfg).Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "replace the valve" {
		t.Fatalf("unexpected transcription %q", text)
	}
}

func TestTranscribeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Transcription.URL = server.URL

	audio := filepath.Join(t.TempDir(), "note.m4a")
	testsupport.WriteFile(t, audio, 64)

	if _, err := transcribe.NewFromConfig(cfg).Transcribe(context.Background(), audio); err == nil {
		t.Fatal("expected error from failing service")
	}
}

func TestUnconfiguredClientIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.URL = ""

	text, err := transcribe.NewFromConfig(cfg).Transcribe(context.Background(), "/nowhere.m4a")
	if err != nil || text != "" {
		t.Fatalf("noop client must return empty text, got %q / %v", text, err)
	}
}
