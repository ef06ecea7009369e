package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/daemon"
	"fieldsync/internal/engine"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

func observationDraft(projectID, title string) engine.ObservationDraft {
	return engine.ObservationDraft{ProjectID: projectID, Title: title}
}

func newDaemon(t *testing.T, cfg *config.Config, stub *testsupport.StubTransport) *daemon.Daemon {
	t.Helper()
	if stub == nil {
		stub = testsupport.NewStubTransport()
	}
	d, err := daemon.New(cfg, logging.NewNop(),
		daemon.WithTransport(stub),
		daemon.WithTranscriber(&testsupport.StubTranscriber{Text: "transcribed"}),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func startDaemon(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func apiURL(d *daemon.Daemon, path string) string {
	return fmt.Sprintf("http://%s%s", d.APIAddr(), path)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, nil)
	startDaemon(t, first)

	second := newDaemon(t, cfg, nil)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("restart after release: %v", err)
	}
	second.Stop()
}

func TestDaemonRestartAfterStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, nil)

	for i := 0; i < 3; i++ {
		startDaemon(t, d)
		resp, err := http.Get(apiURL(d, "/api/health"))
		if err != nil {
			t.Fatalf("health check on cycle %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("health check on cycle %d: status %d", i, resp.StatusCode)
		}
		d.Stop()
	}
}

func TestDaemonObservationLifecycleOverAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.NewStubTransport()
	d := newDaemon(t, cfg, stub)
	startDaemon(t, d)
	defer d.Stop()

	source := t.TempDir() + "/photo.jpg"
	testsupport.WriteFile(t, source, 128)

	var created struct {
		LocalID string `json:"local_id"`
		State   string `json:"state"`
	}
	resp := postJSON(t, apiURL(d, "/api/observations"), map[string]any{
		"project_id": "P1",
		"title":      "broken pump",
		"parts":      []map[string]string{{"type": "photo", "path": source}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	decodeInto(t, resp, &created)
	if created.State != "pending" {
		t.Errorf("created state = %q", created.State)
	}

	resp = postJSON(t, apiURL(d, "/api/sync"), map[string]any{})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	waitFor(t, "observation to complete", func() bool {
		item, err := d.Observations().ItemByID(created.LocalID)
		return err == nil && item.State == queue.StateComplete
	})

	var listed []struct {
		LocalID string `json:"local_id"`
		State   string `json:"state"`
	}
	getResp, err := http.Get(apiURL(d, "/api/observations"))
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	decodeInto(t, getResp, &listed)
	if len(listed) != 1 || listed[0].State != "complete" {
		t.Errorf("list = %+v", listed)
	}
	if stub.Confirms() != 1 {
		t.Errorf("confirms = %d, want 1", stub.Confirms())
	}
}

func TestDaemonTaskReviewFlowOverAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := testsupport.NewStubTransport()
	d := newDaemon(t, cfg, stub)
	startDaemon(t, d)
	defer d.Stop()

	var created struct {
		LocalID string `json:"local_id"`
	}
	resp := postJSON(t, apiURL(d, "/api/tasks"), map[string]string{
		"project_id": "P1",
		"audio_path": "test://note",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	decodeInto(t, resp, &created)

	resp = postJSON(t, apiURL(d, "/api/sync"), map[string]any{})
	resp.Body.Close()
	waitFor(t, "task to reach review", func() bool {
		item, err := d.Tasks().ItemByID(created.LocalID)
		return err == nil && item.State == queue.StateReview
	})

	// Accepting before review finished would have been rejected; now it
	// must succeed and the next sync delivers.
	var accepted struct {
		State               string `json:"state"`
		EditedTranscription string `json:"edited_transcription"`
	}
	resp = postJSON(t, apiURL(d, "/api/tasks/"+created.LocalID+"/accept"), map[string]string{
		"transcription": "final text",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept status = %d", resp.StatusCode)
	}
	decodeInto(t, resp, &accepted)
	if accepted.State != "accepted" || accepted.EditedTranscription != "final text" {
		t.Errorf("accept response = %+v", accepted)
	}

	resp = postJSON(t, apiURL(d, "/api/sync"), map[string]any{})
	resp.Body.Close()
	waitFor(t, "task to complete", func() bool {
		item, err := d.Tasks().ItemByID(created.LocalID)
		return err == nil && item.State == queue.StateComplete
	})

	if stub.CreateCalls[0].Transcription != "final text" {
		t.Errorf("delivered transcription = %q", stub.CreateCalls[0].Transcription)
	}
}

func TestDaemonNetworkEndpointTriggersSync(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sync.Auto = true
	stub := testsupport.NewStubTransport()
	d := newDaemon(t, cfg, stub)
	startDaemon(t, d)
	defer d.Stop()

	if _, err := d.Observations().Add(context.Background(), observationDraft("P1", "queued offline")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	resp := postJSON(t, apiURL(d, "/api/network"), map[string]string{"connection": "wifi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("network status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	waitFor(t, "connectivity-triggered sync", func() bool {
		return stub.Confirms() == 1
	})

	resp = postJSON(t, apiURL(d, "/api/network"), map[string]string{"connection": "5g"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus connection status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDaemonStatusEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, nil)
	startDaemon(t, d)
	defer d.Stop()

	resp, err := http.Get(apiURL(d, "/api/status"))
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var status struct {
		Running    bool   `json:"running"`
		Connection string `json:"connection"`
	}
	decodeInto(t, resp, &status)
	if !status.Running {
		t.Error("status reports not running")
	}
	if status.Connection != "offline" {
		t.Errorf("connection = %q, want offline", status.Connection)
	}
}
