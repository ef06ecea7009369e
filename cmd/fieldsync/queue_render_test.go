package main

import (
	"strings"
	"testing"
	"time"
)

func TestRenderObservationTableShowsPartTally(t *testing.T) {
	items := []observationItem{{
		LocalID:      "1756600000000-abc123",
		Title:        "culvert washed out past the north gate",
		State:        "partial",
		TotalSize:    1000,
		UploadedSize: 500,
		CreatedAt:    time.Now().Add(-time.Hour),
		Parts: []partItem{
			{ID: "p1", Type: "photo", State: "complete"},
			{ID: "p2", Type: "video", State: "uploading"},
		},
	}}

	out := renderObservationTable(items, false)
	if !strings.Contains(out, "1/2") {
		t.Errorf("part tally missing from output:\n%s", out)
	}
	if !strings.Contains(out, "50%") {
		t.Errorf("upload progress missing from output:\n%s", out)
	}
	if !strings.Contains(out, "partial") {
		t.Errorf("state missing from output:\n%s", out)
	}
	if strings.Contains(out, escYellow) {
		t.Errorf("color escapes leaked into uncolored output:\n%s", out)
	}
}

func TestRenderTaskTablePrefersReviewedText(t *testing.T) {
	items := []taskItem{{
		LocalID:             "1756600000001-def456",
		State:               "review",
		Transcription:       "machine pass",
		EditedTranscription: "reviewed text",
		CreatedAt:           time.Now().Add(-time.Minute),
	}}

	out := renderTaskTable(items, true)
	if !strings.Contains(out, "reviewed text") {
		t.Errorf("reviewed transcription missing from output:\n%s", out)
	}
	if strings.Contains(out, "machine pass") {
		t.Errorf("machine transcription shown despite review edit:\n%s", out)
	}
	if !strings.Contains(out, escYellow+"review"+escReset) {
		t.Errorf("review state not painted with the caution color:\n%s", out)
	}
}

func TestStateTone(t *testing.T) {
	cases := map[string]tone{
		"complete":              toneGood,
		"accepted":              toneGood,
		"failed":                toneBad,
		"partial":               toneCaution,
		"review":                toneCaution,
		"pending":               toneNeutral,
		"awaiting_confirmation": toneNeutral,
	}
	for state, want := range cases {
		if got := stateTone(state); got != want {
			t.Errorf("stateTone(%q) = %d, want %d", state, got, want)
		}
	}
}
