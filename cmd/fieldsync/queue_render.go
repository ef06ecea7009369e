package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newQueueTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

// renderObservationTable lays out the observation queue with per-part
// upload progress folded into the Parts and Uploaded columns.
func renderObservationTable(items []observationItem, colorize bool) string {
	tw := newQueueTable()
	tw.AppendHeader(table.Row{"ID", "Title", "State", "Parts", "Uploaded", "Age", "Detail"})
	for _, item := range items {
		detail := item.LastError
		if detail == "" && item.RemoteID != "" {
			detail = "remote " + item.RemoteID
		}
		tw.AppendRow(table.Row{
			shortID(item.LocalID),
			truncate(item.Title, 32),
			paint(item.State, stateTone(item.State), colorize),
			formatPartTally(item.Parts),
			formatProgress(item.UploadedSize, item.TotalSize),
			formatAge(item.CreatedAt),
			truncate(detail, 40),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Parts", Align: text.AlignRight},
		{Name: "Uploaded", Align: text.AlignRight},
	})
	return tw.Render()
}

// formatPartTally reports acknowledged versus total media parts.
func formatPartTally(parts []partItem) string {
	if len(parts) == 0 {
		return "-"
	}
	done := 0
	for _, part := range parts {
		if part.State == "complete" {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(parts))
}

// renderTaskTable lays out the voice task queue. The Transcription column
// prefers the reviewed text over the machine pass, and the last error
// displaces both.
func renderTaskTable(items []taskItem, colorize bool) string {
	tw := newQueueTable()
	tw.AppendHeader(table.Row{"ID", "State", "Age", "Transcription"})
	for _, item := range items {
		transcription := item.EditedTranscription
		if transcription == "" {
			transcription = item.Transcription
		}
		if item.LastError != "" {
			transcription = item.LastError
		}
		tw.AppendRow(table.Row{
			shortID(item.LocalID),
			paint(item.State, stateTone(item.State), colorize),
			formatAge(item.CreatedAt),
			truncate(transcription, 48),
		})
	}
	return tw.Render()
}
