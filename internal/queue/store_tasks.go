package queue

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"fieldsync/internal/config"
)

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    local_id             TEXT PRIMARY KEY,
    project_id           TEXT NOT NULL,
    audio_path           TEXT NOT NULL,
    remote_audio_id      TEXT,
    transcription        TEXT,
    edited_transcription TEXT,
    state                TEXT NOT NULL,
    remote_id            TEXT,
    retry_count          INTEGER NOT NULL DEFAULT 0,
    last_error           TEXT,
    error_permanent      INTEGER NOT NULL DEFAULT 0,
    created_at           TEXT NOT NULL,
    modified_at          TEXT NOT NULL,
    sync_completed_at    TEXT
);
`

// TaskStore persists the voice-note task collection with the same whole-
// collection contract as ObservationStore.
type TaskStore struct {
	db   *sql.DB
	path string
}

// OpenTasks initializes or connects to the task database.
func OpenTasks(cfg *config.Config) (*TaskStore, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "tasks.db")
	db, err := openDB(path, taskSchema)
	if err != nil {
		return nil, err
	}
	return &TaskStore{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *TaskStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *TaskStore) Path() string { return s.path }

// Load reads the entire persisted collection.
func (s *TaskStore) Load(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT local_id, project_id, audio_path,
        remote_audio_id, transcription, edited_transcription, state, remote_id,
        retry_count, last_error, error_permanent, created_at, modified_at, sync_completed_at
        FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var items []*Task
	for rows.Next() {
		var (
			item          Task
			remoteAudioID sql.NullString
			transcription sql.NullString
			edited        sql.NullString
			state         string
			remoteID      sql.NullString
			lastError     sql.NullString
			createdRaw    string
			modifiedRaw   string
			completedRaw  sql.NullString
		)
		if err := rows.Scan(&item.LocalID, &item.ProjectID, &item.AudioPath,
			&remoteAudioID, &transcription, &edited, &state, &remoteID,
			&item.RetryCount, &lastError, &item.ErrorPermanent, &createdRaw, &modifiedRaw,
			&completedRaw); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		item.RemoteAudioID = remoteAudioID.String
		item.Transcription = transcription.String
		item.EditedTranscription = edited.String
		item.State = State(state)
		item.RemoteID = remoteID.String
		item.LastError = lastError.String
		if created, err := parseTimeString(createdRaw); err == nil {
			item.CreatedAt = created
		}
		if modified, err := parseTimeString(modifiedRaw); err == nil {
			item.ModifiedAt = modified
		}
		if completedRaw.Valid {
			if completed, err := parseTimeString(completedRaw.String); err == nil {
				item.SyncCompletedAt = &completed
			}
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// SaveAll rewrites the entire persisted collection in one transaction.
func (s *TaskStore) SaveAll(ctx context.Context, items []*Task) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (
                local_id, project_id, audio_path, remote_audio_id, transcription,
                edited_transcription, state, remote_id, retry_count, last_error,
                error_permanent, created_at, modified_at, sync_completed_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.LocalID,
				item.ProjectID,
				item.AudioPath,
				nullableString(item.RemoteAudioID),
				nullableString(item.Transcription),
				nullableString(item.EditedTranscription),
				string(item.State),
				nullableString(item.RemoteID),
				item.RetryCount,
				nullableString(item.LastError),
				item.ErrorPermanent,
				formatTime(item.CreatedAt),
				formatTime(item.ModifiedAt),
				nullableTime(item.SyncCompletedAt),
			); err != nil {
				return fmt.Errorf("insert task %s: %w", item.LocalID, err)
			}
		}
		return nil
	})
}

// Counts aggregates persisted items per state for diagnostics.
func (s *TaskStore) Counts(ctx context.Context) (map[State]int, error) {
	return countByState(ctx, s.db, "tasks")
}
