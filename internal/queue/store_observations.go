package queue

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"fieldsync/internal/config"
)

const observationSchema = `
CREATE TABLE IF NOT EXISTS observations (
    local_id          TEXT PRIMARY KEY,
    project_id        TEXT NOT NULL,
    title             TEXT NOT NULL,
    description       TEXT,
    transcription     TEXT,
    translation       TEXT,
    state             TEXT NOT NULL,
    remote_id         TEXT,
    retry_count       INTEGER NOT NULL DEFAULT 0,
    last_error        TEXT,
    error_permanent   INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    modified_at       TEXT NOT NULL,
    sync_completed_at TEXT,
    total_size        INTEGER NOT NULL DEFAULT 0,
    uploaded_size     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS observation_parts (
    id             TEXT PRIMARY KEY,
    observation_id TEXT NOT NULL REFERENCES observations(local_id) ON DELETE CASCADE,
    ordinal        INTEGER NOT NULL,
    media_type     TEXT NOT NULL,
    local_path     TEXT NOT NULL,
    remote_id      TEXT,
    state          TEXT NOT NULL,
    progress       INTEGER NOT NULL DEFAULT 0,
    size_bytes     INTEGER NOT NULL DEFAULT 0,
    retry_count    INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT,
    error_permanent INTEGER NOT NULL DEFAULT 0
);
`

// ObservationStore persists the observation collection. It exposes whole-
// collection load and save only; callers own the in-memory index.
type ObservationStore struct {
	db   *sql.DB
	path string
}

// OpenObservations initializes or connects to the observation database.
func OpenObservations(cfg *config.Config) (*ObservationStore, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "observations.db")
	db, err := openDB(path, observationSchema)
	if err != nil {
		return nil, err
	}
	return &ObservationStore{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *ObservationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *ObservationStore) Path() string { return s.path }

// Load reads the entire persisted collection.
func (s *ObservationStore) Load(ctx context.Context) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT local_id, project_id, title, description,
        transcription, translation, state, remote_id, retry_count, last_error,
        error_permanent, created_at, modified_at, sync_completed_at, total_size, uploaded_size
        FROM observations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	var items []*Observation
	index := make(map[string]*Observation)
	for rows.Next() {
		item, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		index[item.LocalID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}

	partRows, err := s.db.QueryContext(ctx, `SELECT observation_id, id, media_type, local_path,
        remote_id, state, progress, size_bytes, retry_count, last_error, error_permanent
        FROM observation_parts ORDER BY observation_id, ordinal`)
	if err != nil {
		return nil, fmt.Errorf("load observation parts: %w", err)
	}
	defer partRows.Close()

	for partRows.Next() {
		var (
			owner     string
			part      MediaPart
			mediaType string
			remoteID  sql.NullString
			state     string
			lastError sql.NullString
		)
		if err := partRows.Scan(&owner, &part.ID, &mediaType, &part.LocalPath, &remoteID,
			&state, &part.Progress, &part.SizeBytes, &part.RetryCount, &lastError,
			&part.ErrorPermanent); err != nil {
			return nil, fmt.Errorf("scan observation part: %w", err)
		}
		part.Type = MediaType(mediaType)
		part.RemoteID = remoteID.String
		part.State = PartState(state)
		part.LastError = lastError.String
		if item, ok := index[owner]; ok {
			item.Parts = append(item.Parts, part)
		}
	}
	if err := partRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation parts: %w", err)
	}
	return items, nil
}

// SaveAll rewrites the entire persisted collection in one transaction. A
// crash during the write leaves the previous committed collection intact.
func (s *ObservationStore) SaveAll(ctx context.Context, items []*Observation) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM observation_parts`); err != nil {
			return fmt.Errorf("clear observation parts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
			return fmt.Errorf("clear observations: %w", err)
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `INSERT INTO observations (
                local_id, project_id, title, description, transcription, translation,
                state, remote_id, retry_count, last_error, error_permanent, created_at,
                modified_at, sync_completed_at, total_size, uploaded_size)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.LocalID,
				item.ProjectID,
				item.Title,
				nullableString(item.Description),
				nullableString(item.Transcription),
				nullableString(item.Translation),
				string(item.State),
				nullableString(item.RemoteID),
				item.RetryCount,
				nullableString(item.LastError),
				item.ErrorPermanent,
				formatTime(item.CreatedAt),
				formatTime(item.ModifiedAt),
				nullableTime(item.SyncCompletedAt),
				item.TotalSize,
				item.UploadedSize,
			); err != nil {
				return fmt.Errorf("insert observation %s: %w", item.LocalID, err)
			}
			for ordinal, part := range item.Parts {
				if _, err := tx.ExecContext(ctx, `INSERT INTO observation_parts (
                    id, observation_id, ordinal, media_type, local_path, remote_id,
                    state, progress, size_bytes, retry_count, last_error, error_permanent)
                    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					part.ID,
					item.LocalID,
					ordinal,
					string(part.Type),
					part.LocalPath,
					nullableString(part.RemoteID),
					string(part.State),
					part.Progress,
					part.SizeBytes,
					part.RetryCount,
					nullableString(part.LastError),
					part.ErrorPermanent,
				); err != nil {
					return fmt.Errorf("insert part %s: %w", part.ID, err)
				}
			}
		}
		return nil
	})
}

// Counts aggregates persisted items per state for diagnostics.
func (s *ObservationStore) Counts(ctx context.Context) (map[State]int, error) {
	return countByState(ctx, s.db, "observations")
}

func scanObservation(rows *sql.Rows) (*Observation, error) {
	var (
		item          Observation
		description   sql.NullString
		transcription sql.NullString
		translation   sql.NullString
		state         string
		remoteID      sql.NullString
		lastError     sql.NullString
		createdRaw    string
		modifiedRaw   string
		completedRaw  sql.NullString
	)
	if err := rows.Scan(&item.LocalID, &item.ProjectID, &item.Title, &description,
		&transcription, &translation, &state, &remoteID, &item.RetryCount, &lastError,
		&item.ErrorPermanent, &createdRaw, &modifiedRaw, &completedRaw, &item.TotalSize,
		&item.UploadedSize); err != nil {
		return nil, fmt.Errorf("scan observation: %w", err)
	}
	item.Description = description.String
	item.Transcription = transcription.String
	item.Translation = translation.String
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
	return &item, nil
}

func countByState(ctx context.Context, db *sql.DB, table string) (map[State]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT state, COUNT(1) FROM `+table+` GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[State(state)] = count
	}
	return counts, rows.Err()
}
