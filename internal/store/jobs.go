package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/civiclab/sopn/internal/detect"
)

// SaveJob upserts a detection job snapshot together with its merged raw
// payload, so an interrupted poll loop can resume from storage.
// Satisfies detect.Saver.
func (s *Store) SaveJob(ctx context.Context, job *detect.Job) error {
	payload, err := job.RawPayload()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO jobs (id, document_id, filename, analysis_id, status,
			message, payload, created_at, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			analysis_id = excluded.analysis_id,
			status = excluded.status,
			message = excluded.message,
			payload = excluded.payload,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at`),
		job.ID, job.DocumentID, job.Filename, job.JobID, string(job.Status),
		job.Message, string(payload), time.Now().UTC(),
		nullTime(job.StartedAt), nullTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob reloads a detection job, including its accumulated blocks.
func (s *Store) GetJob(ctx context.Context, id string) (*detect.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, document_id, filename, analysis_id, status, message,
			payload, started_at, updated_at
		FROM jobs WHERE id = ?`), id)
	return scanJob(row)
}

// LatestJobForDocument returns the most recently created job for a
// document.
func (s *Store) LatestJobForDocument(ctx context.Context, documentID string) (*detect.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, document_id, filename, analysis_id, status, message,
			payload, started_at, updated_at
		FROM jobs WHERE document_id = ?
		ORDER BY created_at DESC LIMIT 1`), documentID)
	return scanJob(row)
}

func scanJob(row rowScanner) (*detect.Job, error) {
	var (
		job       detect.Job
		status    string
		payload   string
		startedAt sql.NullTime
		updatedAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.DocumentID, &job.Filename, &job.JobID,
		&status, &job.Message, &payload, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = detect.Status(status)
	if payload != "" {
		if _, blocks, err := detect.ParsePayload([]byte(payload)); err == nil {
			job.Blocks = blocks
		} else {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}
	if startedAt.Valid {
		job.StartedAt = startedAt.Time.UTC()
	}
	if updatedAt.Valid {
		job.UpdatedAt = updatedAt.Time.UTC()
	}
	return &job, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
