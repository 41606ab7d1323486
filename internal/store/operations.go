package store

import (
	"database/sql"
	"fmt"

	"github.com/clipforge/clipforge/internal/core"
	"github.com/clipforge/clipforge/internal/provider"
)

func (s *Store) CreateJob(job *core.QueuedJob) error {
	loop := 0
	if job.Params.Loop {
		loop = 1
	}

	// Recovered jobs pass back through Submit with their original ids, so
	// a row that already exists is left untouched.
	_, err := s.db.Exec(`
		INSERT INTO render_jobs (id, batch_id, prompt, model, duration_sec, aspect_ratio, loop_video, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, job.ID, job.BatchID, job.Params.Prompt, job.Params.Model, job.Params.DurationSec,
		job.Params.AspectRatio, loop, string(core.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) SetProviderJobID(jobID, providerJobID string) error {
	_, err := s.db.Exec(`
		UPDATE render_jobs SET provider_job_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, providerJobID, jobID)
	if err != nil {
		return fmt.Errorf("failed to set provider job id: %w", err)
	}
	return nil
}

func (s *Store) UpdateJobStatus(jobID string, status core.JobStatus, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE render_jobs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), errMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (s *Store) RecordAsset(jobID, batchID string, kind provider.AssetKind, location string, sizeBytes int64, version int) error {
	_, err := s.db.Exec(`
		INSERT INTO downloaded_assets (job_id, batch_id, kind, location, size_bytes, version)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, batchID, string(kind), location, sizeBytes, version)
	if err != nil {
		return fmt.Errorf("failed to record asset: %w", err)
	}
	return nil
}

func (s *Store) UpdateDownload(jobID string, status core.DownloadStatus, retryCount int, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO download_jobs (job_id, status, retry_count, error_message)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`, jobID, string(status), retryCount, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update download state: %w", err)
	}
	return nil
}

func (s *Store) GetJob(id string) (*JobRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, batch_id, prompt, model, duration_sec, aspect_ratio, loop_video,
		       provider_job_id, status, error_message, created_at, updated_at
		FROM render_jobs WHERE id = ?
	`, id)

	rec, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return rec, nil
}

func (s *Store) ListJobs(filter JobFilter) ([]*JobRecord, error) {
	query := `
		SELECT id, batch_id, prompt, model, duration_sec, aspect_ratio, loop_video,
		       provider_job_id, status, error_message, created_at, updated_at
		FROM render_jobs
	`
	var args []interface{}
	where := ""

	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, filter.Status)
	}
	if filter.BatchID != "" {
		if where == "" {
			where = " WHERE batch_id = ?"
		} else {
			where += " AND batch_id = ?"
		}
		args = append(args, filter.BatchID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

func (s *Store) ListAssets(jobID string) ([]*AssetRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, batch_id, kind, location, size_bytes, version, created_at
		FROM downloaded_assets WHERE job_id = ? ORDER BY version ASC, kind ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []*AssetRecord
	for rows.Next() {
		a := &AssetRecord{}
		if err := rows.Scan(&a.ID, &a.JobID, &a.BatchID, &a.Kind, &a.Location, &a.SizeBytes, &a.Version, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// RecoverInFlight resets jobs that were queued or running when the process
// died and returns them in submission order for re-dispatch.
func (s *Store) RecoverInFlight() ([]*core.QueuedJob, error) {
	if _, err := s.db.Exec(`
		UPDATE render_jobs SET status = ?, provider_job_id = '' WHERE status = ?
	`, string(core.JobStatusQueued), string(core.JobStatusInProgress)); err != nil {
		return nil, fmt.Errorf("failed to reset in-progress jobs: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, batch_id, prompt, model, duration_sec, aspect_ratio, loop_video,
		       provider_job_id, status, error_message, created_at, updated_at
		FROM render_jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC
	`, string(core.JobStatusQueued))
	if err != nil {
		return nil, fmt.Errorf("failed to query queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.QueuedJob
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, &core.QueuedJob{
			ID:      rec.ID,
			BatchID: rec.BatchID,
			Params: provider.GenerationParams{
				Prompt:      rec.Prompt,
				Model:       rec.Model,
				DurationSec: rec.DurationSec,
				AspectRatio: rec.AspectRatio,
				Loop:        rec.Loop,
			},
			EnqueuedAt: rec.CreatedAt,
		})
	}
	return jobs, rows.Err()
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	rec := &JobRecord{}
	var loop int
	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Prompt, &rec.Model, &rec.DurationSec,
		&rec.AspectRatio, &loop, &rec.ProviderJobID, &rec.Status,
		&rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Loop = loop == 1
	return rec, nil
}
