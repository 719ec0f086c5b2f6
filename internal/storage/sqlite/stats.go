package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

// IncrementStats applies the delta to the given day's counters. Increments
// run as in-place UPDATE ... SET x = x + ? so concurrent writers never lose
// updates.
func (t *txStore) IncrementStats(ctx context.Context, day string, delta storage.StatsDelta) error {
	if _, err := t.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_stats (date) VALUES (?)`, day); err != nil {
		return fmt.Errorf("ensure stats row: %w", err)
	}
	_, err := t.conn.ExecContext(ctx, `
		UPDATE cache_stats SET
			hits = hits + ?,
			misses = misses + ?,
			direct_lookups = direct_lookups + ?,
			derived_lookups = derived_lookups + ?,
			api_calls = api_calls + ?,
			transitive_derivations = transitive_derivations + ?
		WHERE date = ?`,
		delta.Hits, delta.Misses, delta.DirectLookups, delta.DerivedLookups,
		delta.APICalls, delta.TransitiveDerivations, day)
	if err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	return nil
}

// GetCacheStats returns daily rows in [startDay, endDay]; empty bounds are
// open-ended.
func (t *txStore) GetCacheStats(ctx context.Context, startDay, endDay string) ([]*types.CacheStats, error) {
	query := `SELECT date, hits, misses, direct_lookups, derived_lookups,
		api_calls, transitive_derivations FROM cache_stats WHERE 1=1`
	var args []interface{}
	if startDay != "" {
		query += ` AND date >= ?`
		args = append(args, startDay)
	}
	if endDay != "" {
		query += ` AND date <= ?`
		args = append(args, endDay)
	}
	query += ` ORDER BY date ASC`

	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cache stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.CacheStats
	for rows.Next() {
		var s types.CacheStats
		if err := rows.Scan(&s.Date, &s.Hits, &s.Misses, &s.DirectLookups,
			&s.DerivedLookups, &s.APICalls, &s.TransitiveDerivations); err != nil {
			return nil, fmt.Errorf("scan cache stats: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// CreateJobLog writes a new transitive job row.
func (t *txStore) CreateJobLog(ctx context.Context, job *types.TransitiveJobLog) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO transitive_job_log
			(job_id, started_at, status, mappings_processed, new_mappings_created, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.JobID, job.StartedAt, job.Status, job.MappingsProcessed,
		job.NewMappings, job.DurationSeconds)
	if err != nil {
		return fmt.Errorf("create job log: %w", err)
	}
	return nil
}

// UpdateJobLog rewrites the status and counters of an existing job row.
func (t *txStore) UpdateJobLog(ctx context.Context, job *types.TransitiveJobLog) error {
	res, err := t.conn.ExecContext(ctx, `
		UPDATE transitive_job_log
		SET status = ?, mappings_processed = ?, new_mappings_created = ?, duration_seconds = ?
		WHERE job_id = ?`,
		job.Status, job.MappingsProcessed, job.NewMappings, job.DurationSeconds, job.JobID)
	if err != nil {
		return fmt.Errorf("update job log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job log: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetJobLog returns one job row, or storage.ErrNotFound.
func (t *txStore) GetJobLog(ctx context.Context, jobID string) (*types.TransitiveJobLog, error) {
	var job types.TransitiveJobLog
	err := t.conn.QueryRowContext(ctx, `
		SELECT job_id, started_at, status, mappings_processed, new_mappings_created, duration_seconds
		FROM transitive_job_log WHERE job_id = ?`, jobID).
		Scan(&job.JobID, &job.StartedAt, &job.Status, &job.MappingsProcessed,
			&job.NewMappings, &job.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job log: %w", err)
	}
	return &job, nil
}
