package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

// UpsertResource registers or updates a backend by name. created_at is
// preserved on update; updated_at always advances.
func (t *txStore) UpsertResource(ctx context.Context, r *types.ResourceMetadata) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	conn := string(r.ConnectionInfo)
	if conn == "" {
		conn = "{}"
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO resource_metadata
			(resource_name, resource_type, connection_info, priority, is_active, last_sync, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_name) DO UPDATE SET
			resource_type = excluded.resource_type,
			connection_info = excluded.connection_info,
			priority = excluded.priority,
			is_active = excluded.is_active,
			last_sync = excluded.last_sync,
			updated_at = excluded.updated_at`,
		r.Name, string(r.Type), conn, r.Priority, boolToInt(r.IsActive),
		r.LastSync, now, now)
	if err != nil {
		return fmt.Errorf("upsert resource: %w", err)
	}
	return nil
}

const resourceColumns = `resource_name, resource_type, connection_info,
	priority, is_active, last_sync, created_at, updated_at`

// GetResource returns one resource row, or storage.ErrNotFound.
func (t *txStore) GetResource(ctx context.Context, name string) (*types.ResourceMetadata, error) {
	row := t.conn.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resource_metadata WHERE resource_name = ?`, name)
	return scanResource(row)
}

// ListResources returns all resources, optionally only active ones, ordered
// by priority descending then name for deterministic output.
func (t *txStore) ListResources(ctx context.Context, activeOnly bool) ([]*types.ResourceMetadata, error) {
	query := `SELECT ` + resourceColumns + ` FROM resource_metadata`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority DESC, resource_name ASC`

	rows, err := t.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ResourceMetadata
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertCoverage records one resource's support for one ontology.
func (t *txStore) UpsertCoverage(ctx context.Context, c *types.OntologyCoverage) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO ontology_coverage (resource_name, ontology_type, support_level, entity_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_name, ontology_type) DO UPDATE SET
			support_level = excluded.support_level,
			entity_count = excluded.entity_count`,
		c.ResourceName, c.OntologyType, string(c.Support), c.EntityCount)
	if err != nil {
		return fmt.Errorf("upsert coverage: %w", err)
	}
	return nil
}

// GetCoverage returns one coverage row, or storage.ErrNotFound.
func (t *txStore) GetCoverage(ctx context.Context, resource, ontology string) (*types.OntologyCoverage, error) {
	c := &types.OntologyCoverage{ResourceName: resource, OntologyType: ontology}
	var level string
	var count sql.NullInt64
	err := t.conn.QueryRowContext(ctx, `
		SELECT support_level, entity_count FROM ontology_coverage
		WHERE resource_name = ? AND ontology_type = ?`, resource, ontology).
		Scan(&level, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get coverage: %w", err)
	}
	c.Support = types.SupportLevel(level)
	if count.Valid {
		c.EntityCount = &count.Int64
	}
	return c, nil
}

// ListCoverage returns all coverage rows for one resource.
func (t *txStore) ListCoverage(ctx context.Context, resource string) ([]*types.OntologyCoverage, error) {
	rows, err := t.conn.QueryContext(ctx, `
		SELECT ontology_type, support_level, entity_count FROM ontology_coverage
		WHERE resource_name = ? ORDER BY ontology_type ASC`, resource)
	if err != nil {
		return nil, fmt.Errorf("list coverage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.OntologyCoverage
	for rows.Next() {
		c := &types.OntologyCoverage{ResourceName: resource}
		var level string
		var count sql.NullInt64
		if err := rows.Scan(&c.OntologyType, &level, &count); err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		c.Support = types.SupportLevel(level)
		if count.Valid {
			c.EntityCount = &count.Int64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendOperationLog appends one operation record and returns its id.
func (t *txStore) AppendOperationLog(ctx context.Context, entry *types.OperationLog) (int64, error) {
	res, err := t.conn.ExecContext(ctx, `
		INSERT INTO operation_logs
			(resource_name, operation_type, source_type, target_type, query,
			 response_time_ms, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ResourceName, entry.OperationType, entry.SourceType, entry.TargetType,
		entry.Query, entry.ResponseMS, string(entry.Status), entry.ErrorMessage,
		entry.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append operation log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append operation log id: %w", err)
	}
	entry.ID = id
	return id, nil
}

// RecordPerformanceSample folds one observation into the running averages for
// (resource, op, source, target):
//
//	avg_new  = (avg_old * n + t) / (n + 1)
//	succ_new = (succ_old * n + s) / (n + 1)
//	n       += 1
//
// The first sample creates the row.
func (t *txStore) RecordPerformanceSample(ctx context.Context, resource, opType, sourceType, targetType string, responseMS int64, success bool) error {
	succ := 0.0
	if success {
		succ = 1.0
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO performance_metrics
			(resource_name, operation_type, source_type, target_type,
			 avg_response_time_ms, success_rate, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(resource_name, operation_type, source_type, target_type) DO UPDATE SET
			avg_response_time_ms = (avg_response_time_ms * sample_count + ?) / (sample_count + 1),
			success_rate = (success_rate * sample_count + ?) / (sample_count + 1),
			sample_count = sample_count + 1`,
		resource, opType, sourceType, targetType, float64(responseMS), succ,
		float64(responseMS), succ)
	if err != nil {
		return fmt.Errorf("record performance sample: %w", err)
	}
	return nil
}

// GetPerformance returns metrics rows matching the filter.
func (t *txStore) GetPerformance(ctx context.Context, filter storage.PerformanceFilter) ([]*types.PerformanceMetrics, error) {
	query := `SELECT resource_name, operation_type, source_type, target_type,
		avg_response_time_ms, success_rate, sample_count
		FROM performance_metrics WHERE 1=1`
	var args []interface{}
	if filter.ResourceName != "" {
		query += ` AND resource_name = ?`
		args = append(args, filter.ResourceName)
	}
	if filter.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, filter.OperationType)
	}
	if filter.SourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, filter.SourceType)
	}
	if filter.TargetType != "" {
		query += ` AND target_type = ?`
		args = append(args, filter.TargetType)
	}
	query += ` ORDER BY resource_name, operation_type, source_type, target_type`

	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query performance metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.PerformanceMetrics
	for rows.Next() {
		var p types.PerformanceMetrics
		if err := rows.Scan(&p.ResourceName, &p.OperationType, &p.SourceType,
			&p.TargetType, &p.AvgResponseMS, &p.SuccessRate, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("scan performance metrics: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ClearOperationLogs deletes log rows, optionally bounded by age and resource.
func (t *txStore) ClearOperationLogs(ctx context.Context, olderThan *time.Time, resource string) (int64, error) {
	query := `DELETE FROM operation_logs WHERE 1=1`
	var args []interface{}
	if olderThan != nil {
		query += ` AND created_at < ?`
		args = append(args, *olderThan)
	}
	if resource != "" {
		query += ` AND resource_name = ?`
		args = append(args, resource)
	}
	res, err := t.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear operation logs: %w", err)
	}
	return res.RowsAffected()
}

func scanResource(row rowScanner) (*types.ResourceMetadata, error) {
	var r types.ResourceMetadata
	var rtype, connInfo string
	var active int
	var lastSync sql.NullTime
	err := row.Scan(&r.Name, &rtype, &connInfo, &r.Priority, &active,
		&lastSync, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	r.Type = types.ResourceType(rtype)
	r.ConnectionInfo = []byte(connInfo)
	r.IsActive = active != 0
	if lastSync.Valid {
		ts := lastSync.Time
		r.LastSync = &ts
	}
	return &r, nil
}
