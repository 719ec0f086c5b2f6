package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

const mappingColumns = `id, source_id, source_type, target_id, target_type,
	confidence, mapping_source, is_derived, derivation_path,
	created_at, last_updated, expires_at, usage_count`

// GetMapping returns the row for the exact quad, or storage.ErrNotFound.
func (t *txStore) GetMapping(ctx context.Context, key types.MappingKey) (*types.EntityMapping, error) {
	row := t.conn.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM entity_mappings
		WHERE source_id = ? AND source_type = ? AND target_id = ? AND target_type = ?`,
		key.SourceID, key.SourceType, key.TargetID, key.TargetType)

	m, err := scanMapping(row)
	if err != nil {
		return nil, err
	}
	if err := t.attachMetadata(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// FindMappingsBySource returns rows whose source matches, optionally filtered
// by target type, derivation flag, and minimum confidence. Ordered by
// confidence descending for deterministic results.
func (t *txStore) FindMappingsBySource(ctx context.Context, sourceID, sourceType, targetType string, includeDerived bool, minConfidence float64) ([]*types.EntityMapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM entity_mappings
		WHERE source_id = ? AND source_type = ? AND confidence >= ?`
	args := []interface{}{sourceID, sourceType, minConfidence}
	if targetType != "" {
		query += ` AND target_type = ?`
		args = append(args, targetType)
	}
	if !includeDerived {
		query += ` AND is_derived = 0`
	}
	query += ` ORDER BY confidence DESC, id ASC`
	return t.queryMappings(ctx, query, args...)
}

// FindMappingsByTarget is the mirror of FindMappingsBySource for rows where
// the entity appears in the target role.
func (t *txStore) FindMappingsByTarget(ctx context.Context, targetID, targetType, sourceType string, includeDerived bool, minConfidence float64) ([]*types.EntityMapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM entity_mappings
		WHERE target_id = ? AND target_type = ? AND confidence >= ?`
	args := []interface{}{targetID, targetType, minConfidence}
	if sourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, sourceType)
	}
	if !includeDerived {
		query += ` AND is_derived = 0`
	}
	query += ` ORDER BY confidence DESC, id ASC`
	return t.queryMappings(ctx, query, args...)
}

// AllMappings returns every row at or above minConfidence. Used by the
// transitivity builder to take its snapshot. Metadata bags are not loaded.
func (t *txStore) AllMappings(ctx context.Context, minConfidence float64) ([]*types.EntityMapping, error) {
	rows, err := t.conn.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM entity_mappings
		WHERE confidence >= ?
		ORDER BY id ASC`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectMappings(rows)
}

// InsertMapping inserts a new row and returns its id. The caller is
// responsible for uniqueness; a duplicate quad surfaces storage.ErrConflict.
func (t *txStore) InsertMapping(ctx context.Context, m *types.EntityMapping) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	path, err := json.Marshal(derivationPathOrEmpty(m.DerivationPath))
	if err != nil {
		return 0, fmt.Errorf("marshal derivation path: %w", err)
	}
	res, err := t.conn.ExecContext(ctx, `
		INSERT INTO entity_mappings
			(source_id, source_type, target_id, target_type, confidence,
			 mapping_source, is_derived, derivation_path,
			 created_at, last_updated, expires_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SourceID, m.SourceType, m.TargetID, m.TargetType, m.Confidence,
		m.MappingSource, boolToInt(m.IsDerived), string(path),
		m.CreatedAt, m.LastUpdated, m.ExpiresAt, m.UsageCount)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert mapping id: %w", err)
	}
	m.ID = id
	return id, nil
}

// UpdateMapping rewrites the mutable columns of an existing row by id.
// The quad itself never changes.
func (t *txStore) UpdateMapping(ctx context.Context, m *types.EntityMapping) error {
	if m.ID == 0 {
		return fmt.Errorf("update mapping: missing id")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	path, err := json.Marshal(derivationPathOrEmpty(m.DerivationPath))
	if err != nil {
		return fmt.Errorf("marshal derivation path: %w", err)
	}
	res, err := t.conn.ExecContext(ctx, `
		UPDATE entity_mappings
		SET confidence = ?, mapping_source = ?, is_derived = ?,
		    derivation_path = ?, last_updated = ?, expires_at = ?
		WHERE id = ?`,
		m.Confidence, m.MappingSource, boolToInt(m.IsDerived),
		string(path), m.LastUpdated, m.ExpiresAt, m.ID)
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ReplaceMappingMetadata replaces the entire metadata bag for a mapping row.
func (t *txStore) ReplaceMappingMetadata(ctx context.Context, mappingID int64, metadata map[string]string) error {
	if _, err := t.conn.ExecContext(ctx,
		`DELETE FROM mapping_metadata WHERE mapping_id = ?`, mappingID); err != nil {
		return fmt.Errorf("clear mapping metadata: %w", err)
	}
	for k, v := range metadata {
		if _, err := t.conn.ExecContext(ctx,
			`INSERT INTO mapping_metadata (mapping_id, key, value) VALUES (?, ?, ?)`,
			mappingID, k, v); err != nil {
			return fmt.Errorf("insert mapping metadata: %w", err)
		}
	}
	return nil
}

// TouchMappings increments usage_count and bumps last_updated for each id.
// Increments use in-place SQL updates so concurrent lookups never lose counts.
func (t *txStore) TouchMappings(ctx context.Context, ids []int64, now time.Time) error {
	for _, id := range ids {
		if _, err := t.conn.ExecContext(ctx, `
			UPDATE entity_mappings
			SET usage_count = usage_count + 1, last_updated = ?
			WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("touch mapping %d: %w", id, err)
		}
	}
	return nil
}

// DeleteExpired removes every row with expires_at strictly before now and
// returns the number deleted. Metadata bags go with their rows via cascade.
func (t *txStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := t.conn.ExecContext(ctx,
		`DELETE FROM entity_mappings WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

// GetEntityTypeConfig returns defaults for a type pair, or storage.ErrNotFound.
func (t *txStore) GetEntityTypeConfig(ctx context.Context, sourceType, targetType string) (*types.EntityTypeConfig, error) {
	cfg := &types.EntityTypeConfig{SourceType: sourceType, TargetType: targetType}
	err := t.conn.QueryRowContext(ctx, `
		SELECT ttl_days, confidence_threshold
		FROM entity_type_config
		WHERE source_type = ? AND target_type = ?`,
		sourceType, targetType).Scan(&cfg.TTLDays, &cfg.ConfidenceThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity type config: %w", err)
	}
	return cfg, nil
}

// SetEntityTypeConfig upserts defaults for a type pair.
func (t *txStore) SetEntityTypeConfig(ctx context.Context, cfg *types.EntityTypeConfig) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO entity_type_config (source_type, target_type, ttl_days, confidence_threshold)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_type, target_type) DO UPDATE SET
			ttl_days = excluded.ttl_days,
			confidence_threshold = excluded.confidence_threshold`,
		cfg.SourceType, cfg.TargetType, cfg.TTLDays, cfg.ConfidenceThreshold)
	if err != nil {
		return fmt.Errorf("set entity type config: %w", err)
	}
	return nil
}

func (t *txStore) queryMappings(ctx context.Context, query string, args ...interface{}) ([]*types.EntityMapping, error) {
	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	mappings, err := collectMappings(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		if err := t.attachMetadata(ctx, m); err != nil {
			return nil, err
		}
	}
	return mappings, nil
}

func (t *txStore) attachMetadata(ctx context.Context, m *types.EntityMapping) error {
	rows, err := t.conn.QueryContext(ctx,
		`SELECT key, value FROM mapping_metadata WHERE mapping_id = ?`, m.ID)
	if err != nil {
		return fmt.Errorf("query mapping metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scan mapping metadata: %w", err)
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]string)
		}
		m.Metadata[k] = v
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row rowScanner) (*types.EntityMapping, error) {
	var m types.EntityMapping
	var derived int
	var path string
	err := row.Scan(&m.ID, &m.SourceID, &m.SourceType, &m.TargetID, &m.TargetType,
		&m.Confidence, &m.MappingSource, &derived, &path,
		&m.CreatedAt, &m.LastUpdated, &m.ExpiresAt, &m.UsageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	m.IsDerived = derived != 0
	if path != "" && path != "[]" {
		if err := json.Unmarshal([]byte(path), &m.DerivationPath); err != nil {
			return nil, fmt.Errorf("parse derivation path: %w", err)
		}
	}
	return &m, nil
}

func collectMappings(rows *sql.Rows) ([]*types.EntityMapping, error) {
	var out []*types.EntityMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func derivationPathOrEmpty(path []int64) []int64 {
	if path == nil {
		return []int64{}
	}
	return path
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
