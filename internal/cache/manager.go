// Package cache implements the transactional façade over the mapping store:
// bidirectional insert, lookup with usage bookkeeping, TTL expiry, and daily
// statistics.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/arpanauts/biomapper/internal/monitor"
	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

// Manager owns all mutation of the mapping schema. Every public operation
// runs inside one store transaction; on any store error the transaction is
// rolled back and the error surfaces unchanged.
type Manager struct {
	store storage.Store
	mon   *monitor.Monitor
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMonitor attaches an event monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(mgr *Manager) { mgr.mon = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager creates a cache manager over the given store.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LookupOptions narrow a lookup. The zero value means: any target type,
// derived rows included, no confidence floor.
type LookupOptions struct {
	TargetType     string
	ExcludeDerived bool
	MinConfidence  float64
}

// AddRequest describes one upsert. TTLDays zero means "resolve via entity
// type config, falling back to the global default". Unidirectional suppresses
// the reverse row that is otherwise written whenever source != target.
type AddRequest struct {
	Source         types.EntityRef
	Target         types.EntityRef
	Confidence     float64
	MappingSource  string
	Derived        bool
	DerivationPath []int64
	Metadata       map[string]string
	TTLDays        int
	Unidirectional bool
}

// Lookup returns every row whose source matches, honoring the options, and
// updates bookkeeping: each returned row's usage_count is incremented and
// last_updated bumped, and the day's stats reflect the outcome.
//
// Stats classification on mixed results: hits is incremented once when any
// row is returned (misses otherwise); direct_lookups when any returned row
// is direct and derived_lookups when any is derived, so both can advance on
// one lookup.
func (m *Manager) Lookup(ctx context.Context, entityID, entityType string, opts LookupOptions) ([]*types.MappingResult, error) {
	var results []*types.MappingResult
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		rows, err := tx.FindMappingsBySource(ctx, entityID, entityType,
			opts.TargetType, !opts.ExcludeDerived, opts.MinConfidence)
		if err != nil {
			return err
		}
		if err := m.recordLookup(ctx, tx, rows); err != nil {
			return err
		}
		results = resultsFromRows(rows, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.emitLookup(ctx, entityType, len(results))
	return results, nil
}

// BidirectionalLookup unions rows where the entity appears as source with
// rows where it appears as target, suppressing duplicates by quad. Rows
// found in the target role are reported from the caller's perspective: the
// row's source becomes the result target.
func (m *Manager) BidirectionalLookup(ctx context.Context, entityID, entityType string, opts LookupOptions) ([]*types.MappingResult, error) {
	var results []*types.MappingResult
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		forward, err := tx.FindMappingsBySource(ctx, entityID, entityType,
			opts.TargetType, !opts.ExcludeDerived, opts.MinConfidence)
		if err != nil {
			return err
		}
		reverse, err := tx.FindMappingsByTarget(ctx, entityID, entityType,
			opts.TargetType, !opts.ExcludeDerived, opts.MinConfidence)
		if err != nil {
			return err
		}

		seen := make(map[types.MappingKey]bool, len(forward))
		var touched []*types.EntityMapping
		for _, row := range forward {
			seen[row.Key()] = true
			touched = append(touched, row)
		}
		var flipped []*types.EntityMapping
		for _, row := range reverse {
			// Suppress rows whose mirror was already returned.
			if seen[row.Key()] || seen[row.Key().Reversed()] {
				continue
			}
			seen[row.Key()] = true
			touched = append(touched, row)
			flipped = append(flipped, row)
		}

		if err := m.recordLookup(ctx, tx, touched); err != nil {
			return err
		}
		results = resultsFromRows(forward, false)
		results = append(results, resultsFromRows(flipped, true)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.emitLookup(ctx, entityType, len(results))
	return results, nil
}

// AddMapping upserts a mapping row (and, unless suppressed, its reverse).
// An existing quad has its confidence, mapping source, derivation fields,
// expiry, and metadata bag replaced; a new quad is inserted with
// usage_count = 1. TTLs are recomputed per direction from the entity type
// config. Returns the forward row as a result.
func (m *Manager) AddMapping(ctx context.Context, req AddRequest) (*types.MappingResult, error) {
	if err := validateAdd(req); err != nil {
		return nil, err
	}

	var forward *types.EntityMapping
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		now := m.now().UTC()
		var err error
		forward, err = m.upsertOne(ctx, tx, req, req.Source, req.Target, now)
		if err != nil {
			return err
		}
		if !req.Unidirectional && req.Source != req.Target {
			if _, err := m.upsertOne(ctx, tx, req, req.Target, req.Source, now); err != nil {
				return err
			}
		}
		return tx.IncrementStats(ctx, day(now), storage.StatsDelta{APICalls: 1})
	})
	if err != nil {
		return nil, err
	}

	if m.mon != nil {
		m.mon.Record(ctx, monitor.Event{
			Type:       monitor.EventAdd,
			EntityType: req.Source.Type,
			Metadata:   map[string]string{"target_type": req.Target.Type, "source": req.MappingSource},
		})
	}
	res := resultFromRow(forward, false)
	return res, nil
}

// BulkAddMappings adds each request in turn. A single item's failure is
// logged and skipped; the count of successful adds is returned.
func (m *Manager) BulkAddMappings(ctx context.Context, reqs []AddRequest) (int, error) {
	added := 0
	for i, req := range reqs {
		if _, err := m.AddMapping(ctx, req); err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			log.Printf("cache: bulk add item %d (%s/%s -> %s/%s) skipped: %v",
				i, req.Source.Type, req.Source.ID, req.Target.Type, req.Target.ID, err)
			continue
		}
		added++
	}
	return added, nil
}

// DeleteExpired removes all rows whose expiry has passed and returns the
// count removed.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	var deleted int64
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		deleted, err = tx.DeleteExpired(ctx, m.now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	if m.mon != nil && deleted > 0 {
		m.mon.Record(ctx, monitor.Event{
			Type:     monitor.EventDelete,
			Metadata: map[string]string{"deleted": strconv.FormatInt(deleted, 10), "reason": "expired"},
		})
	}
	return deleted, nil
}

// CacheStats returns daily aggregates for the inclusive [start, end] day
// range; empty bounds are open-ended. Days are UTC, formatted YYYY-MM-DD.
func (m *Manager) CacheStats(ctx context.Context, startDay, endDay string) ([]*types.CacheStats, error) {
	var stats []*types.CacheStats
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		stats, err = tx.GetCacheStats(ctx, startDay, endDay)
		return err
	})
	return stats, err
}

// EntityTypeConfig returns the defaults for a type pair, or nil when none
// are configured.
func (m *Manager) EntityTypeConfig(ctx context.Context, sourceType, targetType string) (*types.EntityTypeConfig, error) {
	var cfg *types.EntityTypeConfig
	err := m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		cfg, err = tx.GetEntityTypeConfig(ctx, sourceType, targetType)
		if errors.Is(err, storage.ErrNotFound) {
			cfg = nil
			return nil
		}
		return err
	})
	return cfg, err
}

// SetEntityTypeConfig stores defaults for a type pair.
func (m *Manager) SetEntityTypeConfig(ctx context.Context, cfg *types.EntityTypeConfig) error {
	return m.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.SetEntityTypeConfig(ctx, cfg)
	})
}

// upsertOne applies the insert-or-update for one direction, recomputing the
// TTL for that direction from the entity type config.
func (m *Manager) upsertOne(ctx context.Context, tx storage.Transaction, req AddRequest, source, target types.EntityRef, now time.Time) (*types.EntityMapping, error) {
	ttl, err := m.resolveTTL(ctx, tx, req.TTLDays, source.Type, target.Type)
	if err != nil {
		return nil, err
	}
	expires := now.Add(time.Duration(ttl) * 24 * time.Hour)

	key := types.MappingKey{
		SourceID: source.ID, SourceType: source.Type,
		TargetID: target.ID, TargetType: target.Type,
	}
	existing, err := tx.GetMapping(ctx, key)
	switch {
	case err == nil:
		existing.Confidence = types.ClampConfidence(req.Confidence)
		existing.MappingSource = req.MappingSource
		existing.IsDerived = req.Derived
		existing.DerivationPath = req.DerivationPath
		existing.LastUpdated = now
		existing.ExpiresAt = expires
		if err := tx.UpdateMapping(ctx, existing); err != nil {
			return nil, err
		}
		if err := tx.ReplaceMappingMetadata(ctx, existing.ID, req.Metadata); err != nil {
			return nil, err
		}
		existing.Metadata = req.Metadata
		return existing, nil

	case errors.Is(err, storage.ErrNotFound):
		row := &types.EntityMapping{
			SourceID: source.ID, SourceType: source.Type,
			TargetID: target.ID, TargetType: target.Type,
			Confidence:     types.ClampConfidence(req.Confidence),
			MappingSource:  req.MappingSource,
			IsDerived:      req.Derived,
			DerivationPath: req.DerivationPath,
			CreatedAt:      now,
			LastUpdated:    now,
			ExpiresAt:      expires,
			UsageCount:     1,
		}
		if _, err := tx.InsertMapping(ctx, row); err != nil {
			return nil, err
		}
		if len(req.Metadata) > 0 {
			if err := tx.ReplaceMappingMetadata(ctx, row.ID, req.Metadata); err != nil {
				return nil, err
			}
			row.Metadata = req.Metadata
		}
		return row, nil

	default:
		return nil, err
	}
}

func (m *Manager) resolveTTL(ctx context.Context, tx storage.Transaction, requested int, sourceType, targetType string) (int, error) {
	if requested > 0 {
		return requested, nil
	}
	cfg, err := tx.GetEntityTypeConfig(ctx, sourceType, targetType)
	if errors.Is(err, storage.ErrNotFound) {
		return types.DefaultTTLDays, nil
	}
	if err != nil {
		return 0, err
	}
	if cfg.TTLDays <= 0 {
		return types.DefaultTTLDays, nil
	}
	return cfg.TTLDays, nil
}

// recordLookup applies usage bookkeeping and stats for one lookup's rows.
func (m *Manager) recordLookup(ctx context.Context, tx storage.Transaction, rows []*types.EntityMapping) error {
	now := m.now().UTC()
	delta := storage.StatsDelta{}
	if len(rows) == 0 {
		delta.Misses = 1
	} else {
		delta.Hits = 1
		ids := make([]int64, 0, len(rows))
		anyDirect, anyDerived := false, false
		for _, row := range rows {
			ids = append(ids, row.ID)
			if row.IsDerived {
				anyDerived = true
			} else {
				anyDirect = true
			}
			row.UsageCount++
			row.LastUpdated = now
		}
		if anyDirect {
			delta.DirectLookups = 1
		}
		if anyDerived {
			delta.DerivedLookups = 1
		}
		if err := tx.TouchMappings(ctx, ids, now); err != nil {
			return err
		}
	}
	return tx.IncrementStats(ctx, day(now), delta)
}

func (m *Manager) emitLookup(ctx context.Context, entityType string, n int) {
	if m.mon == nil {
		return
	}
	typ := monitor.EventMiss
	if n > 0 {
		typ = monitor.EventHit
	}
	m.mon.Record(ctx, monitor.Event{
		Type:       typ,
		EntityType: entityType,
		Metadata:   map[string]string{"results": strconv.Itoa(n)},
	})
}

func validateAdd(req AddRequest) error {
	if req.Source.ID == "" || req.Source.Type == "" {
		return fmt.Errorf("source id and type are required")
	}
	if req.Target.ID == "" || req.Target.Type == "" {
		return fmt.Errorf("target id and type are required")
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1] (got %g)", req.Confidence)
	}
	if req.Derived != (len(req.DerivationPath) > 0) {
		return fmt.Errorf("derived flag must match presence of a derivation path")
	}
	return nil
}

func resultsFromRows(rows []*types.EntityMapping, flip bool) []*types.MappingResult {
	out := make([]*types.MappingResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, resultFromRow(row, flip))
	}
	return out
}

// resultFromRow converts a stored row into a caller-facing result. flip
// reports the row from the target entity's perspective.
func resultFromRow(row *types.EntityMapping, flip bool) *types.MappingResult {
	res := &types.MappingResult{
		SourceID:      row.SourceID,
		TargetID:      row.TargetID,
		TargetType:    row.TargetType,
		Confidence:    row.Confidence,
		MappingSource: row.MappingSource,
	}
	if flip {
		res.SourceID = row.TargetID
		res.TargetID = row.SourceID
		res.TargetType = row.SourceType
		res.SetMeta("reversed", "true")
	}
	res.SetMeta("cache_hit", "true")
	res.SetMeta("usage_count", strconv.Itoa(row.UsageCount))
	if row.IsDerived {
		res.SetMeta("derived", "true")
		res.SetMeta("derivation_path", formatPath(row.DerivationPath))
	}
	for k, v := range row.Metadata {
		res.SetMeta(k, v)
	}
	return res
}

func formatPath(path []int64) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// day formats a time as the UTC calendar day used for stats rows.
func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
