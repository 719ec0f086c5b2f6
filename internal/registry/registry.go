// Package registry maintains the catalog of mapping backends: their ontology
// coverage, performance aggregates, operation logs, and runtime capabilities.
// The dispatcher consults it to rank candidate resources per request.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

// Weights of the resource ranking formula. Priority dominates; success rate
// and latency refine the order among same-priority resources.
const (
	scorePriorityWeight = 100.0
	scoreSuccessWeight  = 50.0
	scoreLatencyWeight  = 25.0
	latencyCeilingMS    = 1000.0
)

// Registry is safe for concurrent use. Persistent state lives in the store's
// metadata schema; the capability table is runtime-only.
type Registry struct {
	store storage.Store

	mu   sync.RWMutex
	caps map[string][]types.ResourceCapability
}

// New creates a registry over the given store.
func New(store storage.Store) *Registry {
	return &Registry{
		store: store,
		caps:  make(map[string][]types.ResourceCapability),
	}
}

// RegisterResource upserts a backend by name.
func (r *Registry) RegisterResource(ctx context.Context, meta *types.ResourceMetadata) error {
	return r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.UpsertResource(ctx, meta)
	})
}

// GetResource returns one registered backend, or nil when unknown.
func (r *Registry) GetResource(ctx context.Context, name string) (*types.ResourceMetadata, error) {
	var meta *types.ResourceMetadata
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		meta, err = tx.GetResource(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			meta = nil
			return nil
		}
		return err
	})
	return meta, err
}

// ListResources returns all backends, optionally only active ones.
func (r *Registry) ListResources(ctx context.Context, activeOnly bool) ([]*types.ResourceMetadata, error) {
	var out []*types.ResourceMetadata
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		out, err = tx.ListResources(ctx, activeOnly)
		return err
	})
	return out, err
}

// RegisterOntologyCoverage upserts a resource's support for one ontology.
func (r *Registry) RegisterOntologyCoverage(ctx context.Context, resource, ontology string, level types.SupportLevel, entityCount *int64) error {
	return r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.UpsertCoverage(ctx, &types.OntologyCoverage{
			ResourceName: resource,
			OntologyType: ontology,
			Support:      level,
			EntityCount:  entityCount,
		})
	})
}

// HasOntologySupport reports whether the resource covers the ontology at or
// above the given level. Unknown resources or ontologies count as none.
func (r *Registry) HasOntologySupport(ctx context.Context, resource, ontology string, min types.SupportLevel) (bool, error) {
	var ok bool
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cov, err := tx.GetCoverage(ctx, resource, ontology)
		if errors.Is(err, storage.ErrNotFound) {
			ok = types.SupportNone.AtLeast(min)
			return nil
		}
		if err != nil {
			return err
		}
		ok = cov.Support.AtLeast(min)
		return nil
	})
	return ok, err
}

// LogOperation appends one operation record. When a response time is present
// the running performance aggregates for (resource, op, source, target) are
// updated in the same transaction, counting status "success" as a success
// sample and anything else as a failure.
func (r *Registry) LogOperation(ctx context.Context, entry *types.OperationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.AppendOperationLog(ctx, entry); err != nil {
			return err
		}
		if entry.ResponseMS == nil {
			return nil
		}
		return tx.RecordPerformanceSample(ctx, entry.ResourceName,
			entry.OperationType, entry.SourceType, entry.TargetType,
			*entry.ResponseMS, entry.Status == types.StatusSuccess)
	})
}

// PerformanceMetrics returns aggregate rows matching the filter.
func (r *Registry) PerformanceMetrics(ctx context.Context, filter storage.PerformanceFilter) ([]*types.PerformanceMetrics, error) {
	var out []*types.PerformanceMetrics
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		out, err = tx.GetPerformance(ctx, filter)
		return err
	})
	return out, err
}

// ClearOperationLogs deletes operation logs, optionally bounded by age in
// days and/or resource name. Returns the number of rows removed.
func (r *Registry) ClearOperationLogs(ctx context.Context, olderThanDays int, resource string) (int64, error) {
	var cutoff *time.Time
	if olderThanDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, -olderThanDays)
		cutoff = &t
	}
	var deleted int64
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		deleted, err = tx.ClearOperationLogs(ctx, cutoff, resource)
		return err
	})
	return deleted, err
}

// PreferredResourceOrder ranks active resources that cover both the source
// and target ontology at partial support or better.
//
// Score: priority*100 + success_rate*50 + (1 - normalized_latency)*25, with
// normalized_latency = min(1000, avg_response_time_ms)/1000. Resources with
// no recorded metrics contribute 0 for both metric terms. When
// minSuccessRate > 0, resources whose recorded success rate falls below it
// are dropped (resources with no samples are kept, since there is nothing
// to judge them by yet). Ties break by priority, then name.
func (r *Registry) PreferredResourceOrder(ctx context.Context, sourceType, targetType, opType string, minSuccessRate float64) ([]string, error) {
	type candidate struct {
		name     string
		priority int
		score    float64
	}

	var candidates []candidate
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		resources, err := tx.ListResources(ctx, true)
		if err != nil {
			return err
		}
		for _, res := range resources {
			srcCov, err := coverageOrNone(ctx, tx, res.Name, sourceType)
			if err != nil {
				return err
			}
			tgtCov, err := coverageOrNone(ctx, tx, res.Name, targetType)
			if err != nil {
				return err
			}
			if !srcCov.AtLeast(types.SupportPartial) || !tgtCov.AtLeast(types.SupportPartial) {
				continue
			}

			score := float64(res.Priority) * scorePriorityWeight
			metrics, err := tx.GetPerformance(ctx, storage.PerformanceFilter{
				ResourceName:  res.Name,
				OperationType: opType,
				SourceType:    sourceType,
				TargetType:    targetType,
			})
			if err != nil {
				return err
			}
			if len(metrics) > 0 && metrics[0].SampleCount > 0 {
				m := metrics[0]
				if minSuccessRate > 0 && m.SuccessRate < minSuccessRate {
					continue
				}
				normLatency := m.AvgResponseMS
				if normLatency > latencyCeilingMS {
					normLatency = latencyCeilingMS
				}
				normLatency /= latencyCeilingMS
				score += m.SuccessRate*scoreSuccessWeight + (1-normLatency)*scoreLatencyWeight
			}

			candidates = append(candidates, candidate{
				name:     res.Name,
				priority: res.Priority,
				score:    score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].name < candidates[j].name
	})

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names, nil
}

// RegisterCapability declares a runtime capability for a resource, replacing
// any previous capability of the same name.
func (r *Registry) RegisterCapability(resource string, cap types.ResourceCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	caps := r.caps[resource]
	for i, existing := range caps {
		if existing.Name == cap.Name {
			caps[i] = cap
			return
		}
	}
	r.caps[resource] = append(caps, cap)
}

// Capabilities returns the runtime capabilities declared for a resource.
func (r *Registry) Capabilities(resource string) []types.ResourceCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ResourceCapability, len(r.caps[resource]))
	copy(out, r.caps[resource])
	return out
}

// FindByCapability answers "who can do X?": the resources that declared the
// named capability, sorted by declared confidence descending then name.
func (r *Registry) FindByCapability(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type match struct {
		resource   string
		confidence float64
	}
	var matches []match
	for resource, caps := range r.caps {
		for _, c := range caps {
			if c.Name == name {
				matches = append(matches, match{resource, c.Confidence})
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].confidence != matches[j].confidence {
			return matches[i].confidence > matches[j].confidence
		}
		return matches[i].resource < matches[j].resource
	})
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.resource
	}
	return out
}

func coverageOrNone(ctx context.Context, tx storage.Transaction, resource, ontology string) (types.SupportLevel, error) {
	cov, err := tx.GetCoverage(ctx, resource, ontology)
	if errors.Is(err, storage.ErrNotFound) {
		return types.SupportNone, nil
	}
	if err != nil {
		return types.SupportNone, err
	}
	return cov.Support, nil
}
