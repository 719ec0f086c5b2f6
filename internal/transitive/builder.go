// Package transitive derives new mappings by composing existing ones: if
// A maps to B and B maps to C, then A maps to C with decayed confidence.
// Runs as an offline job with a persisted log row per run.
package transitive

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arpanauts/biomapper/internal/cache"
	"github.com/arpanauts/biomapper/internal/monitor"
	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

// insertBatchSize bounds how many derived rows go in before the builder
// checks for cancellation.
const insertBatchSize = 100

// Params tune one builder run.
type Params struct {
	// MinConfidence filters both the input snapshot and the derived output.
	MinConfidence float64
	// MaxChainLength is the longest composition, at least 2.
	MaxChainLength int
	// ConfidenceDecay in (0,1] is applied once per composed hop.
	ConfidenceDecay float64
}

func (p *Params) normalize() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0,1] (got %g)", p.MinConfidence)
	}
	if p.MaxChainLength == 0 {
		p.MaxChainLength = 2
	}
	if p.MaxChainLength < 2 {
		return fmt.Errorf("max chain length must be at least 2 (got %d)", p.MaxChainLength)
	}
	if p.ConfidenceDecay == 0 {
		p.ConfidenceDecay = 1
	}
	if p.ConfidenceDecay < 0 || p.ConfidenceDecay > 1 {
		return fmt.Errorf("confidence decay must be in (0,1] (got %g)", p.ConfidenceDecay)
	}
	return nil
}

// Builder runs derivation jobs against a snapshot of the mapping store.
// Writers active during a run are tolerated; their rows are picked up by the
// next run.
type Builder struct {
	store storage.Store
	cache *cache.Manager
	mon   *monitor.Monitor
	now   func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithMonitor attaches an event monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(b *Builder) { b.mon = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a builder writing derived rows through the cache manager.
func NewBuilder(store storage.Store, cacheMgr *cache.Manager, opts ...Option) *Builder {
	b := &Builder{store: store, cache: cacheMgr, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// nodeKey identifies an entity in the mapping graph.
type nodeKey struct {
	id  string
	typ string
}

// candidate is one derived mapping awaiting insert.
type candidate struct {
	source     types.EntityRef
	target     types.EntityRef
	confidence float64
	path       []int64
	chainLen   int
}

// Run executes one derivation job and returns its log row. The log row is
// persisted with status running before any work, then finalized with
// completed (length-2 only), completed_extended (longer chains ran), or
// error: <msg>.
func (b *Builder) Run(ctx context.Context, params Params) (*types.TransitiveJobLog, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}

	start := b.now().UTC()
	job := &types.TransitiveJobLog{
		JobID:     uuid.NewString(),
		StartedAt: start,
		Status:    types.JobRunning,
	}
	if err := b.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateJobLog(ctx, job)
	}); err != nil {
		return nil, fmt.Errorf("create job log: %w", err)
	}

	created, processed, err := b.derive(ctx, params)
	job.MappingsProcessed = processed
	job.NewMappings = created
	job.DurationSeconds = b.now().UTC().Sub(start).Seconds()
	if err != nil {
		job.Status = "error: " + err.Error()
	} else if params.MaxChainLength > 2 {
		job.Status = types.JobCompletedExtended
	} else {
		job.Status = types.JobCompleted
	}

	// Finalize the log row even on failure, under a fresh context so a
	// cancelled run still records its outcome.
	logCtx := ctx
	if logCtx.Err() != nil {
		var cancel context.CancelFunc
		logCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if updateErr := b.store.RunInTransaction(logCtx, func(tx storage.Transaction) error {
		return tx.UpdateJobLog(logCtx, job)
	}); updateErr != nil && err == nil {
		err = fmt.Errorf("update job log: %w", updateErr)
	}
	return job, err
}

// derive loads the snapshot and runs the composition passes, returning the
// count of derived rows written and the snapshot size.
func (b *Builder) derive(ctx context.Context, params Params) (created, processed int, err error) {
	var snapshot []*types.EntityMapping
	err = b.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		snapshot, err = tx.AllMappings(ctx, params.MinConfidence)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("load snapshot: %w", err)
	}
	processed = len(snapshot)

	// Direct (non-derived) quads in the snapshot; derivations never shadow
	// these.
	direct := make(map[types.MappingKey]bool)
	for _, m := range snapshot {
		if !m.IsDerived {
			direct[m.Key()] = true
		}
	}

	seen := make(map[types.MappingKey]bool)
	candidates := b.lengthTwo(snapshot, params, direct, seen)
	for k := 3; k <= params.MaxChainLength; k++ {
		candidates = append(candidates, b.lengthK(snapshot, params, k, direct, seen)...)
	}

	created, err = b.insert(ctx, candidates)
	return created, processed, err
}

// lengthTwo composes all row pairs (m1, m2) with m1.target == m2.source.
func (b *Builder) lengthTwo(snapshot []*types.EntityMapping, params Params, direct, seen map[types.MappingKey]bool) []candidate {
	bySource := make(map[nodeKey][]*types.EntityMapping)
	for _, m := range snapshot {
		k := nodeKey{m.SourceID, m.SourceType}
		bySource[k] = append(bySource[k], m)
	}

	var out []candidate
	for _, m1 := range snapshot {
		for _, m2 := range bySource[nodeKey{m1.TargetID, m1.TargetType}] {
			c := candidate{
				source:     types.EntityRef{ID: m1.SourceID, Type: m1.SourceType},
				target:     types.EntityRef{ID: m2.TargetID, Type: m2.TargetType},
				confidence: m1.Confidence * m2.Confidence * params.ConfidenceDecay,
				path:       []int64{m1.ID, m2.ID},
				chainLen:   2,
			}
			if b.accept(c, params, direct, seen) {
				out = append(out, c)
			}
		}
	}
	return out
}

// lengthK enumerates all simple paths of exactly k edges by depth-first
// search over an adjacency map.
func (b *Builder) lengthK(snapshot []*types.EntityMapping, params Params, k int, direct, seen map[types.MappingKey]bool) []candidate {
	adjacency := make(map[nodeKey][]*types.EntityMapping)
	for _, m := range snapshot {
		key := nodeKey{m.SourceID, m.SourceType}
		adjacency[key] = append(adjacency[key], m)
	}
	decay := math.Pow(params.ConfidenceDecay, float64(k-1))

	var out []candidate
	var walk func(path []*types.EntityMapping, visited map[nodeKey]bool)
	walk = func(path []*types.EntityMapping, visited map[nodeKey]bool) {
		last := path[len(path)-1]
		tail := nodeKey{last.TargetID, last.TargetType}
		if len(path) == k {
			conf := decay
			ids := make([]int64, len(path))
			for i, m := range path {
				conf *= m.Confidence
				ids[i] = m.ID
			}
			c := candidate{
				source:     types.EntityRef{ID: path[0].SourceID, Type: path[0].SourceType},
				target:     types.EntityRef{ID: last.TargetID, Type: last.TargetType},
				confidence: conf,
				path:       ids,
				chainLen:   k,
			}
			if b.accept(c, params, direct, seen) {
				out = append(out, c)
			}
			return
		}
		for _, next := range adjacency[tail] {
			nextNode := nodeKey{next.TargetID, next.TargetType}
			if visited[nextNode] {
				continue
			}
			visited[nextNode] = true
			walk(append(path, next), visited)
			delete(visited, nextNode)
		}
	}

	for _, m := range snapshot {
		src := nodeKey{m.SourceID, m.SourceType}
		tgt := nodeKey{m.TargetID, m.TargetType}
		if src == tgt {
			continue
		}
		visited := map[nodeKey]bool{src: true, tgt: true}
		walk([]*types.EntityMapping{m}, visited)
	}
	return out
}

// accept applies the shared accept/reject rules and claims the quad in seen.
func (b *Builder) accept(c candidate, params Params, direct, seen map[types.MappingKey]bool) bool {
	if c.source == c.target {
		return false
	}
	if c.confidence < params.MinConfidence {
		return false
	}
	key := types.MappingKey{
		SourceID: c.source.ID, SourceType: c.source.Type,
		TargetID: c.target.ID, TargetType: c.target.Type,
	}
	if direct[key] || direct[key.Reversed()] {
		return false
	}
	if seen[key] || seen[key.Reversed()] {
		return false
	}
	seen[key] = true
	return true
}

// insert writes candidates through the cache manager in batches, checking
// for cancellation between batches.
func (b *Builder) insert(ctx context.Context, candidates []candidate) (int, error) {
	date := b.now().UTC().Format(time.RFC3339)
	created := 0

	for start := 0; start < len(candidates); start += insertBatchSize {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		end := start + insertBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		for _, c := range candidates[start:end] {
			_, err := b.cache.AddMapping(ctx, cache.AddRequest{
				Source:         c.source,
				Target:         c.target,
				Confidence:     c.confidence,
				MappingSource:  "derived",
				Derived:        true,
				DerivationPath: c.path,
				Metadata: map[string]string{
					"method":       "transitive",
					"chain_length": strconv.Itoa(c.chainLen),
					"date":         date,
				},
			})
			if err != nil {
				return created, fmt.Errorf("insert derived %s/%s -> %s/%s: %w",
					c.source.Type, c.source.ID, c.target.Type, c.target.ID, err)
			}
			created++

			if b.mon != nil {
				b.mon.Record(ctx, monitor.Event{
					Type:       monitor.EventDerive,
					EntityType: c.source.Type,
					Metadata: map[string]string{
						"target_type":  c.target.Type,
						"chain_length": strconv.Itoa(c.chainLen),
					},
				})
			}
		}
	}

	if created > 0 {
		day := b.now().UTC().Format("2006-01-02")
		err := b.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			return tx.IncrementStats(ctx, day, storage.StatsDelta{TransitiveDerivations: int64(created)})
		})
		if err != nil {
			return created, fmt.Errorf("record derivation stats: %w", err)
		}
	}
	return created, nil
}
