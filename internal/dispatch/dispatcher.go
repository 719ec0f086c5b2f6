package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/arpanauts/biomapper/internal/monitor"
	"github.com/arpanauts/biomapper/internal/registry"
	"github.com/arpanauts/biomapper/internal/types"
)

// Dispatcher fans a request across adapters in ranked order. Its own state
// is immutable after registration; concurrent requests are independent.
type Dispatcher struct {
	registry *registry.Registry
	mon      *monitor.Monitor

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// New creates a dispatcher. The monitor may be nil.
func New(reg *registry.Registry, mon *monitor.Monitor) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		mon:      mon,
		adapters: make(map[string]Adapter),
	}
}

// RegisterAdapter makes an adapter available under its stable name.
// Registration normally happens once at startup, before serving requests.
func (d *Dispatcher) RegisterAdapter(a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[a.Name()] = a
}

// Adapter returns a registered adapter by name, or nil.
func (d *Dispatcher) Adapter(name string) Adapter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.adapters[name]
}

// MapOptions tune one MapEntity call. The zero value means: all ranked
// resources, fallback enabled, no success-rate floor, no per-adapter timeout.
type MapOptions struct {
	// ResourceName pins the request to a single adapter.
	ResourceName string
	// NoFallback re-raises the first adapter failure instead of trying the
	// next candidate.
	NoFallback bool
	// MinSuccessRate drops candidates whose recorded success rate is lower.
	MinSuccessRate float64
	// Timeout bounds each adapter call; on expiry the next candidate is tried.
	Timeout time.Duration
	// MinConfidence is forwarded to adapters.
	MinConfidence float64
	// AdapterOptions is passed through to adapters verbatim.
	AdapterOptions map[string]string
}

// MapEntity tries candidates in registry-ranked order until one returns a
// mapping. Every attempt is logged into the registry with its measured
// latency; a successful result is annotated with the serving resource and
// response time. Returns (nil, nil) when no candidate produced a mapping.
func (d *Dispatcher) MapEntity(ctx context.Context, sourceID, sourceType, targetType string, opts MapOptions) (*types.MappingResult, error) {
	candidates, err := d.candidates(ctx, sourceType, targetType, opts)
	if err != nil {
		return nil, err
	}

	req := Request{
		SourceID:      sourceID,
		SourceType:    sourceType,
		TargetType:    targetType,
		MinConfidence: opts.MinConfidence,
		Options:       opts.AdapterOptions,
	}

	for _, name := range candidates {
		// Whole-request cancellation stops the fallback chain.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		adapter := d.Adapter(name)
		if adapter == nil {
			continue
		}
		result, elapsed, err := d.invoke(ctx, adapter, req, opts.Timeout)
		elapsedMS := elapsed.Milliseconds()

		switch {
		case err != nil && isTimeout(ctx, err):
			d.logAttempt(ctx, name, req, elapsedMS, types.StatusTimeout, err.Error())
			continue

		case err != nil:
			d.logAttempt(ctx, name, req, elapsedMS, types.StatusError, err.Error())
			if d.mon != nil {
				d.mon.Record(ctx, monitor.Event{
					Type:       monitor.EventError,
					EntityType: sourceType,
					Metadata:   map[string]string{"resource": name, "error": err.Error()},
				})
			}
			if opts.NoFallback {
				return nil, fmt.Errorf("resource %s: %w", name, err)
			}
			continue

		case result == nil || result.TargetID == "":
			d.logAttempt(ctx, name, req, elapsedMS, types.StatusNotFound, "")
			continue

		default:
			d.logAttempt(ctx, name, req, elapsedMS, types.StatusSuccess, "")
			result.SetMeta("resource", name)
			result.SetMeta("response_time_ms", strconv.FormatInt(elapsedMS, 10))
			if d.mon != nil {
				d.mon.Record(ctx, monitor.Event{
					Type:       monitor.EventAPICall,
					EntityType: sourceType,
					DurationMS: float64(elapsedMS),
					Metadata:   map[string]string{"resource": name},
				})
			}
			return result, nil
		}
	}

	// Exhausted all candidates: a null result, not a failure.
	return nil, nil
}

// BatchResult pairs one input entity with its outcome.
type BatchResult struct {
	Entity types.EntityRef
	Result *types.MappingResult
	Err    error
}

// BatchMapEntities maps entities sequentially, returning results aligned to
// the input order. Cancellation mid-batch returns the completed prefix along
// with the context error.
func (d *Dispatcher) BatchMapEntities(ctx context.Context, entities []types.EntityRef, targetType string, opts MapOptions) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(entities))
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := d.MapEntity(ctx, e.ID, e.Type, targetType, opts)
		results = append(results, BatchResult{Entity: e, Result: res, Err: err})
	}
	return results, nil
}

// candidates resolves the ordered list of resource names to try. A pinned
// resource must be registered; otherwise the registry ranking is intersected
// with the registered adapters. Registry failures are fatal for the request.
func (d *Dispatcher) candidates(ctx context.Context, sourceType, targetType string, opts MapOptions) ([]string, error) {
	if opts.ResourceName != "" {
		if d.Adapter(opts.ResourceName) == nil {
			return nil, fmt.Errorf("unknown resource %q", opts.ResourceName)
		}
		return []string{opts.ResourceName}, nil
	}

	ranked, err := d.registry.PreferredResourceOrder(ctx, sourceType, targetType, OpMapEntity, opts.MinSuccessRate)
	if err != nil {
		return nil, fmt.Errorf("resource ranking: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, name := range ranked {
		if _, ok := d.adapters[name]; ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// invoke calls the adapter under an optional per-attempt deadline and
// measures wall-clock latency.
func (d *Dispatcher) invoke(ctx context.Context, adapter Adapter, req Request, timeout time.Duration) (*types.MappingResult, time.Duration, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := adapter.MapEntity(callCtx, req)
	return result, time.Since(start), err
}

// isTimeout reports whether err is a per-attempt deadline expiry rather
// than a cancellation of the whole request.
func isTimeout(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}

func (d *Dispatcher) logAttempt(ctx context.Context, resource string, req Request, elapsedMS int64, status types.OperationStatus, errMsg string) {
	ms := elapsedMS
	entry := &types.OperationLog{
		ResourceName:  resource,
		OperationType: OpMapEntity,
		SourceType:    req.SourceType,
		TargetType:    req.TargetType,
		Query:         req.SourceID,
		ResponseMS:    &ms,
		Status:        status,
		ErrorMessage:  errMsg,
	}
	if err := d.registry.LogOperation(ctx, entry); err != nil {
		// Attempt logging must not fail the mapping itself.
		log.Printf("dispatch: failed to log %s attempt for %s: %v", status, resource, err)
	}
}
