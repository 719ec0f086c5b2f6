package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/internal/registry"
	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/storage/sqlite"
	"github.com/arpanauts/biomapper/internal/types"
)

// fakeAdapter is a scriptable adapter for dispatcher tests.
type fakeAdapter struct {
	name   string
	result *types.MappingResult
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) MapEntity(ctx context.Context, req Request) (*types.MappingResult, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func found(target string) *types.MappingResult {
	return &types.MappingResult{TargetID: target, TargetType: "y", Confidence: 0.9, MappingSource: "fake"}
}

// newTestDispatcher builds a dispatcher over a real registry with the given
// resources registered in ranked order (first = highest priority).
func newTestDispatcher(t *testing.T, adapters ...*fakeAdapter) (*Dispatcher, *registry.Registry) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store)
	d := New(reg, nil)
	for i, a := range adapters {
		require.NoError(t, reg.RegisterResource(context.Background(), &types.ResourceMetadata{
			Name: a.name, Type: types.ResourceAPI, Priority: len(adapters) - i, IsActive: true,
		}))
		for _, ontology := range []string{"x", "y"} {
			require.NoError(t, reg.RegisterOntologyCoverage(context.Background(), a.name, ontology, types.SupportFull, nil))
		}
		d.RegisterAdapter(a)
	}
	return d, reg
}

func TestMapEntityFirstResourceWins(t *testing.T) {
	first := &fakeAdapter{name: "first", result: found("b")}
	second := &fakeAdapter{name: "second", result: found("other")}
	d, _ := newTestDispatcher(t, first, second)

	res, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "b", res.TargetID)
	assert.Equal(t, "first", res.Metadata["resource"])
	assert.Contains(t, res.Metadata, "response_time_ms")
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
}

func TestMapEntityFallsBackOnError(t *testing.T) {
	broken := &fakeAdapter{name: "broken", err: errors.New("backend down")}
	backup := &fakeAdapter{name: "backup", result: found("b")}
	d, reg := newTestDispatcher(t, broken, backup)

	res, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "backup", res.Metadata["resource"])
	assert.Equal(t, 1, broken.calls)

	// Both attempts were logged.
	logsDeleted, err := reg.ClearOperationLogs(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), logsDeleted)
}

func TestMapEntityFallsBackOnNotFound(t *testing.T) {
	empty := &fakeAdapter{name: "empty"} // returns (nil, nil)
	backup := &fakeAdapter{name: "backup", result: found("b")}
	d, _ := newTestDispatcher(t, empty, backup)

	res, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "backup", res.Metadata["resource"])
}

func TestMapEntityTimeoutMovesOn(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: 200 * time.Millisecond, result: found("late")}
	fast := &fakeAdapter{name: "fast", result: found("b")}
	d, _ := newTestDispatcher(t, slow, fast)

	res, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "fast", res.Metadata["resource"])
}

func TestMapEntityNoFallback(t *testing.T) {
	broken := &fakeAdapter{name: "broken", err: errors.New("backend down")}
	backup := &fakeAdapter{name: "backup", result: found("b")}
	d, _ := newTestDispatcher(t, broken, backup)

	_, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{NoFallback: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Zero(t, backup.calls)
}

func TestMapEntityPinnedResource(t *testing.T) {
	first := &fakeAdapter{name: "first", result: found("wrong")}
	pinned := &fakeAdapter{name: "pinned", result: found("b")}
	d, _ := newTestDispatcher(t, first, pinned)

	res, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{ResourceName: "pinned"})
	require.NoError(t, err)
	assert.Equal(t, "b", res.TargetID)
	assert.Zero(t, first.calls)

	_, err = d.MapEntity(context.Background(), "a", "x", "y", MapOptions{ResourceName: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestMapEntityExhaustionIsNull(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeAdapter{name: "empty"})

	res, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMapEntityCancellationIsFatal(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: time.Second, result: found("late")}
	backup := &fakeAdapter{name: "backup", result: found("b")}
	d, _ := newTestDispatcher(t, slow, backup)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := d.MapEntity(ctx, "a", "x", "y", MapOptions{})
	// Whole-request expiry is not a per-resource timeout; no fallback
	// happens and no result is produced.
	assert.Nil(t, res)
	assert.Error(t, err)
	assert.Zero(t, backup.calls)
}

func TestBatchMapEntities(t *testing.T) {
	adapter := &fakeAdapter{name: "only", result: found("b")}
	d, _ := newTestDispatcher(t, adapter)

	entities := []types.EntityRef{{ID: "1", Type: "x"}, {ID: "2", Type: "x"}}
	results, err := d.BatchMapEntities(context.Background(), entities, "y", MapOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].Entity.ID)
	assert.NotNil(t, results[0].Result)
}

func TestBatchMapEntitiesCancelled(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeAdapter{name: "only", result: found("b")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := d.BatchMapEntities(ctx, []types.EntityRef{{ID: "1", Type: "x"}}, "y", MapOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestAttemptsFeedPerformanceMetrics(t *testing.T) {
	adapter := &fakeAdapter{name: "only", result: found("b")}
	d, reg := newTestDispatcher(t, adapter)

	_, err := d.MapEntity(context.Background(), "a", "x", "y", MapOptions{})
	require.NoError(t, err)

	metrics, err := reg.PerformanceMetrics(context.Background(), storage.PerformanceFilter{ResourceName: "only"})
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(1), metrics[0].SampleCount)
	assert.Equal(t, 1.0, metrics[0].SuccessRate)
}
