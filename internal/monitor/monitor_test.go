package monitor

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndCounters(t *testing.T) {
	m := New(8)
	ctx := context.Background()

	m.Record(ctx, Event{Type: EventHit, EntityType: "hmdb"})
	m.Record(ctx, Event{Type: EventHit})
	m.Record(ctx, Event{Type: EventMiss})

	counters := m.Counters()
	assert.Equal(t, int64(2), counters[EventHit])
	assert.Equal(t, int64(1), counters[EventMiss])

	recent := m.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, EventHit, recent[0].Type)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestRingBufferEviction(t *testing.T) {
	m := New(4)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m.Record(ctx, Event{Type: EventAdd, Metadata: map[string]string{"i": strconv.Itoa(i)}})
	}

	recent := m.Recent()
	require.Len(t, recent, 4)
	// Oldest to newest, with the first two evicted.
	assert.Equal(t, "2", recent[0].Metadata["i"])
	assert.Equal(t, "5", recent[3].Metadata["i"])

	// Counters survive eviction.
	assert.Equal(t, int64(6), m.Counters()[EventAdd])
}

func TestTrackOperationSuccess(t *testing.T) {
	m := New(8)

	err := m.TrackOperation(context.Background(), EventLookup, "hmdb", map[string]string{"k": "v"},
		func(context.Context) error { return nil })
	require.NoError(t, err)

	recent := m.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, EventLookup, recent[0].Type)
	assert.Equal(t, "v", recent[0].Metadata["k"])
}

func TestTrackOperationFailure(t *testing.T) {
	m := New(8)
	boom := errors.New("boom")

	err := m.TrackOperation(context.Background(), EventLookup, "hmdb", nil,
		func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	recent := m.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, EventError, recent[0].Type)
	assert.Equal(t, "boom", recent[0].Metadata["error"])
	assert.Equal(t, string(EventLookup), recent[0].Metadata["operation"])
	assert.Zero(t, m.Counters()[EventLookup])
}
