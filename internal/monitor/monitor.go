// Package monitor provides an in-process observer for cache and dispatcher
// behavior: a bounded ring buffer of recent events plus aggregate counters
// per event type, mirrored into OTel metrics when telemetry is enabled.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/arpanauts/biomapper/internal/telemetry"
)

// EventType identifies an event recorded by the monitor.
type EventType string

const (
	EventHit     EventType = "HIT"
	EventMiss    EventType = "MISS"
	EventAdd     EventType = "ADD"
	EventDelete  EventType = "DELETE"
	EventLookup  EventType = "LOOKUP"
	EventDerive  EventType = "DERIVE"
	EventAPICall EventType = "API_CALL"
	EventError   EventType = "ERROR"
)

// Event is one observation. EntityType and Metadata are optional.
type Event struct {
	Type       EventType         `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	EntityType string            `json:"entity_type,omitempty"`
	DurationMS float64           `json:"duration_ms,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DefaultCapacity is the ring buffer size when none is configured.
const DefaultCapacity = 1000

// Monitor records events into a bounded ring buffer and keeps per-type
// counters. Safe for concurrent use; in the typical single-writer setup the
// mutex is uncontended.
type Monitor struct {
	mu       sync.Mutex
	events   []Event
	next     int
	full     bool
	counters map[EventType]int64

	otelEvents metric.Int64Counter
	otelDur    metric.Float64Histogram
}

// New creates a monitor with the given ring capacity (DefaultCapacity if
// capacity <= 0).
func New(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &Monitor{
		events:   make([]Event, capacity),
		counters: make(map[EventType]int64),
	}
	meter := telemetry.Meter("github.com/arpanauts/biomapper/monitor")
	m.otelEvents, _ = meter.Int64Counter("biomapper.monitor.events",
		metric.WithDescription("Monitor events by type"),
	)
	m.otelDur, _ = meter.Float64Histogram("biomapper.monitor.operation.duration",
		metric.WithDescription("Tracked operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return m
}

// Record appends an event. A zero Timestamp is filled in.
func (m *Monitor) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.counters[ev.Type]++
	m.mu.Unlock()

	if m.otelEvents != nil {
		m.otelEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("biomapper.event.type", string(ev.Type)),
		))
	}
}

// Counters returns a copy of the per-type aggregate counts.
func (m *Monitor) Counters() map[EventType]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[EventType]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Recent returns buffered events from oldest to newest.
func (m *Monitor) Recent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	if m.full {
		out = append(out, m.events[m.next:]...)
	}
	out = append(out, m.events[:m.next]...)
	return out
}

// TrackOperation runs fn, measuring wall-clock duration. On success an event
// of the given type is recorded with the duration; on failure an ERROR event
// is recorded and the error is returned unchanged.
func (m *Monitor) TrackOperation(ctx context.Context, typ EventType, entityType string, metadata map[string]string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	ms := float64(time.Since(start).Microseconds()) / 1000.0

	if m.otelDur != nil {
		m.otelDur.Record(ctx, ms, metric.WithAttributes(
			attribute.String("biomapper.event.type", string(typ)),
		))
	}

	if err != nil {
		md := map[string]string{"error": err.Error(), "operation": string(typ)}
		for k, v := range metadata {
			md[k] = v
		}
		m.Record(ctx, Event{Type: EventError, EntityType: entityType, DurationMS: ms, Metadata: md})
		return err
	}
	m.Record(ctx, Event{Type: typ, EntityType: entityType, DurationMS: ms, Metadata: metadata})
	return nil
}
