// Package telemetry provides OpenTelemetry instrumentation for the sync server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/decksnap/decksnap-sync/sync"

// Message outcomes recorded by SyncMetrics.RecordMessage
const (
	OutcomeAck       = "ack"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
	OutcomeBroadcast = "broadcast"
)

// SyncMetrics holds the OpenTelemetry instruments for the sync protocol and rooms.
// A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	messagesTotal   metric.Int64Counter
	conflictsTotal  metric.Int64Counter
	messageDuration metric.Float64Histogram
	connections     metric.Int64UpDownCounter
	rooms           metric.Int64UpDownCounter
	pruned          metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	messagesTotal, err := meter.Int64Counter(
		"decksnap_sync_messages_total",
		metric.WithDescription("Number of client messages handled by type and outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	conflictsTotal, err := meter.Int64Counter(
		"decksnap_sync_conflicts_total",
		metric.WithDescription("Number of version conflicts returned to clients"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, err
	}

	messageDuration, err := meter.Float64Histogram(
		"decksnap_sync_message_duration_seconds",
		metric.WithDescription("Time spent handling a client message"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	connections, err := meter.Int64UpDownCounter(
		"decksnap_sync_connections",
		metric.WithDescription("Number of live client connections on this instance"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	rooms, err := meter.Int64UpDownCounter(
		"decksnap_sync_rooms",
		metric.WithDescription("Number of live rooms on this instance"),
		metric.WithUnit("{room}"),
	)
	if err != nil {
		return nil, err
	}

	pruned, err := meter.Int64Counter(
		"decksnap_sync_pruned_connections_total",
		metric.WithDescription("Number of connections dropped after a failed send"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		messagesTotal:   messagesTotal,
		conflictsTotal:  conflictsTotal,
		messageDuration: messageDuration,
		connections:     connections,
		rooms:           rooms,
		pruned:          pruned,
	}, nil
}

// RecordMessage records one handled client message
func (m *SyncMetrics) RecordMessage(ctx context.Context, messageType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("type", messageType),
		attribute.String("outcome", outcome),
	)
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == OutcomeConflict {
		m.conflictsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", messageType)))
	}
}

// ConnectionOpened increments the live connection count
func (m *SyncMetrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

// ConnectionClosed decrements the live connection count
func (m *SyncMetrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, -1)
}

// ConnectionPruned counts a connection dropped after a failed send
func (m *SyncMetrics) ConnectionPruned(ctx context.Context) {
	if m == nil {
		return
	}
	m.pruned.Add(ctx, 1)
}

// RoomOpened increments the live room count
func (m *SyncMetrics) RoomOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.rooms.Add(ctx, 1)
}

// RoomClosed decrements the live room count
func (m *SyncMetrics) RoomClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.rooms.Add(ctx, -1)
}
