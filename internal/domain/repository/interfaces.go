package repository

import (
	"context"

	"PerpCast/internal/domain/models"
)

// SnapshotSource delivers the current market state on demand. Implementations
// must never block past ctx: when no fresh state exists they return
// models.ErrStaleFeed immediately.
type SnapshotSource interface {
	Start(ctx context.Context) error
	Snapshot(ctx context.Context) (*models.MarketSnapshot, error)
	IsConnected() bool
	Close() error
}

// RecordSink persists prediction rows. Append is called exactly once per row,
// either when the row is fully terminal or, still pending, at shutdown. The
// column set must be stable for the life of the sink.
type RecordSink interface {
	Append(ctx context.Context, row *models.PredictionRow) error
	Close() error
}

// SignalPublisher pushes a freshly made prediction to downstream consumers.
// Publish failures are non-fatal: the durable record is the RecordSink.
type SignalPublisher interface {
	Publish(ctx context.Context, row *models.PredictionRow) error
	Close() error
}

// Metrics abstracts operational counters so use cases stay free of the
// Prometheus client.
type Metrics interface {
	RecordTick(result string)
	RecordModelError(model string)
	RecordModelLatency(model string, seconds float64)
	RecordResolution(horizon, status string)
	RecordPendingRows(n int)
	RecordLastMid(price float64)
	RecordRowPersisted(sink string)
}
