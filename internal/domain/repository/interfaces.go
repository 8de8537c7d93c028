package repository

import (
	"context"
	"time"

	"CryptoDaily/internal/domain/models"
)

// MarketClient is the exchange-facing data source.
type MarketClient interface {
	ListAssets(ctx context.Context) ([]models.AssetRef, error)
	FetchDailyBars(ctx context.Context, symbol string, r models.FetchRange) ([]models.DailyBar, error)
}

// AssetRepository is the persistent asset collection.
type AssetRepository interface {
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, symbol string) (bool, error)
	// InsertIfAbsent creates an asset with an empty dayline; created is false if the symbol exists.
	InsertIfAbsent(ctx context.Context, ref models.AssetRef) (created bool, err error)
	// ListStates returns every asset with only its newest bar, in storage order.
	ListStates(ctx context.Context) ([]models.AssetState, error)
	LatestBar(ctx context.Context, symbol string) (*models.DailyBar, error)
	// AppendBars pushes bars (ascending, all newer than the stored history) in one write.
	AppendBars(ctx context.Context, symbol string, bars []models.DailyBar) error
	GetDayline(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.DailyBar, error)
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

// BarSink receives bars right after they were appended to storage.
type BarSink interface {
	Name() string
	PublishBars(ctx context.Context, asset models.AssetRef, bars []models.DailyBar) error
	Close() error
}

// Locker provides a TTL lease shared by every process syncing the same storage.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ReportStore keeps the most recent cycle report for the status API.
type ReportStore interface {
	SaveReport(ctx context.Context, r *models.SyncReport) error
	LastReport(ctx context.Context) (*models.SyncReport, error)
}

// Metrics records sync and upstream telemetry.
type Metrics interface {
	RecordCycle(kind, result string, seconds float64)
	RecordAsset(outcome string)
	RecordBarsAppended(n int)
	RecordUpstreamRequest(endpoint, result string, seconds float64)
	RecordUpstreamRetry(endpoint string)
	RecordSinkError(sink string)
	RecordError(kind string)
}
