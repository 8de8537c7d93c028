package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"CryptoDaily/internal/domain/models"
	drepo "CryptoDaily/internal/domain/repository"
	"CryptoDaily/internal/service/ratelimit"
	applogger "CryptoDaily/pkg/logger"
	"CryptoDaily/pkg/metrics"
	"CryptoDaily/pkg/util"
)

const (
	kindCycle     = "cycle"
	kindDaily     = "daily"
	kindBootstrap = "bootstrap"
)

// SyncOption configures DaylineSync.
type SyncOption func(*DaylineSync)

// DaylineSync keeps every stored asset's daily history current with the exchange.
// Assets are processed one at a time; one asset's failure never stops the pass.
type DaylineSync struct {
	market  drepo.MarketClient
	assets  drepo.AssetRepository
	sinks   []drepo.BarSink
	reports drepo.ReportStore
	metrics drepo.Metrics
	log     *applogger.Logger

	locker   drepo.Locker
	leaseKey string
	leaseTTL time.Duration

	assetDelay time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDaylineSync creates the orchestrator.
func NewDaylineSync(market drepo.MarketClient, assets drepo.AssetRepository, opts ...SyncOption) *DaylineSync {
	s := &DaylineSync{
		market:     market,
		assets:     assets,
		metrics:    metrics.Nop{},
		log:        applogger.Nop(),
		assetDelay: time.Second,
		now:        time.Now,
		sleep:      ratelimit.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSinks registers sinks that receive bars after each successful append.
func WithSinks(sinks ...drepo.BarSink) SyncOption {
	return func(s *DaylineSync) { s.sinks = append(s.sinks, sinks...) }
}

// WithLease guards whole passes with a TTL lease on key.
func WithLease(l drepo.Locker, key string, ttl time.Duration) SyncOption {
	return func(s *DaylineSync) {
		s.locker = l
		s.leaseKey = key
		s.leaseTTL = ttl
	}
}

// WithReportStore persists the report of every finished pass.
func WithReportStore(r drepo.ReportStore) SyncOption {
	return func(s *DaylineSync) { s.reports = r }
}

// WithSyncMetrics sets the metrics recorder.
func WithSyncMetrics(m drepo.Metrics) SyncOption {
	return func(s *DaylineSync) { s.metrics = m }
}

// WithSyncLogger sets the logger.
func WithSyncLogger(l *applogger.Logger) SyncOption {
	return func(s *DaylineSync) { s.log = l.With(applogger.String("component", "dayline_sync")) }
}

// WithAssetDelay sets the pause after each asset that hit the exchange.
func WithAssetDelay(d time.Duration) SyncOption {
	return func(s *DaylineSync) { s.assetDelay = d }
}

// WithSyncClock overrides the wall clock.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *DaylineSync) { s.now = now }
}

// SyncAssetList inserts every listed symbol that is not stored yet. Nothing is ever removed.
func (s *DaylineSync) SyncAssetList(ctx context.Context) (int, error) {
	refs, err := s.market.ListAssets(ctx)
	if err != nil {
		s.metrics.RecordError("list_assets")
		return 0, fmt.Errorf("list assets: %w", err)
	}

	created := 0
	for _, ref := range refs {
		ok, err := s.assets.InsertIfAbsent(ctx, ref)
		if err != nil {
			s.metrics.RecordError("insert_asset")
			return created, fmt.Errorf("insert asset %s: %w", ref.Symbol, err)
		}
		if ok {
			created++
			s.log.Info("new asset tracked", applogger.String("symbol", ref.Symbol), applogger.String("name", ref.Name))
		}
	}
	s.log.Info("asset list synced", applogger.Int("listed", len(refs)), applogger.Int("created", created))
	return created, nil
}

// SyncAllDailyBars brings every stored asset up to date in storage order.
// Only failing to read the stored assets (or cancellation) aborts the pass.
func (s *DaylineSync) SyncAllDailyBars(ctx context.Context) (*models.SyncReport, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := models.NewSyncReport(s.now())
	err = s.syncAll(ctx, report)
	s.finish(ctx, kindDaily, report, err)
	return report, err
}

// RunCycle syncs the asset list and then every asset's bars. The scheduler calls this daily.
func (s *DaylineSync) RunCycle(ctx context.Context) (*models.SyncReport, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := models.NewSyncReport(s.now())
	created, err := s.SyncAssetList(ctx)
	report.NewAssets = created
	if err == nil {
		err = s.syncAll(ctx, report)
	}
	s.finish(ctx, kindCycle, report, err)
	return report, err
}

// Bootstrap fills an empty store: full asset list, then full history for each.
// It reports false without doing anything when assets are already stored.
// The store is counted under the lease so two processes cannot both bootstrap.
func (s *DaylineSync) Bootstrap(ctx context.Context) (bool, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	n, err := s.assets.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count assets: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	s.log.Info("storage empty, bootstrapping")
	report := models.NewSyncReport(s.now())
	created, err := s.SyncAssetList(ctx)
	report.NewAssets = created
	if err == nil {
		err = s.syncAll(ctx, report)
	}
	s.finish(ctx, kindBootstrap, report, err)
	return true, err
}

// SyncAsset runs the per-asset cycle for one stored state and returns how many bars were appended.
func (s *DaylineSync) SyncAsset(ctx context.Context, st models.AssetState) (int, error) {
	res := s.syncState(ctx, st)
	return res.appended, res.err
}

type assetResult struct {
	outcome  models.AssetOutcome
	appended int
	fetched  bool
	rng      models.FetchRange
	first    time.Time
	last     time.Time
	err      error
}

func (s *DaylineSync) syncAll(ctx context.Context, report *models.SyncReport) error {
	states, err := s.assets.ListStates(ctx)
	if err != nil {
		s.metrics.RecordError("list_states")
		return fmt.Errorf("list stored assets: %w", err)
	}

	total := len(states)
	for i, st := range states {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := s.syncState(ctx, st)
		report.Record(st.Symbol, res.outcome, res.appended, res.err)
		s.metrics.RecordAsset(string(res.outcome))
		s.logProgress(i+1, total, st, res)

		if res.fetched && i < total-1 && s.assetDelay > 0 {
			if err := s.sleep(ctx, s.assetDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *DaylineSync) syncState(ctx context.Context, st models.AssetState) assetResult {
	rng, fresh := s.fetchRange(st)
	if fresh {
		return assetResult{outcome: models.OutcomeFresh}
	}

	res := assetResult{fetched: true, rng: rng}
	bars, err := s.market.FetchDailyBars(ctx, st.Symbol, rng)
	if err != nil {
		res.outcome, res.err = models.OutcomeFailed, &models.AssetSyncError{Symbol: st.Symbol, Err: err}
		return res
	}

	bars = newerThan(bars, st.LastDate)
	if len(bars) == 0 {
		res.outcome = models.OutcomeEmpty
		return res
	}
	res.first, res.last = bars[0].Date, bars[len(bars)-1].Date

	if err := s.assets.AppendBars(ctx, st.Symbol, bars); err != nil {
		res.outcome, res.err = models.OutcomeFailed, &models.AssetSyncError{Symbol: st.Symbol, Err: err}
		return res
	}
	s.metrics.RecordBarsAppended(len(bars))
	s.publish(ctx, models.AssetRef{Name: st.Name, Symbol: st.Symbol}, bars)

	res.outcome, res.appended = models.OutcomeUpdated, len(bars)
	return res
}

// fetchRange decides what to request; fresh is true when the newest stored bar is
// yesterday (UTC) or later.
func (s *DaylineSync) fetchRange(st models.AssetState) (models.FetchRange, bool) {
	if st.LastDate == nil {
		return models.FullRange(), false
	}
	if !st.LastDate.Before(util.Yesterday(s.now())) {
		return models.FetchRange{}, true
	}
	return models.FromRange(util.NextDay(*st.LastDate)), false
}

func (s *DaylineSync) publish(ctx context.Context, asset models.AssetRef, bars []models.DailyBar) {
	for _, sink := range s.sinks {
		if err := sink.PublishBars(ctx, asset, bars); err != nil {
			s.metrics.RecordSinkError(sink.Name())
			s.log.Warn("sink delivery failed",
				applogger.String("sink", sink.Name()),
				applogger.String("symbol", asset.Symbol),
				applogger.Int("bars", len(bars)),
				applogger.Error(err),
			)
		}
	}
}

func (s *DaylineSync) logProgress(i, n int, st models.AssetState, res assetResult) {
	progress := fmt.Sprintf("[%d/%d]", i, n)
	fields := []applogger.Field{
		applogger.String("symbol", st.Symbol),
		applogger.String("last", util.FormatDay(st.LastDate)),
		applogger.String("outcome", string(res.outcome)),
	}
	if res.fetched {
		fields = append(fields, applogger.String("range", res.rng.String()))
	}
	if res.appended > 0 {
		fields = append(fields,
			applogger.Int("appended", res.appended),
			applogger.String("first", util.DayKey(res.first)),
			applogger.String("to", util.DayKey(res.last)),
		)
	}
	if res.err != nil {
		s.log.Error(progress+" asset sync failed", append(fields, applogger.Error(res.err))...)
		return
	}
	s.log.Info(progress+" asset synced", fields...)
}

// acquire takes the pass lease; the returned release is safe to call after ctx is cancelled.
func (s *DaylineSync) acquire(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	ok, err := s.locker.TryLock(ctx, s.leaseKey, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !ok {
		s.log.Warn("sync pass skipped, lease held elsewhere", applogger.String("lease", s.leaseKey))
		return nil, models.ErrCycleLocked
	}
	return func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), s.leaseKey); err != nil {
			s.log.Warn("release sync lease failed", applogger.Error(err))
		}
	}, nil
}

func (s *DaylineSync) finish(ctx context.Context, kind string, report *models.SyncReport, err error) {
	report.FinishedAt = s.now()
	result := "ok"
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		result = "interrupted"
	case err != nil:
		result = "error"
	}
	s.metrics.RecordCycle(kind, result, report.Duration().Seconds())

	fields := []applogger.Field{
		applogger.String("kind", kind),
		applogger.String("result", result),
		applogger.Int("new_assets", report.NewAssets),
		applogger.Int("total", report.Total),
		applogger.Int("updated", report.Updated),
		applogger.Int("fresh", report.Fresh),
		applogger.Int("empty", report.Empty),
		applogger.Int("failed", report.Failed),
		applogger.Int("bars_appended", report.BarsAppended),
		applogger.Duration("duration_ms", report.Duration()),
	}
	if err != nil {
		s.log.Error("sync pass aborted", append(fields, applogger.Error(err))...)
	} else {
		s.log.Info("sync pass finished", fields...)
	}

	if s.reports != nil {
		if err := s.reports.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			s.log.Warn("save sync report failed", applogger.Error(err))
		}
	}
}

// newerThan sorts bars, drops those on or before last and keeps one bar per day.
func newerThan(bars []models.DailyBar, last *time.Time) []models.DailyBar {
	out := make([]models.DailyBar, 0, len(bars))
	for _, b := range bars {
		b.Date = util.StartOfDay(b.Date)
		if last != nil && !b.Date.After(*last) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.Date.Equal(dedup[len(dedup)-1].Date) {
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}
