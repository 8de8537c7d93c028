package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"CryptoDaily/internal/domain/models"
	drepo "CryptoDaily/internal/domain/repository"
	"CryptoDaily/internal/service/ratelimit"
	xhttp "CryptoDaily/pkg/http"
	applogger "CryptoDaily/pkg/logger"
	"CryptoDaily/pkg/metrics"
	"CryptoDaily/pkg/util"
)

const (
	endpointExchangeInfo = "/exchangeInfo"
	endpointKlines       = "/klines"
	dailyInterval        = "1d"
	statusTrading        = "TRADING"
)

// Option configures Client.
type Option func(*Client)

// Client implements MarketClient against the Binance spot REST API.
type Client struct {
	http       *xhttp.Client
	baseURL    string
	quoteAsset string
	maxRetries int
	retryDelay time.Duration
	pageSize   int
	floor      time.Time
	pacer      *ratelimit.Pacer
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	log        *applogger.Logger
	metrics    drepo.Metrics
}

var _ drepo.MarketClient = (*Client)(nil)

// New creates a client for baseURL (e.g. https://api.binance.com/api/v3).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		quoteAsset: "USDT",
		maxRetries: 3,
		retryDelay: 5 * time.Second,
		pageSize:   1000,
		floor:      time.Date(2017, 8, 1, 0, 0, 0, 0, time.UTC),
		pacer:      ratelimit.NewPacer(time.Second),
		now:        time.Now,
		sleep:      ratelimit.Sleep,
		log:        applogger.Nop(),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(30*time.Second), xhttp.WithUserAgent("cryptodaily"))
	}
	return c
}

// WithHTTPClient sets the transport client (timeout lives there).
func WithHTTPClient(hc *xhttp.Client) Option { return func(c *Client) { c.http = hc } }

// WithQuoteAsset filters listed symbols by quote asset.
func WithQuoteAsset(q string) Option { return func(c *Client) { c.quoteAsset = q } }

// WithRetries sets the attempt budget and the fixed delay between attempts.
func WithRetries(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.maxRetries = attempts
		c.retryDelay = delay
	}
}

// WithPageSize sets the klines page limit.
func WithPageSize(n int) Option { return func(c *Client) { c.pageSize = n } }

// WithPageDelay sets the minimum gap between two upstream requests.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pacer = ratelimit.NewPacer(d) }
}

// WithHistoryFloor sets the earliest day requested for a full-history fetch.
func WithHistoryFloor(t time.Time) Option {
	return func(c *Client) { c.floor = util.StartOfDay(t) }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.log = l.With(applogger.String("component", "binance")) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m drepo.Metrics) Option { return func(c *Client) { c.metrics = m } }

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// ListAssets returns every trading symbol quoted in the configured quote asset, in exchange order.
func (c *Client) ListAssets(ctx context.Context) ([]models.AssetRef, error) {
	var info exchangeInfo
	opts := &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: c.baseURL + endpointExchangeInfo}
	if err := c.call(ctx, "exchangeInfo", "", endpointExchangeInfo, opts, &info); err != nil {
		return nil, err
	}

	out := make([]models.AssetRef, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.QuoteAsset != c.quoteAsset || s.Status != statusTrading {
			continue
		}
		out = append(out, models.AssetRef{Name: s.BaseAsset, Symbol: s.Symbol})
	}
	c.log.Info("listed assets",
		applogger.Int("listed", len(info.Symbols)),
		applogger.Int("kept", len(out)),
		applogger.String("quote", c.quoteAsset),
	)
	return out, nil
}

// FetchDailyBars pages daily candles for symbol over r, deduplicated by UTC day and sorted ascending.
func (c *Client) FetchDailyBars(ctx context.Context, symbol string, r models.FetchRange) ([]models.DailyBar, error) {
	col := newCollector()

	if since, ok := r.Since(); ok {
		if err := c.paginate(ctx, symbol, since.UnixMilli(), 0, col); err != nil {
			return nil, err
		}
		return col.sorted(), nil
	}

	latest, ok, err := c.probeLatest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := c.paginate(ctx, symbol, c.floor.UnixMilli(), latest, col); err != nil {
		return nil, err
	}
	// A day newer than the probed one may have opened while paging.
	if !util.FromMillis(latest).AddDate(0, 0, 1).After(c.now().UTC()) {
		if err := c.paginate(ctx, symbol, latest+1, 0, col); err != nil {
			return nil, err
		}
	}
	return col.sorted(), nil
}

// probeLatest returns the open time of the newest candle; ok is false when the symbol has none.
func (c *Client) probeLatest(ctx context.Context, symbol string) (int64, bool, error) {
	rows, err := c.klines(ctx, symbol, map[string][]string{"limit": {"1"}})
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[len(rows)-1].openTime, true, nil
}

// paginate requests pages from start (inclusive) to end (inclusive, 0 = open ended)
// until a short page is returned.
func (c *Client) paginate(ctx context.Context, symbol string, start, end int64, col *collector) error {
	for page := 1; ; page++ {
		params := map[string][]string{
			"startTime": {strconv.FormatInt(start, 10)},
			"limit":     {strconv.Itoa(c.pageSize)},
		}
		if end > 0 {
			params["endTime"] = []string{strconv.FormatInt(end, 10)}
		}

		rows, err := c.klines(ctx, symbol, params)
		if err != nil {
			return err
		}
		col.add(rows)
		c.log.Debug("klines page",
			applogger.String("symbol", symbol),
			applogger.Int("page", page),
			applogger.Int("rows", len(rows)),
			applogger.Time("start", util.FromMillis(start)),
		)

		if len(rows) < c.pageSize {
			return nil
		}
		start = rows[len(rows)-1].openTime + 1
		if end > 0 && start > end {
			return nil
		}
	}
}

func (c *Client) klines(ctx context.Context, symbol string, params map[string][]string) ([]kline, error) {
	params["symbol"] = []string{symbol}
	params["interval"] = []string{dailyInterval}
	opts := &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: c.baseURL + endpointKlines, QueryParams: params}

	var raw [][]json.RawMessage
	if err := c.call(ctx, "klines", symbol, endpointKlines, opts, &raw); err != nil {
		return nil, err
	}

	rows := make([]kline, 0, len(raw))
	for i, r := range raw {
		k, err := parseKline(r)
		if err != nil {
			return nil, &models.UpstreamError{Op: "klines", Symbol: symbol, Attempts: 1, Err: fmt.Errorf("row %d: %w", i, err)}
		}
		rows = append(rows, k)
	}
	return rows, nil
}

// call performs one paced request with the bounded retry policy.
func (c *Client) call(ctx context.Context, op, symbol, endpoint string, opts *xhttp.RequestOptions, dest interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return &models.UpstreamError{Op: op, Symbol: symbol, Attempts: attempt - 1, Err: err}
		}

		start := time.Now()
		err := c.http.SendAndParse(ctx, opts, dest)
		if err == nil {
			c.metrics.RecordUpstreamRequest(endpoint, "ok", time.Since(start).Seconds())
			return nil
		}
		lastErr = err

		transient := xhttp.IsTransient(err) && ctx.Err() == nil
		if !transient {
			c.metrics.RecordUpstreamRequest(endpoint, "permanent", time.Since(start).Seconds())
			return &models.UpstreamError{Op: op, Symbol: symbol, Attempts: attempt, Err: err}
		}
		c.metrics.RecordUpstreamRequest(endpoint, "transient", time.Since(start).Seconds())

		if attempt == c.maxRetries {
			break
		}
		c.metrics.RecordUpstreamRetry(endpoint)
		c.log.Warn("upstream request failed, retrying",
			applogger.String("op", op),
			applogger.String("symbol", symbol),
			applogger.Int("attempt", attempt),
			applogger.Duration("delay_ms", c.retryDelay),
			applogger.Error(err),
		)
		if err := c.sleep(ctx, c.retryDelay); err != nil {
			return &models.UpstreamError{Op: op, Symbol: symbol, Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}
	return &models.UpstreamError{Op: op, Symbol: symbol, Attempts: c.maxRetries, Transient: true, Err: lastErr}
}

type kline struct {
	openTime int64
	open     float64
	high     float64
	low      float64
	close    float64
	volume   float64
}

// parseKline decodes [openTime, "open", "high", "low", "close", "volume", ...].
func parseKline(r []json.RawMessage) (kline, error) {
	if len(r) < 6 {
		return kline{}, fmt.Errorf("kline has %d fields, want at least 6", len(r))
	}
	var k kline
	if err := json.Unmarshal(r[0], &k.openTime); err != nil {
		return kline{}, fmt.Errorf("open time: %w", err)
	}
	dst := []*float64{&k.open, &k.high, &k.low, &k.close, &k.volume}
	for i, p := range dst {
		var s string
		if err := json.Unmarshal(r[i+1], &s); err != nil {
			return kline{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return kline{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		*p = v
	}
	return k, nil
}

// collector keeps the first bar seen for each UTC day.
type collector struct {
	byDay map[string]models.DailyBar
}

func newCollector() *collector {
	return &collector{byDay: make(map[string]models.DailyBar)}
}

func (c *collector) add(rows []kline) {
	for _, k := range rows {
		t := util.FromMillis(k.openTime)
		key := util.DayKey(t)
		if _, ok := c.byDay[key]; ok {
			continue
		}
		c.byDay[key] = models.DailyBar{
			Date:   util.StartOfDay(t),
			Open:   k.open,
			High:   k.high,
			Low:    k.low,
			Close:  k.close,
			Volume: k.volume,
		}
	}
}

func (c *collector) sorted() []models.DailyBar {
	out := make([]models.DailyBar, 0, len(c.byDay))
	for _, b := range c.byDay {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
