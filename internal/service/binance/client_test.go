package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"CryptoDaily/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeExchange serves klines for a run of consecutive days starting at day0.
type fakeExchange struct {
	mu       sync.Mutex
	days     int
	latest   int // index returned by the limit=1 probe; -1 means days-1
	requests []map[string]string
	fail     []int // status codes to return before serving normally
}

func (f *fakeExchange) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC"},
			{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"},
			{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT"}
		]}`))
	})
	mux.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		q := r.URL.Query()
		req := map[string]string{}
		for k := range q {
			req[k] = q.Get(k)
		}
		f.requests = append(f.requests, req)
		assert.Equal(t, "1d", q.Get("interval"))

		if len(f.fail) > 0 {
			code := f.fail[0]
			f.fail = f.fail[1:]
			w.WriteHeader(code)
			return
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		rows := make([][]interface{}, 0)
		if q.Get("startTime") == "" {
			idx := f.latest
			if idx < 0 {
				idx = f.days - 1
			}
			rows = append(rows, row(day0.AddDate(0, 0, idx)))
		} else {
			start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
			end := int64(1<<62)
			if e := q.Get("endTime"); e != "" {
				end, _ = strconv.ParseInt(e, 10, 64)
			}
			for i := 0; i < f.days && len(rows) < limit; i++ {
				ts := day0.AddDate(0, 0, i).UnixMilli()
				if ts >= start && ts <= end {
					rows = append(rows, row(day0.AddDate(0, 0, i)))
				}
			}
		}
		_ = json.NewEncoder(w).Encode(rows)
	})
	return mux
}

func (f *fakeExchange) pageRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r["startTime"] != "" {
			n++
		}
	}
	return n
}

func row(t time.Time) []interface{} {
	p := strconv.Itoa(t.YearDay())
	return []interface{}{t.UnixMilli(), p, p, p, p, "10.5", t.Add(24*time.Hour - time.Millisecond).UnixMilli()}
}

func newTestClient(t *testing.T, f *fakeExchange, now time.Time, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	base := []Option{
		WithRetries(3, 0),
		WithPageDelay(0),
		WithClock(func() time.Time { return now }),
		WithHistoryFloor(day0),
	}
	c := New(srv.URL+"/api/v3", append(base, opts...)...)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestListAssetsFiltersQuoteAndStatus(t *testing.T) {
	c := newTestClient(t, &fakeExchange{}, day0)

	assets, err := c.ListAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.AssetRef{
		{Name: "BTC", Symbol: "BTCUSDT"},
		{Name: "ETH", Symbol: "ETHUSDT"},
	}, assets)
}

func TestFetchFromRangePaginatesUntilShortPage(t *testing.T) {
	f := &fakeExchange{days: 1200, latest: -1}
	c := newTestClient(t, f, day0.AddDate(0, 0, 1200))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FromRange(day0))
	require.NoError(t, err)

	assert.Equal(t, 2, f.pageRequests())
	require.Len(t, bars, 1200)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i-1].Date.Before(bars[i].Date), "bars must be strictly ascending at %d", i)
	}
	assert.Equal(t, day0, bars[0].Date)
	assert.Equal(t, day0.AddDate(0, 0, 1199), bars[1199].Date)

	assert.Equal(t, strconv.FormatInt(day0.UnixMilli(), 10), f.requests[0]["startTime"])
	assert.Equal(t, "1000", f.requests[0]["limit"])
	assert.Empty(t, f.requests[0]["endTime"])
	assert.Equal(t, strconv.FormatInt(day0.AddDate(0, 0, 999).UnixMilli()+1, 10), f.requests[1]["startTime"])
}

func TestFetchFromRangeSinceParam(t *testing.T) {
	f := &fakeExchange{days: 30, latest: -1}
	c := newTestClient(t, f, day0.AddDate(0, 0, 30))
	since := day0.AddDate(0, 0, 20)

	bars, err := c.FetchDailyBars(context.Background(), "ETHUSDT", models.FromRange(since))
	require.NoError(t, err)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "ETHUSDT", f.requests[0]["symbol"])
	assert.Equal(t, strconv.FormatInt(since.UnixMilli(), 10), f.requests[0]["startTime"])
	require.Len(t, bars, 10)
	assert.Equal(t, since, bars[0].Date)
	assert.Equal(t, 10.5, bars[0].Volume)
}

func TestFetchFullRangeProbesThenPagesToLatest(t *testing.T) {
	f := &fakeExchange{days: 50, latest: -1}
	latest := day0.AddDate(0, 0, 49)
	// The next day has not opened yet, so no tail request is made.
	c := newTestClient(t, f, latest.Add(12*time.Hour))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FullRange())
	require.NoError(t, err)

	require.Len(t, f.requests, 2)
	assert.Equal(t, "1", f.requests[0]["limit"])
	assert.Empty(t, f.requests[0]["startTime"])
	assert.Equal(t, strconv.FormatInt(day0.UnixMilli(), 10), f.requests[1]["startTime"])
	assert.Equal(t, strconv.FormatInt(latest.UnixMilli(), 10), f.requests[1]["endTime"])
	require.Len(t, bars, 50)
	assert.Equal(t, latest, bars[49].Date)
}

func TestFetchFullRangePaginatesUntilShortPage(t *testing.T) {
	f := &fakeExchange{days: 1200, latest: -1}
	latest := day0.AddDate(0, 0, 1199)
	// The probed bar is today's still-open candle, so no tail request follows.
	c := newTestClient(t, f, latest.Add(12*time.Hour))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FullRange())
	require.NoError(t, err)

	assert.Equal(t, 2, f.pageRequests())
	require.Len(t, bars, 1200)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i-1].Date.Before(bars[i].Date), "bars must be strictly ascending at %d", i)
	}
	assert.Equal(t, latest, bars[1199].Date)
}

func TestFetchFullRangeStopsAtLatestOnFullLastPage(t *testing.T) {
	f := &fakeExchange{days: 1000, latest: -1}
	latest := day0.AddDate(0, 0, 999)
	c := newTestClient(t, f, latest.Add(12*time.Hour))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FullRange())
	require.NoError(t, err)
	require.Len(t, bars, 1000)

	assert.Equal(t, 1, f.pageRequests())
	for _, r := range f.requests {
		if r["startTime"] == "" || r["endTime"] == "" {
			continue
		}
		start, _ := strconv.ParseInt(r["startTime"], 10, 64)
		end, _ := strconv.ParseInt(r["endTime"], 10, 64)
		assert.LessOrEqual(t, start, end)
	}
}

func TestFetchFullRangeFetchesTailAfterLatest(t *testing.T) {
	f := &fakeExchange{days: 51, latest: 49}
	c := newTestClient(t, f, day0.AddDate(0, 0, 50).Add(time.Hour))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FullRange())
	require.NoError(t, err)

	require.Len(t, f.requests, 3)
	tail := f.requests[2]
	assert.Equal(t, strconv.FormatInt(day0.AddDate(0, 0, 49).UnixMilli()+1, 10), tail["startTime"])
	assert.Empty(t, tail["endTime"])
	assert.Len(t, bars, 51)
}

func TestFetchFullRangeNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := New(srv.URL, WithPageDelay(0), WithRetries(1, 0))

	bars, err := c.FetchDailyBars(context.Background(), "NEWUSDT", models.FullRange())
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	f := &fakeExchange{days: 5, latest: -1, fail: []int{http.StatusInternalServerError, http.StatusTooManyRequests}}
	c := newTestClient(t, f, day0.AddDate(0, 0, 5))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FromRange(day0))
	require.NoError(t, err)
	assert.Len(t, f.requests, 3)
	assert.Len(t, bars, 5)
}

func TestFetchExhaustsRetries(t *testing.T) {
	f := &fakeExchange{days: 5, latest: -1, fail: []int{503, 503, 503, 503}}
	c := newTestClient(t, f, day0.AddDate(0, 0, 5))

	_, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FromRange(day0))
	var ue *models.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 3, ue.Attempts)
	assert.True(t, ue.Retryable())
	assert.Equal(t, "BTCUSDT", ue.Symbol)
	assert.Len(t, f.requests, 3)
}

func TestFetchDoesNotRetryClientError(t *testing.T) {
	f := &fakeExchange{days: 5, latest: -1, fail: []int{http.StatusBadRequest}}
	c := newTestClient(t, f, day0.AddDate(0, 0, 5))

	_, err := c.FetchDailyBars(context.Background(), "BADSYMBOL", models.FromRange(day0))
	var ue *models.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 1, ue.Attempts)
	assert.False(t, ue.Retryable())
	assert.Len(t, f.requests, 1)
}

func TestFetchMalformedBodyIsPermanent(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`[[1577836800000,"1","2"`))
	}))
	defer srv.Close()
	c := New(srv.URL, WithPageDelay(0), WithRetries(3, 0))

	_, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FromRange(day0))
	var ue *models.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.False(t, ue.Retryable())
	assert.Equal(t, 1, hits)
}

func TestFetchRetriesTruncatedBody(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("Content-Length", "500")
			_, _ = w.Write([]byte(`[[1577836800000,"1"`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := New(srv.URL, WithPageDelay(0), WithRetries(3, 0))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FromRange(day0))
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, 2, hits)
}

func TestFetchDedupesOverlappingDays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Two candles on the same UTC day, then the next day.
		body := fmt.Sprintf(`[[%d,"1","1","1","1","1"],[%d,"2","2","2","2","2"],[%d,"3","3","3","3","3"]]`,
			day0.UnixMilli(), day0.Add(time.Hour).UnixMilli(), day0.AddDate(0, 0, 1).UnixMilli())
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := New(srv.URL, WithPageDelay(0), WithRetries(1, 0))

	bars, err := c.FetchDailyBars(context.Background(), "BTCUSDT", models.FromRange(day0))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Open)
	assert.Equal(t, day0.AddDate(0, 0, 1), bars[1].Date)
}

func TestParseKlineRejectsShortRow(t *testing.T) {
	_, err := parseKline([]json.RawMessage{json.RawMessage(`1`)})
	assert.Error(t, err)
}
