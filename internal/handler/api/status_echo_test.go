package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CryptoDaily/internal/domain/models"
	xlogger "CryptoDaily/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

type stubAssets struct {
	states    []models.AssetState
	dayline   map[string][]models.DailyBar
	healthErr error
	listErr   error

	gotFrom, gotTo time.Time
	gotLimit       int
}

func (s *stubAssets) Count(context.Context) (int64, error)                          { return int64(len(s.states)), nil }
func (s *stubAssets) Exists(context.Context, string) (bool, error)                  { return true, nil }
func (s *stubAssets) InsertIfAbsent(context.Context, models.AssetRef) (bool, error) { return false, nil }
func (s *stubAssets) AppendBars(context.Context, string, []models.DailyBar) error   { return nil }
func (s *stubAssets) Health(context.Context) error                                  { return s.healthErr }
func (s *stubAssets) Close(context.Context) error                                   { return nil }

func (s *stubAssets) ListStates(context.Context) ([]models.AssetState, error) {
	return s.states, s.listErr
}

func (s *stubAssets) LatestBar(_ context.Context, symbol string) (*models.DailyBar, error) {
	bars, ok := s.dayline[symbol]
	if !ok {
		return nil, models.ErrAssetNotFound
	}
	if len(bars) == 0 {
		return nil, nil
	}
	return &bars[len(bars)-1], nil
}

func (s *stubAssets) GetDayline(_ context.Context, symbol string, from, to time.Time, limit int) ([]models.DailyBar, error) {
	s.gotFrom, s.gotTo, s.gotLimit = from, to, limit
	bars, ok := s.dayline[symbol]
	if !ok {
		return nil, models.ErrAssetNotFound
	}
	return bars, nil
}

type stubReports struct {
	last *models.SyncReport
	err  error
}

func (s *stubReports) SaveReport(context.Context, *models.SyncReport) error { return nil }
func (s *stubReports) LastReport(context.Context) (*models.SyncReport, error) {
	return s.last, s.err
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	Rows  json.RawMessage `json:"rows"`
	Total int64           `json:"total"`
}

func newTestServer(assets *stubAssets, reports *stubReports) *echo.Echo {
	h := NewStatusEchoHandler(xlogger.Nop(), assets, reports)
	h.now = func() time.Time { return today.Add(3 * time.Hour) }
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func get(t *testing.T, e *echo.Echo, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHealth(t *testing.T) {
	assets := &stubAssets{}
	e := newTestServer(assets, &stubReports{})

	rec, env := get(t, e, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, env.Status)

	assets.healthErr = errors.New("no reachable servers")
	rec, env = get(t, e, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
}

func TestListAssetsReportsFreshness(t *testing.T) {
	yesterday := today.AddDate(0, 0, -1)
	stale := today.AddDate(0, 0, -2)
	e := newTestServer(&stubAssets{states: []models.AssetState{
		{Name: "BTC", Symbol: "BTCUSDT", LastDate: &yesterday},
		{Name: "ETH", Symbol: "ETHUSDT", LastDate: &stale},
		{Name: "NEW", Symbol: "NEWUSDT"},
	}}, &stubReports{})

	_, env := get(t, e, "/api/v1/assets")
	require.Equal(t, http.StatusOK, env.Status)

	var data listData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	var rows []AssetView
	require.NoError(t, json.Unmarshal(data.Rows, &rows))

	assert.EqualValues(t, 3, data.Total)
	assert.True(t, rows[0].Fresh)
	assert.Equal(t, "2024-06-09", rows[0].LastDate)
	assert.False(t, rows[1].Fresh)
	assert.False(t, rows[2].Fresh)
	assert.Empty(t, rows[2].LastDate)
}

func TestListAssetsStorageFailure(t *testing.T) {
	e := newTestServer(&stubAssets{listErr: errors.New("boom")}, &stubReports{})
	_, env := get(t, e, "/api/v1/assets")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestAssetBySymbol(t *testing.T) {
	bars := []models.DailyBar{{Date: today.AddDate(0, 0, -1), Close: 42}}
	e := newTestServer(&stubAssets{dayline: map[string][]models.DailyBar{"BTCUSDT": bars}}, &stubReports{})

	_, env := get(t, e, "/api/v1/assets/btcusdt")
	require.Equal(t, http.StatusOK, env.Status)
	var v AssetView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, "BTCUSDT", v.Symbol)
	assert.True(t, v.Fresh)
	require.NotNil(t, v.Latest)
	assert.Equal(t, 42.0, v.Latest.Close)

	_, env = get(t, e, "/api/v1/assets/DOGEUSDT")
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestDaylineQuery(t *testing.T) {
	bars := []models.DailyBar{{Date: today.AddDate(0, 0, -2)}, {Date: today.AddDate(0, 0, -1)}}
	assets := &stubAssets{dayline: map[string][]models.DailyBar{"BTCUSDT": bars}}
	e := newTestServer(assets, &stubReports{})

	_, env := get(t, e, "/api/v1/assets/BTCUSDT/dayline?from=2024-06-01&to=2024-06-09&limit=10")
	require.Equal(t, http.StatusOK, env.Status)
	var data listData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.EqualValues(t, 2, data.Total)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), assets.gotFrom)
	assert.Equal(t, time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), assets.gotTo)
	assert.Equal(t, 10, assets.gotLimit)
}

func TestDaylineDefaults(t *testing.T) {
	assets := &stubAssets{dayline: map[string][]models.DailyBar{"BTCUSDT": nil}}
	e := newTestServer(assets, &stubReports{})

	_, env := get(t, e, "/api/v1/assets/BTCUSDT/dayline")
	require.Equal(t, http.StatusOK, env.Status)
	assert.True(t, assets.gotFrom.IsZero())
	assert.Equal(t, today, assets.gotTo)
	assert.Equal(t, 365, assets.gotLimit)

	var data listData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.JSONEq(t, "[]", string(data.Rows))
}

func TestDaylineRejectsBadParams(t *testing.T) {
	e := newTestServer(&stubAssets{dayline: map[string][]models.DailyBar{"BTCUSDT": nil}}, &stubReports{})

	for _, target := range []string{
		"/api/v1/assets/BTCUSDT/dayline?limit=9000",
		"/api/v1/assets/BTCUSDT/dayline?from=yesterday",
		"/api/v1/assets/BTCUSDT/dayline?from=2024-06-09&to=2024-06-01",
	} {
		_, env := get(t, e, target)
		assert.Equal(t, http.StatusBadRequest, env.Status, target)
	}
}

func TestDaylineUnknownAsset(t *testing.T) {
	e := newTestServer(&stubAssets{}, &stubReports{})
	_, env := get(t, e, "/api/v1/assets/XYZUSDT/dayline")
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestLastSync(t *testing.T) {
	reports := &stubReports{}
	e := newTestServer(&stubAssets{}, reports)

	_, env := get(t, e, "/api/v1/sync/last")
	assert.Equal(t, http.StatusNotFound, env.Status)

	reports.last = &models.SyncReport{Total: 3, Updated: 2, Failed: 1, Failures: map[string]string{"B": "boom"}}
	_, env = get(t, e, "/api/v1/sync/last")
	require.Equal(t, http.StatusOK, env.Status)
	var r models.SyncReport
	require.NoError(t, json.Unmarshal(env.Data, &r))
	assert.Equal(t, 2, r.Updated)
	assert.Equal(t, "boom", r.Failures["B"])
}
