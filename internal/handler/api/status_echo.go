package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"CryptoDaily/internal/domain/models"
	domrepo "CryptoDaily/internal/domain/repository"
	xhttp "CryptoDaily/pkg/http"
	xlogger "CryptoDaily/pkg/logger"
	"CryptoDaily/pkg/util"

	"github.com/labstack/echo/v4"
)

// AssetView is one asset in the status listing.
type AssetView struct {
	Name     string           `json:"name,omitempty"`
	Symbol   string           `json:"symbol"`
	LastDate string           `json:"last_date,omitempty"`
	Fresh    bool             `json:"fresh"`
	Latest   *models.DailyBar `json:"latest,omitempty"`
}

// StatusEchoHandler serves the read-only ops API over stored assets and the last sync pass.
type StatusEchoHandler struct {
	logger  *xlogger.Logger
	assets  domrepo.AssetRepository
	reports domrepo.ReportStore
	now     func() time.Time
}

func NewStatusEchoHandler(logger *xlogger.Logger, assets domrepo.AssetRepository, reports domrepo.ReportStore) *StatusEchoHandler {
	return &StatusEchoHandler{logger: logger, assets: assets, reports: reports, now: time.Now}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.GET("/assets", h.ListAssets)
	g.GET("/assets/:symbol", h.Asset)
	g.GET("/assets/:symbol/dayline", h.Dayline)
	g.GET("/sync/last", h.LastSync)
}

func (h *StatusEchoHandler) Health(c echo.Context) error {
	if err := h.assets.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, xhttp.APIResponse{
			Status:  http.StatusServiceUnavailable,
			Message: http.StatusText(http.StatusServiceUnavailable),
			Data:    err.Error(),
		})
	}
	return xhttp.SuccessResponse(c, map[string]string{"mongo": "ok"})
}

func (h *StatusEchoHandler) ListAssets(c echo.Context) error {
	states, err := h.assets.ListStates(c.Request().Context())
	if err != nil {
		h.logger.Error("list assets error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("cannot list assets").WithError(err))
	}

	yesterday := util.Yesterday(h.now())
	rows := make([]AssetView, 0, len(states))
	for _, st := range states {
		v := AssetView{Name: st.Name, Symbol: st.Symbol}
		if st.LastDate != nil {
			v.LastDate = util.DayKey(*st.LastDate)
			v.Fresh = !st.LastDate.Before(yesterday)
		}
		rows = append(rows, v)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StatusEchoHandler) Asset(c echo.Context) error {
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := strings.ToUpper(req.Symbol)

	bar, err := h.assets.LatestBar(c.Request().Context(), symbol)
	if err != nil {
		return h.storageError(c, symbol, err)
	}

	v := AssetView{Symbol: symbol, Latest: bar}
	if bar != nil {
		v.LastDate = util.DayKey(bar.Date)
		v.Fresh = !bar.Date.Before(util.Yesterday(h.now()))
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *StatusEchoHandler) Dayline(c echo.Context) error {
	req := &models.DaylineRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := strings.ToUpper(req.Symbol)

	from, to := time.Time{}, util.StartOfDay(h.now())
	if req.From != "" {
		t, ok := xhttp.ParseTime(req.From)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
		}
		from = util.StartOfDay(t)
	}
	if req.To != "" {
		t, ok := xhttp.ParseTime(req.To)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
		}
		to = util.StartOfDay(t)
	}
	if to.Before(from) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must not be after to"))
	}

	bars, err := h.assets.GetDayline(c.Request().Context(), symbol, from, to, req.Limit)
	if err != nil {
		return h.storageError(c, symbol, err)
	}
	if bars == nil {
		bars = []models.DailyBar{}
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

func (h *StatusEchoHandler) LastSync(c echo.Context) error {
	r, err := h.reports.LastReport(c.Request().Context())
	if err != nil {
		h.logger.Error("last report error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("cannot load last sync report").WithError(err))
	}
	if r == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no sync pass finished yet"))
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *StatusEchoHandler) storageError(c echo.Context, symbol string, err error) error {
	if errors.Is(err, models.ErrAssetNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("asset %s not found", symbol))
	}
	h.logger.Error("asset read error", xlogger.String("symbol", symbol), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("cannot read asset").WithError(err))
}
