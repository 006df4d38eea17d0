package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	models "StockPulse/internal/domain/models"
	icache "StockPulse/internal/service/cache"
	"StockPulse/internal/service/ratelimit"
	"StockPulse/internal/usecase"
	xhttp "StockPulse/pkg/http"
	xlogger "StockPulse/pkg/logger"
	"StockPulse/pkg/util"
)

// TraderControl is the live trader as the API sees it.
type TraderControl interface {
	Halt(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
	Status() models.TraderStatus
	RecentTrades(instrument string, limit int) []models.TradeRecord
}

type TradeQuerier interface {
	QueryTrades(ctx context.Context, instrument string, limit int) ([]models.TradeRecord, error)
}

type OptimizeQueue interface {
	Submit(ctx context.Context, req models.OptimizeRequest) (models.OptimizeJobState, error)
	Get(ctx context.Context, id string) (*models.OptimizeJobState, error)
}

type BarReader interface {
	GetBars(ctx context.Context, p usecase.GetBarsParams) (*usecase.GetBarsResult, error)
}

// TraderHandler implements the control and status endpoints.
type TraderHandler struct {
	logger   *xlogger.Logger
	trader   TraderControl
	trades   TradeQuerier
	optimize OptimizeQueue
	bars     BarReader
	checks   map[string]func(context.Context) error
	cache    *icache.TTLCache
	cacheTTL time.Duration
	rl       *ratelimit.Limiter
	loc      *time.Location
}

type HandlerOption func(*TraderHandler)

// WithTradeStore serves /api/trades from q instead of memory.
func WithTradeStore(q TradeQuerier) HandlerOption {
	return func(h *TraderHandler) { h.trades = q }
}

func WithOptimizeQueue(q OptimizeQueue) HandlerOption {
	return func(h *TraderHandler) { h.optimize = q }
}

func WithBarReader(b BarReader) HandlerOption {
	return func(h *TraderHandler) { h.bars = b }
}

// WithHealthCheck adds a dependency to /health.
func WithHealthCheck(name string, fn func(context.Context) error) HandlerOption {
	return func(h *TraderHandler) { h.checks[name] = fn }
}

// WithLocation sets the zone for zone-less times in queries.
func WithLocation(loc *time.Location) HandlerOption {
	return func(h *TraderHandler) { h.loc = loc }
}

func WithQueryCache(c *icache.TTLCache, ttl time.Duration) HandlerOption {
	return func(h *TraderHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

func NewTraderHandler(logger *xlogger.Logger, trader TraderControl, opts ...HandlerOption) *TraderHandler {
	h := &TraderHandler{
		logger:   logger,
		trader:   trader,
		checks:   make(map[string]func(context.Context) error),
		cache:    icache.NewTTLCache(),
		cacheTTL: 5 * time.Second,
		rl:       ratelimit.New(),
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TraderHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.GET("/trades", h.Trades)
	g.GET("/bars", h.Bars)
	g.POST("/halt", h.Halt)
	g.POST("/resume", h.Resume)
	g.POST("/optimize", h.SubmitOptimize)
	g.GET("/optimize/:id", h.GetOptimize)
}

func (h *TraderHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.trader.Status())
}

func (h *TraderHandler) Positions(c echo.Context) error {
	positions := h.trader.Status().Positions
	return xhttp.ListResponse(c, positions, int64(len(positions)))
}

func (h *TraderHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.trades != nil {
		key := "trades:" + req.Instrument + ":" + strconv.Itoa(req.Limit)
		if v, ok := h.cache.Get(key); ok {
			rows := v.([]models.TradeRecord)
			return xhttp.ListResponse(c, rows, int64(len(rows)))
		}
		rows, err := h.trades.QueryTrades(c.Request().Context(), req.Instrument, req.Limit)
		if err == nil {
			h.cache.Set(key, rows, h.cacheTTL)
			return xhttp.ListResponse(c, rows, int64(len(rows)))
		}
		h.logger.Warn("trade store query failed, serving from memory", xlogger.Error(err))
	}

	rows := h.trader.RecentTrades(req.Instrument, req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *TraderHandler) Bars(c echo.Context) error {
	if h.bars == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("bar archive disabled"))
	}
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := util.ParseTimeIn(req.From, h.loc)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("from %q is not a time", req.From))
	}
	to, ok := util.ParseTimeIn(req.To, h.loc)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("to %q is not a time", req.To))
	}

	res, err := h.bars.GetBars(c.Request().Context(), usecase.GetBarsParams{
		Instrument: req.Instrument,
		From:       from,
		To:         to,
		Limit:      req.Limit,
	})
	if err != nil {
		h.logger.Error("bars usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *TraderHandler) Halt(c echo.Context) error {
	req := &models.HaltRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.trader.Halt(c.Request().Context(), req.Reason); err != nil {
		// entries are already stopped in this process
		h.logger.Error("halt not persisted", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("halted, but the halt flag was not persisted").WithError(err))
	}
	h.logger.Warn("halt requested", xlogger.String("reason", req.Reason), xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, h.trader.Status())
}

func (h *TraderHandler) Resume(c echo.Context) error {
	if err := h.trader.Resume(c.Request().Context()); err != nil {
		h.logger.Error("resume not persisted", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("resumed, but the halt flag was not cleared").WithError(err))
	}
	h.logger.Info("resume requested", xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, h.trader.Status())
}

func (h *TraderHandler) SubmitOptimize(c echo.Context) error {
	if h.optimize == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("optimizer queue disabled"))
	}
	if !h.rl.Allow(c.RealIP()+":optimize", 3, 0.05) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many optimize requests"))
	}
	req := &models.OptimizeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	job, err := h.optimize.Submit(c.Request().Context(), *req)
	if err != nil {
		if errors.Is(err, models.ErrConfigInvalid) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		h.logger.Error("optimize submit error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Info("optimize job queued", xlogger.String("job_id", job.ID), xlogger.Strings("instruments", req.Instruments))
	return xhttp.AcceptedResponse(c, job)
}

func (h *TraderHandler) GetOptimize(c echo.Context) error {
	if h.optimize == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("optimizer queue disabled"))
	}
	id := c.Param("id")
	job, err := h.optimize.Get(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("optimize lookup error", xlogger.String("job_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if job == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("job %s not found", id))
	}
	return xhttp.SuccessResponse(c, job)
}

// Health reports each dependency; any failure turns the whole check 503.
func (h *TraderHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := h.trader.Status()
	deps := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}
	body := map[string]interface{}{
		"feed_connected": status.FeedConnected,
		"halted":         status.Halted,
		"dependencies":   deps,
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}
