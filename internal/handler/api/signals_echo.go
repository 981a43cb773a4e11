package api

import (
	"errors"
	"net/http"

	"PerpCast/internal/usecase"
	"PerpCast/pkg/cache"
	xhttp "PerpCast/pkg/http"
	xlogger "PerpCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalsEchoHandler exposes the latest blend and loop health over Echo.
type SignalsEchoHandler struct {
	logger    *xlogger.Logger
	cache     cache.Service
	scheduler *usecase.TickScheduler
}

func NewSignalsEchoHandler(logger *xlogger.Logger, c cache.Service, scheduler *usecase.TickScheduler) *SignalsEchoHandler {
	return &SignalsEchoHandler{logger: logger, cache: c, scheduler: scheduler}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/signal/latest", h.Latest)
	g.GET("/status", h.Status)
	e.GET("/healthz", h.Health)
}

// Latest returns the most recent blended prediction. A cache miss means no
// prediction has been made within the retention window.
func (h *SignalsEchoHandler) Latest(c echo.Context) error {
	var sig usecase.LatestSignal
	err := h.cache.Get(c.Request().Context(), usecase.LatestSignalKey, &sig)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return xhttp.NotFoundResponse(c, "no recent signal")
		}
		h.logger.Error("latest signal lookup failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=1")
	return xhttp.SuccessResponse(c, sig)
}

// Status reports loop counters and pending resolution depth.
func (h *SignalsEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.scheduler.Stats())
}

// Health is liveness plus feed connectivity.
func (h *SignalsEchoHandler) Health(c echo.Context) error {
	stats := h.scheduler.Stats()
	status := http.StatusOK
	if !stats.Connected {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]interface{}{
		"status":    http.StatusText(status),
		"connected": stats.Connected,
		"last_tick": stats.LastTick,
	})
}
