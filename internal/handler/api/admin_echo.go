package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	models "GateKeeper/internal/domain/models"
	"GateKeeper/internal/service/gate"
	"GateKeeper/internal/service/lock"
	"GateKeeper/internal/service/regime"
	"GateKeeper/internal/service/throttle"
	"GateKeeper/internal/usecase"
	xhttp "GateKeeper/pkg/http"
	"GateKeeper/pkg/logger"
)

// AdminHandler exposes read and operator endpoints over the guard services.
type AdminHandler struct {
	log      *logger.Logger
	gate     *gate.Gate
	throttle *throttle.Throttle
	locks    *lock.Manager
	regimes  *regime.Registry
	runner   *usecase.CycleRunner
}

func NewAdminHandler(
	l *logger.Logger,
	g *gate.Gate,
	t *throttle.Throttle,
	locks *lock.Manager,
	regimes *regime.Registry,
	runner *usecase.CycleRunner,
) *AdminHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &AdminHandler{
		log:      l.With("admin-api"),
		gate:     g,
		throttle: t,
		locks:    locks,
		regimes:  regimes,
		runner:   runner,
	}
}

func (h *AdminHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/gate/status", h.GateStatus)
	g.POST("/gate/check", h.GateCheck)
	g.GET("/throttle/status", h.ThrottleStatus)
	g.POST("/throttle/check", h.ThrottleCheck)
	g.POST("/throttle/clear-halt", h.ClearHalt)
	g.GET("/locks/:key", h.LockStatus)
	g.DELETE("/locks/:key", h.ReleaseLock)
	g.GET("/regime/:symbol", h.Regime)
	g.POST("/analysis", h.Analysis)
}

func (h *AdminHandler) GateStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.gate.Status(c.Request().Context()))
}

// GateCheck evaluates a request against the gate without running or billing it.
func (h *AdminHandler) GateCheck(c echo.Context) error {
	req := &models.GateCheckRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	dec := h.gate.Check(c.Request().Context(), models.GateRequest{
		Gate:      req.Gate,
		DedupKey:  req.DedupKey,
		EventHash: req.EventHash,
		CallClass: models.ParseCallClass(req.CallClass),
		Cost:      decimal.NewFromFloat(req.Cost),
	})
	return xhttp.SuccessResponse(c, dec)
}

func (h *AdminHandler) ThrottleStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.throttle.Status())
}

func (h *AdminHandler) ThrottleCheck(c echo.Context) error {
	req := &models.ThrottleCheckRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.throttle.CheckAll(models.ActionType(req.Action)))
}

// ClearHalt lifts a manual-intervention halt. It is the only way out of one.
func (h *AdminHandler) ClearHalt(c echo.Context) error {
	cleared := h.throttle.ClearHalt()
	if cleared {
		h.log.Warn("throttle halt cleared by operator", logger.String("remote", c.RealIP()))
	}
	return xhttp.SuccessResponse(c, map[string]bool{"cleared": cleared})
}

func (h *AdminHandler) LockStatus(c echo.Context) error {
	req := &models.LockRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	locked, info := h.locks.IsLocked(c.Request().Context(), req.Key)
	return xhttp.SuccessResponse(c, map[string]any{"locked": locked, "lock": info})
}

// ReleaseLock deletes a lock held by owner. Releasing someone else's lock is a conflict.
func (h *AdminHandler) ReleaseLock(c echo.Context) error {
	req := &models.LockRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if strings.TrimSpace(req.Owner) == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("owner", "owner is required"))
	}
	if !h.locks.Release(c.Request().Context(), req.Key, req.Owner) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("lock not held by owner"))
	}
	h.log.Info("lock released by operator",
		logger.String("key", req.Key),
		logger.String("owner", req.Owner),
	)
	return xhttp.SuccessResponse(c, map[string]bool{"released": true})
}

func (h *AdminHandler) Regime(c echo.Context) error {
	req := &models.RegimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, ok := h.regimes.Current(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no regime for %s", req.Symbol))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, st)
}

// Analysis runs a user-initiated cycle. Denials come back as a 200 with the
// outcome; only a missing snapshot is an error.
func (h *AdminHandler) Analysis(c echo.Context) error {
	req := &models.AnalysisTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	out, err := h.runner.RequestAnalysis(c.Request().Context(), req.Symbol, req.Snapshot, req.Position)
	if err != nil {
		h.log.Warn("analysis request failed", logger.String("symbol", req.Symbol), logger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_NO_SNAPSHOT", "symbol", err.Error(), http.StatusNotFound).WithError(err))
	}
	return xhttp.SuccessResponse(c, out)
}
