package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	"TrustGate/internal/repository"
	xhttp "TrustGate/pkg/http"
	xlogger "TrustGate/pkg/logger"
)

// GateReader is the read side of a running gate.
type GateReader interface {
	Symbol() string
	Summary() models.RunSummary
	RecentTransitions(limit int) []models.StateTransition
}

// GateEchoHandler exposes the live gate state over HTTP. It only reads;
// decisions are never made on the request path.
type GateEchoHandler struct {
	logger *xlogger.Logger
	gate   GateReader
	snaps  domrepo.SnapshotStore
}

func NewGateEchoHandler(logger *xlogger.Logger, gate GateReader, snaps domrepo.SnapshotStore) *GateEchoHandler {
	return &GateEchoHandler{logger: logger, gate: gate, snaps: snaps}
}

func (h *GateEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/state", h.State)
	g.GET("/summary", h.Summary)
	g.GET("/transitions", h.Transitions)
}

// State returns the last published snapshot for ?symbol=, defaulting to the
// symbol the gate runs on.
func (h *GateEchoHandler) State(c echo.Context) error {
	req := &models.StateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := strings.ToLower(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		symbol = h.gate.Symbol()
	}

	snap, err := h.snaps.Get(c.Request().Context(), symbol)
	if errors.Is(err, repository.ErrNoSnapshot) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no gate state for %q", symbol).WithParam("symbol", symbol))
	}
	if err != nil {
		h.logger.Error("snapshot lookup failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("snapshot lookup failed").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, snap)
}

func (h *GateEchoHandler) Summary(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.gate.Summary())
}

// Transitions lists the most recent trust transitions, oldest first.
func (h *GateEchoHandler) Transitions(c echo.Context) error {
	req := &models.TransitionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.gate.RecentTransitions(req.Limit)
	return xhttp.DataResponse(c, http.StatusOK, &xhttp.ListDataResponse{Rows: rows, Total: int64(len(rows))})
}
