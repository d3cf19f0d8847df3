// Package http is the echo adapter over the session engine.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/app"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

const maxQuestionLen = 500

type Handler struct {
	engine *app.Engine
	logger *slog.Logger
}

func NewHandler(engine *app.Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	e.GET("/v1/spreads", h.ListSpreads)

	e.POST("/v1/sessions", h.StartSession)
	e.POST("/v1/sessions/:token/shuffle", h.Reshuffle)
	e.POST("/v1/sessions/:token/picks", h.Pick)
	e.POST("/v1/sessions/:token/reveal", h.Reveal)
	e.GET("/v1/sessions/:token/result", h.Result)

	e.GET("/v1/history", h.History)
	e.PATCH("/v1/history/:id", h.UpdateRecord)
	e.POST("/v1/history/:id/viewed", h.MarkViewed)
	e.DELETE("/v1/history/:id", h.DeleteRecord)
	e.POST("/v1/history/attach", h.AttachGuestReading)
}

func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) ListSpreads(c echo.Context) error {
	spreads, err := h.engine.Spreads(c.Request().Context())
	if err != nil {
		return h.mapError(c, err)
	}
	out := make([]SpreadResponse, len(spreads))
	for i, s := range spreads {
		out[i] = toSpreadResponse(s)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) StartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed body"})
	}
	if req.SpreadID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "spread_id is required"})
	}
	if len(req.Question) > maxQuestionLen {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "question must be at most 500 characters"})
	}

	view, err := h.engine.StartSession(c.Request().Context(), app.StartInput{
		SpreadID: req.SpreadID,
		Question: req.Question,
		Lang:     req.Lang,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(view))
}

func (h *Handler) Reshuffle(c echo.Context) error {
	view, err := h.engine.Reshuffle(c.Request().Context(), c.Param("token"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(view))
}

func (h *Handler) Pick(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}

	var req pickRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed body"})
	}

	out, err := h.engine.Pick(c.Request().Context(), c.Param("token"), req.DeckIndex, id)
	if err != nil {
		return h.mapError(c, err)
	}

	resp := PickResponse{Draw: toDrawResponse(out.Draw), Completed: out.Completed}
	if out.Navigation != nil {
		resp.Navigation = &NavigationResponse{
			Token:    out.Navigation.Token,
			SpreadID: out.Navigation.SpreadID,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Reveal(c echo.Context) error {
	view, err := h.engine.Reveal(c.Request().Context(), c.Param("token"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(view))
}

func (h *Handler) Result(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}

	res, err := h.engine.Result(c.Request().Context(), c.Param("token"), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, toResultResponse(res))
}

func (h *Handler) History(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}

	recs, err := h.engine.History(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, toHistoryResponses(recs))
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}
	recordID, ok := recordIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid record id"})
	}

	var req updateRecordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed body"})
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "rating must be between 1 and 5"})
	}

	upd := ports.RecordUpdate{Comment: req.Comment, Rating: req.Rating}
	if err := h.engine.UpdateRecord(c.Request().Context(), id, recordID, upd); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkViewed(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}
	recordID, ok := recordIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid record id"})
	}

	if err := h.engine.MarkViewed(c.Request().Context(), id, recordID); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}
	recordID, ok := recordIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid record id"})
	}

	if err := h.engine.DeleteRecord(c.Request().Context(), id, recordID); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AttachGuestReading(c echo.Context) error {
	id, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}
	if id.Guest() {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "sign in to attach a reading"})
	}

	attached, err := h.engine.AttachGuestReading(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, AttachResponse{Attached: attached})
}

// requireIdentity rejects callers with neither an account nor a device
// id; everything past spread browsing needs a stable subject. When it
// reports false the 401 response has already been written.
func (h *Handler) requireIdentity(c echo.Context) (ports.Identity, bool) {
	id := identityFrom(c)
	if id.Guest() && id.DeviceID == "" {
		_ = c.JSON(http.StatusUnauthorized,
			ErrorResponse{Error: "missing X-Device-Id or Authorization"})
		return ports.Identity{}, false
	}
	return id, true
}

func recordIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) mapError(c echo.Context, err error) error {
	requestID, _ := c.Get("request_id").(string)

	switch {
	case errors.Is(err, domain.ErrSpreadNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrRecordNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "daily reading limit reached"})
	case errors.Is(err, domain.ErrCardNotInDeck):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrCardAlreadyDrawn),
		errors.Is(err, domain.ErrSpreadFull),
		errors.Is(err, domain.ErrSessionState):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("internal error", "request_id", requestID, "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
