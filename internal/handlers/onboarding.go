package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/courierhq/courier/internal/onboarding"
)

// OnboardingHandler exposes the workflow engine over HTTP.
type OnboardingHandler struct {
	service *onboarding.Service
	logger  *slog.Logger
}

// NewOnboardingHandler creates an OnboardingHandler.
func NewOnboardingHandler(log *slog.Logger, service *onboarding.Service) *OnboardingHandler {
	return &OnboardingHandler{
		service: service,
		logger:  log.With(slog.String("handler", "onboarding")),
	}
}

// Register registers the onboarding routes.
func (h *OnboardingHandler) Register(e *echo.Echo) {
	e.POST("/onboarding", h.Start)
	e.GET("/onboarding/:id", h.Get)
	e.POST("/onboarding/:id/transitions", h.Transition)
	e.GET("/onboarding/workers/count", h.CountWorkers)
}

type startRequest struct {
	OnboardingID string         `json:"onboarding_id"`
	Request      map[string]any `json:"request"`
}

type transitionRequest struct {
	Transition     string         `json:"transition" validate:"required"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Start begins (or resumes) a flow.
func (h *OnboardingHandler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	flow, err := h.service.Start(c.Request().Context(), req.OnboardingID, req.Request)
	if err != nil {
		h.logger.Error("start flow failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "start onboarding failed")
	}
	return c.JSON(http.StatusCreated, flow)
}

// Get returns the worker-owned flow state.
func (h *OnboardingHandler) Get(c echo.Context) error {
	flow, err := h.service.GetFlow(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, onboarding.ErrFlowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "onboarding flow not found")
		}
		h.logger.Error("get flow failed", slog.String("onboarding_id", c.Param("id")), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "get onboarding failed")
	}
	return c.JSON(http.StatusOK, flow)
}

// Transition applies one state-machine edge to the flow.
func (h *OnboardingHandler) Transition(c echo.Context) error {
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind, err := onboarding.ParseTransition(req.Transition)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Transition(c.Request().Context(), c.Param("id"), kind, req.Metadata, req.IdempotencyKey)
	if err != nil {
		var invalid *onboarding.InvalidTransitionError
		switch {
		case errors.Is(err, onboarding.ErrFlowNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "onboarding flow not found")
		case errors.As(err, &invalid):
			return c.JSON(http.StatusConflict, map[string]any{
				"error":   "invalid_transition",
				"status":  invalid.Status,
				"allowed": invalid.Allowed,
			})
		default:
			h.logger.Error("transition failed",
				slog.String("onboarding_id", c.Param("id")),
				slog.String("transition", req.Transition),
				slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "transition failed")
		}
	}
	return c.JSON(http.StatusOK, result)
}

// CountWorkers reports live flow workers.
func (h *OnboardingHandler) CountWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"count": h.service.CountWorkers(),
	})
}
