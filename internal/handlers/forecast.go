package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"stockcast-api/internal/config"
	"stockcast-api/internal/models"
	"stockcast-api/internal/services"
)

const (
	msgNoSymbol      = "No stock symbol provided"
	msgNoData        = "Error: Invalid stock symbol or no data."
	msgProcessFailed = "Error: Could not process data."
)

type ForecastHandler struct {
	orchestrator   *services.ForecastOrchestrator
	requestTimeout time.Duration
	maxBatch       int
	log            zerolog.Logger
}

func NewForecastHandler(orchestrator *services.ForecastOrchestrator, cfg *config.Config, log zerolog.Logger) *ForecastHandler {
	return &ForecastHandler{
		orchestrator:   orchestrator,
		requestTimeout: cfg.RequestTimeout,
		maxBatch:       cfg.MaxBatchSymbols,
		log:            log.With().Str("component", "handlers").Logger(),
	}
}

// Predict handles POST /predict and POST /v1/predict
func (h *ForecastHandler) Predict(c *fiber.Ctx) error {
	var req models.PredictRequest
	if err := parseBody(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   msgNoSymbol,
			Message: err.Error(),
			Code:    fiber.StatusBadRequest,
		})
	}
	req.Symbol = NormalizeSymbol(req.Symbol)

	if err := validate.StructCtx(c.UserContext(), &req); err != nil {
		msg := msgNoData
		if hasTag(err, "required") {
			msg = msgNoSymbol
		}
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   msg,
			Code:    fiber.StatusBadRequest,
			Details: validationErrors(err),
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.requestTimeout)
	defer cancel()

	resp, err := h.orchestrator.Predict(ctx, req.Symbol)
	if err != nil {
		status, msg := errorStatus(err)
		return c.Status(status).JSON(models.ErrorResponse{
			Error:   msg,
			Message: err.Error(),
			Code:    status,
		})
	}

	return c.JSON(resp)
}

// PredictBatch handles POST /v1/predict/batch
func (h *ForecastHandler) PredictBatch(c *fiber.Ctx) error {
	var req models.BatchPredictRequest
	if err := parseBody(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
			Code:    fiber.StatusBadRequest,
		})
	}
	for i, s := range req.Symbols {
		req.Symbols[i] = NormalizeSymbol(s)
	}

	if err := validate.StructCtx(c.UserContext(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Invalid symbols",
			Code:    fiber.StatusBadRequest,
			Details: validationErrors(err),
		})
	}

	if len(req.Symbols) > h.maxBatch {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Too many symbols",
			Message: fmt.Sprintf("Maximum %d symbols allowed per request", h.maxBatch),
			Code:    fiber.StatusBadRequest,
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.requestTimeout)
	defer cancel()

	results, failures := h.orchestrator.PredictBatch(ctx, req.Symbols)

	resp := models.BatchPredictResponse{
		Results: results,
		Errors:  make(map[string]string, len(failures)),
	}
	for symbol, err := range failures {
		_, resp.Errors[symbol] = errorStatus(err)
	}

	return c.JSON(resp)
}

// GetTickerData handles GET /v1/tickers/:symbol
func (h *ForecastHandler) GetTickerData(c *fiber.Ctx) error {
	symbol := NormalizeSymbol(c.Params("symbol"))
	if !ValidSymbol(symbol) {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid symbol",
			Code:  fiber.StatusBadRequest,
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	data, err := h.orchestrator.GetTickerData(ctx, symbol)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error:   "Ticker not found",
			Message: err.Error(),
			Code:    fiber.StatusNotFound,
		})
	}

	return c.JSON(data)
}

// RefreshCache handles POST /v1/admin/refresh
func (h *ForecastHandler) RefreshCache(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 60*time.Second)
	defer cancel()

	if err := h.orchestrator.RefreshCache(ctx); err != nil {
		h.log.Error().Err(err).Msg("cache refresh failed")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error:   "Failed to refresh cache",
			Message: err.Error(),
			Code:    fiber.StatusInternalServerError,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Cache refreshed successfully",
		"time":    time.Now().UTC(),
	})
}

// errorStatus maps a prediction failure to its status and public message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNoData):
		return fiber.StatusBadRequest, msgNoData
	case errors.Is(err, services.ErrModel):
		return fiber.StatusBadRequest, msgProcessFailed
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Error: Timed out fetching data."
	default:
		return fiber.StatusInternalServerError, msgProcessFailed
	}
}

// CustomErrorHandler handles Fiber errors
func CustomErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(models.ErrorResponse{
		Error:   "Request failed",
		Message: err.Error(),
		Code:    code,
	})
}
