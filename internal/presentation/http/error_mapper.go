package http

import (
	"encoding/json"
	"errors"

	apperrors "flashlever/internal/shared/errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ErrorMapping struct {
	Sentinel   error
	HTTPStatus int
	Code       string
	Message    string
	ShouldLog  bool
}

// errorMappings is matched in order with errors.Is, so wrapped errors carrying
// the action index still map to their sentinel.
var errorMappings = []ErrorMapping{
	{
		Sentinel:   apperrors.ErrInvalidAction,
		HTTPStatus: fasthttp.StatusBadRequest,
		Code:       "INVALID_ACTION",
		Message:    "Batch contains an unknown or malformed action",
	},
	{
		Sentinel:   apperrors.ErrDeadlineExpired,
		HTTPStatus: fasthttp.StatusBadRequest,
		Code:       "DEADLINE_EXPIRED",
		Message:    "Swap deadline has passed",
	},
	{
		Sentinel:   apperrors.ErrPoolNotFound,
		HTTPStatus: fasthttp.StatusNotFound,
		Code:       "POOL_NOT_FOUND",
		Message:    "No pool exists for the requested pair",
	},
	{
		Sentinel:   apperrors.ErrUnauthorizedCallback,
		HTTPStatus: fasthttp.StatusForbidden,
		Code:       "UNAUTHORIZED_CALLBACK",
		Message:    "Settlement callback authentication failed",
		ShouldLog:  true,
	},
	{
		Sentinel:   apperrors.ErrSlippageExceeded,
		HTTPStatus: fasthttp.StatusUnprocessableEntity,
		Code:       "SLIPPAGE_EXCEEDED",
		Message:    "Swap result violates the amount limit",
	},
	{
		Sentinel:   apperrors.ErrInsufficientLiquidity,
		HTTPStatus: fasthttp.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_LIQUIDITY",
		Message:    "Pool cannot serve the requested amount",
	},
	{
		Sentinel:   apperrors.ErrInsufficientInput,
		HTTPStatus: fasthttp.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_INPUT",
		Message:    "Input amount is zero or does not cover the swap",
	},
	{
		Sentinel:   apperrors.ErrInsufficientOutput,
		HTTPStatus: fasthttp.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_OUTPUT",
		Message:    "Output amount is zero",
	},
	{
		Sentinel:   apperrors.ErrArithmeticOverflow,
		HTTPStatus: fasthttp.StatusUnprocessableEntity,
		Code:       "ARITHMETIC_OVERFLOW",
		Message:    "Amount exceeds the supported numeric range",
	},
	{
		Sentinel:   apperrors.ErrLedgerRejected,
		HTTPStatus: fasthttp.StatusUnprocessableEntity,
		Code:       "LEDGER_REJECTED",
		Message:    "Ledger rejected the batch",
	},
	{
		Sentinel:   apperrors.ErrInternal,
		HTTPStatus: fasthttp.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    "Internal server error",
		ShouldLog:  true,
	},
}

func (h *DispatchHandler) handleError(ctx *fasthttp.RequestCtx, err error) {
	mapping := ErrorMapping{
		HTTPStatus: fasthttp.StatusInternalServerError,
		Code:       "UNKNOWN_ERROR",
		Message:    "An unexpected error occurred",
		ShouldLog:  true,
	}
	for _, candidate := range errorMappings {
		if errors.Is(err, candidate.Sentinel) {
			mapping = candidate
			break
		}
	}

	if mapping.ShouldLog {
		h.logger.Error("Request error",
			zap.Error(err),
			zap.String("path", string(ctx.Path())),
			zap.String("code", mapping.Code))
	}

	errorResp := ErrorResponse{
		Code:    mapping.Code,
		Message: mapping.Message,
		Details: getErrorDetails(err, mapping.HTTPStatus >= 500),
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(mapping.HTTPStatus)
	json.NewEncoder(ctx).Encode(map[string]ErrorResponse{"error": errorResp})
}

func getErrorDetails(err error, isServerError bool) string {
	if isServerError {
		return ""
	}
	return err.Error()
}
