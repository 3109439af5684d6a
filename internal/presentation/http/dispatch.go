package http

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"flashlever/internal/dispatch"
	"flashlever/internal/shared/config"
	apperrors "flashlever/internal/shared/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// BatchService executes one action batch atomically on behalf of a caller.
type BatchService interface {
	Dispatch(caller common.Address, value *big.Int, actions []dispatch.Action) error
}

type DispatchHandler struct {
	batchService BatchService
	logger       *zap.Logger
	config       *config.Config
}

// GetRateLimitConfig implements RateLimitable interface
func (h *DispatchHandler) GetRateLimitConfig() HTTPRateLimitConfig {
	return HTTPRateLimitConfig{
		RequestsPerMinute: h.config.RateLimit.RequestsPerMinute,
	}
}

func NewDispatchHandler(batchService BatchService, logger *zap.Logger, config *config.Config) *DispatchHandler {
	return &DispatchHandler{
		batchService: batchService,
		logger:       logger,
		config:       config,
	}
}

type dispatchRequest struct {
	Caller  string            `json:"caller"`
	Value   string            `json:"value,omitempty"`
	Actions []dispatch.Action `json:"actions"`
}

// DispatchBatch handles the /dispatch endpoint
func (h *DispatchHandler) DispatchBatch(ctx *fasthttp.RequestCtx) {
	startTime := time.Now()

	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		ctx.SetBodyString("Method Not Allowed")
		return
	}

	caller, value, actions, err := h.parseDispatchRequest(ctx)
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	if err := h.batchService.Dispatch(caller, value, actions); err != nil {
		h.handleError(ctx, err)
		return
	}

	h.logger.Info("Dispatch completed",
		zap.String("caller", caller.Hex()),
		zap.Int("actions", len(actions)),
		zap.Duration("duration", time.Since(startTime)))

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(`{"status":"ok"}`)
}

func (h *DispatchHandler) parseDispatchRequest(ctx *fasthttp.RequestCtx) (common.Address, *big.Int, []dispatch.Action, error) {
	var req dispatchRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("%w: malformed request body", apperrors.ErrInvalidAction)
	}

	if !common.IsHexAddress(req.Caller) {
		return common.Address{}, nil, nil, fmt.Errorf("%w: caller must be a hex address", apperrors.ErrInvalidAction)
	}
	caller := common.HexToAddress(req.Caller)

	var value *big.Int
	if req.Value != "" {
		parsed, ok := new(big.Int).SetString(req.Value, 10)
		if !ok || parsed.Sign() < 0 {
			return common.Address{}, nil, nil, fmt.Errorf("%w: value must be a non-negative decimal", apperrors.ErrInvalidAction)
		}
		value = parsed
	}

	if len(req.Actions) == 0 {
		return common.Address{}, nil, nil, fmt.Errorf("%w: actions must not be empty", apperrors.ErrInvalidAction)
	}

	return caller, value, req.Actions, nil
}
