package http

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"flashlever/internal/bank"
	"flashlever/internal/dispatch"
	"flashlever/internal/guard"
	"flashlever/internal/ledger"
	"flashlever/internal/settlement"
	"flashlever/internal/shared/config"
	"flashlever/internal/venue/constprod"
	"flashlever/internal/venue/ticks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	caller     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	moduleAddr = common.HexToAddress("0x00000000000000000000000000000000000F1a5e")
	assetA     = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	assetB     = common.HexToAddress("0x00000000000000000000000000000000000000Bb")

	oneE18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func newHandler(t *testing.T) (*DispatchHandler, *ledger.Memory, *bank.Bank) {
	t.Helper()
	nop := zap.NewNop()
	b := bank.New()

	markets := map[common.Address]ledger.Market{
		assetA: {Price: new(big.Int).Mul(big.NewInt(5), oneE18), CollateralFactorBps: 8000},
		assetB: {Price: oneE18, CollateralFactorBps: 9000},
	}
	mem := ledger.NewMemory(b, moduleAddr, markets, nop)
	scope := guard.NewScope(nop)
	scope.Bind(mem)
	mem.SetDeferral(scope)

	cp := constprod.New(b, common.HexToAddress("0xFac0000000000000000000000000000000000001"), nop)
	tk := ticks.New(b, common.HexToAddress("0xFac0000000000000000000000000000000000002"), nop)
	engine := settlement.New(b, mem, cp, tk, nop)

	_, err := cp.CreatePool(assetB, assetA, big.NewInt(10_000), big.NewInt(5_000))
	require.NoError(t, err)
	b.Mint(moduleAddr, assetA, big.NewInt(1_000_000))
	b.Mint(moduleAddr, assetB, big.NewInt(1_000_000))

	native := common.HexToAddress("0x0000000000000000000000000000000000000001")
	wrapped := common.HexToAddress("0x0000000000000000000000000000000000000002")
	dispatcher := dispatch.New(b, mem, scope, engine, cp, tk, native, wrapped, nop)

	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 100},
	}
	return NewDispatchHandler(dispatcher, nop, cfg), mem, b
}

func postDispatch(t *testing.T, handler *DispatchHandler, body string) *fasthttp.RequestCtx {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI("/dispatch")
	req.Header.SetMethod("POST")
	req.SetBodyString(body)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(req, nil, nil)

	handler.DispatchBatch(ctx)
	return ctx
}

func TestDispatchBatch_Success(t *testing.T) {
	handler, mem, _ := newHandler(t)

	body := fmt.Sprintf(`{
		"caller": %q,
		"actions": [
			{"op": "leverage", "payload": {"sub_action": "open_long", "path": [%q, %q], "amount": "100", "limit": "210"}}
		]
	}`, caller.Hex(), assetB.Hex(), assetA.Hex())

	ctx := postDispatch(t, handler, body)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.JSONEq(t, `{"status":"ok"}`, string(ctx.Response.Body()))
	require.Equal(t, int64(100), mem.SupplyBalance(caller, assetA).Int64())
	require.Equal(t, int64(205), mem.BorrowBalance(caller, assetB).Int64())
}

func TestDispatchBatch_SlippageMapsTo422(t *testing.T) {
	handler, mem, _ := newHandler(t)

	body := fmt.Sprintf(`{
		"caller": %q,
		"actions": [
			{"op": "leverage", "payload": {"sub_action": "open_long", "path": [%q, %q], "amount": "100", "limit": "10"}}
		]
	}`, caller.Hex(), assetB.Hex(), assetA.Hex())

	ctx := postDispatch(t, handler, body)

	require.Equal(t, fasthttp.StatusUnprocessableEntity, ctx.Response.StatusCode())

	var resp map[string]ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	require.Equal(t, "SLIPPAGE_EXCEEDED", resp["error"].Code)
	require.Contains(t, resp["error"].Details, "action 0")
	require.Equal(t, int64(0), mem.SupplyBalance(caller, assetA).Int64())
}

func TestDispatchBatch_UnknownPoolMapsTo404(t *testing.T) {
	handler, _, _ := newHandler(t)
	other := common.HexToAddress("0x00000000000000000000000000000000000000Dd")

	body := fmt.Sprintf(`{
		"caller": %q,
		"actions": [
			{"op": "leverage", "payload": {"sub_action": "open_long", "path": [%q, %q], "amount": "100"}}
		]
	}`, caller.Hex(), other.Hex(), assetA.Hex())

	ctx := postDispatch(t, handler, body)
	require.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestDispatchBatch_BadCaller(t *testing.T) {
	handler, _, _ := newHandler(t)

	ctx := postDispatch(t, handler, `{"caller": "banana", "actions": [{"op": "defer_check"}]}`)

	require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	var resp map[string]ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	require.Equal(t, "INVALID_ACTION", resp["error"].Code)
}

func TestDispatchBatch_EmptyActions(t *testing.T) {
	handler, _, _ := newHandler(t)

	ctx := postDispatch(t, handler, fmt.Sprintf(`{"caller": %q, "actions": []}`, caller.Hex()))
	require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestDispatchBatch_MethodNotAllowed(t *testing.T) {
	handler, _, _ := newHandler(t)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("/dispatch")
	req.Header.SetMethod("GET")

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(req, nil, nil)

	handler.DispatchBatch(ctx)
	require.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimitMiddleware(HTTPRateLimitConfig{RequestsPerMinute: 2}, zap.NewNop())
	handler := limiter.Apply(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	for i := 0; i < 2; i++ {
		req := fasthttp.AcquireRequest()
		req.SetRequestURI("/dispatch")
		req.Header.SetMethod("POST")
		req.Header.Set("X-Forwarded-For", "10.0.0.7")
		ctx := &fasthttp.RequestCtx{}
		ctx.Init(req, nil, nil)
		handler(ctx)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		fasthttp.ReleaseRequest(req)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("/dispatch")
	req.Header.SetMethod("POST")
	req.Header.Set("X-Forwarded-For", "10.0.0.7")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(req, nil, nil)
	handler(ctx)
	require.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
}
