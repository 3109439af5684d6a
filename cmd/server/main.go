package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"flashlever/internal/bank"
	"flashlever/internal/dispatch"
	"flashlever/internal/guard"
	"flashlever/internal/ledger"
	"flashlever/internal/presentation/http"
	"flashlever/internal/settlement"
	"flashlever/internal/shared/config"
	"flashlever/internal/shared/logger"
	"flashlever/internal/venue/constprod"
	"flashlever/internal/venue/ticks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	dispatcher, err := buildWorld(cfg, log)
	if err != nil {
		log.Fatal("Failed to build execution state", zap.Error(err))
	}

	dispatchHandler := http.NewDispatchHandler(dispatcher, log, cfg)

	router := setupRouter(dispatchHandler, log)

	server := &fasthttp.Server{
		Handler: router,
	}

	serverError := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(cfg.Server.Address); err != nil {
			serverError <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal, starting graceful shutdown")
	case err := <-serverError:
		log.Error("Server error occurred", zap.Error(err))
		log.Info("Starting graceful shutdown due to server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	} else {
		log.Info("Server shutdown completed successfully")
	}
}

// buildWorld materializes the bank, ledger, venues, settlement engine, and
// dispatcher from the genesis described in the config.
func buildWorld(cfg *config.Config, log *zap.Logger) (*dispatch.Dispatcher, error) {
	b := bank.New()

	markets := make(map[common.Address]ledger.Market, len(cfg.Ledger.Markets))
	for _, m := range cfg.Ledger.Markets {
		price, err := config.ParseAmount(m.Price)
		if err != nil {
			return nil, err
		}
		markets[common.HexToAddress(m.Asset)] = ledger.Market{
			Price:               price,
			CollateralFactorBps: m.CollateralFactorBps,
		}
	}

	moduleAddr := common.HexToAddress("0x00000000000000000000000000000000000F1a5e")
	mem := ledger.NewMemory(b, moduleAddr, markets, log)
	scope := guard.NewScope(log)
	scope.Bind(mem)
	mem.SetDeferral(scope)

	cp := constprod.New(b, common.HexToAddress(cfg.Venues.ConstantProduct.Factory), log)
	for _, p := range cfg.Venues.ConstantProduct.Pools {
		reserveA, err := config.ParseAmount(p.ReserveA)
		if err != nil {
			return nil, err
		}
		reserveB, err := config.ParseAmount(p.ReserveB)
		if err != nil {
			return nil, err
		}
		if _, err := cp.CreatePool(common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB), reserveA, reserveB); err != nil {
			return nil, err
		}
	}

	tk := ticks.New(b, common.HexToAddress(cfg.Venues.Concentrated.Factory), log)
	for _, p := range cfg.Venues.Concentrated.Pools {
		sqrtPrice, err := config.ParseAmount(p.SqrtPriceX96)
		if err != nil {
			return nil, err
		}
		liquidity, err := config.ParseAmount(p.Liquidity)
		if err != nil {
			return nil, err
		}
		if _, err := tk.CreatePool(common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB), p.FeePips, sqrtPrice, liquidity); err != nil {
			return nil, err
		}
	}

	for _, entry := range cfg.Balances {
		amount, err := config.ParseAmount(entry.Amount)
		if err != nil {
			return nil, err
		}
		b.Mint(common.HexToAddress(entry.Account), common.HexToAddress(entry.Asset), amount)
	}

	engine := settlement.New(b, mem, cp, tk, log)

	native := common.HexToAddress(cfg.Assets.Native)
	wrapped := common.HexToAddress(cfg.Assets.WrappedNative)
	return dispatch.New(b, mem, scope, engine, cp, tk, native, wrapped, log), nil
}

func setupRouter(dispatchHandler *http.DispatchHandler, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch path {
		case "/dispatch":
			handler := http.ApplyMiddleware(
				dispatchHandler.DispatchBatch,
				logger,
				dispatchHandler,
			)
			handler(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		}
	}
}
