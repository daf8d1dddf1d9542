package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openswap-labs/openswap/params"
	"github.com/openswap-labs/openswap/pkg/api"
	"github.com/openswap-labs/openswap/pkg/crypto"
	"github.com/openswap-labs/openswap/pkg/exchange"
	"github.com/openswap-labs/openswap/pkg/host"
	"github.com/openswap-labs/openswap/pkg/storage"
	"github.com/openswap-labs/openswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("pebble_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()
	sugar.Infow("store_opened", "path", cfg.Node.DBPath)

	// ---- Host environment ----
	// Dev host: serializes invocations, witnesses callers, holds custody
	// balances. A chain deployment replaces this with the real environment.
	env := host.NewEnv(store, cfg.Node.Custody)

	// ---- Exchange engine ----
	domain := crypto.EIP712Domain{
		Name:              "OpenSwap",
		Version:           "1",
		ChainID:           cfg.Signing.ChainID,
		VerifyingContract: cfg.Node.Custody,
	}
	engine := exchange.NewEngine(store, domain, cfg.Node.Custody)
	sugar.Infow("engine_initialized",
		"chain_id", cfg.Signing.ChainID.String(),
		"custody", cfg.Node.Custody.Hex())

	// ---- API server ----
	// Faucet is dev-only: never enable where balances carry value.
	enableFaucet := os.Getenv("ENABLE_FAUCET") == "true"
	if enableFaucet {
		sugar.Warn("faucet enabled - dev mode only")
	}
	apiServer := api.NewServer(engine, env, enableFaucet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.ListenAddr)
		if err := apiServer.Start(cfg.API.ListenAddr, cfg.API.CORSOrigins); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
