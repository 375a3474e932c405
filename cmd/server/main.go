package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/config"
	"github.com/zerohour-games/manhunt/internal/handler"
	"github.com/zerohour-games/manhunt/internal/logger"
	"github.com/zerohour-games/manhunt/internal/repository/sqlite"
	"github.com/zerohour-games/manhunt/internal/service"
)

// Each fatal startup class gets its own exit code so supervisors can
// tell a bad deploy from a bad disk from a bad key.
const (
	exitBadConfig   = 2
	exitStore       = 3
	exitOperatorKey = 4
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		os.Exit(exitBadConfig)
	}
	log.Info().Str("dbPath", cfg.DBPath).Str("contract", cfg.ContractAddress).
		Int64("chainId", cfg.ChainID).Msg("Config loaded")

	// Store
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("Database open failed")
		os.Exit(exitStore)
	}
	defer store.Close()

	// Chain clients. HTTP for calls and transactions; websocket for the
	// event subscription, falling back to HTTP polling backends that
	// support it.
	rpcClient, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		log.Fatal().Err(err).Msg("RPC connection failed")
	}
	defer rpcClient.Close()

	wsClient := rpcClient
	if cfg.RPCWSURL != "" {
		wsClient, err = ethclient.Dial(cfg.RPCWSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("RPC websocket connection failed")
		}
		defer wsClient.Close()
	}

	contract := common.HexToAddress(cfg.ContractAddress)
	writer, err := chain.NewWriter(cfg.OperatorPrivateKey, cfg.ChainID, contract)
	if err != nil {
		log.Error().Err(err).Msg("Operator key rejected")
		os.Exit(exitOperatorKey)
	}
	log.Info().Str("operator", writer.From().Hex()).Msg("Operator wallet loaded")

	reader := chain.NewReader(rpcClient, contract)
	head, err := reader.HeadBlock(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Chain unreachable")
	}
	log.Info().Uint64("headBlock", head).Msg("Connected to chain")

	queue := chain.NewQueue(writer, rpcClient, store.OperatorTxs())

	// WebSocket hub
	hub := handler.NewHub()

	// Engine
	svc := service.NewGameService(service.Repos{
		Games:        store.Games(),
		Players:      store.Players(),
		Targets:      store.Targets(),
		Kills:        store.Kills(),
		Locations:    store.Locations(),
		Heartbeats:   store.Heartbeats(),
		Photos:       store.Photos(),
		Eliminations: store,
		Sync:         store.Sync(),
	}, reader, writer, queue, hub, cfg)

	listener := chain.NewListener(wsClient, contract, store.Sync(), svc, chain.ListenerOptions{
		CheckInterval:   time.Duration(cfg.WSHeartbeatCheckIntervalMs) * time.Millisecond,
		StaleAfter:      time.Duration(cfg.WSHeartbeatStaleMs) * time.Millisecond,
		RestartCooldown: time.Duration(cfg.WSRestartCooldownMs) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	queue.Start(ctx)

	// Rebuild local state from chain before accepting players: backfill
	// missed events, reconcile phases, restart runners and timers.
	if err := svc.Recover(ctx, listener); err != nil {
		if errors.Is(err, service.ErrContractMismatch) {
			log.Error().Err(err).Msg("Store belongs to another deployment")
			os.Exit(exitStore)
		}
		log.Error().Err(err).Msg("Recovery failed (non-fatal)")
	}
	if err := queue.Recover(ctx, svc.AppliedOnChain); err != nil {
		log.Error().Err(err).Msg("Operator queue recovery failed (non-fatal)")
	}

	// The configured game may predate the event cursor; mirror it
	// explicitly. HandleGameCreated is a no-op if it is already known.
	if cfg.StartGameID > 0 {
		if err := svc.HandleGameCreated(ctx, chain.GameCreatedEvent{GameID: cfg.StartGameID}); err != nil {
			log.Warn().Err(err).Uint64("gameId", cfg.StartGameID).Msg("Failed to mirror configured game")
		}
	}

	go listener.Run(ctx)

	// Handlers
	wsHandler := handler.NewWSHandler(hub, svc)

	// Router
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()
	queue.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
