/**
 * @description
 * This is the main entry point for the DAOsign proof service.
 * It is responsible for initializing and starting the application server.
 *
 * Key features:
 * - Configuration Loading: Loads environment variables from a .env.local file.
 * - Storage: Opens the configured store backend (memory, Redis or PostgreSQL) and seeds
 *   the built-in proof schemas.
 * - Events: Ledger and registry events are logged and fanned out to websocket clients,
 *   through Redis Pub/Sub when Redis is configured.
 * - Server Initialization: Sets up the Gin web server with all its routes and middleware.
 * - Graceful Shutdown: Handles interrupt signals (like Ctrl+C) to shut down the server gracefully.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/daosign/proofs/internal/api"
	"github.com/daosign/proofs/internal/auth"
	"github.com/daosign/proofs/internal/config"
	"github.com/daosign/proofs/internal/events"
	"github.com/daosign/proofs/internal/ledger"
	"github.com/daosign/proofs/internal/policy"
	"github.com/daosign/proofs/internal/schema"
	"github.com/daosign/proofs/internal/services"
	"github.com/daosign/proofs/internal/store"
	"github.com/daosign/proofs/internal/websocket"
)

func main() {
	// Initialize a structured logger for better log management.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// ------------------------------------------------------------------
	// Configuration Loading
	// ------------------------------------------------------------------
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded successfully", "store_backend", cfg.StoreBackend, "access_policy", cfg.AccessPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ------------------------------------------------------------------
	// Storage
	// ------------------------------------------------------------------
	st, redisClient, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("cannot open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store opened", "backend", cfg.StoreBackend)

	// ------------------------------------------------------------------
	// Events
	// ------------------------------------------------------------------
	// With Redis, events are published to Pub/Sub and every instance's hub relays them.
	// Without it, the hub is fed directly.
	hub := websocket.NewHub(ctx, logger, redisClient)
	go hub.Run()

	sink := events.Multi{events.LogSink{Logger: logger}}
	if redisClient != nil {
		sink = append(sink, events.NewRedisPublisher(redisClient, logger))
	} else {
		sink = append(sink, hub)
	}

	// ------------------------------------------------------------------
	// Ledger
	// ------------------------------------------------------------------
	registry := schema.NewRegistry(st, cfg.OwnerAddress, sink, logger)
	if err := registry.SeedDefaults(ctx); err != nil {
		logger.Error("cannot seed default schemas", "error", err)
		os.Exit(1)
	}

	pol, err := policy.New(ctx, cfg.AccessPolicy, cfg.OwnerAddress, cfg.AccessPolicyFile)
	if err != nil {
		logger.Error("cannot load access policy", "error", err)
		os.Exit(1)
	}

	scheme, err := ledger.ParseScheme(cfg.SignatureScheme)
	if err != nil {
		logger.Error("invalid signature scheme", "error", err)
		os.Exit(1)
	}

	proofLedger := ledger.New(st, registry, pol, sink, logger, ledger.Options{
		Scheme:                scheme,
		StrictCIDs:            cfg.StrictCIDs,
		RequireFetchSignature: cfg.RequireFetchSignature,
	})

	// ------------------------------------------------------------------
	// Authentication and custodial signing
	// ------------------------------------------------------------------
	var authMiddleware gin.HandlerFunc
	if cfg.JWTIssuerURL != "" {
		authMiddleware, err = auth.NewAuthMiddleware(cfg.JWTIssuerURL)
		if err != nil {
			logger.Error("cannot initialize auth middleware", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("JWT_ISSUER_URL is not set, callers are anonymous")
	}

	var proofService *services.ProofService
	if cfg.RemoteSignerAddress != "" {
		signerClient, err := services.NewSignerClient(cfg.RemoteSignerAddress, logger)
		if err != nil {
			logger.Error("cannot create remote signer client", "error", err)
			os.Exit(1)
		}
		defer signerClient.Close()
		proofService = services.NewProofService(proofLedger, signerClient, logger)
	}

	// ------------------------------------------------------------------
	// Server Initialization
	// ------------------------------------------------------------------
	server := api.NewServer(api.Deps{
		Ledger:         proofLedger,
		Registry:       registry,
		Proofs:         proofService,
		Hub:            hub,
		Auth:           authMiddleware,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}

	// ------------------------------------------------------------------
	// Start Server & Handle Graceful Shutdown
	// ------------------------------------------------------------------
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("starting server", "address", httpServer.Addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdownChannel:
		logger.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}

		// Stops the hub and its Redis listeners.
		cancel()
		logger.Info("server shutdown complete")
	}

	logger.Info("application has shut down")
}

// openStore opens the configured backend. The returned Redis client, when not nil, is
// shared by the event publisher and the websocket hub.
func openStore(ctx context.Context, cfg config.Config) (store.Store, *redis.Client, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Client(), nil
	case config.BackendPostgres:
		ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		client, err := optionalRedis(ctx, cfg.RedisURL)
		if err != nil {
			ps.Close()
			return nil, nil, err
		}
		return ps, client, nil
	default:
		client, err := optionalRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewMemoryStore(), client, nil
	}
}

// optionalRedis connects to REDIS_URL for event fan-out when it is set.
func optionalRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
