/**
 * @description
 * This is the main entry point for the DAOsign remote-signer service.
 * It is responsible for initializing and starting the gRPC server that signs proof
 * documents with custodial keys.
 *
 * Key features:
 * - Configuration Loading: Loads environment variables (port, custodial keys, dummy key).
 * - Dependency Initialization: Sets up the logger, key vault, signer, and gRPC server.
 * - Connection Multiplexing: Serves gRPC and an HTTP health check on the same port.
 * - Graceful Shutdown: Listens for OS interrupt signals (e.g., Ctrl+C) to shut
 *   down the gRPC server gracefully, allowing active requests to finish.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/daosign/proofs/internal/config"
	"github.com/daosign/proofs/internal/signer"
	"github.com/daosign/proofs/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// ------------------------------------------------------------------
	// Configuration Loading
	// ------------------------------------------------------------------
	cfg, err := config.LoadSignerConfig(".")
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded successfully")

	// ------------------------------------------------------------------
	// Dependency Initialization
	// ------------------------------------------------------------------
	// Per-user keys come first; the dummy key, if configured, signs for everyone else.
	var keyVault vault.Chain
	if cfg.SignerKeys != "" {
		keyring, err := vault.ParseKeyring(cfg.SignerKeys, logger)
		if err != nil {
			logger.Error("invalid SIGNER_KEYS", "error", err)
			os.Exit(1)
		}
		logger.Info("custodial keyring loaded", "users", keyring.Len())
		keyVault = append(keyVault, keyring)
	}
	if cfg.DummyPrivateKey != "" {
		mockVault, err := vault.NewMockVault(cfg.DummyPrivateKey, logger)
		if err != nil {
			logger.Error("failed to initialize mock vault", "error", err)
			os.Exit(1)
		}
		keyVault = append(keyVault, mockVault)
	}

	grpcServer := signer.NewGRPCServer(logger, keyVault, signer.NewSigner(logger))

	// ------------------------------------------------------------------
	// Server Setup with Connection Multiplexing (HTTP + gRPC)
	// ------------------------------------------------------------------
	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%s", cfg.Port))
	if err != nil {
		logger.Error("failed to listen on port", "port", cfg.Port, "error", err)
		os.Exit(1)
	}
	logger.Info("TCP listener created", "address", lis.Addr().String())

	mux := cmux.New(lis)
	// HTTP/1.x carries health checks, HTTP/2 carries gRPC.
	httpL := mux.Match(cmux.HTTP1Fast())
	grpcL := mux.Match(cmux.HTTP2())

	// ------------------------------------------------------------------
	// HTTP Health Check Server
	// ------------------------------------------------------------------
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":"remote-signer","port":"%s"}`, cfg.Port)
	})

	httpServer := &http.Server{
		Handler:      httpMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP health check server starting", "port", cfg.Port)
		if err := httpServer.Serve(httpL); err != nil {
			logger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	// ------------------------------------------------------------------
	// gRPC Server Setup
	// ------------------------------------------------------------------
	s := grpc.NewServer()
	signer.Register(s, grpcServer)
	// Reflection lets grpcurl discover the service.
	reflection.Register(s)

	go func() {
		logger.Info("gRPC server starting", "address", lis.Addr().String(), "service", signer.ServiceName)
		if err := s.Serve(grpcL); err != nil {
			logger.Error("gRPC server failed to serve", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		if err := mux.Serve(); err != nil {
			logger.Error("connection multiplexer failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server is ready and listening", "port", cfg.Port)

	// ------------------------------------------------------------------
	// Handle Graceful Shutdown
	// ------------------------------------------------------------------
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutdown signal received, initiating graceful shutdown")

	mux.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	s.GracefulStop()

	logger.Info("all servers shut down gracefully")
}
