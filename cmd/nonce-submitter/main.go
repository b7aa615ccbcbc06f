// Nonce submitter signs and sends transactions for one account, assigning
// nonces locally so many transactions can be in flight at once.
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

	"github.com/somnia-chain/nonce-submitter/internal/api"
	"github.com/somnia-chain/nonce-submitter/internal/config"
	"github.com/somnia-chain/nonce-submitter/internal/dispatcher"
	"github.com/somnia-chain/nonce-submitter/internal/logging"
	"github.com/somnia-chain/nonce-submitter/internal/metrics"
	"github.com/somnia-chain/nonce-submitter/internal/nonce"
	"github.com/somnia-chain/nonce-submitter/internal/startup"
	"github.com/somnia-chain/nonce-submitter/internal/submitter"
)

func main() {
	cfg := config.Parse()

	// Initialize logging
	cleanupLog := logging.Setup(logging.Config{
		LogFile:        cfg.LogFile,
		MaxLogFileSize: cfg.MaxLogFileSize,
		Level:          cfg.LogLevel,
	})
	defer cleanupLog()

	slog.Info("nonce-submitter starting",
		"version", config.Version,
		"commit", config.GitCommit,
		"built", config.BuildTime,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	gasPrice, _ := cfg.GasPrice()

	// =========================================================================
	// Initialize Services
	// =========================================================================

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	sub, err := submitter.New(ctx, submitter.Config{
		RPCURL:        cfg.RPCURL,
		SecretKey:     cfg.SecretKey,
		GasMultiplier: cfg.GasMultiplier,
		GasPrice:      gasPrice,
	})
	if err != nil {
		cancel()
		slog.Error("Failed to create submitter", "error", err)
		os.Exit(1)
	}

	manager := nonce.NewManager(sub, sub.Address(), nonce.WithMetrics(metrics.Nonce))

	// =========================================================================
	// Startup Checks
	// =========================================================================

	checker := startup.NewChecker()
	if err := checker.CheckRPC(ctx, sub.Backend(), sub.ChainID()); err != nil {
		cancel()
		os.Exit(1)
	}
	if err := checker.CheckBalance(ctx, sub.Backend(), sub.Address()); err != nil {
		slog.Warn("Could not read account balance", "error", err)
	}
	if err := checker.CheckNonce(ctx, manager); err != nil {
		// Not fatal: the first transaction retries initialization.
		slog.Warn("Nonce will be loaded on first use", "error", err)
	}
	checker.PrintSummary()
	cancel()

	d := dispatcher.New(manager, dispatcher.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})

	server := api.NewServer(manager, d, api.Options{
		APIKey:       cfg.APIKey,
		WaitReceipts: cfg.WaitReceipts,
		TxTimeout:    cfg.TxTimeout,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(server.HandleRequest),
	}

	// =========================================================================
	// Graceful Shutdown
	// =========================================================================

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sigChan
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to stop HTTP server", "error", err)
		}

		d.Stop()
		sub.Close()
	}()

	apiKeyStatus := "disabled"
	if cfg.APIKey != "" {
		apiKeyStatus = "enabled"
	}

	slog.Info("Configuration",
		"port", cfg.Port,
		"rpc", cfg.RPCURL,
		"address", sub.Address().Hex(),
		"chain_id", sub.ChainID(),
		"next_nonce", manager.Next(),
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"wait_receipts", cfg.WaitReceipts,
		"api_key", apiKeyStatus,
	)

	slog.Info("HTTP server listening", "addr", addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	<-done
}
