package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"hookTrader/config"
	"hookTrader/internal/adapters/binanceclient"
	"hookTrader/internal/adapters/httpapi"
	"hookTrader/internal/adapters/logger"
	"hookTrader/internal/adapters/sqlite"
	"hookTrader/internal/app"
	"hookTrader/internal/observability"
	"hookTrader/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 4. Initialize Exit Journal (optional)
	var journal ports.ExitJournal // Stays nil when disabled
	if cfg.DBPath != "" {
		j, err := sqlite.NewJournal(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize exit journal")
			log.Fatalf("FATAL: Failed to initialize exit journal: %v", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing exit journal")
			}
		}()
		journal = j
	} else {
		appLogger.Info(ctx, "Exit journal disabled (DB_PATH not set)")
	}

	// 5. Initialize Metrics and Monitor Hub
	metrics := observability.NewMetrics("")
	hub := httpapi.NewHub(appLogger)

	// 6. Initialize Application Service
	tradingService, err := app.NewTradingService(cfg, appLogger, binanceClient, journal, hub, metrics)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	// 7. Start the Service
	if err := tradingService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Trading service failed to start")
		log.Fatalf("FATAL: Trading service failed to start: %v", err)
	}

	// 8. Start HTTP Server
	// A webhook may close, wait up to MaxWait for flat, then enter.
	handler := httpapi.NewHandler(tradingService, hub, metrics.Handler(), appLogger)
	server := httpapi.NewServer(cfg.HTTPAddr, handler.Routes(), cfg.MaxWait+30*time.Second, appLogger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	// 9. Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			appLogger.Error(ctx, err, "HTTP server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(ctx, err, "HTTP server shutdown failed")
	}
	if err := tradingService.Stop(shutdownCtx); err != nil {
		appLogger.Error(ctx, err, "Trading service shutdown incomplete")
	}
	hub.Close()

	appLogger.Info(ctx, "Application finished gracefully.")
}
