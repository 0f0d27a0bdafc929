package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-sim-go/internal/config"
	"stock-sim-go/internal/database"
	"stock-sim-go/internal/logger"
	"stock-sim-go/internal/quote"
	"stock-sim-go/internal/trading"
	"stock-sim-go/internal/web"

	"go.uber.org/zap"
)

func main() {
	// Load configuration. Startup fails when the market-data credential is
	// missing.
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	quotes := quote.NewRestClient(&cfg.Quote, log)
	tradingSvc := trading.NewService(log, db, quotes)

	server, err := web.New(&cfg, log, db, tradingSvc, quotes)
	if err != nil {
		log.Fatal("Failed to create web server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go server.MustStart()

	<-sigChan
	log.Info("Got signal to shut down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("Stopping server error", zap.Error(err))
	}
}
