package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/xtrntr/marketplace/internal/api"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/events"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/logging"
	"github.com/xtrntr/marketplace/internal/memstore"
	"github.com/xtrntr/marketplace/internal/metrics"
	"go.uber.org/zap"
)

type store interface {
	exchange.Store
	catalog.Store
}

// Main entry point: sets up storage, matching, trade events and the HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store
	switch cfg.App.Store {
	case config.StoreMemory:
		st = memstore.New()
	default:
		database, err := db.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer database.Close(context.Background())
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		st = database
	}

	// Trade fan-out: websocket clients always, Kafka when brokers are set
	hub := events.NewHub()
	sinks := []events.Sink{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic))
		logger.Info("publishing trades to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.TradesTopic))
	}
	dispatcher := events.NewDispatcher(logger, events.DefaultBuffer, sinks...)
	go dispatcher.Run(context.Background())
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("failed to close trade sinks", zap.Error(err))
		}
	}()

	m := metrics.New()
	router := exchange.NewRouter(st, exchange.RouterOptions{
		Logger:   logger,
		Listener: dispatcher,
		Recorder: m,
	})
	if err := router.Restore(ctx); err != nil {
		return err
	}

	cat := catalog.NewService(st, logger)
	authService := auth.NewAuthService(cat, cfg.App.JWTSecret)
	handler := api.NewHandler(router, cat, authService, hub, m.Handler(), logger)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("name", cfg.App.Name), zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
