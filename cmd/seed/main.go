package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/logging"
	"github.com/xtrntr/marketplace/internal/seed"
	"go.uber.org/zap"
)

// Seed the database with the demo items, users and trades
func main() {
	ctx := context.Background()

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

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate", zap.Error(err))
	}

	router := exchange.NewRouter(database, exchange.RouterOptions{Logger: logger})
	if err := router.Restore(ctx); err != nil {
		logger.Fatal("failed to restore order books", zap.Error(err))
	}

	res, err := seed.NewLoader(catalog.NewService(database, logger), router, logger).Load(ctx)
	if err != nil {
		logger.Fatal("failed to seed", zap.Error(err))
	}
	if res.Skipped {
		fmt.Println("Database already has orders or trades. No need to seed.")
		return
	}
	fmt.Printf("Successfully seeded the database with %d orders!\n", len(res.Orders))
}
