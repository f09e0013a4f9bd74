package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/logging"
	"github.com/xtrntr/marketplace/internal/memstore"
	"github.com/xtrntr/marketplace/internal/seed"
	"go.uber.org/zap"
)

type store interface {
	exchange.Store
	catalog.Store
}

// app holds the services shared by every command of one process, including
// all commands typed into the interactive shell.
type app struct {
	storeKind string
	noSeed    bool
	logLevel  string

	cfg     *config.Config
	logger  *zap.Logger
	store   store
	closeDB func()
	router  *exchange.Router
	catalog *catalog.Service
	auth    *auth.AuthService
}

// setup connects the store, rebuilds the books and loads seed data. It runs
// once per process.
func (a *app) setup(ctx context.Context) error {
	if a.router != nil {
		return nil
	}

	logger, err := logging.New(a.logLevel, "stderr")
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	a.logger = logger

	switch a.storeKind {
	case config.StoreMemory:
		a.store = memstore.New()
	case config.StorePostgres:
		database, err := db.NewDB(ctx, a.cfg.Database.URL)
		if err != nil {
			return err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close(ctx)
			return err
		}
		a.store = database
		a.closeDB = func() { database.Close(context.Background()) }
	default:
		return fmt.Errorf("unknown store %q, want %s or %s", a.storeKind, config.StoreMemory, config.StorePostgres)
	}

	a.catalog = catalog.NewService(a.store, logger)
	a.auth = auth.NewAuthService(a.catalog, a.cfg.App.JWTSecret)
	a.router = exchange.NewRouter(a.store, exchange.RouterOptions{Logger: logger})
	if err := a.router.Restore(ctx); err != nil {
		return err
	}

	if !a.noSeed {
		if _, err := seed.NewLoader(a.catalog, a.router, logger).Load(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	if a.closeDB != nil {
		a.closeDB()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// newRootCmd builds the command tree. Without subcommand the root runs the
// interactive shell on in, or prints help when in is nil.
func newRootCmd(a *app, in io.Reader) *cobra.Command {
	root := &cobra.Command{
		Use:           "marketplace",
		Short:         "Marketplace matching service",
		Long:          "CLI for the marketplace matching service. Run without arguments for an interactive shell.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == nil {
				return cmd.Help()
			}
			return runShell(cmd.Context(), a, in, cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVar(&a.storeKind, "store", a.cfg.App.Store, "Storage backend: memory or postgres")
	root.PersistentFlags().BoolVar(&a.noSeed, "no-seed", a.noSeed, "Do not load seed data on start")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", a.cfg.App.LogLevel, "Log level: debug, info, warn or error")

	addCommands(root, a)
	return root
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	a := &app{cfg: cfg}
	defer a.close()

	root := newRootCmd(a, os.Stdin)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.close()
		os.Exit(1)
	}
}
