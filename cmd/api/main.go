package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/aidosk/pointsledger/docs"
	"github.com/aidosk/pointsledger/internal/account"
	"github.com/aidosk/pointsledger/internal/config"
	"github.com/aidosk/pointsledger/internal/database"
	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/internal/reconcile"
	"github.com/aidosk/pointsledger/internal/registry"
	"github.com/aidosk/pointsledger/internal/settings"
	"github.com/aidosk/pointsledger/internal/sheet"
	"github.com/aidosk/pointsledger/internal/transfer"
	"github.com/aidosk/pointsledger/pkg/clock"
	mw "github.com/aidosk/pointsledger/pkg/middleware"
)

// @title        Points Ledger API
// @version      1.0
// @description  Bot-facing points ledger with bidirectional spreadsheet reconciliation
// @BasePath     /api/v1
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := run(config.Load()); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	clk := clock.Real()

	store, closeStore, err := newStore(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Printf("Ledger store ready (driver %s)", cfg.LedgerDriver)

	loc, err := time.LoadLocation(cfg.SheetTimezone)
	if err != nil {
		return fmt.Errorf("failed to load sheet timezone %q: %w", cfg.SheetTimezone, err)
	}
	sheets, err := newSheetAdapter(ctx, cfg, loc)
	if err != nil {
		return err
	}

	partitions := registry.NewService(store, sheets, logger)
	tolerance := time.Duration(cfg.SyncToleranceSeconds) * time.Second
	reconciler := reconcile.New(store, sheets, partitions, clk, tolerance, cfg.DefaultSheet, logger)
	scheduler := reconcile.NewScheduler(reconciler, store, clk, logger)

	settingsService := settings.NewService(store)
	accountService := account.NewService(store, cfg.TeacherCode)
	transferService := transfer.NewService(store, logger)

	r := chi.NewRouter()

	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKey(cfg.APIToken))
		r.Use(mw.Actor)

		// Maintenance mode gates the user-facing mutations; the admin
		// surfaces stay reachable so maintenance can be turned off.
		r.Group(func(r chi.Router) {
			r.Use(mw.Maintenance(settingsService.MaintenanceOn))
			r.Mount("/accounts", account.NewHandler(accountService).Routes())
			r.Mount("/transfers", transfer.NewHandler(transferService).Routes())
		})
		r.Mount("/groups", registry.NewHandler(partitions).Routes())
		r.Mount("/settings", settings.NewHandler(settingsService).Routes())
		r.Mount("/sync", reconcile.NewHandler(reconciler, scheduler, store).Routes())
	})

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("Sync loop shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newStore selects the ledger driver. The returned closer is safe to
// call once regardless of driver.
func newStore(ctx context.Context, cfg *config.Config, clk clock.Clock) (ledger.Store, func(), error) {
	switch cfg.LedgerDriver {
	case "postgres":
		db, err := database.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := ledger.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "mongo":
		client, err := database.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Printf("Mongo disconnect: %v", err)
			}
		}
		store := ledger.NewMongoStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			closer()
			return nil, nil, err
		}
		return store, closer, nil
	case "memory":
		return ledger.NewMemoryStore(clk), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

func newSheetAdapter(ctx context.Context, cfg *config.Config, loc *time.Location) (sheet.Port, error) {
	switch cfg.SheetAdapter {
	case "google":
		return sheet.NewGoogleAdapter(ctx, cfg.SpreadsheetID, cfg.CredentialsFile, loc)
	case "fake":
		// Local development without a real spreadsheet.
		fake := sheet.NewFake(loc)
		fake.AddPartition(cfg.DefaultSheet)
		return fake, nil
	default:
		return nil, fmt.Errorf("unknown sheet adapter %q", cfg.SheetAdapter)
	}
}
