package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/his/internal/config"
	"github.com/clinic/his/internal/domain/clinic"
	"github.com/clinic/his/internal/platform/advisor"
	"github.com/clinic/his/internal/platform/db"
	"github.com/clinic/his/internal/platform/middleware"
	"github.com/clinic/his/internal/platform/stockwatch"
	"github.com/clinic/his/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "his-server",
		Short: "Clinic HIS API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HIS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := migrationPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := migrationPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo medication catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			added, err := clinic.NewSession(b.store).Seed(ctx, clinic.DemoCatalog())
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Added %d medication(s) to the %s store.\n", added, cfg.StoreDriver)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func migrationPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for migrations")
	}
	return db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

// storeBackend is the opened entity store plus whatever must be released
// with it.
type storeBackend struct {
	driver string
	store  clinic.Store
	health db.Pinger
	pool   *pgxpool.Pool
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*storeBackend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		s := clinic.NewMemoryStore()
		return &storeBackend{driver: cfg.StoreDriver, store: s, health: s, close: func() {}}, nil

	case config.DriverSQLite:
		s, err := clinic.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &storeBackend{driver: cfg.StoreDriver, store: s, health: s, close: func() { _ = s.Close() }}, nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		s := clinic.NewPostgresStore(pool)
		return &storeBackend{driver: cfg.StoreDriver, store: s, health: s, pool: pool, close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// newAdvisor returns nil when no advisory service is configured.
func newAdvisor(cfg *config.Config) (clinic.Advisor, error) {
	if !cfg.AdvisorEnabled() {
		return nil, nil
	}
	client := advisor.NewClient(advisor.Config{
		BaseURL: cfg.AdvisorURL,
		APIKey:  cfg.AdvisorAPIKey,
		Model:   cfg.AdvisorModel,
		Timeout: cfg.AdvisorTimeout,
	})
	cached, err := advisor.NewCached(client, cfg.AdvisorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("advisor cache: %w", err)
	}
	return cached, nil
}

func sessionOptions(cfg *config.Config, logger zerolog.Logger, adv clinic.Advisor) []clinic.Option {
	opts := []clinic.Option{
		clinic.WithLogger(logger),
		clinic.WithStockThresholds(clinic.StockThresholds{
			Warning:  cfg.StockWarningLevel,
			Shortage: cfg.StockShortageLevel,
		}),
		clinic.WithDefaultPrescriber(cfg.DefaultPrescriber),
		clinic.WithPrescribers(clinic.DemoPrescribers()...),
	}
	if adv != nil {
		opts = append(opts, clinic.WithAdvisor(adv))
	}
	return opts
}

func hasPrescriber(session *clinic.Session, id string) bool {
	for _, p := range session.Prescribers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// newServer builds the echo instance with middleware and every route.
// Background middleware work stops when ctx is cancelled.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, session *clinic.Session, b *storeBackend) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/store", db.HealthHandler(b.driver, b.health, b.pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	clinic.NewHandler(session).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Logger
	logger := newLogger(cfg)

	// Error reporting
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     "his-server@" + version,
		}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
			logger.Info().Msg("sentry error reporting enabled")
		}
	}

	// Store
	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer b.close()
	logger.Info().Str("driver", b.driver).Msg("store opened")

	// Advisory service
	adv, err := newAdvisor(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up advisor")
	}
	if adv == nil {
		logger.Info().Msg("advisor not configured, suggestions disabled")
	}

	session := clinic.NewSession(b.store, sessionOptions(cfg, logger, adv)...)
	if !hasPrescriber(session, cfg.DefaultPrescriber) {
		logger.Warn().Str("prescriber_id", cfg.DefaultPrescriber).Msg("default prescriber is not in the directory, visits must name one")
	}

	if cfg.SeedDemoData {
		added, err := session.Seed(ctx, clinic.DemoCatalog())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo catalog")
		}
		if added > 0 {
			logger.Info().Int("medications", added).Msg("demo catalog seeded")
		}
	}

	// Stock sweep
	watcher := stockwatch.New(session, cfg.SweepInterval(), logger)
	if err := watcher.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start stock sweep")
	}
	defer watcher.Stop()

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	e := newServer(serverCtx, cfg, logger, session, b)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
