package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telehealth/scheduler/internal/config"
	"github.com/telehealth/scheduler/internal/domain/scheduling"
	"github.com/telehealth/scheduler/internal/platform/auth"
	"github.com/telehealth/scheduler/internal/platform/cache"
	"github.com/telehealth/scheduler/internal/platform/db"
	"github.com/telehealth/scheduler/internal/platform/metrics"
	"github.com/telehealth/scheduler/internal/platform/middleware"
	"github.com/telehealth/scheduler/internal/platform/telemetry"
)

const (
	serviceName    = "scheduler"
	serviceVersion = "0.1.0"
	maxBodySize    = "1M"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "scheduler-server",
		Short:        "Provider availability and conflict detection API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(checkBookingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()

			pool, _, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()

			pool, _, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// checkBookingCmd runs a single conflict check against the configured
// database and prints the result as JSON. Useful for support investigations.
func checkBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-booking",
		Short: "Check a proposed booking for conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _ := cmd.Flags().GetString("provider")
			start, _ := cmd.Flags().GetString("start")
			duration, _ := cmd.Flags().GetInt("duration")

			req, err := bookingRequestFromFlags(provider, start, duration)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, cfg, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg)
			engine := scheduling.NewEngine(scheduling.NewScheduleRepoPG(pool), engineOptions(cfg, nil), logger)

			result, err := engine.CheckBooking(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().String("provider", "", "Provider ID (UUID)")
	cmd.Flags().String("start", "", "Proposed start time (RFC 3339)")
	cmd.Flags().Int("duration", 30, "Duration in minutes")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func bookingRequestFromFlags(provider, start string, duration int) (scheduling.BookingRequest, error) {
	providerID, err := uuid.Parse(provider)
	if err != nil {
		return scheduling.BookingRequest{}, fmt.Errorf("invalid --provider: %w", err)
	}
	startAt, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return scheduling.BookingRequest{}, fmt.Errorf("invalid --start: %w", err)
	}
	if duration <= 0 {
		return scheduling.BookingRequest{}, fmt.Errorf("--duration must be positive, got %d", duration)
	}
	return scheduling.BookingRequest{
		ProviderID:      providerID,
		Start:           startAt,
		DurationMinutes: duration,
	}, nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: serviceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

// engineOptions maps configuration onto the engine. A zero buffer in config
// means no buffer, which the engine expresses as a negative value.
func engineOptions(cfg *config.Config, m scheduling.Metrics) scheduling.Options {
	buffer := cfg.BufferMinutes
	if buffer == 0 {
		buffer = -1
	}
	return scheduling.Options{
		BufferMinutes:          buffer,
		AlternativeHorizonDays: cfg.AlternativeHorizonDays,
		MaxAlternatives:        cfg.MaxAlternatives,
		ChangeHorizonDays:      cfg.ChangeHorizonDays,
		RepositoryTimeout:      cfg.RepositoryTimeout,
		AvailabilityWorkers:    cfg.AvailabilityWorkers,
		Metrics:                m,
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("running with development auth; every request is treated as an admin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSamplingRatio,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up tracing")
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	// Database
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: serviceName,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Schedule repository, optionally behind the Redis cache
	var (
		repo        = scheduling.NewScheduleRepoPG(pool)
		invalidator scheduling.CacheInvalidator
		checks      []db.Check
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer rdb.Close()
		cached := scheduling.NewCachedScheduleRepo(repo, rdb, cfg.ScheduleCacheTTL, logger)
		repo = cached
		invalidator = cached
		checks = append(checks, db.Check{Name: "redis", Ping: cache.Ping(rdb)})
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTPMetrics(reg)

	engine := scheduling.NewEngine(repo, engineOptions(cfg, metrics.NewEngineMetrics(reg)), logger)
	handler := scheduling.NewHandler(engine, scheduling.HandlerConfig{
		DefaultSlotMinutes: cfg.DefaultSlotMinutes,
		Invalidator:        invalidator,
		Snapshot:           db.SnapshotMiddleware(pool),
	}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit(maxBodySize))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics", "/health"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": serviceVersion,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", metrics.Handler(reg))

	apiV1 := e.Group("/api/v1")
	if cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	handler.RegisterRoutes(apiV1)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting scheduler server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
