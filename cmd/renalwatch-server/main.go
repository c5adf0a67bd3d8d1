package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/renalwatch/renalwatch/internal/config"
	"github.com/renalwatch/renalwatch/internal/domain/action"
	"github.com/renalwatch/renalwatch/internal/domain/classification"
	"github.com/renalwatch/renalwatch/internal/domain/history"
	"github.com/renalwatch/renalwatch/internal/domain/notification"
	"github.com/renalwatch/renalwatch/internal/domain/observation"
	"github.com/renalwatch/renalwatch/internal/domain/transition"
	"github.com/renalwatch/renalwatch/internal/pipeline"
	"github.com/renalwatch/renalwatch/internal/platform/auth"
	"github.com/renalwatch/renalwatch/internal/platform/bus"
	"github.com/renalwatch/renalwatch/internal/platform/db"
	"github.com/renalwatch/renalwatch/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "renalwatch-server",
		Short: "Renal state-transition monitoring server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring pipeline and API server",
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Domain wiring. The classification engine and detector are pure and
	// shared; stores are Postgres-backed.
	engine := classification.NewEngine(classification.DefaultBands())
	detector := transition.NewDetector(engine, cfg.NoiseThreshold)

	obsRepo := observation.NewRepoPG(pool)
	store := history.NewStorePG(pool)
	notifRepo := notification.NewRepoPG(pool)
	actionRepo := action.NewRepoPG(pool)

	notifSvc := notification.NewService(notifRepo, logger)

	// The default sender only logs; real deployments plug in their transport
	// through the Sender interface.
	sender := notification.SenderFunc(func(ctx context.Context, n *notification.Notification) (bool, error) {
		logger.Info().
			Str("notification_id", n.ID.String()).
			Str("entity_id", n.EntityID.String()).
			Str("priority", string(n.Priority)).
			Msg("notification delivered")
		return true, nil
	})
	dispatcher := notification.NewDispatcher(notifRepo, sender,
		cfg.DeliveryMaxAttempts, cfg.DeliveryBackoffBase, logger)

	actionMgr := action.NewManager(actionRepo, notifSvc, dispatcher, cfg.ActionSLA, logger)

	// Close the escalation loop: sent critical/high notifications become
	// action items, failed ones escalate one tier higher.
	dispatcher.OnSent = func(ctx context.Context, n *notification.Notification) {
		if _, err := actionMgr.CreateFromNotification(ctx, n); err != nil {
			logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("create action item")
		}
	}
	dispatcher.OnFailed = func(ctx context.Context, n *notification.Notification) {
		if err := actionMgr.Escalate(ctx, n.EntityID, n.Priority); err != nil {
			logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("escalate failed delivery")
		}
	}

	eventBus := bus.NewPGBus(pool, logger)
	obsSvc := observation.NewService(obsRepo, eventBus)

	processor := pipeline.NewProcessor(obsRepo, engine, detector, store,
		notifSvc, dispatcher, cfg.AppendMaxRetries, cfg.ProcessBackoffBase, logger)
	consumer := pipeline.NewConsumer(processor, cfg.WorkerCount, 64, logger)
	consumer.Requeue = eventBus
	consumer.Start(ctx)

	go func() {
		if err := eventBus.Subscribe(ctx, consumer.Handle); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("bus subscription ended")
		}
	}()
	go actionMgr.RunSweeper(ctx, cfg.SweepInterval)

	// HTTP surface.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	if cfg.IsDev() {
		e.Use(auth.DevMiddleware())
	} else {
		e.Use(auth.Middleware([]byte(cfg.AuthSecret)))
	}
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	observation.NewHandler(obsSvc).RegisterRoutes(apiV1)
	history.NewHandler(store).RegisterRoutes(apiV1)
	notification.NewHandler(notifSvc).RegisterRoutes(apiV1)
	action.NewHandler(actionMgr).RegisterRoutes(apiV1)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// Stop intake first, let in-flight cycles drain, then close the HTTP
	// surface.
	consumer.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
