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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/therapycompanion/reminders/internal/api"
	"github.com/therapycompanion/reminders/internal/auth"
	"github.com/therapycompanion/reminders/internal/cache"
	"github.com/therapycompanion/reminders/internal/config"
	"github.com/therapycompanion/reminders/internal/generator"
	"github.com/therapycompanion/reminders/internal/metrics"
	"github.com/therapycompanion/reminders/internal/repo"
	"github.com/therapycompanion/reminders/internal/scheduler"
	"github.com/therapycompanion/reminders/internal/service"
	"github.com/therapycompanion/reminders/internal/whatsapp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate needs DATABASE_DRIVER=postgres, got %q", cfg.Database.Driver)
			}
			log := newLogger(cfg)

			pool, err := repo.NewPool(cmd.Context(), cfg.Database.PostgresURL, cfg.Database.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := repo.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			log.Info().Int("applied", n).Msg("migrations done")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.LoadAll()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	store, err := repo.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	receipts, locker, closeRedis, err := newCache(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	sender, err := whatsapp.New(cfg.WhatsApp, log)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.WhatsApp.TimeZone)
	if err != nil {
		return err
	}

	m := metrics.New()
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	msgs := service.NewMessageService(store, generator.New(cfg.AI), sender, service.Options{
		ContentMax:  cfg.WhatsApp.ContentMax,
		CountryCode: cfg.WhatsApp.DefaultCountryCode,
		Location:    loc,
		BatchSize:   cfg.Dispatcher.BatchSize,
		LockTTL:     cfg.Dispatcher.LockTTL,
		ClaimLease:  cfg.Dispatcher.ClaimLease,
		Cache:       receipts,
		Locker:      locker,
		Metrics:     m,
		Logger:      log,
	})
	accounts := service.NewAccountService(store, issuer, cfg.Auth.BcryptCost, log)

	dispatcher, err := scheduler.New(cfg.Dispatcher.Interval, msgs.DispatchDue, log)
	if err != nil {
		return err
	}
	if cfg.Dispatcher.AutoStart {
		dispatcher.Start()
	}
	defer dispatcher.Stop()

	h := api.NewHandler(api.Deps{
		Messages:      msgs,
		Accounts:      accounts,
		Dispatcher:    dispatcher,
		Issuer:        issuer,
		Metrics:       m,
		Logger:        log,
		Ping:          store.Ping,
		ReceiptSecret: cfg.WhatsApp.ReceiptSecret,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Address).
			Dur("interval", cfg.Dispatcher.Interval).
			Int("batch", cfg.Dispatcher.BatchSize).
			Bool("redis", cfg.Redis.Enabled).
			Str("provider", cfg.WhatsApp.Provider).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	dispatcher.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// newCache returns Redis-backed receipts and dispatch lock when Redis is
// configured, otherwise in-process versions that only work for one server.
func newCache(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (cache.ReceiptCache, cache.Locker, func(), error) {
	if !cfg.Enabled {
		log.Warn().Msg("REDIS_ADDR not set, dispatch lock is local to this process")
		return cache.NopCache{}, cache.NewLocalLocker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cache.NewRedisCache(rdb, cfg.TTL), cache.NewRedisLocker(rdb), func() { _ = rdb.Close() }, nil
}
