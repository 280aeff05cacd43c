package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"sharemirror/internal/api"
	"sharemirror/internal/config"
	"sharemirror/internal/database"
	"sharemirror/internal/domain"
	"sharemirror/internal/engine"
	"sharemirror/internal/events"
	"sharemirror/internal/gateway"
	"sharemirror/internal/logging"
	"sharemirror/internal/metrics"
	"sharemirror/internal/repository"
	"sharemirror/internal/scheduler"
	"sharemirror/internal/service"
	"sharemirror/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	fs := afero.NewOsFs()
	accounts := store.NewAccountStore(fs, cfg.Storage.DataDir, logging.Component(&logger, "accounts"))
	if err := accounts.Load(); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	tasks := store.NewTaskStore(fs, cfg.Storage.DataDir, logging.Component(&logger, "tasks"))
	if err := tasks.Load(); err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	bus := events.NewEventBus(logging.Component(&logger, "events"))
	bus.Subscribe(events.EventTaskRunFinished, db.RecordRunFinished)
	bus.Subscribe(events.EventTaskRemoved, db.RemoveTaskRuns)

	guard, redisClient := initRunGuard(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	clock := clockwork.NewRealClock()
	gw := gateway.New(cfg.Gateway, logging.Component(&logger, "gateway"))
	sched := scheduler.New(clock, logging.Component(&logger, "scheduler"))
	eng := engine.New(tasks, accounts, gw, guard, bus, clock, cfg.Gateway, logging.Component(&logger, "engine"))

	taskSvc := service.NewTaskService(tasks, accounts, gw, eng, sched, db, bus, clock, logging.Component(&logger, "task-service"))
	accountSvc := service.NewAccountService(accounts, gw, clock, logging.Component(&logger, "account-service"))

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logging.Component(&logger, "backup"))
		if err := backup.Schedule(sched); err != nil {
			logger.Warn().Err(err).Str("schedule", cfg.Backup.Schedule).Msg("backup schedule not armed")
		}
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API.GRPC, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}
	httpServer := api.NewHTTPServer(cfg.API, taskSvc, accountSvc, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	armed, err := taskSvc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}
	logger.Info().Int("armed", armed).Msg("schedules restored")
	if grpcServer != nil {
		grpcServer.SetServing()
	}

	startMetrics(ctx, cfg, &logger)

	err = serve(ctx, grpcServer, httpServer, cfg, &logger)

	sched.Stop()
	eng.Wait()
	logger.Info().Msg("sharemirror stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

// initRunGuard uses Redis when configured and reachable, with the in-process guard as
// fallback; otherwise the in-process guard alone.
func initRunGuard(cfg *config.Config, logger *zerolog.Logger) (domain.RunGuard, *redis.Client) {
	memory := repository.NewMemoryRunGuard()
	if cfg.Redis.Address == "" {
		return memory, nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with in-process run guard")
		_ = redisClient.Close()
		return memory, nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	primary := repository.NewRedisRunGuard(redisClient, cfg.Redis.LockTTL)
	return repository.NewFailoverRunGuard(primary, memory, logging.Component(logger, "run-guard")), redisClient
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	if grpcServer != nil {
		g.Go(func() error {
			if err := grpcServer.Serve(); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	if cfg.API.HTTP.Enabled {
		g.Go(httpServer.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if grpcServer != nil {
			grpcServer.Shutdown(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")
	return g.Wait()
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
