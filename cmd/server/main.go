package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hassanrakib/zitbo-server/internal/app"
	"github.com/hassanrakib/zitbo-server/internal/auth"
	"github.com/hassanrakib/zitbo-server/internal/broadcast"
	"github.com/hassanrakib/zitbo-server/internal/config"
	"github.com/hassanrakib/zitbo-server/internal/database"
	"github.com/hassanrakib/zitbo-server/internal/logging"
	"github.com/hassanrakib/zitbo-server/internal/metrics"
	"github.com/hassanrakib/zitbo-server/internal/redis"
	"github.com/hassanrakib/zitbo-server/internal/report"
	"github.com/hassanrakib/zitbo-server/internal/server"
	"github.com/hassanrakib/zitbo-server/internal/tracker"
	"github.com/hassanrakib/zitbo-server/internal/version"
)

// Cap on simultaneous devices per account.
const maxClientsPerUser = 8

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return db
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, appSvc *app.Service, hub *broadcast.Hub, cancelListener context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()
		appSvc.Stop()
		cancelListener()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "build", info.String())

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	userRepo := database.NewUserRepo(pool)
	taskRepo := database.NewTaskRepo(pool)
	roomRepo := redis.NewRoomRepo(redisClient)
	notifier := redis.NewNotifier(redisClient)

	trk := tracker.New(taskRepo, roomRepo, clock)
	reporter := report.NewReporter(taskRepo)

	appSvc := app.NewService(userRepo, taskRepo, roomRepo, trk, reporter, clock, cfg.SweepInterval)

	hub := broadcast.NewHub(appSvc.OnClientJoin, appSvc.OnClientLeave, clock, maxClientsPerUser)

	listenerCtx, cancelListener := context.WithCancel(context.Background())
	listener := broadcast.NewListener(redisClient, hub)
	go listener.Start(listenerCtx)

	creds := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)

	srv, err := server.NewServer(cfg, appSvc, creds, hub, notifier, redisClient, pool)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		cancelListener()
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, appSvc, hub, cancelListener)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
