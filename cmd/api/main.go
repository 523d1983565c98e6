package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_auth/internal/config"
	"github.com/congo-pay/congo_auth/internal/errutil"
	"github.com/congo-pay/congo_auth/internal/infra"
	"github.com/congo-pay/congo_auth/internal/logging"
	"github.com/congo-pay/congo_auth/internal/notification"
	"github.com/congo-pay/congo_auth/internal/server"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			errutil.LogError(logger, "connect postgres", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			errutil.LogError(logger, "connect redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var transport notification.Transport
	if cfg.RabbitMQURL != "" {
		amqpTransport, err := infra.NewNotificationTransport(cfg.RabbitMQURL, cfg.NotifyExchange)
		if err != nil {
			errutil.LogError(logger, "connect rabbitmq", err)
			os.Exit(1)
		}
		defer func() {
			if err := amqpTransport.Close(); err != nil {
				logger.Warn("close rabbitmq", "error", err)
			}
		}()
		transport = amqpTransport
	}

	srv, err := server.New(cfg, db, cache, transport, logger)
	if err != nil {
		errutil.LogError(logger, "build server", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
