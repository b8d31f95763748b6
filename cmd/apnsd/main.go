package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/apns-gateway/internal/config"
	"github.com/kursadbilgin/apns-gateway/internal/handler"
	infraredis "github.com/kursadbilgin/apns-gateway/internal/infra/redis"
	"github.com/kursadbilgin/apns-gateway/internal/observability"
	"github.com/kursadbilgin/apns-gateway/internal/service"
	"github.com/kursadbilgin/apns-gateway/internal/transport"
	"github.com/kursadbilgin/apns-gateway/pkg/apns"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("apnsd stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	opts, err := cfg.APNSOptions()
	if err != nil {
		return err
	}

	client, err := apns.New(opts, apns.WithLogger(logger.Named("apns")))
	if err != nil {
		return fmt.Errorf("apns client initialization failed: %w", err)
	}
	defer client.Close()

	var store service.DeliveryStore
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		deliveries, err := infraredis.NewDeliveryStore(rdb, cfg.ResultTTL())
		if err != nil {
			return err
		}
		store = deliveries
	} else {
		logger.Info("REDIS_URL not set, delivery records are disabled")
	}

	metrics := observability.NewMetrics()

	pushService, err := service.NewPushService(client, store, logger)
	if err != nil {
		return err
	}
	pushService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "apnsd",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, pushService)
	if err := handler.RegisterPushRoutes(app, pushService); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("apnsd started",
			zap.String("addr", addr),
			zap.Bool("certificateAuth", opts.CertPath != ""),
		)
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("apnsd shutting down")

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
