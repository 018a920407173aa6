package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/notify-platform/internal/broker"
	"github.com/baechuer/notify-platform/internal/circuitbreaker"
	"github.com/baechuer/notify-platform/internal/config"
	"github.com/baechuer/notify-platform/internal/logger"
	"github.com/baechuer/notify-platform/internal/provider/push"
	"github.com/baechuer/notify-platform/internal/retry"
	"github.com/baechuer/notify-platform/internal/store"
	"github.com/baechuer/notify-platform/internal/userdir"
	"github.com/baechuer/notify-platform/internal/worker"
)

func main() {
	config.Load()
	cfg := config.FromEnv()
	log := logger.New("push-worker")

	log.Info().Str("project_id", cfg.Push.ProjectID).Msg("starting push-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := store.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	provider, err := push.NewProvider(cfg.Push, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create push provider")
	}

	publisher, err := broker.NewPublisher(cfg.Rabbit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	// Token refresh goes through the same breaker-protected directory client
	// the gateway uses.
	userBreaker := circuitbreaker.New("user-service",
		cfg.UserBreaker.FailureThreshold, cfg.UserBreaker.RecoveryTimeout, cfg.UserBreaker.HalfOpenMaxCalls)
	userCache := store.NewUserCache(redisClient, cfg.TTL.UserCache)
	users := userdir.NewClient(cfg.Services.UserServiceURL, cfg.Services.InternalTimeout, userBreaker, userCache, log)

	gateway := worker.NewGatewayClient(cfg.Services.GatewayURL, cfg.Auth.ServiceToken, cfg.Services.InternalTimeout)
	sendBreaker := circuitbreaker.New(provider.Name(),
		cfg.SendBreaker.FailureThreshold, cfg.SendBreaker.RecoveryTimeout, cfg.SendBreaker.HalfOpenMaxCalls)

	pipeline := worker.NewPipeline(worker.PipelineDeps{
		Sender:    worker.NewPushSender(provider, users, log),
		Guard:     store.NewIdempotencyGuard(redisClient, cfg.TTL.Idempotency),
		Renderer:  gateway,
		Statuses:  gateway,
		Publisher: publisher,
		Breaker:   sendBreaker,
		Policy: retry.Policy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialDelay:    cfg.Retry.InitialDelay,
			ExponentialBase: cfg.Retry.ExponentialBase,
			MaxDelay:        cfg.Retry.MaxDelay,
		},
		Logger: log,
	})

	consumer := broker.NewConsumer(cfg.Rabbit,
		[]string{cfg.Rabbit.PushPriorityQueue, cfg.Rabbit.PushQueue},
		cfg.Worker.Concurrency, pipeline.Handle, log)

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("consumer error")
		}
	}()

	health := worker.NewHealthServer("push-worker", map[string]func() error{
		"redis": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return redisClient.Ping(pingCtx).Err()
		},
	}, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Worker.HealthPort,
		Handler: health.Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("health server failed")
		}
	}()

	log.Info().Str("health_port", cfg.Worker.HealthPort).Msg("push-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down push-worker")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
