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
	"github.com/baechuer/notify-platform/internal/provider/email"
	"github.com/baechuer/notify-platform/internal/retry"
	"github.com/baechuer/notify-platform/internal/store"
	"github.com/baechuer/notify-platform/internal/worker"
)

func main() {
	config.Load()
	cfg := config.FromEnv()
	log := logger.New("email-worker")

	log.Info().Str("provider", cfg.Email.Provider).Msg("starting email-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := store.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	provider, err := email.NewProvider(cfg.Email)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create email provider")
	}

	publisher, err := broker.NewPublisher(cfg.Rabbit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	gateway := worker.NewGatewayClient(cfg.Services.GatewayURL, cfg.Auth.ServiceToken, cfg.Services.InternalTimeout)
	sendBreaker := circuitbreaker.New(provider.Name(),
		cfg.SendBreaker.FailureThreshold, cfg.SendBreaker.RecoveryTimeout, cfg.SendBreaker.HalfOpenMaxCalls)

	pipeline := worker.NewPipeline(worker.PipelineDeps{
		Sender:    worker.NewEmailSender(provider),
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
		[]string{cfg.Rabbit.EmailPriorityQueue, cfg.Rabbit.EmailQueue},
		cfg.Worker.Concurrency, pipeline.Handle, log)

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("consumer error")
		}
	}()

	health := worker.NewHealthServer("email-worker", map[string]func() error{
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

	log.Info().Str("health_port", cfg.Worker.HealthPort).Msg("email-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down email-worker")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
