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
	"github.com/baechuer/notify-platform/internal/db"
	"github.com/baechuer/notify-platform/internal/ingress"
	"github.com/baechuer/notify-platform/internal/logger"
	"github.com/baechuer/notify-platform/internal/security"
	"github.com/baechuer/notify-platform/internal/store"
	"github.com/baechuer/notify-platform/internal/template"
	"github.com/baechuer/notify-platform/internal/transport/rest"
	"github.com/baechuer/notify-platform/internal/userdir"
)

func main() {
	config.Load()
	cfg := config.FromEnv()
	log := logger.New("gateway")

	log.Info().Str("port", cfg.Server.Port).Msg("starting gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := store.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.Database.URL); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	publisher, err := broker.NewPublisher(cfg.Rabbit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	userBreaker := circuitbreaker.New("user-service",
		cfg.UserBreaker.FailureThreshold, cfg.UserBreaker.RecoveryTimeout, cfg.UserBreaker.HalfOpenMaxCalls)
	userCache := store.NewUserCache(redisClient, cfg.TTL.UserCache)
	users := userdir.NewClient(cfg.Services.UserServiceURL, cfg.Services.InternalTimeout, userBreaker, userCache, log)

	records := store.NewNotificationStore(redisClient, cfg.TTL.Notification)
	ingressSvc := ingress.NewService(users, records, publisher, cfg.Retry.MaxRetries, log)

	templates := template.NewEngine(
		template.NewPGRepository(pool),
		template.NewCache(redisClient, cfg.Template.CacheTTL),
		cfg.Template.DefaultLanguage,
		log,
	)

	readyChecks := map[string]func() error{
		"redis": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return redisClient.Ping(pingCtx).Err()
		},
		"postgres": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx)
		},
	}

	handler := rest.NewHandler(ingressSvc, templates, readyChecks, log)
	router := rest.NewRouter(rest.RouterDeps{
		Handler:   handler,
		Verifier:  security.NewVerifier(cfg.Auth.JWTSecret),
		Limiter:   store.NewFixedWindowLimiter(redisClient),
		RateLimit: cfg.RateLimit,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("gateway started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
