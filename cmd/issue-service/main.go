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

	"github.com/spf13/afero"

	"issue-service/internal/auth"
	"issue-service/internal/cache"
	"issue-service/internal/classifier"
	"issue-service/internal/config"
	"issue-service/internal/db"
	"issue-service/internal/dispatch"
	"issue-service/internal/evidence"
	"issue-service/internal/geo"
	httphandler "issue-service/internal/http"
	"issue-service/internal/http/middleware"
	"issue-service/internal/locate"
	"issue-service/internal/logger"
	"issue-service/internal/repository"
	"issue-service/internal/service"
	"issue-service/internal/verify"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	rdb, err := cache.New(ctx, cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	store, err := evidence.NewStore(afero.NewOsFs(), cfg.Evidence.Dir, cfg.Evidence.PublicPath, cfg.Evidence.MaxBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare evidence storage")
	}

	issueRepo := repository.NewIssueRepository(database)
	workerRepo := repository.NewWorkerRepository(database)

	gateway := classifier.New(classifier.Config{
		URL:            cfg.Classifier.URL,
		AttemptTimeout: cfg.Classifier.AttemptTimeout,
		TotalBudget:    cfg.Classifier.TotalBudget,
		MaxRetries:     cfg.Classifier.MaxRetries,
		BackoffBase:    cfg.Classifier.BackoffBase,
		BackoffCap:     cfg.Classifier.BackoffCap,
	}, &http.Client{}, log)

	resolver := locate.NewResolver(
		cfg.Geo.PrimaryTimeout,
		cfg.Geo.FallbackTimeout,
		geo.Point{Lat: cfg.Geo.FallbackLat, Lng: cfg.Geo.FallbackLng},
	)

	submissionService := service.NewSubmissionService(
		issueRepo,
		gateway,
		store,
		cache.NewSubmissionGuard(rdb, cfg.Submission.PendingTTL, cfg.Submission.KeyTTL),
		log,
	)
	// No automatic assignment policy ships with the service; admins name the worker.
	issueService := service.NewIssueService(issueRepo, workerRepo, store, verify.New(cfg.Resolution.MaxDistanceMeters), nil, log)
	dispatchService := service.NewDispatchService(
		issueRepo,
		workerRepo,
		cache.NewPositionStore(rdb, cfg.Geo.PositionTTL),
		resolver,
		dispatch.New(dispatch.DefaultRadii),
		log,
	)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	limiter := cache.NewRateLimiter(rdb, "submissions", cfg.Submission.DailyLimit, 24*time.Hour)

	handler := httphandler.NewHandler(submissionService, issueService, dispatchService, cfg.Evidence.MaxBytes, log)
	router := httphandler.NewRouter(handler, middleware.Auth(tokenParser), httphandler.RouterOptions{
		Env:          cfg.Environment,
		EvidencePath: store.PublicPath(),
		Evidence:     store.FileSystem(),
		SubmitLimit:  middleware.RateLimit(limiter, log),
		Checks: []httphandler.HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error { return db.HealthCheck(ctx, database) }},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("starting issue service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
