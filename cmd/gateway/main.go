package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/api"
	"github.com/cascadehq/cascade/internal/automation"
	"github.com/cascadehq/cascade/internal/circuitbreaker"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/deadletter"
	"github.com/cascadehq/cascade/internal/dispatch"
	"github.com/cascadehq/cascade/internal/metrics"
	"github.com/cascadehq/cascade/internal/observ"
	"github.com/cascadehq/cascade/internal/provider"
	"github.com/cascadehq/cascade/internal/queue"
	"github.com/cascadehq/cascade/internal/redis"
	"github.com/cascadehq/cascade/internal/router"
	"github.com/cascadehq/cascade/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting cascade gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Stores
	jobStore := db.NewJobStore(database, logger)
	eventStore := db.NewEventStore(database, logger)
	runStore := db.NewRunStore(database, logger)
	automationStore := db.NewAutomationStore(database, logger)
	contactStore := db.NewContactStore(database, logger)
	campaignStore := db.NewCampaignStore(database, logger)
	accountStore := db.NewAccountStore(database, logger)

	// Redis backs rate limiting and the counter caches; the engine itself
	// runs without it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	var counters *redis.Counters
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.EventRateLimit,
			Window: 1 * time.Minute,
		})
		counters = redis.NewCounters(redisClient, logger)
		defer redisClient.Close()
	}

	// Delivery providers. AWS clients fall back to the log provider so the
	// engine stays runnable without credentials.
	logProvider := provider.NewLogProvider(logger)

	var emailSender provider.EmailSender
	if sesClient, err := provider.NewSESClient(ctx, provider.SESConfig{
		Region: cfg.AWSRegion,
	}, logger); err != nil {
		logger.Warn("SES unavailable, email sends will be logged only", zap.Error(err))
		emailSender = logProvider
	} else {
		emailSender = sesClient
	}

	var smsSender provider.SMSSender
	if snsClient, err := provider.NewSNSClient(ctx, provider.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger); err != nil {
		logger.Warn("SNS unavailable, SMS sends will be logged only", zap.Error(err))
		smsSender = logProvider
	} else {
		smsSender = snsClient
	}

	emailSender = circuitbreaker.NewProtectedEmailSender(
		emailSender,
		circuitbreaker.New(circuitbreaker.DefaultConfig("email"), logger),
		logger,
	)
	smsSender = circuitbreaker.NewProtectedSMSSender(
		smsSender,
		circuitbreaker.New(circuitbreaker.DefaultConfig("sms"), logger),
		logger,
	)

	var social *provider.SocialClient
	var publisher provider.SocialPublisher = logProvider
	var tokens provider.TokenRefresher = logProvider
	var engagement provider.EngagementFetcher = logProvider
	if cfg.SocialGatewayURL != "" {
		social = provider.NewSocialClient(provider.SocialConfig{
			BaseURL: cfg.SocialGatewayURL,
			APIKey:  cfg.SocialGatewayKey,
		}, logger)
		publisher = social
		tokens = social
		engagement = social
	}

	webhookCaller := provider.NewWebhookCaller(logger, provider.WebhookConfig{
		Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
	})

	// Dead letter publisher for jobs that exhaust their retries
	var deadLetter dispatch.DeadLetterPublisher
	if cfg.SQSDLQURL != "" {
		dlq, err := deadletter.NewPublisher(ctx, deadletter.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSDLQURL,
		}, logger)
		if err != nil {
			logger.Warn("dead letter queue unavailable", zap.Error(err))
		} else {
			deadLetter = dlq
		}
	}

	// Queue, engine, router, dispatcher
	q := queue.New(jobStore, logger)

	engine := automation.NewEngine(
		runStore,
		automationStore,
		contactStore,
		eventStore,
		q,
		emailSender,
		smsSender,
		webhookCaller,
		automation.Config{
			FromEmail: cfg.SESFromEmail,
			SMSFrom:   cfg.SMSFrom,
		},
		logger,
	)

	enroller := automation.NewEnroller(automationStore, runStore, q, logger)
	eventRouter := router.New(eventStore, automationStore, enroller, logger)

	dispatcher := dispatch.New(q, deadLetter, logger)
	handlers := &dispatch.Handlers{
		Engine:     engine,
		Email:      emailSender,
		SMS:        smsSender,
		Social:     publisher,
		Tokens:     tokens,
		Engagement: engagement,
		Accounts:   accountStore,
		Segments:   contactStore,
		Logger:     logger,
	}
	if counters != nil {
		handlers.Cache = counters
	}
	handlers.RegisterAll(dispatcher)

	// Background scheduler loops
	w := worker.New(eventRouter, dispatcher, jobStore, eventStore, worker.Config{
		EventInterval:   time.Duration(cfg.EventInterval) * time.Second,
		JobInterval:     time.Duration(cfg.JobInterval) * time.Second,
		EventBatchLimit: cfg.EventBatchLimit,
		JobBatchLimit:   cfg.JobBatchLimit,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go w.Start(workerCtx)

	logger.Info("background worker started",
		zap.Int("event_interval_s", cfg.EventInterval),
		zap.Int("job_interval_s", cfg.JobInterval),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, api.Deps{
		Events:          eventStore,
		Queue:           q,
		Jobs:            jobStore,
		Automations:     automationStore,
		Runs:            runStore,
		Campaigns:       campaignStore,
		Enroller:        enroller,
		Router:          eventRouter,
		Dispatcher:      dispatcher,
		EventBatchLimit: cfg.EventBatchLimit,
		JobBatchLimit:   cfg.JobBatchLimit,
	})

	r.Route("/v1", func(r chi.Router) {
		// Event ingest carries the per-tenant rate limit; the rest of the
		// surface is low-volume control traffic.
		r.With(api.RateLimitMiddleware(rateLimiter, logger, api.TenantKeyFunc)).
			Post("/events", handler.CreateEvent)

		r.Post("/jobs", handler.CreateJob)
		r.Get("/jobs/{id}", handler.GetJob)
		r.Post("/automations/{id}/enroll", handler.EnrollContact)
		r.Delete("/automations/{id}", handler.DeleteAutomation)
		r.Get("/runs/{id}", handler.GetRun)
		r.Post("/webhooks/delivery", handler.DeliveryWebhook)
	})

	// Scheduler endpoints for external cron, mirroring the worker loops
	r.Route("/internal", func(r chi.Router) {
		r.Post("/process-events", handler.ProcessEvents)
		r.Post("/process-jobs", handler.ProcessJobs)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop the scheduler loops before draining HTTP
		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
