package main

import (
	"context"
	"strings"

	"launchpilot/api_metering/internal/handlers"
	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/ratelimit"
	"launchpilot/api_metering/internal/scraper"
	"launchpilot/api_metering/internal/stripeclient"
	"launchpilot/api_metering/internal/usage"
	"launchpilot/api_metering/pkg/auth"
	"launchpilot/api_metering/pkg/config"
	"launchpilot/api_metering/pkg/database"
	"launchpilot/api_metering/pkg/llm"
	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/monitoring"
	"launchpilot/api_metering/pkg/redis"
	"launchpilot/api_metering/pkg/server"
	"launchpilot/api_metering/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Metering API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnvBool("DB_AUTO_MIGRATE", true) {
		if err := database.ApplySchema(context.Background(), db, "bursar", logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Custom metering metrics
	metrics := &handlers.BursarMetrics{
		Debits:            metricsCollector.NewCounter("credits_debited_total", "Credits debited", []string{"kind"}),
		InsufficientFunds: metricsCollector.NewCounter("insufficient_balance_total", "Debits rejected for insufficient balance", []string{"kind"}),
		RateLimited:       metricsCollector.NewCounter("rate_limited_total", "Requests rejected by the rate limiter", []string{"action"}),
		ProviderCalls:     metricsCollector.NewCounter("provider_calls_total", "External provider calls", []string{"provider", "success"}),
		ProviderDuration:  metricsCollector.NewHistogram("provider_call_duration_seconds", "External provider call duration", []string{"provider"}, nil),
		AccountsReset:     metricsCollector.NewCounter("accounts_reset_total", "Accounts restored to plan defaults", []string{"plan"}),
	}

	// Ledger over Postgres
	store := ledger.NewPostgresStore(db)
	creditLedger := ledger.New(store, logger)

	// Usage recorder, with Kafka event publishing when brokers are set
	var publisher *usage.Publisher
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		var err error
		publisher, err = usage.NewPublisher(usage.PublisherConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   config.GetEnv("USAGE_EVENTS_TOPIC", usage.DefaultEventsTopic),
			Logger:  logger,
		})
		if err != nil {
			logger.WithError(err).Warn("Usage event publisher disabled")
		} else {
			defer publisher.Close()
			healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(publisher.Client()))
		}
	}
	recorder := usage.NewRecorder(db, publisher, logger)

	// Scrape rate limiter: Redis-backed when available, in-process otherwise
	maxScrapes := config.GetEnvInt("SCRAPE_RATE_LIMIT", ratelimit.DefaultMaxRequests)
	scrapeWindow := config.GetEnvDuration("SCRAPE_RATE_WINDOW", ratelimit.DefaultWindow)
	var gate ratelimit.Gate = ratelimit.NewMemoryGate(maxScrapes, scrapeWindow)
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		redisClient, err := redis.NewClientFromURL(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using in-process rate limiter")
		} else {
			defer redisClient.Close()
			gate = ratelimit.NewRedisGate(redisClient, maxScrapes, scrapeWindow)
		}
	}

	// Text-generation provider
	provider, err := llm.NewProvider(llm.LoadConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure LLM provider")
	}

	// Scraping provider
	scrapeClient, err := scraper.NewClient(scraper.LoadConfig(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure scraper client")
	}

	// Initialize handlers
	handlers.Init(db, logger, creditLedger, recorder, gate, provider, scrapeClient, metrics)

	// Stripe plan sync is optional
	var stripeClient *stripeclient.Client
	if config.GetEnv("STRIPE_SECRET_KEY", "") != "" {
		stripeClient = stripeclient.NewClient(stripeclient.LoadConfig(logger))
	}

	// Background jobs: monthly reset, low balance alerts, plan sync, ingest
	jobManager := handlers.NewJobManager(logger, stripeClient)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/metering/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/billing/plans", handlers.GetPlans)
			protected.GET("/credits/balance", handlers.GetBalance)
			protected.GET("/credits/afford", handlers.CheckAffordability)
			protected.POST("/generate", handlers.Generate)
			protected.POST("/scrape/twitter", handlers.ScrapeTwitter)
			protected.GET("/scrape/allowance", handlers.GetScrapeAllowance)
			protected.GET("/usage/records", handlers.GetUsageRecords)
			protected.GET("/usage/summary", handlers.GetUsageSummary)
		}

		// Service-to-service endpoints
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/accounts", handlers.CreateAccount)
			serviceAPI.POST("/usage/ingest", handlers.IngestUsage)
			serviceAPI.POST("/plans/:plan/reset", handlers.ResetPlan)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "9100")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
