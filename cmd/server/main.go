package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/auth"
	"github.com/makeasinger/orchestrator/internal/cache"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/handler"
	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/notify"
	"github.com/makeasinger/orchestrator/internal/orchestrator"
	"github.com/makeasinger/orchestrator/internal/service"
	ws "github.com/makeasinger/orchestrator/internal/websocket"
	"github.com/makeasinger/orchestrator/internal/worker"
	"github.com/makeasinger/orchestrator/pkg/response"
)

// @title          Make-Singer Generation Orchestrator
// @version        1.0
// @description    Submits paid generations, reconciles them with the ledger and streams results.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.Log, cfg.Server.IsDevelopment())
	metrics.MustRegister()

	// Redis backs the item cache, the rate limiter and the artifact queue.
	// Without it the service runs on the in-memory cache and skips retries.
	var (
		redisClient *redis.Client
		backend     cache.Backend
		redisOpt    asynq.RedisClientOpt
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn().Err(err).Msg("redis not available")
		}
		backend = cache.NewRedisBackend(redisClient)
		redisOpt = asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	} else {
		log.Info().Msg("redis disabled, using in-memory item cache")
		backend = cache.NewMemoryBackend()
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Initialize external clients
	sunoClient := client.NewSunoClient(&cfg.Suno, log)
	ledgerClient := client.NewLedgerClient(&cfg.Ledger, log)

	// Initialize R2 client (optional - uploads degrade to placeholders if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, artifacts stay on placeholder addresses")
	}
	artifactStore := client.NewArtifactStore(storage, log)
	itemCache := cache.NewStore(backend, cfg.Orchestrator.CacheNamespace, cfg.Orchestrator.CacheTTL)

	var (
		asynqClient   *asynq.Client
		artifactQueue orchestrator.ArtifactRetrier
	)
	if cfg.Redis.Enabled {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		artifactQueue = service.NewArtifactQueue(asynqClient, log)
	}

	orch := orchestrator.New(orchestrator.ConfigFrom(cfg.Orchestrator, cfg.Ledger), orchestrator.Deps{
		Generator: sunoClient,
		Ledger:    ledgerClient,
		Artifacts: artifactStore,
		Cache:     itemCache,
		Dedup:     notify.NewDeduper(),
		Notifier:  hub,
		Retrier:   artifactQueue,
		Logger:    log,
	})

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
		}
	}
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(orch, validate)
	sessionHandler := handler.NewSessionHandler(orch, hub, log)
	callbackHandler := handler.NewCallbackHandler(orch, cfg.Callback.Token, log)
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		var authMiddleware *middleware.AuthMiddleware
		if tokenVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(tokenVerifier, cfg.JWT.Secret)
		} else if tokenVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(tokenVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if log.GetLevel() <= zerolog.DebugLevel {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": orch.ActiveSessions(),
			"services": fiber.Map{
				"suno":   sunoClient.IsConfigured(),
				"ledger": cfg.Ledger.BaseURL != "",
				"r2":     storage != nil,
				"redis":  redisClient != nil,
				"auth":   jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// Provider callbacks authenticate with a shared token, not a user JWT,
	// so the route is registered ahead of the authenticated group.
	app.Post("/api/callbacks/generation", callbackHandler.Generation)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	session := api.Group("/session")
	session.Post("/connect", sessionHandler.Connect)
	session.Post("/disconnect", sessionHandler.Disconnect)

	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), generationHandler.Submit)
	generations.Delete("/", generationHandler.Clear)
	generations.Get("/items", generationHandler.Items)
	generations.Get("/tasks", generationHandler.Tasks)
	generations.Get("/tasks/:taskId", generationHandler.Task)
	generations.Post("/tasks/:taskId/force-complete", generationHandler.ForceComplete)
	generations.Post("/refresh", generationHandler.Refresh)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, apiAuthMiddleware)

	app.Get("/ws/notifications", websocket.New(sessionHandler.Notifications))

	// Start Asynq worker server
	var workerServer *asynq.Server
	if cfg.Redis.Enabled {
		workerServer = newWorkerServer(redisOpt, log)
		artifactWorker := worker.NewArtifactWorker(artifactStore, orch, itemCache, log)
		go func() {
			mux := asynq.NewServeMux()
			mux.HandleFunc(service.TaskTypeArtifactUpload, artifactWorker.ProcessTask)
			if err := workerServer.Run(mux); err != nil {
				log.Error().Err(err).Msg("asynq worker error")
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	orch.Shutdown()
	hub.Stop()
	if workerServer != nil {
		workerServer.Shutdown()
	}
}

func newWorkerServer(redisOpt asynq.RedisClientOpt, log *zerolog.Logger) *asynq.Server {
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				service.ArtifactQueueName: 1,
			},
			Logger:   logging.NewAsynqLogger(log),
			LogLevel: logging.AsynqLevel(log.GetLevel()),
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
