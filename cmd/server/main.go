package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/commands"
	"github.com/whatsdx/bot-platform-go/internal/config"
	"github.com/whatsdx/bot-platform-go/internal/database"
	"github.com/whatsdx/bot-platform-go/internal/handler"
	"github.com/whatsdx/bot-platform-go/internal/jobs"
	"github.com/whatsdx/bot-platform-go/internal/middleware"
	"github.com/whatsdx/bot-platform-go/internal/redis"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/service"
	"github.com/whatsdx/bot-platform-go/internal/sse"
	"github.com/whatsdx/bot-platform-go/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("ENVIRONMENT") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatal().Err(err).Str("timeZone", cfg.TimeZone).Msg("invalid time zone")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	tenantRepo := repository.NewTenantRepository(db.DB)
	botRepo := repository.NewBotInstanceRepository(db.DB)
	userRepo := repository.NewBotUserRepository(db.DB)
	groupRepo := repository.NewGroupRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	planService := service.NewPlanService(tenantRepo, botRepo, userRepo, redisClient)

	var aiService *service.AIService
	if cfg.GeminiAPIKey != "" {
		aiService, err = service.NewAIService(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, redisClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize AI backend")
		}
		log.Info().Str("model", cfg.GeminiModel).Msg("AI backend ready")
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, moderation and suggestions disabled")
	}

	dialer := transport.NewGatewayDialer(cfg.GatewayURL)
	orchestrator := service.NewOrchestrator(dialer, botRepo, userRepo, broker, service.OrchestratorConfig{
		ReconnectDelay: cfg.ReconnectDelay(),
		EncryptionKey:  cfg.EncryptionKey,
	})

	commandWindows := service.NewWindowStore()
	registry := service.NewCommandRegistry(commandWindows, redisClient, cfg.CommandTimeout())

	if err := commands.Register(commands.Deps{
		Registry: registry,
		Plan:     planService,
		AI:       aiService,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to register commands")
	}

	cooldownWindows := service.NewWindowStore()
	pipeline := service.NewPipeline(
		botRepo, tenantRepo, userRepo, groupRepo,
		planService, aiService, registry, orchestrator, cooldownWindows,
		service.PipelineConfig{
			ModerationEnabled:    cfg.ModerationEnabled,
			Cooldown:             cfg.Cooldown(),
			NightHoursEnabled:    cfg.NightHoursEnabled,
			NightHoursStart:      cfg.NightHoursStart,
			NightHoursEnd:        cfg.NightHoursEnd,
			Location:             location,
			PrivatePremiumOnly:   cfg.PrivatePremiumOnly,
			RequireGroupRental:   cfg.RequireGroupRental,
			CommunityGroupJID:    cfg.CommunityGroupJID,
			RequireCommunityJoin: cfg.RequireCommunityJoin,
			UseCoin:              cfg.UseCoin,
			GlobalRestrict:       cfg.GlobalRestrict,
		},
	)
	orchestrator.SetInboundSink(pipeline)

	tenantService := service.NewTenantService(tenantRepo)
	botService := service.NewBotService(botRepo, orchestrator)

	authMiddleware := middleware.NewAuthMiddleware(tenantRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, planService)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	tenantHandler := handler.NewTenantHandler(tenantService, planService)
	botHandler := handler.NewBotHandler(botService, orchestrator)
	inboundHandler := handler.NewInboundHandler(botService, pipeline)
	commandHandler := handler.NewCommandHandler(registry, botService, userRepo)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"liveBots":  orchestrator.LiveCount(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Post("/v1/tenants", tenantHandler.Create)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Mount("/tenants", tenantHandler.Routes())
		r.Mount("/bots", botHandler.Routes())
		r.Mount("/commands", commandHandler.Routes())
		r.Post("/messages", inboundHandler.Inject)
		r.Get("/events", eventsHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(
		botRepo,
		[]*service.WindowStore{commandWindows, cooldownWindows},
		config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
