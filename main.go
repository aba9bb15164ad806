package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	grpcserver "messaging-service/internal/grpc"
	"messaging-service/internal/handlers"
	"messaging-service/internal/identity"
	"messaging-service/internal/logging"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

type stores struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	profiles      repositories.ProfileRepository
	blocks        repositories.BlockRepository
	broadcasts    repositories.BroadcastRepository
}

func main() {
	configPath := flag.String("c", "", "comma-separated list of config files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Env, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	checkers := map[string]grpcserver.Checker{}
	var repos stores
	if cfg.Postgres.DSN != "" {
		database, err := db.Connect(db.Options{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("failed to connect to db", zap.Error(err))
		}
		defer database.Close()
		repos = stores{
			conversations: repositories.NewConversationRepo(database),
			messages:      repositories.NewMessageRepo(database),
			profiles:      repositories.NewProfileRepo(database),
			blocks:        repositories.NewBlockRepo(database),
			broadcasts:    repositories.NewBroadcastRepo(database),
		}
		checkers["postgres"] = database.PingContext
	} else {
		logger.Warn("no postgres dsn configured, using in-memory store")
		mem := repositories.NewMemoryStore()
		repos = stores{conversations: mem, messages: mem, profiles: mem, blocks: mem, broadcasts: mem}
	}

	var typingStore presence.Store = presence.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		cli, err := presence.NewRedisClient(presence.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			Database: cfg.Redis.Database,
		})
		if err != nil {
			logger.Fatal("failed to build redis client", zap.Error(err))
		}
		defer cli.Close()
		redisStore := presence.NewRedisStore(cli, "")
		typingStore = redisStore
		checkers["redis"] = redisStore.Ping
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready", zap.String("mode", rabbitmq.PublisherMode(publisher)), zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))

	audit := telemetry.NewAuditEmitter(publisher, cfg.ServiceName, cfg.Env, logger)
	hub := ws.NewHub(logger)
	gateway := identity.NewGateway(repos.profiles, repos.blocks, logger)

	svc := messaging.NewService(messaging.Deps{
		Conversations: repos.conversations,
		Messages:      repos.messages,
		Gateway:       gateway,
		Notifier:      hub,
		Events:        messaging.NewEventEmitter(publisher, cfg.Messaging.PreviewRunes, logger),
	}, messaging.Options{
		MaxContentRunes: cfg.Messaging.MaxContentRunes,
		PreviewRunes:    cfg.Messaging.PreviewRunes,
		PageSize:        cfg.Messaging.PageSize,
		MaxPageSize:     cfg.Messaging.MaxPageSize,
		Retry:           repositories.RetryPolicy{Attempts: cfg.Store.RetryAttempts, Base: cfg.Store.RetryBase},
	}, logger)

	tracker := presence.NewTracker(typingStore, repos.conversations, hub, presence.Options{
		TTL:          cfg.Typing.TTL,
		HeartbeatRPS: cfg.Typing.HeartbeatRPS,
		Burst:        cfg.Typing.Burst,
	}, logger)
	svc.SetTyping(tracker)

	engine := broadcast.NewEngine(repos.broadcasts, svc, gateway, audit, cfg.Broadcast.Workers, logger)

	verifier, err := middleware.NewTokenVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("failed to build token verifier", zap.Error(err))
	}
	healthCheckers := make(map[string]handlers.Checker, len(checkers))
	for name, check := range checkers {
		healthCheckers[name] = handlers.Checker(check)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", handlers.Health(healthCheckers))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/conversations/:conversation_id", ws.NewConversationSocketHandler(hub, repos.conversations, verifier, tracker, logger).Handle)

	authed := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewConversationHandler(svc, tracker).Register(authed)
	handlers.NewBlockHandler(gateway, audit).Register(authed)
	handlers.RegisterDebugRoutes(authed, audit, cfg.Env != "production")

	admin := authed.Group("/", middleware.AdminOnly())
	handlers.NewBroadcastHandler(engine).Register(admin)

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	grpcSrv := grpcserver.NewServer(checkers, 0, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return grpcSrv.Serve(gctx, cfg.GRPC.Addr)
	})
	g.Go(func() error {
		return tracker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcSrv.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		if err := engine.Shutdown(shutdownCtx); err != nil {
			logger.Warn("broadcast shutdown failed", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}
