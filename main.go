package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"groupchat/internal/auth"
	"groupchat/internal/backplane"
	"groupchat/internal/config"
	"groupchat/internal/db"
	"groupchat/internal/grpcserver"
	"groupchat/internal/handlers"
	"groupchat/internal/middleware"
	"groupchat/internal/observability"
	"groupchat/internal/presence"
	"groupchat/internal/rabbitmq"
	"groupchat/internal/repositories"
	"groupchat/internal/rooms"
	"groupchat/internal/telemetry"
	"groupchat/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	invitationRepo := repositories.NewInvitationRepo(database)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL, cfg.ServiceName)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit."+cfg.ServiceName, cfg.ServiceName, cfg.Environment)

	hub := ws.NewHub(rooms.NewTracker())

	var registry presence.Registry = presence.NewMemoryRegistry()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		registry = presence.NewRedisRegistry(rdb)

		relay := backplane.NewRedis(rdb, backplane.DefaultChannel, uuid.NewString())
		if err := relay.Start(ctx, hub.Deliver); err != nil {
			log.Fatalf("failed to start backplane: %v", err)
		}
		defer relay.Close()
		hub.SetBackplane(relay)
		log.Printf("redis presence and backplane enabled addr=%s", cfg.RedisAddr)
	}

	gateway := ws.NewGateway(hub, tokens, registry, userRepo, conversationRepo, messageRepo, cfg.MessageTimeout)

	authHandler := handlers.NewAuthHandler(userRepo, tokens, audit)
	userHandler := handlers.NewUserHandler(userRepo, registry)
	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo, invitationRepo, userRepo, hub, audit, cfg.InviteTTL)
	invitationHandler := handlers.NewInvitationHandler(invitationRepo, userRepo, hub, audit)

	router := gin.Default()

	// middlewares
	router.Use(observability.RequestIDMiddleware())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.ClientCount()})
	})
	router.GET("/metrics", observability.Handler())
	router.GET("/ws", gateway.Handle)

	router.POST("/auth/signup", authHandler.Signup)
	router.POST("/auth/login", authHandler.Login)

	api := router.Group("/api", middleware.AuthMiddleware(tokens))
	api.GET("/users", userHandler.SearchUsers)
	api.GET("/users/online", userHandler.OnlineUsers)
	api.GET("/conversations", conversationHandler.ListConversations)
	api.POST("/conversations", conversationHandler.CreateConversation)
	api.GET("/conversations/:id/messages", conversationHandler.GetMessages)
	api.POST("/conversations/:id/messages", conversationHandler.PostMessage)
	api.DELETE("/conversations/:id", conversationHandler.DeleteConversation)
	api.GET("/invitations/pending", invitationHandler.ListPending)
	api.POST("/invitations/:id/respond", invitationHandler.Respond)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)

	grpcServer := grpcserver.New()
	go func() {
		if err := grpcServer.ListenAndServe(cfg.GRPCPort); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()
	grpcServer.SetServing(true)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("http server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	grpcServer.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// hijacked websocket connections are not closed by Shutdown
	if err := hub.CloseAll(shutdownCtx); err != nil {
		log.Printf("websocket shutdown: %v", err)
	}
	grpcServer.Stop()
}
