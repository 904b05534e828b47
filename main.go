package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"ride-chat-sync/internal/chatsync"
	"ride-chat-sync/internal/config"
	grpcclient "ride-chat-sync/internal/grpc"
	"ride-chat-sync/internal/handlers"
	"ride-chat-sync/internal/logger"
	"ride-chat-sync/internal/middleware"
	"ride-chat-sync/internal/notify"
	"ride-chat-sync/internal/observability"
	"ride-chat-sync/internal/rabbitmq"
	"ride-chat-sync/internal/telemetry"
	"ride-chat-sync/internal/ws"
)

func main() {
	cfg := config.MustLoad()

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		lg.Fatal("failed to init tracing", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, lg)
	observability.SetPublisher(publisher)
	lg.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, cfg.Tracing.ServiceName, cfg.Events.Environment, lg)

	dispatcher, err := notify.NewDispatcher(notify.Options{
		Backend:      cfg.Notify.Backend,
		AMQPURL:      cfg.Notify.AMQPURL,
		Exchange:     cfg.Notify.Exchange,
		RoutingKey:   cfg.Notify.RoutingKey,
		RedisAddr:    cfg.Notify.RedisAddr,
		RedisChannel: cfg.Notify.RedisChannel,
	}, lg)
	if err != nil {
		lg.Fatal("failed to build notification dispatcher", zap.Error(err))
	}

	var (
		validator middleware.TokenValidator
		names     handlers.NameResolver
	)
	if cfg.Identity.AuthAddr != "" {
		authConn, err := grpcclient.Dial(cfg.Identity.AuthAddr)
		if err != nil {
			lg.Fatal("failed to connect to auth grpc", zap.Error(err))
		}
		defer authConn.Close()
		authClient := grpcclient.NewAuthClient(authConn)
		validator = authClient
		names = authClient
	}

	header := http.Header{}
	if cfg.Transport.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.Transport.AuthToken)
	}
	transport, err := ws.Dial(ctx, cfg.Transport.URL, ws.Options{
		Header:        header,
		ParticipantID: cfg.Identity.ParticipantID,
		QueueSize:     cfg.Transport.QueueSize,
		PingInterval:  cfg.Transport.PingInterval,
		WriteTimeout:  cfg.Transport.WriteTimeout,
		Logger:        lg,
	})
	if err != nil {
		lg.Fatal("failed to connect to chat server", zap.String("url", cfg.Transport.URL), zap.Error(err))
	}

	manager := chatsync.NewManager(transport, chatsync.Options{
		HistoryTimeout: cfg.Sync.HistoryTimeout,
		TypingWindow:   cfg.Sync.TypingWindow,
		NotifyTimeout:  cfg.Sync.NotifyTimeout,
		Dispatcher:     dispatcher,
		Logger:         lg,
	})

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.RequestLogger(lg))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		select {
		case <-transport.Done():
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "transport down"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "ok", "conversations": manager.Len()})
		}
	})

	api := router.Group("/", middleware.Participant(validator, cfg.Identity.ParticipantID))
	handlers.NewConversationHandler(manager, names, audit, lg).Register(api)

	srv := &http.Server{Addr: cfg.HTTP.Address(), Handler: router}
	go func() {
		lg.Info("http bridge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case <-transport.Done():
		lg.Error("chat transport lost", zap.Error(transport.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	manager.CloseAll()
	_ = transport.Close()
	if err := dispatcher.Close(); err != nil {
		lg.Warn("dispatcher close", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		lg.Warn("publisher close", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		lg.Warn("tracing shutdown", zap.Error(err))
	}
}
