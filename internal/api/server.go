package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/account"
	"github.com/danghamo/passport/internal/api/handlers"
	"github.com/danghamo/passport/internal/api/jsonrpcx"
	"github.com/danghamo/passport/internal/api/middleware"
	"github.com/danghamo/passport/internal/auth"
	cqrsevents "github.com/danghamo/passport/internal/cqrs"
	cqrshandlers "github.com/danghamo/passport/internal/cqrs/handlers"
	"github.com/danghamo/passport/internal/domain/user"
	"github.com/danghamo/passport/internal/metrics"
	"github.com/danghamo/passport/internal/store"
	"github.com/danghamo/passport/pkg/config"
	"github.com/danghamo/passport/pkg/logger"
	"github.com/danghamo/passport/pkg/redisx"
	"github.com/danghamo/passport/pkg/sse"
)

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	logger          *logger.Logger
	redisClient     *redisx.Client
	mux             *http.ServeMux
	provider        *auth.RedisProvider
	service         *account.Service
	collector       *metrics.Collector
	accountHandler  *handlers.AccountHandler
	sessionHandler  *handlers.SessionHandler
	authMiddleware  *middleware.AuthMiddleware
	sseBroadcaster  *sse.Broadcaster
	eventBus        *cqrs.EventBus
	eventProcessor  *cqrs.EventProcessor
	router          *message.Router
	sseEventHandler *cqrshandlers.SSEEventHandler
	removeListener  auth.RemoveListenerFunc
	metricsEnabled  bool
}

// NewServer creates a new HTTP server wired from configuration
func NewServer(cfg *config.Config, appLogger *logger.Logger, redisClient *redisx.Client) (*Server, error) {
	mux := http.NewServeMux()
	apiLogger := appLogger.WithComponent("api")

	tokenService := auth.NewTokenService(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTIssuer,
		cfg.Auth.JWTExpiration,
	)

	provider := auth.NewRedisProvider(
		redisClient.Client,
		tokenService,
		auth.NewLogMailer(apiLogger),
		cfg.Auth.RecoveryTokenTTL,
		apiLogger,
	)

	userStore, err := buildStore(cfg, redisClient)
	if err != nil {
		return nil, fmt.Errorf("failed to build document store: %w", err)
	}

	collector := metrics.NewCollector()

	authMiddleware := middleware.NewAuthMiddleware(tokenService, apiLogger)

	// Unique consumer group per server instance
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	serverID := fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())

	watermillLogger := watermill.NewStdLogger(false, false)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient.Client,
		},
		watermillLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redisClient.Client,
			ConsumerGroup: fmt.Sprintf("passport-%s", serverID),
		},
		watermillLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 5 * time.Second,
	}, watermillLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	eventBus, err := cqrs.NewEventBusWithConfig(
		publisher,
		cqrs.EventBusConfig{
			GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
				return fmt.Sprintf("account-events.%s", params.EventName), nil
			},
			Marshaler: cqrs.JSONMarshaler{},
			Logger:    watermillLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	service := account.NewService(
		provider,
		userStore,
		account.Config{
			UsersCollection: cfg.Store.UsersCollection,
			Events:          eventBus,
		},
		apiLogger,
		collector,
	)

	eventProcessor, err := cqrs.NewEventProcessorWithConfig(
		router,
		cqrs.EventProcessorConfig{
			GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
				return fmt.Sprintf("account-events.%s", params.EventName), nil
			},
			SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
				return subscriber, nil
			},
			Marshaler: cqrs.JSONMarshaler{},
			Logger:    watermillLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	sseBroadcaster := sse.NewBroadcaster(apiLogger)
	sseEventHandler := cqrshandlers.NewSSEEventHandler(sseBroadcaster, apiLogger)

	server := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  60 * time.Second,
		},
		logger:          apiLogger,
		redisClient:     redisClient,
		mux:             mux,
		provider:        provider,
		service:         service,
		collector:       collector,
		accountHandler:  handlers.NewAccountHandler(service, provider, apiLogger),
		sessionHandler:  handlers.NewSessionHandler(service, sseBroadcaster, apiLogger),
		authMiddleware:  authMiddleware,
		sseBroadcaster:  sseBroadcaster,
		eventBus:        eventBus,
		eventProcessor:  eventProcessor,
		router:          router,
		sseEventHandler: sseEventHandler,
		metricsEnabled:  cfg.Server.MetricsEnabled,
	}

	err = eventProcessor.AddHandlers(
		cqrs.NewEventHandler("SessionChangedEvent", sseEventHandler.HandleSessionChangedEvent),
		cqrs.NewEventHandler("ProfileCreatedEvent", sseEventHandler.HandleProfileCreatedEvent),
		cqrs.NewEventHandler("ProfileDeletedEvent", sseEventHandler.HandleProfileDeletedEvent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register event handlers: %w", err)
	}

	server.removeListener = server.relaySessionChanges()

	server.setupRoutes()
	server.setupMiddleware()

	return server, nil
}

// buildStore selects the document store backend from configuration
func buildStore(cfg *config.Config, redisClient *redisx.Client) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := store.OpenPostgres(cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return store.NewRedisStore(redisClient.Client), nil
	}
}

// relaySessionChanges bridges provider state changes onto the event bus
// so other server instances can mirror them to their SSE clients.
func (s *Server) relaySessionChanges() auth.RemoveListenerFunc {
	var (
		mu       sync.Mutex
		previous *user.User
	)

	return s.provider.AddStateListener(func(session *auth.Session) {
		current := sessionSnapshot(session)

		mu.Lock()
		prev := previous
		previous = current
		mu.Unlock()

		event, err := cqrsevents.NewSessionChangedEvent(prev, current)
		if err != nil {
			s.logger.Error("Failed to build session changed event", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Error("Failed to publish session changed event", zap.Error(err))
		}
	})
}

// sessionSnapshot converts a provider session into a user snapshot
func sessionSnapshot(session *auth.Session) *user.User {
	if session == nil {
		return nil
	}
	u := user.New(session.UserID)
	u.IsAnonymous = session.IsAnonymous
	u.Login = session.Email
	return &u
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.healthCheckHandler)
	s.mux.HandleFunc("/api/v1/ping", s.handlePing)

	if s.metricsEnabled {
		s.mux.Handle("/metrics", s.collector.Handler())
	}

	// Unauthenticated account endpoints
	s.mux.HandleFunc("/api/v1/account.SignIn", s.accountHandler.HandleSignIn)
	s.mux.HandleFunc("/api/v1/account.Recover", s.accountHandler.HandleRecover)

	// Authenticated account endpoints
	s.mux.Handle("/api/v1/account.Link", s.authMiddleware.RequireAuth(http.HandlerFunc(s.accountHandler.HandleLink)))
	s.mux.Handle("/api/v1/account.Get", s.authMiddleware.RequireAuth(http.HandlerFunc(s.accountHandler.HandleGet)))
	s.mux.Handle("/api/v1/account.Save", s.authMiddleware.RequireAuth(http.HandlerFunc(s.accountHandler.HandleSave)))
	s.mux.Handle("/api/v1/account.SignOut", s.authMiddleware.RequireAuth(http.HandlerFunc(s.accountHandler.HandleSignOut)))
	s.mux.Handle("/api/v1/account.Delete", s.authMiddleware.RequireAuth(http.HandlerFunc(s.accountHandler.HandleDelete)))

	// SSE session stream
	s.mux.Handle("/api/v1/session.Stream", s.authMiddleware.RequireAuth(http.HandlerFunc(s.sessionHandler.HandleStream)))
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware() {
	middlewareChain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RateLimit(s.logger),
		middleware.CORS(),
		middleware.Logging(s.logger),
	)

	s.httpServer.Handler = middlewareChain(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr))

	// Start Watermill router first
	go func() {
		if err := s.router.Run(ctx); err != nil {
			s.logger.Error("Watermill router error", zap.Error(err))
		}
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	if s.removeListener != nil {
		s.removeListener()
	}

	// Close SSE connections before the HTTP listener
	if s.sseBroadcaster != nil {
		s.sseBroadcaster.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	if s.router != nil {
		s.logger.Info("Closing Watermill router")
		if err := s.router.Close(); err != nil {
			s.logger.Error("Router shutdown error", zap.Error(err))
			return err
		}
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.redisClient.HealthCheck(r.Context()); err != nil {
		s.logger.Error("Redis health check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unhealthy","checks":{"redis":{"status":"down"}}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","checks":{"redis":{"status":"up"}}}`))
}

// handlePing handles ping requests
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.Error(w, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.Error(w, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]string{"message": "pong"})
}
