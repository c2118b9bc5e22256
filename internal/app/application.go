package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamrelay/internal/api"
	"streamrelay/internal/archiver"
	"streamrelay/internal/auth"
	"streamrelay/internal/config"
	"streamrelay/internal/database"
	"streamrelay/internal/metrics"
	"streamrelay/internal/notifier"
	"streamrelay/internal/registry"
	"streamrelay/internal/router"
	"streamrelay/internal/stream"
	"streamrelay/internal/tracker"
	"streamrelay/internal/websocket"
	pkgdatabase "streamrelay/pkg/database"
	"streamrelay/pkg/types"
)

// CloseGoingAway is sent to every open socket on shutdown
const CloseGoingAway = 1001

// statusNotifier is the external status sink, Redis or a no-op
type statusNotifier interface {
	PublishStatus(ctx context.Context, event *types.StatusMessage) error
	Close() error
}

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	streams    *stream.Manager
	archiver   *archiver.Archiver
	notifier   statusNotifier
	registry   *registry.Registry
	tracker    *tracker.Tracker
	metrics    *metrics.Metrics
	auth       *auth.Service
	dispatcher *router.Dispatcher
	apiServer  *api.Server
	wsHandler  *websocket.Handler
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Streams → Archiver → Notifier → Registry → Tracker → Auth → Router → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout
	dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied", zap.String("path", cfg.Database.Path))

	// STEP 2: Metrics first so every later component can report into it
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	// STEP 3: Ownership checker over the store
	streams := stream.NewManager(dbManager,
		stream.WithRestrictSubscribe(cfg.Streams.RestrictSubscribe),
		stream.WithCacheSize(cfg.Streams.OwnerCacheSize),
		stream.WithLogger(logger))

	// STEP 4: Alert archiver (started in Start)
	arch := archiver.New(dbManager,
		archiver.WithQueueSize(cfg.Streams.AlertQueueSize),
		archiver.WithWriteTimeout(cfg.Database.Timeout),
		archiver.WithDropHook(m.AlertDropped),
		archiver.WithLogger(logger))

	// STEP 5: Optional Redis status notifier
	var statusSink statusNotifier = notifier.Nop{}
	if cfg.Redis.Enabled {
		publisher, err := notifier.NewRedisPublisher(cfg.Redis, logger)
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to initialize status notifier: %w", err)
		}
		statusSink = publisher
	}

	// STEP 6: Registry and tracker
	reg := registry.NewRegistry(logger)
	m.BindRegistry(reg)
	rates := tracker.NewTracker(tracker.WithObserver(m.SetStreamFPS))

	// STEP 7: Session verifier
	authService, err := auth.NewService(auth.Config{
		SecretKey: cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		Duration:  cfg.Auth.TokenTTL,
	})
	if err != nil {
		_ = statusSink.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	// STEP 8: Message dispatcher with every collaborator wired
	dispatcher, err := router.NewDispatcher(reg, authService,
		router.WithOwnershipChecker(streams),
		router.WithAlertPersister(arch),
		router.WithStreamToucher(arch),
		router.WithStatusPublisher(statusSink),
		router.WithTracker(rates),
		router.WithMetrics(m),
		router.WithLogger(logger),
		router.WithPublishTimeout(cfg.Redis.PublishTimeout))
	if err != nil {
		_ = statusSink.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	// STEP 9: API server and WebSocket handler
	apiServer := api.NewServer(reg, rates, dbManager,
		api.WithMetrics(m, cfg.Metrics.Path),
		api.WithHistoryLimit(cfg.Streams.HistoryLimit),
		api.WithLogger(logger))

	wsHandler, err := websocket.NewHandler(dispatcher, cfg.WebSocket, logger)
	if err != nil {
		_ = statusSink.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize websocket handler: %w", err)
	}

	// STEP 10: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.Handle(cfg.WebSocket.Path, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		streams:    streams,
		archiver:   arch,
		notifier:   statusSink,
		registry:   reg,
		tracker:    rates,
		metrics:    m,
		auth:       authService,
		dispatcher: dispatcher,
		apiServer:  apiServer,
		wsHandler:  wsHandler,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Archiver starts first to accept alerts, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start alert archiver (background persistence)
	if err := app.archiver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start archiver: %w", err)
	}

	// STEP 2: Bind the listener synchronously so bind errors surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.archiver.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	// STEP 3: Serve
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info("streamrelay started",
		zap.String("addr", listener.Addr().String()),
		zap.String("websocket_path", app.config.WebSocket.Path),
		zap.Bool("redis", app.config.Redis.Enabled),
		zap.Bool("metrics", app.metrics != nil))
	return nil
}

// Errors reports a fatal HTTP serve failure after Start returned
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → sockets → Archiver → Notifier → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down streamrelay")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Hijacked sockets are not tracked by http.Server; close them explicitly
	for _, conn := range app.registry.Connections() {
		_ = conn.CloseWithReason(CloseGoingAway, "server shutting down")
	}

	// STEP 2.5: Disconnect cleanup queues stream touches, so let it finish before the archiver stops.
	// CloseWithReason force-closes after WriteTimeout, which bounds the wait.
	drainCtx, cancel := context.WithTimeout(ctx, app.config.WebSocket.WriteTimeout+time.Second)
	defer cancel()
	if err := app.wsHandler.Wait(drainCtx); err != nil {
		app.logger.Warn("connections still closing at shutdown", zap.Error(err))
	}

	// STEP 3: Flush queued alerts
	if err := app.archiver.Stop(); err != nil && !errors.Is(err, archiver.ErrNotRunning) {
		app.logger.Warn("archiver shutdown error", zap.Error(err))
	}

	// STEP 4: External notifier
	if err := app.notifier.Close(); err != nil {
		app.logger.Warn("notifier shutdown error", zap.Error(err))
	}

	// STEP 5: Close database connections
	if err := app.dbManager.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
	}

	app.logger.Info("streamrelay shutdown complete")
	_ = app.logger.Sync()
	return nil
}

// GetAddr returns the bound listener address, or the configured one before Start
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Auth exposes the token service for the CLI and tests
func (app *Application) Auth() *auth.Service {
	return app.auth
}

// Registry exposes live routing state for tests
func (app *Application) Registry() *registry.Registry {
	return app.registry
}

// Store exposes the sqlite store for tests
func (app *Application) Store() *database.Manager {
	return app.dbManager
}

// WaitForShutdown blocks until the context ends or the server fails
func (app *Application) WaitForShutdown(ctx context.Context, timeout time.Duration) error {
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-app.serveErr:
		app.logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		return err
	}
	return serveErr
}
