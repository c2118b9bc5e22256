package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"streamrelay/internal/metrics"
	"streamrelay/internal/registry"
	"streamrelay/internal/tracker"
	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// MaxAlertLimit caps the limit query parameter of the alert history endpoint
const MaxAlertLimit = 500

// Registry interface to avoid tight coupling to the registry implementation
type Registry interface {
	GetStats() registry.Stats
	GetConsumers(streamID string, kind types.Kind) []interfaces.Connection
}

// RateSource reports per-stream frame rates
type RateSource interface {
	GetFPS(streamID string) int
	Snapshot() []tracker.StreamRate
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	registry     Registry
	rates        RateSource
	store        interfaces.StreamStore
	metrics      *metrics.Metrics
	metricsPath  string
	historyLimit int
	startedAt    time.Time
	logger       *zap.Logger
	router       *http.ServeMux
}

// Option customizes the API server
type Option func(*Server)

// WithMetrics exposes the Prometheus registry at path and instruments every route
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithHistoryLimit sets the default page size of alert history
func WithHistoryLimit(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
// Dependency injection pattern maintains architectural boundaries
func NewServer(reg Registry, rates RateSource, store interfaces.StreamStore, opts ...Option) *Server {
	s := &Server{
		registry:     reg,
		rates:        rates,
		store:        store,
		metricsPath:  "/metrics",
		historyLimit: 50,
		startedAt:    time.Now(),
		logger:       zap.NewNop(),
		router:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.handle("GET /health", "/health", s.healthCheck)
	s.handle("GET /api/stats", "/api/stats", s.getStats)
	s.handle("GET /api/streams", "/api/streams", s.listStreams)
	s.handle("GET /api/streams/{id}/alerts", "/api/streams/{id}/alerts", s.listAlerts)

	if s.metrics != nil {
		s.router.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
}

func (s *Server) handle(pattern, route string, fn http.HandlerFunc) {
	var h http.Handler = s.corsMiddleware(s.jsonMiddleware(fn))
	s.router.Handle(pattern, s.metrics.Middleware(route, h))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types for JSON serialization
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Database      string         `json:"database"`
	Connections   registry.Stats `json:"connections"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

type StatsResponse struct {
	registry.Stats
	FPS map[string]int `json:"fps"`
}

type StreamSummary struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	FPS            int       `json:"fps"`
	VideoConsumers int       `json:"video_consumers"`
	AlertConsumers int       `json:"alert_consumers"`
	LastFrameAt    time.Time `json:"last_frame_at,omitempty"`
}

type StreamsResponse struct {
	Streams []StreamSummary `json:"streams"`
}

type AlertsResponse struct {
	StreamID string         `json:"stream_id"`
	Alerts   []*types.Alert `json:"alerts"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /health - database connectivity plus live connection counts
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.store == nil {
		dbStatus = "disabled"
	} else if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:        status,
		Timestamp:     time.Now(),
		Database:      dbStatus,
		Connections:   s.registry.GetStats(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	s.encode(w, response)
}

// GET /api/stats - registry counters with the last computed rate per stream
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GetStats()
	fps := make(map[string]int, len(stats.ActiveStreams))
	for _, streamID := range stats.ActiveStreams {
		fps[streamID] = s.rates.GetFPS(streamID)
	}
	s.encode(w, StatsResponse{Stats: stats, FPS: fps})
}

// GET /api/streams - every stream that currently has a producer
func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GetStats()

	lastFrame := make(map[string]time.Time)
	for _, rate := range s.rates.Snapshot() {
		lastFrame[rate.StreamID] = rate.LastFrameAt
	}

	streams := make([]StreamSummary, 0, len(stats.ActiveStreams))
	for _, streamID := range stats.ActiveStreams {
		summary := StreamSummary{
			ID:             streamID,
			FPS:            s.rates.GetFPS(streamID),
			VideoConsumers: len(s.registry.GetConsumers(streamID, types.KindVideoFrame)),
			AlertConsumers: len(s.registry.GetConsumers(streamID, types.KindAlert)),
			LastFrameAt:    lastFrame[streamID],
		}
		// TECHNICAL DISCOVERY: Owner lookup is best effort; a store hiccup must not hide live streams
		if s.store != nil {
			if record, err := s.store.GetStream(r.Context(), streamID); err == nil {
				summary.OwnerID = record.OwnerID
			} else if !errors.Is(err, interfaces.ErrStreamNotFound) {
				s.logger.Warn("stream owner lookup failed", zap.String("stream_id", streamID), zap.Error(err))
			}
		}
		streams = append(streams, summary)
	}
	s.encode(w, StreamsResponse{Streams: streams})
}

// GET /api/streams/{id}/alerts?limit=N - archived alerts, newest first
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	if !types.IsValidStreamID(streamID) {
		s.sendError(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, MaxAlertLimit)
	}

	if s.store == nil {
		s.sendError(w, "Alert history unavailable", http.StatusServiceUnavailable)
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), streamID, limit)
	if err != nil {
		s.logger.Error("failed to list alerts", zap.String("stream_id", streamID), zap.Error(err))
		s.sendError(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	s.encode(w, AlertsResponse{StreamID: streamID, Alerts: alerts})
}

func (s *Server) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables dashboard access from other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
