package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/engine"
	"github.com/tinytelemetry/pulse/internal/model"
)

// DefaultAddr is the default listen address.
const DefaultAddr = "127.0.0.1:3000"

// Telemetry is the engine surface required by the HTTP API.
type Telemetry interface {
	Record(in model.MetricInput) model.Result
	StartTimer(name string, tags map[string]string) string
	EndTimer(id string, opts ...engine.MetricOption) model.Result
	IncrementCounter(name string, delta int64) int64
	StartSession(name string, tags map[string]string, metadata map[string]any) model.Session
	EndSession(id string) (model.Session, bool)
	Session(id string) (model.Session, bool)
	OpenSessions() []model.Session
	GetAnalytics(start, end time.Time) model.Analytics
	GetSnapshot() model.Snapshot
	Alerts(unresolvedOnly bool) []model.Alert
	ResolveAlert(id string) (model.Alert, bool)
	Store() model.MetricReader
	Clear()
}

// Config holds optional collaborators of the HTTP API.
type Config struct {
	Addr string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// OTLP receives POST /v1/metrics when set.
	OTLP OTLPIngester
	// Compress makes GET /api/export return zstd by default.
	Compress bool
	Logger   *zap.Logger
}

// Server provides the HTTP API for recording and querying telemetry.
type Server struct {
	addr      string
	tel       Telemetry
	cfg       Config
	logger    *zap.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	stopOnce  sync.Once
}

// NewServer creates a new HTTP API server.
func NewServer(tel Telemetry, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      cfg.Addr,
		tel:       tel,
		cfg:       cfg,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin router with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/metrics", s.handleRecordMetric)
	api.POST("/timers", s.handleStartTimer)
	api.POST("/timers/:id/end", s.handleEndTimer)
	api.POST("/counters/:name", s.handleIncrementCounter)
	api.GET("/sessions", s.handleOpenSessions)
	api.POST("/sessions", s.handleStartSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/end", s.handleEndSession)
	api.GET("/analytics", s.handleAnalytics)
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/alerts", s.handleAlerts)
	api.POST("/alerts/:id/resolve", s.handleResolveAlert)
	api.GET("/export", s.handleExport)
	api.DELETE("/data", s.handleClear)

	if s.cfg.OTLP != nil {
		r.POST("/v1/metrics", s.handleOTLP)
	}
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http api listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		if s.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	})
	return err
}

// Addr returns the active listen address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
