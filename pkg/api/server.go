// Package api serves the diagnostics HTTP API of a node: health, prometheus
// metrics, traffic volume, peer information and wire format translation.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/logging"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/network"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
	"github.com/ZentaChain/zentalk-streams/pkg/relay"
)

// RunningChecker reports whether a component is accepting work
type RunningChecker interface {
	Running() bool
}

// Server is the diagnostics HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	limiter    *RateLimiter
	config     *Config
	logger     *zap.Logger
	startedAt  time.Time

	volume         *metrics.Volume
	peers          *network.PeerRegistry
	gate           RunningChecker
	streamMessages *protocol.StreamMessageRegistry

	translators   map[int]*relay.Translator
	translatorsMu sync.Mutex
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	APIKeys      []string // Required on /api/v1 when not empty
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         7171,
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Deps are the components the server reports on. Volume is required.
type Deps struct {
	Volume         *metrics.Volume
	Peers          *network.PeerRegistry
	Gate           RunningChecker
	StreamMessages *protocol.StreamMessageRegistry
	Logger         *zap.Logger
}

// NewServer creates a new diagnostics server
func NewServer(deps Deps, config *Config) (*Server, error) {
	if deps.Volume == nil {
		return nil, errors.New("volume metrics not given")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if deps.StreamMessages == nil {
		deps.StreamMessages = protocol.DefaultStreamMessageRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:         gin.New(),
		config:         config,
		logger:         logging.OrNop(deps.Logger).Named("api"),
		startedAt:      time.Now(),
		volume:         deps.Volume,
		peers:          deps.Peers,
		gate:           deps.Gate,
		streamMessages: deps.StreamMessages,
		translators:    make(map[int]*relay.Translator),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.logger))

	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if s.config.RateLimit > 0 {
		s.limiter = NewRateLimiter(s.config.RateLimit)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.volume.Registry(), promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	if len(s.config.APIKeys) > 0 {
		v1.Use(AuthMiddleware(s.config.APIKeys))
	}
	{
		v1.GET("/volume", s.handleVolume)
		v1.GET("/node/info", s.handleNodeInfo)
		v1.GET("/network/peers", s.handlePeers)
		v1.POST("/translate", s.handleTranslate)
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.Int("port", s.config.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.stopLimiter()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.stopLimiter()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) stopLimiter() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
