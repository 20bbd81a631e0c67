// Package adminapi exposes a read-only gin.Engine for operating a QPub
// client instance: liveness, Prometheus-text metrics, and a per-channel
// debug snapshot. Grounded on the teacher's internal/api/server.go +
// internal/handlers/health.go, repointed from Binance order/stream
// state to QPub channel/connection state and trimmed to the read-only
// subset this SDK needs (no admin config-mutation routes — there is no
// analogue to the teacher's stream manager to mutate).
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/metrics"
	"github.com/qpub/qpub-client-go/internal/registry"
)

// ConnectionChecker is the liveness dependency /healthz needs,
// satisfied by *connection.Controller without adminapi importing it
// directly (keeps the dependency direction one-way: connection/registry
// know nothing about adminapi).
type ConnectionChecker interface {
	IsConnected() bool
}

// ChannelLister is the debug dependency /debug/channels needs,
// satisfied by *registry.Registry.
type ChannelLister interface {
	Snapshot() []registry.ChannelSnapshot
}

// Config configures a Server at construction.
type Config struct {
	Port       int
	Version    string
	Connection ConnectionChecker
	Channels   ChannelLister
	Metrics    *metrics.Collector
	Logger     zerolog.Logger
}

// Server is the admin/debug HTTP surface for one QPub instance. It is
// entirely read-only: nothing it exposes can mutate instance state.
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

// New builds a Server and wires its routes. Call Start to serve.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	var recorder metrics.HTTPRecorder
	if cfg.Metrics != nil {
		recorder = cfg.Metrics
	}
	router.Use(metrics.AdminRequestLogger(recorder, cfg.Logger))

	s := &Server{
		cfg:       cfg,
		router:    router,
		startTime: time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the underlying gin.Engine, mainly for tests that want
// to drive routes via httptest without binding a real listener.
func (s *Server) Router() *gin.Engine { return s.router }

// Start serves the admin API until the process exits or Shutdown is
// called; it returns http.ErrServerClosed on a clean shutdown.
func (s *Server) Start() error {
	s.cfg.Logger.Info().Int("port", s.cfg.Port).Msg("adminapi: starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", s.handleMetrics)
	s.router.GET("/debug/channels", s.handleDebugChannels)
}

func (s *Server) handleHealthz(c *gin.Context) {
	connected := s.cfg.Connection != nil && s.cfg.Connection.IsConnected()
	status := "ok"
	code := http.StatusOK
	if !connected {
		status = "disconnected"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"connected": connected,
		"version":   s.cfg.Version,
		"uptime":    int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.cfg.Metrics == nil {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", nil)
		return
	}
	text, err := s.cfg.Metrics.Collect()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "METRICS_ERROR", "message": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

func (s *Server) handleDebugChannels(c *gin.Context) {
	channels := []registry.ChannelSnapshot{}
	if s.cfg.Channels != nil {
		if snap := s.cfg.Channels.Snapshot(); snap != nil {
			channels = snap
		}
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}
