// Package dashboard serves the relay over HTTP: the event snapshot, the
// connection status, operator controls and a live server-sent event stream.
package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/binacloud/relay/internal/relay"
	"github.com/binacloud/relay/internal/router"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

const (
	defaultStreamBuffer = 32
	shutdownTimeout     = 5 * time.Second
)

// Controller is the part of relay.Relay the dashboard drives.
type Controller interface {
	Events() []types.Event
	RequestStatus() relay.Status
	SetEndpoint(ctx context.Context, url string) error
	RequestDisconnect() error
	Reconnect(ctx context.Context) error
}

// Registry accepts stream clients as surfaces.
type Registry interface {
	Register(s router.Surface)
	Unregister(s router.Surface)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string
	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
	// StreamBuffer is the per-client SSE backlog. Defaults to 32.
	StreamBuffer int
	// Debug keeps gin in debug mode.
	Debug bool
}

// Server is the dashboard HTTP server.
type Server struct {
	opts     Options
	ctrl     Controller
	registry Registry
	engine   *gin.Engine
}

// New builds the router. Call Run to serve.
func New(opts Options, ctrl Controller, registry Registry) *Server {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = defaultStreamBuffer
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{opts: opts, ctrl: ctrl, registry: registry}

	engine := gin.New()
	engine.Use(gin.Recovery())
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "PUT", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(opts.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	}
	engine.Use(cors.New(corsCfg))
	engine.Use(loggingMiddleware())

	api := engine.Group("/api")
	{
		api.GET("/events", s.getEvents)
		api.GET("/status", s.getStatus)
		api.PUT("/endpoint", s.putEndpoint)
		api.POST("/disconnect", s.postDisconnect)
		api.POST("/connect", s.postConnect)
		api.GET("/stream", s.getStream)
	}
	s.engine = engine
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("dashboard: listening on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// getEvents handles GET /api/events
func (s *Server) getEvents(c *gin.Context) {
	events := s.ctrl.Events()
	if events == nil {
		events = []types.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getStatus handles GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.RequestStatus())
}

type endpointRequest struct {
	URL string `json:"url" binding:"required"`
}

// putEndpoint handles PUT /api/endpoint
func (s *Server) putEndpoint(c *gin.Context) {
	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := s.ctrl.SetEndpoint(c.Request.Context(), req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.RequestStatus())
}

// postDisconnect handles POST /api/disconnect
func (s *Server) postDisconnect(c *gin.Context) {
	if err := s.ctrl.RequestDisconnect(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.RequestStatus())
}

// postConnect handles POST /api/connect
func (s *Server) postConnect(c *gin.Context) {
	if err := s.ctrl.Reconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.RequestStatus())
}

// getStream handles GET /api/stream
func (s *Server) getStream(c *gin.Context) {
	client := newStreamClient(uuid.NewString(), s.opts.StreamBuffer)
	s.registry.Register(client)
	defer func() {
		s.registry.Unregister(client)
		client.close()
		logger.Debugf("dashboard: stream %s closed", client.id)
	}()
	logger.Debugf("dashboard: stream %s opened", client.id)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("hello", gin.H{"client": client.id, "status": s.ctrl.RequestStatus()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-client.ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Name, msg.Data)
			return true
		}
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
