package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"perpetual-engine/internal/engine"
	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/storage"
	"perpetual-engine/internal/store"
)

const maxLimit = 500

// History is the read side of the persistence layer.
type History interface {
	RecentTrades(ctx context.Context, limit int) ([]storage.Trade, error)
	DailyHistory(ctx context.Context, limit int) ([]storage.DayRecord, error)
	RecentEvents(ctx context.Context, limit int) ([]storage.EventRecord, error)
}

// Server exposes the engine control surface over HTTP.
type Server struct {
	engine      interfaces.Engine
	history     History
	hub         *Hub
	router      *gin.Engine
	corsOrigins []string
}

// New builds the router. history may be nil when persistence is disabled.
func New(eng interfaces.Engine, history History, hub *Hub, corsOrigins []string) *Server {
	s := &Server{
		engine:      eng,
		history:     history,
		hub:         hub,
		router:      gin.New(),
		corsOrigins: corsOrigins,
	}
	s.router.Use(gin.Recovery(), s.requestLogger(), s.corsMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)

	api := s.router.Group("/api")
	api.GET("/engine/status", s.status)
	api.POST("/engine/start", s.start)
	api.POST("/engine/stop", s.stop)
	api.GET("/engine/config", s.getConfig)
	api.PATCH("/engine/config", s.patchConfig)
	api.GET("/trades", s.trades)
	api.GET("/daily", s.daily)
	api.GET("/events", s.events)

	s.router.GET("/ws/status", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.engine.Running(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) start(c *gin.Context) {
	if err := s.engine.Start(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := s.engine.Stop(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Config())
}

func (s *Server) patchConfig(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.UpdateConfig(c.Request.Context(), store.JSONPatch(body)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Config())
}

func (s *Server) trades(c *gin.Context) {
	s.list(c, 50, func(ctx context.Context, n int) (any, error) { return s.history.RecentTrades(ctx, n) })
}

func (s *Server) daily(c *gin.Context) {
	s.list(c, 30, func(ctx context.Context, n int) (any, error) { return s.history.DailyHistory(ctx, n) })
}

func (s *Server) events(c *gin.Context) {
	s.list(c, 50, func(ctx context.Context, n int) (any, error) { return s.history.RecentEvents(ctx, n) })
}

func (s *Server) list(c *gin.Context, def int, query func(ctx context.Context, limit int) (any, error)) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	limit, err := parseLimit(c.Query("limit"), def)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := query(c.Request.Context(), limit)
	if err != nil {
		logger.ErrorWithErr(c.Request.Context(), "History query failed", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

// fail maps engine errors to HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrEngineRunning):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidConfig):
		code = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
