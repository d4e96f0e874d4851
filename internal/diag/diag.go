// Package diag serves the bridge's operational surface: health and
// readiness probes, Prometheus metrics, and a live session listing.
package diag

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/deskwire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SessionInfo is one live session row on the /sessions endpoint.
type SessionInfo struct {
	Name        string    `json:"name"`
	Username    string    `json:"username,omitempty"`
	Remote      string    `json:"remote"`
	Width       uint32    `json:"width,omitempty"`
	Height      uint32    `json:"height,omitempty"`
	Established bool      `json:"established"`
	Verified    bool      `json:"verified"`
	StartedAt   time.Time `json:"started_at"`
}

// Source exposes the daemon state the diagnostic routes report on.
type Source interface {
	Ready() bool
	Sessions() []SessionInfo
}

// Config configures the diagnostic listener.
type Config struct {
	Addr        string
	App         string
	CORSOrigins []string
}

// Server hosts the diagnostic routes on their own listener, kept apart
// from the session-bearing listeners.
type Server struct {
	cfg     Config
	src     Source
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, src Source) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.App))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		src:     src,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"app":    s.cfg.App,
			"uptime": time.Since(s.started).String(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		if s.src != nil && !s.src.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"app":   s.cfg.App,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"app":    s.cfg.App,
			"uptime": time.Since(s.started).String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		var list []SessionInfo
		if s.src != nil {
			list = s.src.Sessions()
		}
		c.JSON(http.StatusOK, gin.H{
			"count":    len(list),
			"sessions": list,
		})
	})
}

// Router exposes the engine for tests and for mounting under a parent mux.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errs
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
