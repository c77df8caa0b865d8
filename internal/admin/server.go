// Package admin serves a peer's read-only HTTP surface.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/lockstep/internal/auth"
	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// StatusSource publishes a session view safe to read from any goroutine.
type StatusSource interface {
	Status() session.Status
}

// Options tunes the admin surface. A nil Validator leaves every route open.
type Options struct {
	CORSOrigins []string
	Validator   auth.Validator
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	source StatusSource
	opts   Options
	router *gin.Engine
}

func New(id, addr string, source StatusSource, opts Options) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{ID: id, Addr: addr, Appeared: time.Now(), source: source, opts: opts, router: r}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"peer":    s.ID,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.source.Status()
		code := http.StatusOK
		if !st.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":        st.Ready(),
			"connectivity": st.Connectivity,
			"peer":         s.ID,
		})
	})

	private := s.router.Group("/")
	if s.opts.Validator != nil {
		private.Use(requireToken(s.opts.Validator))
	}
	private.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})

	private.GET("/objects", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"objects": s.source.Status().Objects})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("admin.Server.Serve peer=%s addr=%s", s.ID, s.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Check(v, c.GetHeader("Authorization")); err != nil {
			log.Debug().Msgf("admin.requireToken path=%s err=%v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
