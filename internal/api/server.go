// Package api is the HTTP control surface of a running dropcart process.
//
// Routes:
//
//	GET  /health                 liveness and browser readiness
//	GET  /status                 worker snapshot
//	GET  /events                 server-sent event stream, recent history first
//	GET  /history?limit=50       recent events
//	GET  /activity?limit=50      finished requests, newest first
//	GET  /activity/:id           one finished request with its attempt log
//	POST /actions/trigger        enqueue {url, price, product, messageId}
//	POST /actions/pause          stop dequeuing after the in-flight request
//	POST /actions/resume         resume dequeuing
//	POST /actions/confirm/:id    release a pending final-order confirmation
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/store"
	"github.com/roach88/dropcart/internal/worker"
)

// Controller is the worker surface the API drives. *worker.Worker
// implements it.
type Controller interface {
	Trigger(in purchase.Inbound) (purchase.Request, error)
	Pause() bool
	Resume() bool
	Confirm(requestID string) error
	Status() worker.Status
}

// EventSource is the event surface the API streams. *events.Bus implements
// it.
type EventSource interface {
	Subscribe() *events.Subscription
	History(limit int) []events.Event
}

// ActivityReader reads finished requests. *store.Store implements it.
type ActivityReader interface {
	History(ctx context.Context, limit int) ([]store.Activity, error)
	Get(ctx context.Context, requestID string) (store.Activity, error)
}

const (
	defaultHistoryLimit = 50
	shutdownTimeout     = 30 * time.Second
)

// Server serves the control API.
type Server struct {
	ctl      Controller
	events   EventSource
	activity ActivityReader
	ready    func() bool
	now      func() time.Time
	origins  []string
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithActivity serves /activity from r.
func WithActivity(r ActivityReader) Option {
	return func(s *Server) { s.activity = r }
}

// WithReady reports browser readiness on /health. Trigger answers 503
// while it returns false.
func WithReady(ready func() bool) Option {
	return func(s *Server) { s.ready = ready }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithAllowedOrigins restricts CORS to origins. All origins are allowed
// when none are given.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New builds the router.
func New(ctl Controller, src EventSource, opts ...Option) *Server {
	s := &Server{
		ctl:    ctl,
		events: src,
		ready:  func() bool { return true },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	slog.Info("control api listening", "addr", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("control api shutdown failed", "error", err)
		return err
	}
	slog.Info("control api stopped")
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(s.origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.origins
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type")
	r.Use(cors.New(corsConfig))

	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.GET("/events", s.stream)
	r.GET("/history", s.history)
	r.GET("/activity", s.listActivity)
	r.GET("/activity/:id", s.getActivity)

	actions := r.Group("/actions")
	actions.POST("/trigger", s.trigger)
	actions.POST("/pause", s.pause)
	actions.POST("/resume", s.resume)
	actions.POST("/confirm/:id", s.confirm)
	return r
}

// requestLogger logs one line per request. Event streams are logged when
// the client goes away.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			slog.Error("http request", attrs...)
			return
		}
		slog.Debug("http request", attrs...)
	}
}
