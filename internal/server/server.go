// Package server exposes the report orchestrator over HTTP with echo.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MediScan/internal/config"
	"MediScan/internal/report"
	"MediScan/internal/session"
)

// Orchestrator is the subset of report.Service the handlers need.
type Orchestrator interface {
	Analyze(ctx context.Context, sessionID string, up report.Upload) (report.AnalyzeResult, error)
	Chat(ctx context.Context, sessionID, message string) (report.ChatResult, error)
	Session(ctx context.Context, sessionID string) (*session.Session, error)
	Reset(ctx context.Context, sessionID string) error
}

type Options struct {
	Logger *slog.Logger
	// SessionTTL sets the session cookie lifetime; zero makes it a browser
	// session cookie.
	SessionTTL time.Duration
	// Registry receives the HTTP metrics; a fresh one is used when nil.
	Registry *prometheus.Registry
}

type Server struct {
	e        *echo.Echo
	cfg      config.ServerConfig
	svc      Orchestrator
	logger   *slog.Logger
	limiters *ipLimiters
	metrics  *httpMetrics
	registry *prometheus.Registry
	ttl      time.Duration
}

func New(cfg config.ServerConfig, svc Orchestrator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		e:        echo.New(),
		cfg:      cfg,
		svc:      svc,
		logger:   opts.Logger,
		limiters: newIPLimiters(cfg.RateLimitEvery, cfg.RateLimitBurst),
		metrics:  newHTTPMetrics(opts.Registry),
		registry: opts.Registry,
		ttl:      opts.SessionTTL,
	}

	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	e.Use(s.metrics.middleware)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, HeaderSessionID},
		ExposeHeaders: []string{HeaderSessionID},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.e
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	e.GET("/", s.index)
	e.Static("/static", s.cfg.StaticDir)

	limited := []echo.MiddlewareFunc{s.rateLimit}
	if s.cfg.MaxUploadBytes > 0 {
		limited = append(limited, middleware.BodyLimit(fmt.Sprintf("%dB", s.cfg.MaxUploadBytes)))
	}
	e.POST("/analyze-report", s.analyzeReport, limited...)
	e.POST("/chat", s.chat, limited...)

	e.GET("/session", s.getSession)
	e.DELETE("/session", s.deleteSession)
}

// Handler returns the root handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	go s.limiters.janitor(context.Background(), 5*time.Minute)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiters.stop()
	return s.e.Shutdown(ctx)
}

func (s *Server) index(c echo.Context) error {
	return c.File(filepath.Join(s.cfg.StaticDir, "index.html"))
}

// httpErrorHandler renders every error as {"detail": "..."}.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	detail := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			detail = fmt.Sprint(he.Message)
		}
		if he.Internal != nil {
			err = he.Internal
		}
	}

	req := c.Request()
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "method", req.Method, "path", req.URL.Path, "remote_ip", c.RealIP(), "error", err)
	} else {
		s.logger.Warn("request rejected", "status", code, "method", req.Method, "path", req.URL.Path, "remote_ip", c.RealIP(), "error", err)
	}

	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"detail": detail})
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			)
			return nil
		},
	})
}
