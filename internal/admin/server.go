// Package admin exposes the scan daemon over a small loopback HTTP API.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/leapscan/internal/debugscan"
	"github.com/danmuck/leapscan/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// ScanService is the part of the coordinator the admin API drives.
type ScanService interface {
	Scan(sink io.Writer) error
	State() debugscan.State
	Scanners() []debugscan.Scanner
}

type Server struct {
	Addr    string
	Started time.Time

	scans  ScanService
	router *gin.Engine
	logger zerolog.Logger
}

func New(addr string, scans ScanService) *Server {
	observability.RegisterMetrics()
	logger := observability.Component("admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		scans:   scans,
		router:  r,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"state":   s.scans.State().String(),
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/scanners", func(c *gin.Context) {
		registered := s.scans.Scanners()
		names := make([]string, 0, len(registered))
		for _, sc := range registered {
			names = append(names, sc.Name())
		}
		c.JSON(http.StatusOK, gin.H{"scanners": names})
	})

	// The scan report is streamed as it decodes; the status line is
	// committed before the first record so late errors go in the body.
	s.router.POST("/scan", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Cache-Control", "no-store")
		c.Status(http.StatusOK)

		err := s.scans.Scan(flushWriter{c.Writer})
		if err != nil {
			s.logger.Error().Err(err).Msg("admin.Server.scan failed")
			fmt.Fprintf(c.Writer, "error: %v\n", err)
		}
	})
}

// Serve runs the API on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("admin.Server.Serve shutdown")
		}
	})
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on s.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}
