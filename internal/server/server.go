// Package server is the HTTP boundary: it exposes the lifecycle controller's
// operations behind a gin router with bearer authentication.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/auth"
	"github.com/mxgate/mxgate/internal/backup"
	"github.com/mxgate/mxgate/internal/observability"
	"github.com/mxgate/mxgate/internal/session"
)

// Options configures the HTTP server.
type Options struct {
	Controller  *session.Controller
	Backups     *backup.Service
	APIToken    string
	AdminToken  string
	CORSOrigins []string
}

// Server owns the router and the health handler.
type Server struct {
	router    *gin.Engine
	ctrl      *session.Controller
	backups   *backup.Service
	apiAuth   auth.Validator
	adminAuth auth.Validator
	health    healthcheck.Handler
	started   time.Time
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(2000))
	health.AddReadinessCheck("credential-root", credentialRootCheck(opts.Backups))

	s := &Server{
		router:    r,
		ctrl:      opts.Controller,
		backups:   opts.Backups,
		apiAuth:   auth.StaticToken{Token: opts.APIToken},
		adminAuth: auth.StaticToken{Token: opts.AdminToken},
		health:    health,
		started:   time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is canceled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return <-errCh
	}
}

func credentialRootCheck(backups *backup.Service) healthcheck.Check {
	return func() error {
		root := backups.CredentialRoot()
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("credential root unavailable: %w", err)
		}
		probe, err := os.CreateTemp(root, ".probe_*")
		if err != nil {
			return fmt.Errorf("credential root not writable: %w", err)
		}
		probe.Close()
		return os.Remove(probe.Name())
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			err = v.Validate(token)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
