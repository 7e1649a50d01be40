// Package server is the local web console served by `userdesk serve`.
// It holds one process-wide session and renders server-side views.
package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/userdesk-dev/userdesk/internal/app"
	"github.com/userdesk-dev/userdesk/internal/config"
	"github.com/userdesk-dev/userdesk/internal/guard"
	"github.com/userdesk-dev/userdesk/internal/metrics"
	"github.com/userdesk-dev/userdesk/internal/session"
	"github.com/userdesk-dev/userdesk/internal/validation"
)

const loginPath = "/login"

// Server represents the console HTTP server
type Server struct {
	router    *gin.Engine
	app       *app.App
	config    config.ConsoleConfig
	logger    zerolog.Logger
	validator *validation.Validator
	version   string

	unsubscribe func()
}

// New creates a new console server around an already wired App
func New(a *app.App, cfg config.ConsoleConfig, zlog zerolog.Logger, version string) (*Server, error) {
	pages, err := loadPages()
	if err != nil {
		return nil, err
	}

	server := &Server{
		app:       a,
		config:    cfg,
		logger:    zlog,
		validator: validation.New(),
		version:   version,
	}

	server.setupRouter(pages)
	server.unsubscribe = a.Session.Subscribe(server.logSessionChange)

	return server, nil
}

func (s *Server) logSessionChange(snap session.Snapshot) {
	event := s.logger.Info().Str("state", snap.State().String())
	if snap.CurrentUser != nil {
		event = event.Int64("user_id", snap.CurrentUser.ID)
	}
	event.Msg("Session changed")
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter(pages *pageRenderer) {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.HTMLRender = pages

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.currentUserMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.app.Registry)))

	// JSON session state for scripts running on other local origins
	api := s.router.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowOrigins:     s.allowedOrigins(),
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	{
		api.GET("/session", s.getSession)
	}

	// Public pages
	s.router.GET("/", s.home)
	s.router.GET("/sign-up", s.signUpPage)
	s.router.POST("/sign-up", s.signUp)
	s.router.GET("/activation/:token", s.activate)
	s.router.GET(loginPath, s.loginPage)
	s.router.POST(loginPath, s.login)
	s.router.POST("/logout", s.logout)
	s.router.GET("/reset-password", s.resetRequestPage)
	s.router.POST("/reset-password", s.requestReset)
	s.router.GET("/reset-password/:token", s.resetConfirmPage)
	s.router.POST("/reset-password/:token", s.confirmReset)
	s.router.GET("/users/me/confirm-email-change/:token", s.confirmEmailChange)

	// Social sign-in callbacks
	s.router.GET("/auth/github/callback", s.githubCallback)
	s.router.POST("/google", s.googleSignIn)

	// Guarded pages
	protected := s.router.Group("")
	protected.Use(guard.Require(s.app.Session, loginPath, s.loading))
	{
		protected.GET("/users", s.listUsers)
		protected.GET("/profile", s.profilePage)
		protected.POST("/profile/name", s.updateName)
		protected.POST("/profile/password", s.updatePassword)
		protected.POST("/profile/email", s.updateEmail)
	}

	s.router.NoRoute(s.notFound)
}

func (s *Server) allowedOrigins() []string {
	if len(s.config.AllowedOrigins) > 0 {
		return s.config.AllowedOrigins
	}
	return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// @Router /health [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "userdesk-console",
		"version":   s.version,
	})
}

// Start checks the session in the background, serves until ctx is done or
// SIGINT/SIGTERM arrives, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	defer s.unsubscribe()

	// Guarded pages render the loading view until this resolves
	go s.app.Session.CheckAuth(ctx)
	go func() {
		select {
		case <-s.app.Session.Checked():
			s.logger.Info().Str("state", s.app.Session.Snapshot().State().String()).Msg("Session checked, console ready")
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Str("api", s.app.APIURL).Msg("Starting console")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error().Err(err).Msg("HTTP server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Console shutdown complete")
	return nil
}
