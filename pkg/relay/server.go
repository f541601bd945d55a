// Package relay is a minimal server answering the user data methods, used for
// local development and integration tests of the server method client
package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/servermethod"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

const contentType = "application/octet-stream"

// Config holds server configuration
type Config struct {
	Port         int
	DatabasePath string
	RateLimit    int // Requests per minute
	MaxBodyBytes int64
	// UserDataTTL is how long user data lives without a refresh
	UserDataTTL  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logrus.Logger
	Registerer   prometheus.Registerer
	PRNG         crypto.PRNG
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		DatabasePath: "relay.db",
		RateLimit:    600,
		MaxBodyBytes: 8 << 20,
		UserDataTTL:  30 * 24 * time.Hour,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the relay HTTP server
type Server struct {
	config     *Config
	db         *storage.Database
	store      *userDataStore
	router     *gin.Engine
	httpServer *http.Server
	logger     *logrus.Logger
	prng       crypto.PRNG
	requests   *prometheus.CounterVec
}

// NewServer opens the relay database and sets up the routes
func NewServer(ctx context.Context, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.NewRegistry()
	}
	if config.PRNG == nil {
		config.PRNG = crypto.NewSystemPRNG()
	}

	db, err := storage.Open(ctx, storage.Config{
		Path:           config.DatabasePath,
		Logger:         config.Logger,
		Migrations:     Migrations,
		RequiredTables: []string{"user_data", "sessions"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open relay database: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config: config,
		db:     db,
		store:  &userDataStore{db: db},
		router: router,
		logger: config.Logger,
		prng:   config.PRNG,
		requests: promauto.With(config.Registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "obvengine_relay_requests_total",
			Help: "Server method requests by path and status byte",
		}, []string{"path", "status"}),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(LoggingMiddleware(s.logger))
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimit)))
	}
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	s.router.POST(servermethod.RefreshUserDataPath, s.handleRefreshUserData)
	s.router.POST(servermethod.PutUserDataPath, s.handlePutUserData)
	s.router.POST(servermethod.GetUserDataPath, s.handleGetUserData)
	s.router.GET("/health", s.handleHealth)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("port", s.config.Port).Info("Relay server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down relay server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close closes the relay database
func (s *Server) Close() error {
	return s.db.Close()
}

// OpenSession issues a fresh session token for identity, replacing any previous one
func (s *Server) OpenSession(ctx context.Context, identity crypto.CryptoIdentity) ([]byte, error) {
	token := s.prng.GenBytes(32)
	if err := s.store.openSession(ctx, identity, token); err != nil {
		return nil, err
	}
	return token, nil
}

// DeleteUserData removes user data as if it expired
func (s *Server) DeleteUserData(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID) error {
	return s.store.delete(ctx, identity, label)
}

// ExpireUserData deletes the user data not refreshed within the configured ttl
func (s *Server) ExpireUserData(ctx context.Context) (int, error) {
	n, err := s.store.expire(ctx, s.config.UserDataTTL)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Expired user data")
	}
	return n, nil
}

// readBody reads the request body; an oversized body is rejected
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.config.MaxBodyBytes+1))
	if err != nil || int64(len(body)) > s.config.MaxBodyBytes {
		return nil, false
	}
	return body, true
}

func (s *Server) respond(c *gin.Context, status byte, response []byte) {
	s.requests.WithLabelValues(c.FullPath(), strconv.Itoa(int(status))).Inc()
	c.Data(http.StatusOK, contentType, response)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}
