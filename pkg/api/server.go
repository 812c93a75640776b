// Package api exposes the management HTTP surface: proxy selection, the
// provider catalog, and the feedback endpoint. All /v1 routes require the
// manager key; errors always map to a single-field JSON body at this
// boundary.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"proxy-gateway/pkg/advisor"
	"proxy-gateway/pkg/broker"
	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/models"
	"proxy-gateway/pkg/scoring"
	"proxy-gateway/pkg/selection"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Registry is the database surface the handlers use.
type Registry interface {
	FindProxyByIP(ctx context.Context, ip string) (*models.Proxy, error)
	ApplyReport(ctx context.Context, id int64, rep scoring.Report, cfg scoring.Config) error
	InsertUsageLog(ctx context.Context, entry *models.UsageLog) error
	ProviderCatalog(ctx context.Context) ([]database.CatalogRow, error)
	RandomProxy(ctx context.Context, provider string) (*models.Proxy, error)
}

// Selector picks a proxy for a request.
type Selector interface {
	Select(ctx context.Context, req selection.Request) (*selection.Result, error)
}

// TokenIssuer mints relay grants. Nil disables relay mode (direct mode).
type TokenIssuer interface {
	Issue(proxy *models.Proxy, effectiveURL string, sticky bool, sessTTLMinutes int) (*broker.Grant, error)
}

// Recommender supplies advisory hints. Nil disables the advisory path.
type Recommender interface {
	Recommend(ctx context.Context, targetURL, geo, script string) advisor.Decision
}

type Config struct {
	ManagerKey       string
	ManagerKeyHeader string
	ScoringConfig    scoring.Config
}

type Server struct {
	registry  Registry
	selector  Selector
	issuer    TokenIssuer
	advisor   Recommender
	cfg       Config
	logger    *slog.Logger
	startTime time.Time
	httpSrv   *http.Server
}

func NewServer(registry Registry, selector Selector, issuer TokenIssuer, rec Recommender, cfg Config, logger *slog.Logger) *Server {
	if cfg.ManagerKeyHeader == "" {
		cfg.ManagerKeyHeader = "x-api-key"
	}
	return &Server{
		registry:  registry,
		selector:  selector,
		issuer:    issuer,
		advisor:   rec,
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/v1", s.requireManagerKey())
	v1.GET("/proxy", s.handleGetProxy)
	v1.GET("/providers", s.handleProviders)
	v1.POST("/proxy/report", s.handleReport)
	v1.GET("/proxies/random", s.handleRandomProxy)

	return router
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Proxy manager API listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listener failed: %v", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
		"ts":     time.Now().UTC(),
	})
}

// requireManagerKey guards administrative routes. A missing server-side key
// fails closed: better a broken deployment than an open one.
func (s *Server) requireManagerKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.ManagerKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "Proxy manager API key not configured"})
			return
		}
		if c.GetHeader(s.cfg.ManagerKeyHeader) != s.cfg.ManagerKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"requestID", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds())
	}
}
