// Package server wires the admin HTTP surface (spec §6), grounded on
// proxymanager.go's setupGinEngine: the same logging middleware, permissive
// OPTIONS/CORS handling, requireAPIKey gate, and sendErrorResponse content
// negotiation, generalized from a single-process proxy to this module's
// activation/policy/settings admin API.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scalytics/core-orchestrator/cancelreg"
	"github.com/scalytics/core-orchestrator/event"
	"github.com/scalytics/core-orchestrator/gateway"
	"github.com/scalytics/core-orchestrator/lifecycle"
	"github.com/scalytics/core-orchestrator/logmon"
	"github.com/scalytics/core-orchestrator/policy"
	"github.com/scalytics/core-orchestrator/store"
)

// Server bundles the gin engine and the components it routes to.
type Server struct {
	sync.Mutex

	engine  *gin.Engine
	logger  *logmon.Monitor
	db      *store.DB
	bus     *event.Bus
	policy  *policy.Engine
	manager *lifecycle.Manager
	gateway *gateway.Gateway

	poolStatusCache *poolStatusCache

	adminAPIKey string
}

// Config bundles the dependencies New needs.
type Config struct {
	DB          *store.DB
	Bus         *event.Bus
	Policy      *policy.Engine
	Manager     *lifecycle.Manager
	CancelReg   *cancelreg.Registry
	Logger      *logmon.Monitor
	AdminAPIKey string
}

// New builds the gin engine and registers every admin route.
func New(cfg Config) *Server {
	s := &Server{
		engine:      gin.New(),
		logger:      cfg.Logger,
		db:          cfg.DB,
		bus:         cfg.Bus,
		policy:      cfg.Policy,
		manager:     cfg.Manager,
		adminAPIKey: cfg.AdminAPIKey,
	}
	s.poolStatusCache = newPoolStatusCache(cfg.Bus)
	s.gateway = gateway.New(s, cfg.CancelReg)
	s.setupGinEngine()
	return s
}

// ActiveModel implements gateway.ActiveModelResolver by reading the
// lifecycle manager's advisory status snapshot (spec §5: reads of
// activeModelId outside the LMLM mutex are advisory).
func (s *Server) ActiveModel() (modelID int64, modelName string, engineBaseURL string, ok bool) {
	status := s.manager.Status()
	if status.ActiveModelID == nil || status.State != lifecycle.StateReady {
		return 0, "", "", false
	}
	model, err := s.db.GetModel(*status.ActiveModelID)
	if err != nil {
		return 0, "", "", false
	}
	return model.ID, model.Name, s.manager.EngineBaseURL(), true
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) setupGinEngine() {
	s.engine.Use(func(c *gin.Context) {
		start := time.Now()
		clientIP := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		s.logger.Infof("%s \"%s %s %s\" %d %v", clientIP, method, path, c.Request.Proto, c.Writer.Status(), time.Since(start))
	})

	s.engine.Use(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if headers := c.Request.Header.Get("Access-Control-Request-Headers"); headers != "" {
				c.Header("Access-Control-Allow-Headers", headers)
			} else {
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, X-Requested-With")
			}
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	auth := s.requireAdminKey()

	s.engine.POST("/api/internal/v1/local_completion", s.gateway.Handler())

	admin := s.engine.Group("/api/admin", auth)
	admin.GET("/settings/air_gapped", s.getAirGapped)
	admin.PUT("/settings/air_gapped", s.putAirGapped)
	admin.GET("/settings/privacy", s.getPrivacy)
	admin.PUT("/settings/privacy", s.putPrivacy)
	admin.GET("/settings/scalytics-api", s.getScalyticsAPI)
	admin.PUT("/settings/scalytics-api", s.putScalyticsAPI)
	admin.GET("/settings/preferred-embedding-model", s.getPreferredEmbeddingModel)
	admin.PUT("/settings/preferred-embedding-model", s.putPreferredEmbeddingModel)
	admin.PUT("/mcp/local-tools/:toolName/status", s.putLocalToolStatus)
	admin.POST("/models/:id/activate", s.activateModel)
	admin.POST("/models/deactivate", s.deactivateModel)
	admin.GET("/models/pool-status", s.poolStatus)
	admin.GET("/events/ws", s.streamEvents)

	s.engine.GET("/logs", s.sendLogs)
	s.engine.GET("/logs/stream", s.streamLogs)
	s.engine.GET("/logs/stream/:logMonitorID", s.streamLogs)
	s.engine.GET("/health", s.healthCheck)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gin.DisableConsoleColor()
}

func (s *Server) requireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminAPIKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader("Authorization")
		if key == "" {
			key = c.GetHeader("X-API-Key")
		}
		if strings.HasPrefix(strings.ToLower(key), "bearer ") {
			key = strings.TrimSpace(key[len("bearer "):])
		}
		if key != s.adminAPIKey {
			s.sendErrorResponse(c, http.StatusUnauthorized, "admin API key required or invalid")
			return
		}
		c.Next()
	}
}

func (s *Server) sendErrorResponse(c *gin.Context, statusCode int, message string) {
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.AbortWithStatusJSON(statusCode, gin.H{"error": message})
		return
	}
	c.String(statusCode, message)
	c.Abort()
}

// Shutdown performs a graceful shutdown: deactivate the running subprocess
// first, matching claracore.go's exit path (exit code 0 after
// deactivateCurrent), then close the database in a goroutine joined by a
// WaitGroup, the shape of proxymanager.go's Shutdown. The database is the
// only component closed here.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()

	s.manager.Deactivate()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.db.Close()
	}()
	wg.Wait()
	return nil
}
