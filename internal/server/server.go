// Package server exposes the supervisor's own HTTP surface: the gate view,
// triage operations, and signal responses.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/gate"
	"github.com/traphq/trap/internal/task/repository"
	"github.com/traphq/trap/internal/triage"
)

// Server is the supervisor HTTP server.
type Server struct {
	cfg    config.ServerConfig
	http   *http.Server
	logger *logger.Logger
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, repo repository.Repository, gateAgg *gate.Aggregator, triageSvc *triage.Service, log *logger.Logger) *Server {
	if os.Getenv("TRAP_ENV") == "production" || os.Getenv("TRAP_ENV") == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "http-server")),
	}
	registerRoutes(router, repo, gateAgg, triageSvc, s.logger)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func registerRoutes(router *gin.Engine, repo repository.Repository, gateAgg *gate.Aggregator, triageSvc *triage.Service, log *logger.Logger) {
	router.GET("/healthz", handleHealth())
	api := router.Group("/api")
	api.GET("/gate", handleGate(gateAgg, log))
	api.POST("/signals/:id/respond", handleSignalRespond(repo, log))

	triageGroup := api.Group("/tasks/:id/triage")
	triageGroup.POST("/unblock", handleUnblock(triageSvc))
	triageGroup.POST("/reassign", handleReassign(triageSvc))
	triageGroup.POST("/split", handleSplit(triageSvc))
	triageGroup.POST("/kill", handleKill(triageSvc))
	triageGroup.POST("/escalate", handleEscalate(triageSvc))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
