// Package api exposes the swap submission stream, the order read surface
// and the operational endpoints over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/config"
	"github.com/nexadex/swapflow/internal/messaging"
	"github.com/nexadex/swapflow/internal/order"
	"github.com/nexadex/swapflow/internal/queue"
	"github.com/nexadex/swapflow/internal/stream"
)

// Server owns the gin engine and the dependencies handlers reach for.
type Server struct {
	cfg       *config.Config
	router    *gin.Engine
	store     order.Store
	cache     order.Cache
	queue     queue.Queue
	hub       *stream.Hub
	publisher messaging.Publisher
	logger    *zap.Logger
	http      *http.Server
}

// NewServer wires the server and registers all routes.
func NewServer(
	cfg *config.Config,
	store order.Store,
	cache order.Cache,
	q queue.Queue,
	hub *stream.Hub,
	publisher messaging.Publisher,
	logger *zap.Logger,
) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	s := &Server{
		cfg:       cfg,
		router:    router,
		store:     store,
		cache:     cache,
		queue:     q,
		hub:       hub,
		publisher: publisher,
		logger:    logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/swap/stream", s.swapStream)
		v1.GET("/orders", s.listOrders)
		v1.GET("/orders/:id", s.getOrder)
		v1.GET("/orders/:id/history", s.getOrderHistory)
		v1.GET("/queue/stats", s.queueStats)
	}
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"waiting":   stats.Waiting,
		"active":    stats.Active,
		"delayed":   stats.Delayed,
		"completed": stats.Completed,
		"failed":    stats.Failed,
	})
}
