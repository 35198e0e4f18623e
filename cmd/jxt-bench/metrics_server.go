package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/gin-gonic/gin"
)

// metricsServer 压测期间暴露 /metrics 和 /healthz
type metricsServer struct {
	srv     *http.Server
	started time.Time
}

func newMetricsServer(listen, transport string, collector *eventbus.PrometheusMetricsCollector) *metricsServer {
	gin.SetMode(gin.ReleaseMode)

	s := &metricsServer{started: time.Now()}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/metrics", gin.WrapH(collector.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"transport": transport,
			"uptime":    time.Since(s.started).String(),
		})
	})

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start 后台监听，监听失败只记日志，不影响压测
func (s *metricsServer) Start() {
	go func() {
		logger.Infof("Metrics server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
}

func (s *metricsServer) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warnf("Metrics server shutdown: %v", err)
	}
}
