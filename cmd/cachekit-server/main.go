// cachekit-server 将 cachekit 的统计、报告和内存回收能力
// 以只读为主的HTTP接口暴露给编排层。
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cachekit/pkg/config"
	"cachekit/pkg/manager"
)

var (
	logLevel   = flag.String("log-level", "info", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "text", "日志格式 (json or text)")
	configPath = flag.String("config", "", "配置文件路径 (例如 ./config/cachekit.yaml)")
)

func main() {
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal("无效的日志级别")
	}
	log.SetLevel(level)

	switch *logFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{})
	default:
		log.Fatal("无效的日志格式")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("加载配置失败")
	}
	cfg.Logger.Level = *logLevel
	cfg.Logger.Format = *logFormat

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := manager.New(cfg)
	if err := mgr.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("初始化 cachekit 失败")
	}

	gin.SetMode(cfg.Server.Mode)
	router := newRouter(mgr)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("cachekit-server 已启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP服务异常退出")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("正在关闭 cachekit-server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP服务关闭超时")
	}

	mgr.Dispose(context.Background())
	log.Info("cachekit-server 已退出")
}

func newRouter(mgr *manager.Manager) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"stores":     mgr.GetAllStats(),
				"sub_caches": mgr.Monitor().SubCacheStats(),
			})
		})

		v1.GET("/report", func(c *gin.Context) {
			c.String(http.StatusOK, mgr.GenerateReport())
		})

		v1.GET("/memory", func(c *gin.Context) {
			c.String(http.StatusOK, mgr.Monitor().GenerateMemoryReport())
		})

		v1.GET("/memory/history", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"samples": mgr.Monitor().History()})
		})

		v1.POST("/optimize", func(c *gin.Context) {
			actions := mgr.OptimizeMemory()
			c.JSON(http.StatusOK, gin.H{"actions": actions})
		})

		v1.GET("/perf/:operation", func(c *gin.Context) {
			stats := mgr.Recorder().GetStats(c.Param("operation"))
			if stats == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no metrics for operation"})
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		v1.GET("/startup", func(c *gin.Context) {
			c.JSON(http.StatusOK, mgr.Startup().GenerateReport())
		})
	}

	return router
}
