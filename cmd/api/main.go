package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/slinet/ehsync/internal/config"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/internal/handler"
	"github.com/slinet/ehsync/internal/logger"
	"github.com/slinet/ehsync/internal/middleware"
	"github.com/slinet/ehsync/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; environment always wins
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("configuration loaded", zap.Int("port", cfg.API.Port))

	if err := database.Init(&cfg.Database, log); err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if !cfg.API.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.GinZap(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.API.CORS, cfg.API.CORSOrigin))

	st := store.New(log)
	galleryHandler := handler.NewGalleryHandler(cfg.API.PageSizeMax, cfg.API.TagBlacklist, log)
	statsHandler := handler.NewStatsHandler(log)
	thumbHandler := handler.NewThumbHandler(cfg.Engine.ThumbDir, log)
	adminHandler := handler.NewAdminHandler(st, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/galleries", galleryHandler.ListGalleries)
		v1.GET("/galleries/:gid", galleryHandler.GetGallery)
		v1.GET("/stats", statsHandler.GetStats)

		admin := v1.Group("/admin")
		{
			admin.POST("/tasks", adminHandler.CreateTask)
			admin.GET("/tasks", adminHandler.ListTasks)
			admin.GET("/tasks/:id", adminHandler.GetTask)
			admin.PATCH("/tasks/:id", adminHandler.UpdateTask)
			admin.POST("/tasks/:id/start", adminHandler.StartTask)
			admin.POST("/tasks/:id/stop", adminHandler.StopTask)
			admin.DELETE("/tasks/:id", adminHandler.DeleteTask)
			admin.GET("/thumb-queue/stats", adminHandler.ThumbQueueStats)
		}
	}

	router.GET("/thumbs/:gid", thumbHandler.GetThumb)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: router,
	}

	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.API.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
