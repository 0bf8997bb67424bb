// Package main runs the ClipVault media download HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clipvault/backend/config"
	"github.com/clipvault/backend/internal/archives"
	"github.com/clipvault/backend/internal/downloader"
	"github.com/clipvault/backend/internal/downloads"
	"github.com/clipvault/backend/internal/middleware"
	"github.com/clipvault/backend/internal/realtime"
	"github.com/clipvault/backend/internal/worker"
	"github.com/clipvault/backend/pkg/database"
	"github.com/clipvault/backend/pkg/queue"
	"github.com/clipvault/backend/pkg/redis"
	"github.com/clipvault/backend/pkg/response"
	"github.com/clipvault/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it the feed is single-instance and archival is off.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	// WebSocket feed
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	defer hub.Close()

	// Archival (needs both Redis and S3)
	archiveRepo := archives.NewRepository(pool)
	var jobQueue *queue.Queue
	var archiver downloads.Archiver
	if rdb != nil && s3Client != nil {
		jobQueue = queue.NewQueue(rdb.Client, logger)
		archiver = archives.NewScheduler(archiveRepo, jobQueue, logger)
	}

	// Download pipeline
	ytdlp := downloader.NewYtDlp(cfg.Downloader.BinPath, logger)
	downloadRepo := downloads.NewRepository(pool)
	downloadSvc := downloads.NewService(
		downloadRepo,
		ytdlp,
		cfg.Downloader.Dir,
		time.Duration(cfg.Downloader.TimeoutMin)*time.Minute,
		archiver,
		hub,
		logger,
	)
	downloadHandler := downloads.NewHandler(downloadSvc, logger)
	archiveHandler := archives.NewHandler(archiveRepo, s3Client, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Downloads
	router.POST("/download", downloadHandler.Submit)
	router.GET("/downloads-list", downloadHandler.List)
	router.GET("/download/:id", downloadHandler.GetByID)
	router.DELETE("/download/:id", downloadHandler.Delete)
	router.GET("/download/:id/archive-url", archiveHandler.GenerateDownloadURL)

	// Raw file serving from the download directory
	router.GET("/downloads/:fileName", downloadHandler.ServeFile)

	// WebSocket progress feed
	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (archive upload to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil {
		processor := worker.NewArchiveProcessor(archiveRepo, downloadRepo, s3Client, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("archive worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
