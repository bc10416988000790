// Package main runs the call coordination HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ripplenote/backend/config"
	"github.com/ripplenote/backend/internal/auth"
	"github.com/ripplenote/backend/internal/calls"
	"github.com/ripplenote/backend/internal/middleware"
	"github.com/ripplenote/backend/internal/realtime"
	"github.com/ripplenote/backend/internal/recordings"
	"github.com/ripplenote/backend/internal/sfu"
	"github.com/ripplenote/backend/internal/worker"
	"github.com/ripplenote/backend/pkg/database"
	"github.com/ripplenote/backend/pkg/queue"
	"github.com/ripplenote/backend/pkg/redis"
	"github.com/ripplenote/backend/pkg/response"
	"github.com/ripplenote/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// SFU control plane and call sessions.
	gateway := sfu.NewClient(cfg.SFU.BaseURL(), time.Duration(cfg.SFU.RequestTimeout)*time.Second, logger)
	registry := calls.NewRegistry(gateway, logger)

	// Local capture.
	runner := recordings.NewFFmpegRunner(cfg.Recording.FFmpegPath, logger)
	manager := recordings.NewManager(runner, cfg.Recording.OutputDir, time.Duration(cfg.Recording.StopGraceSec)*time.Second, logger)

	hub := realtime.NewHub(logger)

	// Optional durable archive.
	var recRepo *recordings.Repository
	if cfg.Database.URL != "" || os.Getenv("DB_HOST") != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Warn("recording archive disabled", zap.Error(err))
		} else {
			defer pool.Close()
			if err := database.Migrate(ctx, pool); err != nil {
				logger.Fatal("migrate", zap.Error(err))
			}
			recRepo = recordings.NewRepository(pool)
		}
	}

	// Optional upload queue.
	var rdb *redis.Client
	var jobQueue *queue.Queue
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("upload queue disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			jobQueue = queue.NewQueue(rdb.Client, logger)
		}
	}

	// Optional S3 storage.
	var s3Client *storage.S3
	if cfg.AWS.RecordingsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	callHandler := calls.NewHandler(registry, hub, iceServers, logger)

	var uploader recordings.Uploader
	if s3Client != nil {
		uploader = s3Client
	}
	recordingHandler := recordings.NewHandler(manager, registry, uploader, logger)
	if recRepo != nil {
		recordingHandler.SetArchive(recRepo)
	}
	if jobQueue != nil {
		recordingHandler.SetUploadQueue(jobQueue, cfg.Recording.AutoUpload)
	}
	recordingHandler.SetHub(hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/api/health", func(c *gin.Context) {
		response.OK(c, gin.H{
			"status":       "ok",
			"active_rooms": registry.ActiveRooms(),
			"recordings":   len(manager.List("")),
		})
	})

	api := router.Group("/api")
	if cfg.JWT.Secret != "" {
		jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
		api.Use(middleware.JWT(jwtService))
	}
	{
		api.POST("/call/create", callHandler.Create)
		api.POST("/call/join/:room_id", callHandler.Join)
		api.POST("/call/leave/:room_id", callHandler.Leave)
		api.GET("/call/:room_id", callHandler.Get)
		api.POST("/call/:room_id/transport/:transport_id/connect", callHandler.ConnectTransport)
		api.POST("/call/:room_id/producer", callHandler.CreateProducer)
		api.POST("/call/:room_id/consumer", callHandler.CreateConsumer)

		api.POST("/recording/start", recordingHandler.Start)
		api.POST("/recording/stop/:recording_id", recordingHandler.Stop)
		api.GET("/recording/:recording_id", recordingHandler.Get)
		api.GET("/recordings", recordingHandler.List)
		api.POST("/recording/:recording_id/upload", recordingHandler.Upload)
		api.GET("/recording/:recording_id/download-url", recordingHandler.DownloadURL)
	}

	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process upload worker when the queue and its backends are available.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil && recRepo != nil && s3Client != nil {
		processor := worker.NewUploadProcessor(jobQueue, recRepo, s3Client, logger)
		go processor.Run(workerCtx)
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
	registry.Shutdown(shutdownCtx)
	manager.Shutdown()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
