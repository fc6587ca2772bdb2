package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-canvas/internal/archive"
	"realtime-canvas/internal/cache"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/database"
	"realtime-canvas/internal/logger"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/server"
	"realtime-canvas/internal/storage"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}

	zl, err := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("❌ Logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if !cfg.EnvFileLoaded {
		zl.Info(".env file not found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Logger:  zl,
		Metrics: metrics.NewCollector("canvas"),
	}

	// 데이터베이스 연결 (db 싱크를 쓸 때만)
	var db *gorm.DB
	if cfg.Archive.HasSink(config.SinkDB) {
		db, err = database.ConnectDB(database.LoadConfig(), zl)
		if err != nil {
			zl.Fatal("Database connection failed", zap.Error(err))
		}
		defer func() { _ = database.Close(db) }()

		if err := database.Ping(db); err != nil {
			zl.Fatal("Database ping failed", zap.Error(err))
		}
		zl.Info("Database connected")
		deps.DB = db
	}

	// Redis (아티스트 집계 공유)
	if cfg.Redis.Enabled() {
		rc, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, zl)
		if err != nil {
			zl.Warn("Redis unavailable, falling back to in-memory artist count", zap.Error(err))
		} else {
			defer func() { _ = rc.Close() }()
			deps.Redis = rc
		}
	}

	// S3
	var objects archive.ObjectStore
	if cfg.Archive.HasSink(config.SinkS3) {
		s3Svc, err := storage.NewS3Service(ctx, &cfg.S3)
		if err != nil {
			zl.Fatal("S3 init failed", zap.Error(err))
		}
		objects = s3Svc
	}

	sinks, err := archive.Build(cfg.Archive.Sinks, archive.Deps{
		Dir:      cfg.Archive.Dir,
		DB:       db,
		Objects:  objects,
		S3Prefix: cfg.Archive.S3Prefix,
		Logger:   zl,
		Metrics:  deps.Metrics,
	})
	if err != nil {
		zl.Fatal("Archive sinks init failed", zap.Error(err))
	}
	deps.Archive = sinks

	// 서버 생성 및 설정
	srv, err := server.New(cfg, deps)
	if err != nil {
		zl.Fatal("Server init failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zl.Fatal("Server failed to start", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutting down")
		if err := srv.Shutdown(10 * time.Second); err != nil {
			zl.Error("Shutdown error", zap.Error(err))
		}
		<-errCh
	}
}
