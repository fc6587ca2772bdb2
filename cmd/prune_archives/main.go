// prune_archives 보관 기간이 지난 아카이브와 연속 기록 파일을 정리한다
package main

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"realtime-canvas/internal/archive"
	"realtime-canvas/internal/database"
	"realtime-canvas/internal/logger"
	"realtime-canvas/internal/streak"
)

func main() {
	var (
		retention  time.Duration
		dir        string
		useDB      bool
		streakDir  string
		streakKeep time.Duration
	)
	fs := pflag.NewFlagSet("prune_archives", pflag.ExitOnError)
	fs.DurationVar(&retention, "retention", 365*24*time.Hour, "keep archives newer than this")
	fs.StringVar(&dir, "dir", os.Getenv("ARCHIVE_DIR"), "file archive directory (empty: skip)")
	fs.BoolVar(&useDB, "db", false, "prune the canvas_archives table")
	fs.StringVar(&streakDir, "streak-dir", "", "streak store directory (empty: skip)")
	fs.DurationVar(&streakKeep, "streak-retention", 365*24*time.Hour, "keep streak records touched within this window")
	_ = godotenv.Load()
	_ = fs.Parse(os.Args[1:])

	zl := logger.Must("development", "info")
	defer func() { _ = zl.Sync() }()

	now := time.Now()
	cutoff := now.Add(-retention)
	zl.Info("pruning archives", zap.Time("cutoff", cutoff))

	var result *multierror.Error

	if dir != "" {
		files, err := archive.NewFileSink(dir)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			n, err := files.PruneBefore(cutoff)
			if err != nil {
				result = multierror.Append(result, err)
			}
			zl.Info("file archives removed", zap.String("dir", dir), zap.Int("count", n))
		}
	}

	if useDB {
		if err := pruneDB(cutoff, zl); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if streakDir != "" {
		kv, err := streak.NewFileKV(streakDir)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			n, err := kv.Prune(streakKeep, now)
			if err != nil {
				result = multierror.Append(result, err)
			}
			zl.Info("streak records removed", zap.String("dir", streakDir), zap.Int("count", n))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		zl.Fatal("prune failed", zap.Error(err))
	}
}

func pruneDB(cutoff time.Time, zl *zap.Logger) error {
	db, err := database.ConnectDB(database.LoadConfig(), zl)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := archive.NewDBSink(db, zl).DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	zl.Info("db archives removed", zap.Int64("count", n))
	return nil
}
