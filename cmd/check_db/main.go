package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"realtime-canvas/internal/archive"
	"realtime-canvas/internal/database"
	"realtime-canvas/internal/model"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using process environment")
	}

	db, err := database.ConnectDB(database.LoadConfig(), zap.NewNop())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() { _ = database.Close(db) }()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	table := model.ArchiveRecord{}.TableName()
	exists := db.Migrator().HasTable(&model.ArchiveRecord{})
	fmt.Printf("📊 Table %s exists: %v\n", table, exists)
	if !exists {
		fmt.Println("⚠️  Run the server once (AutoMigrate) to create it")
		return
	}

	var total int64
	if err := db.Model(&model.ArchiveRecord{}).Count(&total).Error; err != nil {
		log.Fatal("Failed to count archives:", err)
	}
	fmt.Printf("📦 Archived sessions: %d\n", total)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recs, err := archive.NewDBSink(db, zap.NewNop()).List(ctx, 10)
	if err != nil {
		log.Fatal("Failed to list archives:", err)
	}
	if len(recs) == 0 {
		return
	}

	fmt.Println("📋 Latest archives:")
	for _, r := range recs {
		fmt.Printf("  - %s  %s → %s  strokes=%d\n",
			r.ID,
			time.UnixMilli(r.StartTime).Format(time.RFC3339),
			time.UnixMilli(r.EndTime).Format(time.RFC3339),
			r.StrokeCount,
		)
	}
}
