package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-canvas/internal/model"
)

// DBSink canvas_archives 테이블에 한 행씩 추가 (수정하지 않음)
// DB 가 죽어 있으면 회로 차단기가 열려 리셋을 지연시키지 않는다.
type DBSink struct {
	db *gorm.DB
	cb *gobreaker.CircuitBreaker
}

func NewDBSink(db *gorm.DB, logger *zap.Logger) *DBSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "archive-db",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &DBSink{db: db, cb: cb}
}

func (d *DBSink) Name() string { return "db" }

func (d *DBSink) Write(ctx context.Context, a *model.Archive) error {
	rec, err := model.NewArchiveRecord(a)
	if err != nil {
		return err
	}
	_, err = d.cb.Execute(func() (interface{}, error) {
		return nil, d.db.WithContext(ctx).Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("insert archive %s: %w", a.ID, err)
	}
	return nil
}

// State 회로 차단기 상태
func (d *DBSink) State() gobreaker.State {
	return d.cb.State()
}

func (d *DBSink) Get(ctx context.Context, id string) (*model.Archive, error) {
	var rec model.ArchiveRecord
	if err := d.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return rec.ToArchive()
}

// List 최근 아카이브 요약 (요소 제외, 최신 순)
func (d *DBSink) List(ctx context.Context, limit int) ([]model.ArchiveRecord, error) {
	var recs []model.ArchiveRecord
	err := d.db.WithContext(ctx).
		Select("id", "date", "start_time", "end_time", "stroke_count", "created_at").
		Order("end_time DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// DeleteBefore 종료 시각이 cutoff 이전인 아카이브 삭제
func (d *DBSink) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("end_time < ?", cutoff.UnixMilli()).
		Delete(&model.ArchiveRecord{})
	return res.RowsAffected, res.Error
}
