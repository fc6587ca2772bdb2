package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-canvas/internal/config"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
)

// ErrExists 같은 id 의 아카이브가 이미 있다 (아카이브는 한 번만 쓴다)
var ErrExists = errors.New("archive: already exists")

// Sink 완료된 세션을 보관하는 저장소
type Sink interface {
	Name() string
	Write(ctx context.Context, a *model.Archive) error
}

// MultiSink 설정된 모든 싱크에 기록하고 실패를 모아서 돌려준다
type MultiSink struct {
	sinks   []Sink
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewMultiSink(logger *zap.Logger, m *metrics.Collector, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiSink{sinks: sinks, metrics: m, logger: logger}
}

func (m *MultiSink) Name() string { return "multi" }

// Sinks 구성된 싱크 목록
func (m *MultiSink) Sinks() []Sink {
	return append([]Sink(nil), m.sinks...)
}

// Write 한 싱크가 실패해도 나머지는 계속 시도한다
func (m *MultiSink) Write(ctx context.Context, a *model.Archive) error {
	var result error
	for _, s := range m.sinks {
		start := time.Now()
		err := s.Write(ctx, a)
		m.metrics.ArchiveWrite(s.Name(), time.Since(start), err)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.logger.Info("archive written",
			zap.String("sink", s.Name()),
			zap.String("id", a.ID),
			zap.Int("strokes", a.StrokeCount),
		)
	}
	return result
}

// Deps 싱크 생성에 필요한 외부 의존성
type Deps struct {
	Dir      string
	DB       *gorm.DB
	Objects  ObjectStore
	S3Prefix string
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Build 이름 목록으로 싱크 구성
func Build(names []string, deps Deps) (*MultiSink, error) {
	var sinks []Sink
	for _, name := range names {
		switch name {
		case config.SinkFile:
			fs, err := NewFileSink(deps.Dir)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, fs)
		case config.SinkDB:
			if deps.DB == nil {
				return nil, errors.New("archive: db sink requires a database connection")
			}
			sinks = append(sinks, NewDBSink(deps.DB, deps.Logger))
		case config.SinkS3:
			if deps.Objects == nil {
				return nil, errors.New("archive: s3 sink requires an object store")
			}
			sinks = append(sinks, NewS3Sink(deps.Objects, deps.S3Prefix))
		default:
			return nil, fmt.Errorf("archive: unknown sink %q", name)
		}
	}
	return NewMultiSink(deps.Logger, deps.Metrics, sinks...), nil
}
