package streak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

const (
	dateLayout = "2006-01-02"

	// Retention 스트릭 blob 보관 기간
	Retention = 365 * 24 * time.Hour

	defaultCelebration = 3 * time.Second
)

// Data 영속화되는 스트릭 레코드
type Data struct {
	CurrentStreak int    `json:"currentStreak"`
	LongestStreak int    `json:"longestStreak"`
	LastDrawDate  string `json:"lastDrawDate"`
	DrewToday     bool   `json:"drewToday"`
}

type Option func(*Tracker)

func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithLocation 달력 날짜 비교 기준 시간대 (기본: 프로세스 로컬)
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) { t.loc = loc }
}

// WithCelebration isNewStreakDay 유지 시간
func WithCelebration(d time.Duration) Option {
	return func(t *Tracker) { t.celebration = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// Tracker 하루 단위 연속 그리기 카운터
type Tracker struct {
	kv          KV
	key         string
	clock       quartz.Clock
	loc         *time.Location
	celebration time.Duration
	logger      *zap.Logger

	mu             sync.Mutex
	data           Data
	isNewStreakDay bool
	timer          *quartz.Timer
	closed         bool
}

// New 저장된 레코드를 불러와 오늘 기준으로 보정하고 다시 저장한다
func New(ctx context.Context, kv KV, key string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		kv:          kv,
		key:         key,
		clock:       quartz.NewReal(),
		loc:         time.Local,
		celebration: defaultCelebration,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	raw, err := kv.Get(ctx, key)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(raw, &t.data); uerr != nil {
			t.logger.Warn("corrupt streak data, starting over", zap.String("key", key), zap.Error(uerr))
			t.data = Data{}
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("load streak %s: %w", key, err)
	}

	today, yesterday := t.days()
	if t.data.LastDrawDate == today {
		t.data.DrewToday = true
	} else {
		t.data.DrewToday = false
		if t.data.LastDrawDate != "" && t.data.LastDrawDate != yesterday {
			t.data.CurrentStreak = 0
		}
	}
	if err := t.persist(ctx, t.data); err != nil {
		return nil, err
	}
	return t, nil
}

// RecordDraw 오늘 첫 그리기를 기록. 오늘 이미 기록했다면 false.
func (t *Tracker) RecordDraw(ctx context.Context) (bool, error) {
	t.mu.Lock()
	today, yesterday := t.days()
	if t.data.LastDrawDate == today {
		t.mu.Unlock()
		return false, nil
	}

	if t.data.LastDrawDate == yesterday {
		t.data.CurrentStreak++
	} else {
		t.data.CurrentStreak = 1
	}
	if t.data.CurrentStreak > t.data.LongestStreak {
		t.data.LongestStreak = t.data.CurrentStreak
	}
	t.data.LastDrawDate = today
	t.data.DrewToday = true
	snapshot := t.data

	if !t.closed {
		t.isNewStreakDay = true
		if t.timer != nil {
			t.timer.Stop()
		}
		t.timer = t.clock.AfterFunc(t.celebration, t.clearCelebration, "streak", "celebration")
	}
	t.mu.Unlock()

	t.logger.Info("streak recorded",
		zap.String("key", t.key),
		zap.Int("current", snapshot.CurrentStreak),
		zap.Int("longest", snapshot.LongestStreak),
	)
	if err := t.persist(ctx, snapshot); err != nil {
		return true, err
	}
	return true, nil
}

func (t *Tracker) Data() Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// IsNewStreakDay 기록 직후 잠시 동안만 true
func (t *Tracker) IsNewStreakDay() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isNewStreakDay
}

// Close 대기 중인 타이머 정리
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.isNewStreakDay = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) clearCelebration() {
	t.mu.Lock()
	t.isNewStreakDay = false
	t.timer = nil
	t.mu.Unlock()
}

func (t *Tracker) days() (string, string) {
	now := t.clock.Now().In(t.loc)
	y, m, d := now.Date()
	// 정오 기준으로 하루 전을 계산해 DST 경계 오차를 피한다
	yesterday := time.Date(y, m, d-1, 12, 0, 0, 0, t.loc)
	return now.Format(dateLayout), yesterday.Format(dateLayout)
}

func (t *Tracker) persist(ctx context.Context, d Data) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := t.kv.Set(ctx, t.key, raw); err != nil {
		return fmt.Errorf("save streak %s: %w", t.key, err)
	}
	return nil
}
