package session

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
)

const (
	DefaultResetInterval = 24 * time.Hour
	DefaultCheckInterval = time.Minute
	DefaultWriteTimeout  = 30 * time.Second
)

// Store 스케줄러가 비우는 요소 저장소
type Store interface {
	Drain() []model.Element
}

// Archiver 아카이브 기록 대상
type Archiver interface {
	Write(ctx context.Context, a *model.Archive) error
}

// ResetListener 리셋 완료 후 새 세션으로 호출된다
type ResetListener func(next Session)

type Option func(*Scheduler)

func WithClock(clock quartz.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithResetInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.resetInterval = d }
}

func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.checkInterval = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.writeTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler 세션 수명 관리 (주기적 리셋 + 아카이브)
type Scheduler struct {
	store         Store
	sink          Archiver
	clock         quartz.Clock
	resetInterval time.Duration
	checkInterval time.Duration
	writeTimeout  time.Duration
	logger        *zap.Logger
	metrics       *metrics.Collector

	resetMu sync.Mutex

	mu        sync.RWMutex
	current   Session
	listeners []ResetListener

	runMu  sync.Mutex
	cancel context.CancelFunc
	waiter quartz.Waiter
}

// New sink 가 nil 이면 아카이브 없이 회전만 한다
func New(store Store, sink Archiver, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		sink:          sink,
		clock:         quartz.NewReal(),
		resetInterval: DefaultResetInterval,
		checkInterval: DefaultCheckInterval,
		writeTimeout:  DefaultWriteTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current = newSession(s.clock.Now())
	return s
}

func (s *Scheduler) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Scheduler) StartTime() time.Time {
	return s.Current().StartTime
}

// ResetAt 다음 리셋 예정 시각
func (s *Scheduler) ResetAt() time.Time {
	return s.StartTime().Add(s.resetInterval)
}

func (s *Scheduler) ResetInterval() time.Duration {
	return s.resetInterval
}

// ShouldReset now - startTime >= resetInterval
func (s *Scheduler) ShouldReset() bool {
	return s.Current().Age(s.clock.Now()) >= s.resetInterval
}

// OnReset 리셋 리스너 등록
func (s *Scheduler) OnReset(fn ResetListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reset 저장소를 비우고 세션을 회전한다.
// 비어 있지 않았다면 아카이브를 기록하며, 기록 실패는 반환되지만 회전은 되돌리지 않는다.
// 리스너는 저장소가 비워지고 아카이브 시도가 끝난 뒤에 호출된다.
func (s *Scheduler) Reset(ctx context.Context) (*model.Archive, error) {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	now := s.clock.Now()
	elements := s.store.Drain()

	next := newSession(now)
	s.mu.Lock()
	prev := s.current
	s.current = next
	listeners := append([]ResetListener(nil), s.listeners...)
	s.mu.Unlock()

	s.metrics.ResetPerformed()
	s.metrics.SetElements(0)

	var (
		archived *model.Archive
		writeErr error
	)
	if len(elements) > 0 {
		archived = model.NewArchive(prev.ID, prev.StartTime, now, elements)
		if s.sink != nil {
			writeErr = s.write(ctx, archived)
		}
	}

	log := s.logger.With(
		zap.String("previous", prev.ID),
		zap.String("next", next.ID),
		zap.Int("strokes", len(elements)),
	)
	if writeErr != nil {
		log.Error("archive write failed, session rotated anyway", zap.Error(writeErr))
	} else {
		log.Info("session reset")
	}

	for _, fn := range listeners {
		fn(next)
	}
	return archived, writeErr
}

func (s *Scheduler) write(ctx context.Context, a *model.Archive) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.sink.Write(wctx, a)
}

// Start 주기적으로 ShouldReset 을 확인한다. 이미 실행 중이면 무시.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.waiter = s.clock.TickerFunc(ctx, s.checkInterval, func() error {
		if s.ShouldReset() {
			_, _ = s.Reset(context.WithoutCancel(ctx))
		}
		return nil
	}, "session", "reset-check")

	s.logger.Info("session scheduler started",
		zap.String("session", s.Current().ID),
		zap.Duration("reset_interval", s.resetInterval),
		zap.Duration("check_interval", s.checkInterval),
	)
}

// Stop 확인 타이머 정지 후 진행 중인 틱이 끝날 때까지 대기
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, waiter := s.cancel, s.waiter
	s.cancel, s.waiter = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = waiter.Wait()
}
