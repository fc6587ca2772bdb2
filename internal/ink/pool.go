package ink

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// State 잉크 잔량 구간
type State string

const (
	StateFull   State = "full"
	StateNormal State = "normal"
	StateLow    State = "low"
	StateEmpty  State = "empty"
)

// Config 잉크 풀 설정
type Config struct {
	Max           float64
	RegenRate     float64 // 틱당 Max 대비 회복 비율
	RegenInterval time.Duration
	LowThreshold  float64 // Max 대비 비율
}

func DefaultConfig() Config {
	return Config{
		Max:           12000,
		RegenRate:     0.05,
		RegenInterval: 3 * time.Second,
		LowThreshold:  0.2,
	}
}

// RegenAmount 한 틱에 회복되는 양
func (c Config) RegenAmount() float64 {
	return c.Max * c.RegenRate
}

// Listener 상태 전이 콜백
type Listener func(prev, next State)

type Option func(*Pool)

func WithClock(clock quartz.Clock) Option {
	return func(p *Pool) { p.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// Pool 로컬 편집량 제한기. 서버 권한이 아닌 순수 클라이언트 측 스로틀이다.
type Pool struct {
	cfg    Config
	clock  quartz.Clock
	logger *zap.Logger

	mu        sync.Mutex
	current   float64
	state     State
	listeners map[int]Listener
	nextID    int

	runMu  sync.Mutex
	cancel context.CancelFunc
	waiter quartz.Waiter
}

// NewPool 가득 찬 상태로 생성
func NewPool(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:       cfg,
		clock:     quartz.NewReal(),
		logger:    zap.NewNop(),
		current:   cfg.Max,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state = p.stateFor(p.current)
	return p
}

// Consume amount 만큼 소모. 잔량이 0 이하이면 변경 없이 거부한다.
// 0 이하(또는 NaN) 양은 변경 없이 수락한다.
func (p *Pool) Consume(amount float64) bool {
	p.mu.Lock()
	if p.current <= 0 {
		p.mu.Unlock()
		return false
	}
	if !(amount > 0) {
		p.mu.Unlock()
		return true
	}
	p.current = math.Max(0, p.current-amount)
	prev, next, changed := p.updateStateLocked()
	listeners := p.listenersLocked(changed)
	p.mu.Unlock()

	p.notify(listeners, prev, next)
	return true
}

// Regenerate 회복 틱 한 번
func (p *Pool) Regenerate() {
	p.mu.Lock()
	if p.current >= p.cfg.Max {
		p.mu.Unlock()
		return
	}
	p.current = math.Min(p.cfg.Max, p.current+p.cfg.RegenAmount())
	prev, next, changed := p.updateStateLocked()
	listeners := p.listenersLocked(changed)
	p.mu.Unlock()

	p.notify(listeners, prev, next)
}

func (p *Pool) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Pool) Max() float64 { return p.cfg.Max }

// Fraction 0..1 잔량 비율
func (p *Pool) Fraction() float64 {
	if p.cfg.Max <= 0 {
		return 0
	}
	return p.Current() / p.cfg.Max
}

func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe 상태 전이 구독. 반환된 함수로 해제.
func (p *Pool) Subscribe(fn Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Start 회복 타이머 시작. 이미 실행 중이면 무시.
func (p *Pool) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.waiter = p.clock.TickerFunc(ctx, p.cfg.RegenInterval, func() error {
		p.Regenerate()
		return nil
	}, "ink", "regen")
}

// Destroy 회복 타이머 정지 (여러 번 호출해도 안전)
func (p *Pool) Destroy() {
	p.runMu.Lock()
	cancel, waiter := p.cancel, p.waiter
	p.cancel, p.waiter = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = waiter.Wait()
}

func (p *Pool) stateFor(current float64) State {
	switch {
	case current <= 0:
		return StateEmpty
	case current >= p.cfg.Max:
		return StateFull
	case current <= p.cfg.Max*p.cfg.LowThreshold:
		return StateLow
	default:
		return StateNormal
	}
}

func (p *Pool) updateStateLocked() (State, State, bool) {
	prev := p.state
	next := p.stateFor(p.current)
	p.state = next
	return prev, next, prev != next
}

func (p *Pool) listenersLocked(changed bool) []Listener {
	if !changed || len(p.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		out = append(out, l)
	}
	return out
}

func (p *Pool) notify(listeners []Listener, prev, next State) {
	if len(listeners) == 0 {
		return
	}
	p.logger.Debug("ink state changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	for _, l := range listeners {
		l(prev, next)
	}
}
