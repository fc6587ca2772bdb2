package ink

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		Max:           1000,
		RegenRate:     0.05,
		RegenInterval: 3 * time.Second,
		LowThreshold:  0.2,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPoolStartsFull(t *testing.T) {
	p := NewPool(testConfig())
	assert.Equal(t, 1000.0, p.Current())
	assert.Equal(t, StateFull, p.State())
	assert.Equal(t, 1.0, p.Fraction())
}

func TestPoolConsume(t *testing.T) {
	tests := []struct {
		name     string
		start    float64
		amount   float64
		accepted bool
		after    float64
	}{
		{"partial", 1000, 300, true, 700},
		{"exact", 1000, 1000, true, 0},
		{"overdraw clamps", 100, 250, true, 0},
		{"zero is no-op", 500, 0, true, 500},
		{"negative is no-op", 500, -10, true, 500},
		{"nan is no-op", 500, math.NaN(), true, 500},
		{"empty rejects", 0, 1, false, 0},
		{"empty rejects zero", 0, 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(testConfig())
			p.current = tt.start
			p.state = p.stateFor(tt.start)

			assert.Equal(t, tt.accepted, p.Consume(tt.amount))
			assert.Equal(t, tt.after, p.Current())
		})
	}
}

func TestPoolClampInvariant(t *testing.T) {
	p := NewPool(testConfig())
	ops := []float64{400, 900, -1, 0, 50, 1e9, 3, 0.5}
	for i, amt := range ops {
		p.Consume(amt)
		assert.GreaterOrEqual(t, p.Current(), 0.0, "op %d", i)
		assert.LessOrEqual(t, p.Current(), p.Max(), "op %d", i)
		for j := 0; j < 7; j++ {
			p.Regenerate()
			assert.LessOrEqual(t, p.Current(), p.Max())
		}
	}
}

func TestPoolRegenerationScenario(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	p := NewPool(testConfig(), WithClock(mClock))
	p.Start(ctx)
	defer p.Destroy()

	require.True(t, p.Consume(1000))
	assert.Equal(t, 0.0, p.Current())
	assert.False(t, p.Consume(1))
	assert.Equal(t, 0.0, p.Current())

	mClock.Advance(3 * time.Second).MustWait(ctx)
	assert.Equal(t, 50.0, p.Current())

	for i := 1; i < 20; i++ {
		mClock.Advance(3 * time.Second).MustWait(ctx)
	}
	assert.Equal(t, 1000.0, p.Current())

	mClock.Advance(3 * time.Second).MustWait(ctx)
	assert.Equal(t, 1000.0, p.Current(), "clamped at max")
}

func TestPoolFullAfterCeilTicks(t *testing.T) {
	cfg := testConfig()
	cfg.Max = 1234
	cfg.RegenRate = 0.07
	p := NewPool(cfg)
	p.Consume(cfg.Max)

	ticks := int(math.Ceil(cfg.Max / cfg.RegenAmount()))
	for i := 0; i < ticks; i++ {
		p.Regenerate()
	}
	assert.Equal(t, cfg.Max, p.Current())
}

func TestPoolStateTransitions(t *testing.T) {
	p := NewPool(testConfig())

	var mu sync.Mutex
	var got []State
	unsubscribe := p.Subscribe(func(_, next State) {
		mu.Lock()
		got = append(got, next)
		mu.Unlock()
	})

	p.Consume(100) // 900 normal
	p.Consume(10)  // 890 normal, 전이 없음
	p.Consume(700) // 190 low
	p.Consume(500) // 0 empty
	p.Regenerate() // 50 low
	for i := 0; i < 20; i++ {
		p.Regenerate()
	}

	mu.Lock()
	assert.Equal(t, []State{StateNormal, StateLow, StateEmpty, StateLow, StateNormal, StateFull}, got)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	p.Consume(1000)

	mu.Lock()
	assert.Len(t, got, 6)
	mu.Unlock()
}

func TestPoolListenerMayCallBack(t *testing.T) {
	p := NewPool(testConfig())
	var seen float64
	p.Subscribe(func(_, _ State) {
		seen = p.Current()
	})
	p.Consume(500)
	assert.Equal(t, 500.0, seen)
}

func TestPoolDestroyStopsRegeneration(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	p := NewPool(testConfig(), WithClock(mClock))

	for cycle := 0; cycle < 3; cycle++ {
		p.Start(ctx)
		p.Start(ctx)
		p.Destroy()
		p.Destroy()
	}

	p.Consume(1000)
	mClock.Advance(time.Minute).MustWait(ctx)
	assert.Equal(t, 0.0, p.Current())
}

func TestPoolRealClockDestroy(t *testing.T) {
	cfg := testConfig()
	cfg.RegenInterval = time.Millisecond
	p := NewPool(cfg)
	p.Consume(1000)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return p.Current() > 0 }, time.Second, time.Millisecond)
	p.Destroy()
}
