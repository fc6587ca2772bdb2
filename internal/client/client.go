// Package client 캔버스 참여자 런타임.
// 연결 하나 위에 버전 병합기, 잉크 풀, 연속 기록, 원격 커서를 묶는다.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-canvas/internal/ink"
	"realtime-canvas/internal/model"
	"realtime-canvas/internal/presence"
	"realtime-canvas/internal/protocol"
	"realtime-canvas/internal/reconciler"
	"realtime-canvas/internal/streak"
)

var (
	ErrClosed         = errors.New("client: closed")
	ErrNotConnected   = errors.New("client: not connected")
	ErrUnknownElement = errors.New("client: unknown element")
)

// Options 참여자 설정
type Options struct {
	URL      string // ws://host/ws
	Token    string
	UserID   string
	UserName string
	Color    string

	Ink            ink.Config
	StaleAfter     time.Duration
	CursorInterval time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Streak 이 있으면 하루 첫 획을 기록한다
	Streak *streak.Tracker
	// OnEvent 서버 이벤트 처리 후 호출
	OnEvent func(protocol.ServerEvent)

	Clock  quartz.Clock
	Logger *zap.Logger
	Dialer *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.UserID == "" {
		o.UserID = uuid.NewString()
	}
	if o.Ink.Max <= 0 {
		o.Ink = ink.DefaultConfig()
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 8 * time.Second
	}
	if o.CursorInterval < 0 {
		o.CursorInterval = 0
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Client 캔버스 참여자 하나
type Client struct {
	opts   Options
	clock  quartz.Clock
	logger *zap.Logger

	rec     *reconciler.Reconciler
	ink     *ink.Pool
	cursors *presence.Registry

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	cursorMu   sync.Mutex
	lastCursor time.Time

	connections atomic.Int64
	startTime   atomic.Int64
	artistCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New 연결 없이 참여자 상태만 만든다. 잉크 회복 타이머는 여기서 시작한다.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if opts.URL == "" {
		return nil, errors.New("client: URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("client: invalid URL: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.Named("client").With(zap.String("user", opts.UserID)),
		rec:     reconciler.New(),
		ink:     ink.NewPool(opts.Ink, ink.WithClock(opts.Clock), ink.WithLogger(opts.Logger)),
		cursors: presence.NewRegistry(opts.Clock),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.ink.Start(ctx)
	return c, nil
}

// Dial New 후 바로 연결
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Connect 서버에 연결하고 전체 동기화를 요청한다. 기존 연결은 닫는다.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.logger.Debug("connected", zap.String("url", c.opts.URL))
	return c.RequestSync()
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// Run 현재 연결의 수신 루프. 연결이 끊기거나 ctx 가 끝나면 반환한다.
func (c *Client) Run(ctx context.Context) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	pinger := c.clock.TickerFunc(ctx, c.opts.PingInterval, func() error {
		return c.send(protocol.Ping{})
	}, "client", "ping")
	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		_ = conn.Close()
	}()
	defer func() {
		cancel()
		_ = pinger.Wait()
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case c.closed.Load():
				return ErrClosed
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handle(data)
	}
}

// RunWithReconnect 연결이 끊기면 지수 백오프로 다시 연결한다.
// 연결될 때마다 onConnect 를 호출하고 전체 동기화를 다시 요청한다.
func (c *Client) RunWithReconnect(ctx context.Context, onConnect func(*Client)) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxInterval = c.opts.MaxBackoff
	eb.MaxElapsedTime = 0 // retry indefinitely
	bkoff := backoff.WithContext(eb, ctx)

	for {
		err := backoff.Retry(func() error {
			if c.closed.Load() {
				return backoff.Permanent(ErrClosed)
			}
			if err := c.Connect(ctx); err != nil {
				c.logger.Debug("connect failed", zap.Error(err))
				return err
			}
			return nil
		}, bkoff)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		bkoff.Reset()

		if onConnect != nil {
			onConnect(c)
		}

		err = c.Run(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case c.closed.Load():
			return ErrClosed
		}
		c.logger.Warn("connection lost, reconnecting", zap.Error(err))
	}
}

// =============================================================================
// 수신 처리
// =============================================================================

func (c *Client) handle(data []byte) {
	ev, err := protocol.DecodeServer(data)
	if err != nil {
		c.logger.Debug("dropping server message", zap.Error(err))
		return
	}

	switch e := ev.(type) {
	case protocol.Init:
		c.rec.FullSync(e.Elements)
		c.startTime.Store(e.StartTime)
		c.artistCount.Store(e.ArtistCount)
	case protocol.ElementsRelay:
		c.rec.ApplyRemote(e.UserID, e.Elements)
	case protocol.CursorUpdate:
		// 자기 커서 에코는 무시
		if e.Cursor.UserID == c.opts.UserID {
			break
		}
		c.cursors.Upsert(e.Cursor.UserID, "", e.Cursor)
	case protocol.CursorRemove:
		c.cursors.Remove(e.UserID)
	case protocol.ConnectionCount:
		c.connections.Store(int64(e.Count))
	case protocol.Reset:
		// 리셋 이후 요소는 다시 받아야 한다
		c.rec.FullSync(nil)
		c.startTime.Store(e.StartTime)
		if err := c.RequestSync(); err != nil {
			c.logger.Warn("failed to request sync after reset", zap.Error(err))
		}
	case protocol.Pong:
	}

	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}

// =============================================================================
// 송신
// =============================================================================

func (c *Client) send(ev protocol.ClientEvent) error {
	if c.closed.Load() {
		return ErrClosed
	}
	msg, err := protocol.EncodeClient(ev)
	if err != nil {
		return err
	}
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// RequestSync 전체 동기화 요청
func (c *Client) RequestSync() error {
	return c.send(protocol.SyncRequest{})
}

// MoveCursor 커서 위치 전송. CursorInterval 보다 잦은 호출은 버린다.
func (c *Client) MoveCursor(x, y float64) error {
	now := c.clock.Now()
	c.cursorMu.Lock()
	if c.opts.CursorInterval > 0 && !c.lastCursor.IsZero() && now.Sub(c.lastCursor) < c.opts.CursorInterval {
		c.cursorMu.Unlock()
		return nil
	}
	c.lastCursor = now
	c.cursorMu.Unlock()

	return c.send(protocol.CursorMove{Cursor: model.CursorData{
		UserID:   c.opts.UserID,
		X:        x,
		Y:        y,
		Color:    c.opts.Color,
		UserName: c.opts.UserName,
	}})
}

// publish 로컬 확정 요소를 서버로 보낸다
func (c *Client) publish(els ...model.Element) error {
	if len(els) == 0 {
		return nil
	}
	return c.send(protocol.ElementsUpdate{Elements: els})
}

// DeleteElement 삭제 표시 후 다음 버전으로 전송
func (c *Client) DeleteElement(id string) error {
	el, ok := c.rec.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	el.IsDeleted = true
	return c.publish(c.rec.CommitLocal(el, c.clock.Now().UnixMilli()))
}

// PublishScene 외부 편집기의 현재 씬에서 바뀐 요소만 보낸다.
// 직전에 원격 병합이 있었다면 한 번은 건너뛴다.
func (c *Client) PublishScene(els []model.Element) (int, error) {
	changed := c.rec.DetectLocalChanges(els)
	if len(changed) == 0 {
		return 0, nil
	}
	return len(changed), c.publish(changed...)
}

func (c *Client) recordDraw() {
	if c.opts.Streak == nil {
		return
	}
	isNew, err := c.opts.Streak.RecordDraw(c.ctx)
	if err != nil {
		c.logger.Warn("failed to record streak", zap.Error(err))
		return
	}
	if isNew {
		d := c.opts.Streak.Data()
		c.logger.Info("new streak day", zap.Int("current", d.CurrentStreak), zap.Int("longest", d.LongestStreak))
	}
}

// =============================================================================
// 조회
// =============================================================================

func (c *Client) UserID() string { return c.opts.UserID }

// Scene 삭제되지 않은 요소
func (c *Client) Scene() []model.Element {
	return c.rec.Visible()
}

// Element 씬의 요소 (삭제 표시 포함)
func (c *Client) Element(id string) (model.Element, bool) {
	return c.rec.Get(id)
}

// Cursors 다른 참여자 커서. 오래된 항목은 먼저 정리한다.
func (c *Client) Cursors() []presence.Entry {
	c.cursors.PruneStale(c.opts.StaleAfter)
	return c.cursors.List()
}

func (c *Client) ConnectionCount() int { return int(c.connections.Load()) }

// StartTime 현재 세션 시작 시각 (epoch ms)
func (c *Client) StartTime() int64 { return c.startTime.Load() }

func (c *Client) ArtistCount() int64 { return c.artistCount.Load() }

// Ink 잉크 풀 (상태 구독용)
func (c *Client) Ink() *ink.Pool { return c.ink }

// Connected 현재 연결 여부
func (c *Client) Connected() bool { return c.currentConn() != nil }

// Close 연결을 닫고 타이머를 정리한다. 여러 번 호출해도 된다.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// 수신 루프가 연결을 닫기 전에 종료 프레임부터 보낸다
	conn := c.currentConn()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}

	c.cancel()
	c.ink.Destroy()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
