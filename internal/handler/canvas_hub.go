package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-canvas/internal/cache"
	"realtime-canvas/internal/canvas"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
	"realtime-canvas/internal/presence"
	"realtime-canvas/internal/protocol"
	"realtime-canvas/internal/session"
)

// =============================================================================
// Canvas Hub - 연결 관리 및 브로드캐스트
// =============================================================================

// Peer 클라이언트 연결. *websocket.Conn 이 만족한다.
type Peer interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SessionSource 현재 세션 조회 (session.Scheduler)
type SessionSource interface {
	Current() session.Session
}

// Identity 토큰으로 확인된 참여자 정보. 비어 있으면 익명 연결.
type Identity struct {
	UserID   string
	UserName string
}

// HubConfig 허브 설정
type HubConfig struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	MaxBatch      int
	Location      *time.Location
}

func (c HubConfig) withDefaults() HubConfig {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = protocol.DefaultMaxBatch
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// CanvasClient 연결 하나. 전송은 전용 writer 고루틴이 큐 순서대로 처리한다.
type CanvasClient struct {
	ID       string
	UserID   string
	UserName string

	peer       Peer
	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once

	// 토큰 없는 연결은 첫 커서 이벤트의 userId 로 고정된다
	mu         sync.Mutex
	cursorUser string
}

// Identity 릴레이/커서에 쓰는 사용자 id
func (c *CanvasClient) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursorUser != "" {
		return c.cursorUser
	}
	return c.ID
}

// bindCursor 커서 이벤트의 userId 를 연결 신원에 맞춘다
func (c *CanvasClient) bindCursor(cursor model.CursorData) model.CursorData {
	if c.UserID != "" {
		cursor.UserID = c.UserID
		if cursor.UserName == "" {
			cursor.UserName = c.UserName
		}
		return cursor
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursorUser == "" {
		c.cursorUser = cursor.UserID
	}
	cursor.UserID = c.cursorUser
	return cursor
}

// Done 연결이 닫히면 닫힌다
func (c *CanvasClient) Done() <-chan struct{} {
	return c.done
}

func (c *CanvasClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.peer.Close()
	})
}

// closeAndWait 닫은 뒤 writer 가 피어를 더 이상 건드리지 않을 때까지 기다린다
func (c *CanvasClient) closeAndWait() {
	c.close()
	<-c.writerDone
}

// CanvasHub 캔버스 하나의 모든 연결
type CanvasHub struct {
	store    *canvas.Store
	sessions SessionSource
	artists  cache.ArtistCounter
	presence *presence.Registry
	metrics  *metrics.Collector
	logger   *zap.Logger
	clock    quartz.Clock
	cfg      HubConfig

	mu      sync.RWMutex
	clients map[string]*CanvasClient

	wg sync.WaitGroup
}

// HubOption 선택 의존성
type HubOption func(*CanvasHub)

func WithHubClock(clock quartz.Clock) HubOption {
	return func(h *CanvasHub) { h.clock = clock }
}

func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *CanvasHub) { h.logger = logger }
}

func WithHubMetrics(m *metrics.Collector) HubOption {
	return func(h *CanvasHub) { h.metrics = m }
}

func WithArtistCounter(counter cache.ArtistCounter) HubOption {
	return func(h *CanvasHub) { h.artists = counter }
}

// NewCanvasHub creates a new CanvasHub instance
func NewCanvasHub(store *canvas.Store, sessions SessionSource, cfg HubConfig, opts ...HubOption) *CanvasHub {
	h := &CanvasHub{
		store:    store,
		sessions: sessions,
		artists:  cache.NewMemoryArtistCounter(),
		logger:   zap.NewNop(),
		clock:    quartz.NewReal(),
		cfg:      cfg.withDefaults(),
		clients:  make(map[string]*CanvasClient),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.presence = presence.NewRegistry(h.clock)
	h.logger = h.logger.Named("hub")
	return h
}

// =============================================================================
// 연결 수명
// =============================================================================

// Register 연결 등록 후 전체에 접속자 수를 알린다
func (h *CanvasHub) Register(peer Peer, id Identity) *CanvasClient {
	c := &CanvasClient{
		ID:       uuid.NewString(),
		UserID:   id.UserID,
		UserName: id.UserName,
		peer:     peer,
		send:       make(chan []byte, h.cfg.SendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.wg.Add(1)
	go h.writePump(c)

	h.metrics.SetConnections(count)
	h.logger.Info("client connected",
		zap.String("socket", c.ID),
		zap.String("user", c.UserID),
		zap.Int("connections", count),
	)
	h.broadcastCount(count)
	return c
}

// Unregister 연결 해제. 커서가 있었다면 제거 이벤트를 보낸다.
// 반환 후에는 writer 가 피어에 쓰지 않으므로 호출자가 연결을 반납해도 된다.
func (h *CanvasHub) Unregister(c *CanvasClient) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()

	c.closeAndWait()
	if !ok {
		return
	}

	if entry, had := h.presence.Remove(c.ID); had {
		h.broadcastExcept(protocol.CursorRemove{UserID: entry.UserID}, nil)
	}
	h.metrics.SetConnections(count)
	h.logger.Info("client disconnected",
		zap.String("socket", c.ID),
		zap.Int("connections", count),
	)
	h.broadcastCount(count)
}

func (h *CanvasHub) writePump(c *CanvasClient) {
	defer h.wg.Done()
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			// 둘 다 준비됐을 때 select 가 메시지를 고를 수 있다
			select {
			case <-c.done:
				return
			default:
			}
			_ = c.peer.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.peer.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("write failed", zap.String("socket", c.ID), zap.Error(err))
				c.close()
				return
			}
		}
	}
}

// =============================================================================
// 메시지 처리
// =============================================================================

// HandleMessage 한 연결에서 받은 메시지 처리. 한 연결의 메시지는 순서대로 호출되어야 한다.
func (h *CanvasHub) HandleMessage(c *CanvasClient, data []byte) {
	ev, err := protocol.DecodeClient(data, protocol.Limits{MaxBatch: h.cfg.MaxBatch})
	if err != nil {
		h.metrics.Dropped(dropReason(err))
		h.logger.Debug("dropping message", zap.String("socket", c.ID), zap.Error(err))
		return
	}

	switch e := ev.(type) {
	case protocol.SyncRequest:
		h.sendInit(c)
	case protocol.Ping:
		h.sendTo(c, protocol.Pong{})
	case protocol.ElementsUpdate:
		h.handleElements(c, e.Elements)
	case protocol.CursorMove:
		h.handleCursor(c, e.Cursor)
	}
}

func (h *CanvasHub) sendInit(c *CanvasClient) {
	h.sendTo(c, protocol.Init{
		Elements:    h.store.All(),
		StartTime:   h.sessions.Current().StartMs(),
		ArtistCount: h.artistCount(),
	})
}

// handleElements 저장소 반영 후 보낸 연결을 제외한 전체에 그대로 전달
func (h *CanvasHub) handleElements(c *CanvasClient, els []model.Element) {
	if len(els) == 0 {
		h.metrics.Dropped(metrics.DropEmptyBatch)
		return
	}
	h.store.UpsertBatch(els)
	h.metrics.SetElements(h.store.Len())

	userID := c.Identity()
	recipients := h.broadcastExcept(protocol.ElementsRelay{UserID: userID, Elements: els}, c)
	h.metrics.BatchRelayed(len(els), recipients)
	h.recordArtist(userID)
}

func (h *CanvasHub) handleCursor(c *CanvasClient, cursor model.CursorData) {
	cursor = c.bindCursor(cursor)
	h.presence.Upsert(c.ID, c.ID, cursor)
	h.metrics.CursorMoved()
	h.broadcastExcept(protocol.CursorUpdate{Cursor: cursor}, c)
}

// AnnounceReset 세션 리셋 알림. 스케줄러가 저장소를 비운 뒤에 호출한다.
func (h *CanvasHub) AnnounceReset(next session.Session) {
	n := h.broadcastExcept(protocol.Reset{StartTime: next.StartMs()}, nil)
	h.metrics.SetElements(h.store.Len())
	h.logger.Info("reset announced", zap.String("session", next.ID), zap.Int("clients", n))
}

// =============================================================================
// 전송
// =============================================================================

func (h *CanvasHub) sendTo(c *CanvasClient, ev protocol.ServerEvent) {
	msg, err := protocol.EncodeServer(ev)
	if err != nil {
		h.logger.Error("encode failed", zap.String("type", string(ev.ServerType())), zap.Error(err))
		return
	}
	h.enqueue(c, msg)
}

// broadcastExcept except 를 제외한 전체에 전송하고 대상 수를 돌려준다
func (h *CanvasHub) broadcastExcept(ev protocol.ServerEvent, except *CanvasClient) int {
	msg, err := protocol.EncodeServer(ev)
	if err != nil {
		h.logger.Error("encode failed", zap.String("type", string(ev.ServerType())), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*CanvasClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, msg)
	}
	return len(targets)
}

func (h *CanvasHub) broadcastCount(count int) {
	h.broadcastExcept(protocol.ConnectionCount{Count: count}, nil)
}

// enqueue 큐가 가득 찬 느린 클라이언트는 끊는다
func (h *CanvasHub) enqueue(c *CanvasClient, msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		h.metrics.Dropped(metrics.DropSlowConsumer)
		h.logger.Warn("send queue full, closing slow client", zap.String("socket", c.ID))
		c.close()
	}
}

// =============================================================================
// 작가 수
// =============================================================================

func (h *CanvasHub) today() string {
	return cache.DayKey(h.clock.Now(), h.cfg.Location)
}

func (h *CanvasHub) recordArtist(userID string) {
	day := h.today()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.artists.Add(ctx, day, userID); err != nil {
			h.logger.Warn("failed to record artist", zap.Error(err))
		}
	}()
}

func (h *CanvasHub) artistCount() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := h.artists.Count(ctx, h.today())
	if err != nil {
		h.logger.Warn("failed to count artists", zap.Error(err))
		return 0
	}
	return n
}

// =============================================================================
// 조회 / 종료
// =============================================================================

// HubStats 상태 요약
type HubStats struct {
	Connections int   `json:"connections"`
	Elements    int   `json:"elements"`
	Cursors     int   `json:"cursors"`
	ArtistCount int64 `json:"artistCount"`
}

func (h *CanvasHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *CanvasHub) Snapshot() HubStats {
	return HubStats{
		Connections: h.ConnectionCount(),
		Elements:    h.store.Len(),
		Cursors:     h.presence.Len(),
		ArtistCount: h.artistCount(),
	}
}

// Presence 현재 커서 목록
func (h *CanvasHub) Presence() []presence.Entry {
	return h.presence.List()
}

// Close 모든 연결을 닫고 백그라운드 작업을 기다린다
func (h *CanvasHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*CanvasClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeAndWait()
	}
	h.wg.Wait()
	h.metrics.SetConnections(0)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownEvent):
		return metrics.DropUnknownEvent
	case errors.Is(err, protocol.ErrInvalidPayload):
		return metrics.DropInvalid
	default:
		return metrics.DropMalformed
	}
}
