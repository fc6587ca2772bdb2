package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-canvas/internal/ink"
	"realtime-canvas/internal/model"
	"realtime-canvas/internal/protocol"
	"realtime-canvas/internal/streak"
)

const waitFor = 2 * time.Second

// fakeServer 클라이언트가 보낸 이벤트를 기록하고 스크립트대로 응답한다
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan protocol.ClientEvent
	queries  chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan protocol.ClientEvent, 256),
		queries:  make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		closed bool
		open   []*websocket.Conn
	)
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		if closed {
			mu.Unlock()
			_ = conn.Close()
			return
		}
		open = append(open, conn)
		wg.Add(1)
		mu.Unlock()

		fs.queries <- r.URL.RawQuery
		fs.conns <- conn
		go func() {
			defer wg.Done()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				ev, err := protocol.DecodeClient(data, protocol.Limits{})
				if err != nil {
					t.Errorf("client sent invalid message %s: %v", data, err)
					continue
				}
				fs.received <- ev
			}
		}()
	}))
	t.Cleanup(func() {
		fs.srv.Close()
		mu.Lock()
		closed = true
		conns := open
		mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
		wg.Wait()
	})
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) accept() *websocket.Conn {
	fs.t.Helper()
	select {
	case c := <-fs.conns:
		fs.t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(waitFor):
		fs.t.Fatal("no connection")
		return nil
	}
}

func (fs *fakeServer) next() protocol.ClientEvent {
	fs.t.Helper()
	select {
	case ev := <-fs.received:
		return ev
	case <-time.After(waitFor):
		fs.t.Fatal("no client event")
		return nil
	}
}

func (fs *fakeServer) send(conn *websocket.Conn, ev protocol.ServerEvent) {
	fs.t.Helper()
	msg, err := protocol.EncodeServer(ev)
	require.NoError(fs.t, err)
	require.NoError(fs.t, conn.WriteMessage(websocket.TextMessage, msg))
}

// barrier 앞서 보낸 이벤트가 모두 처리됐음을 connection_count 로 확인한다
func (fs *fakeServer) barrier(c *Client, conn *websocket.Conn, n int) {
	fs.t.Helper()
	fs.send(conn, protocol.ConnectionCount{Count: n})
	require.Eventually(fs.t, func() bool { return c.ConnectionCount() == n }, waitFor, 5*time.Millisecond)
}

func element(t *testing.T, id string, version int64) model.Element {
	t.Helper()
	var el model.Element
	raw := fmt.Sprintf(`{"id":%q,"version":%d,"type":"freedraw"}`, id, version)
	require.NoError(t, json.Unmarshal([]byte(raw), &el))
	return el
}

// connect 다이얼 후 수신 루프를 돌린다
func connect(t *testing.T, fs *fakeServer, opts Options) (*Client, *websocket.Conn) {
	t.Helper()
	opts.URL = fs.url()
	ctx, cancel := context.WithCancel(context.Background())

	c, err := Dial(ctx, opts)
	require.NoError(t, err)
	conn := fs.accept()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = c.Close()
		<-done
	})

	_, ok := fs.next().(protocol.SyncRequest)
	require.True(t, ok, "first message must be sync_request")
	return c, conn
}

func TestDialSendsTokenAndSync(t *testing.T) {
	fs := newFakeServer(t)
	connect(t, fs, Options{Token: "abc"})

	select {
	case q := <-fs.queries:
		assert.Equal(t, "token=abc", q)
	case <-time.After(waitFor):
		t.Fatal("no query")
	}
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRemoteVersionReconcile(t *testing.T) {
	fs := newFakeServer(t)
	c, conn := connect(t, fs, Options{UserID: "alice"})

	fs.send(conn, protocol.Init{Elements: []model.Element{element(t, "e1", 3)}, StartTime: 1000, ArtistCount: 2})
	require.Eventually(t, func() bool { return len(c.Scene()) == 1 }, waitFor, 5*time.Millisecond)
	assert.EqualValues(t, 1000, c.StartTime())
	assert.EqualValues(t, 2, c.ArtistCount())

	fs.send(conn, protocol.ElementsRelay{UserID: "bob", Elements: []model.Element{element(t, "e1", 4)}})
	// 순서가 뒤바뀐 오래된 릴레이는 버려진다
	fs.send(conn, protocol.ElementsRelay{UserID: "carol", Elements: []model.Element{element(t, "e1", 2)}})
	fs.barrier(c, conn, 3)

	el, ok := c.Element("e1")
	require.True(t, ok)
	assert.EqualValues(t, 4, el.Version)
}

func TestCursorPresence(t *testing.T) {
	fs := newFakeServer(t)
	c, conn := connect(t, fs, Options{UserID: "alice"})

	fs.send(conn, protocol.CursorUpdate{Cursor: model.CursorData{UserID: "alice", X: 1, Y: 1}})
	fs.send(conn, protocol.CursorUpdate{Cursor: model.CursorData{UserID: "bob", X: 5, Y: 6, Color: "#f00"}})
	fs.send(conn, protocol.CursorUpdate{Cursor: model.CursorData{UserID: "carol", X: 7, Y: 8}})
	fs.barrier(c, conn, 3)

	cursors := c.Cursors()
	require.Len(t, cursors, 2)
	assert.Equal(t, "bob", cursors[0].UserID)
	assert.Equal(t, "#f00", cursors[0].Color)

	fs.send(conn, protocol.CursorRemove{UserID: "bob"})
	fs.barrier(c, conn, 2)
	cursors = c.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, "carol", cursors[0].UserID)
}

func TestStaleCursorsExpire(t *testing.T) {
	mClock := quartz.NewMock(t)
	fs := newFakeServer(t)
	cfg := ink.DefaultConfig()
	cfg.RegenInterval = time.Hour
	c, conn := connect(t, fs, Options{
		UserID:       "alice",
		Clock:        mClock,
		Ink:          cfg,
		StaleAfter:   8 * time.Second,
		PingInterval: time.Hour,
	})

	fs.send(conn, protocol.CursorUpdate{Cursor: model.CursorData{UserID: "bob"}})
	fs.barrier(c, conn, 2)
	require.Len(t, c.Cursors(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	mClock.Advance(9 * time.Second).MustWait(ctx)
	assert.Empty(t, c.Cursors())
}

func TestMoveCursorThrottle(t *testing.T) {
	mClock := quartz.NewMock(t)
	fs := newFakeServer(t)
	cfg := ink.DefaultConfig()
	cfg.RegenInterval = time.Hour
	c, _ := connect(t, fs, Options{
		UserID:         "alice",
		UserName:       "Alice",
		Color:          "#0af",
		Clock:          mClock,
		Ink:            cfg,
		CursorInterval: 50 * time.Millisecond,
		PingInterval:   time.Hour,
	})

	require.NoError(t, c.MoveCursor(1, 2))
	require.NoError(t, c.MoveCursor(3, 4)) // 버려짐
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	mClock.Advance(50 * time.Millisecond).MustWait(ctx)
	require.NoError(t, c.MoveCursor(5, 6))

	first, ok := fs.next().(protocol.CursorMove)
	require.True(t, ok)
	assert.Equal(t, model.CursorData{UserID: "alice", X: 1, Y: 2, Color: "#0af", UserName: "Alice"}, first.Cursor)

	second, ok := fs.next().(protocol.CursorMove)
	require.True(t, ok)
	assert.Equal(t, 5.0, second.Cursor.X)
}

func TestStrokeConsumesInkAndRollsBack(t *testing.T) {
	fs := newFakeServer(t)
	c, _ := connect(t, fs, Options{
		UserID: "alice",
		Ink:    ink.Config{Max: 10, RegenRate: 0.1, RegenInterval: time.Hour, LowThreshold: 0.2},
	})

	var states []ink.State
	var mu sync.Mutex
	unsubscribe := c.Ink().Subscribe(func(_, next ink.State) {
		mu.Lock()
		states = append(states, next)
		mu.Unlock()
	})
	defer unsubscribe()

	s, ok := c.BeginStroke(0, 0, StrokeStyle{Color: "#000"})
	require.True(t, ok)
	start, ok := fs.next().(protocol.ElementsUpdate)
	require.True(t, ok)
	require.Len(t, start.Elements, 1)
	assert.EqualValues(t, 1, start.Elements[0].Version)

	assert.True(t, s.Extend(model.Point{3, 4}))
	assert.InDelta(t, 5.0, c.Ink().Current(), 1e-9)

	// 남은 양보다 긴 구간도 한 번은 수락되고 0 으로 고정된다
	assert.True(t, s.Extend(model.Point{3, 10}))
	assert.Zero(t, c.Ink().Current())

	assert.False(t, s.Extend(model.Point{3, 11}))
	el := s.Element()
	assert.EqualValues(t, 3, el.Version)
	assert.Equal(t, []model.Point{{0, 0}, {3, 4}, {3, 10}}, el.Points)

	for _, want := range []int64{2, 3} {
		ev, ok := fs.next().(protocol.ElementsUpdate)
		require.True(t, ok)
		assert.EqualValues(t, want, ev.Elements[0].Version)
	}

	_, ok = c.BeginStroke(1, 1, StrokeStyle{})
	assert.False(t, ok)

	mu.Lock()
	assert.Equal(t, []ink.State{ink.StateNormal, ink.StateEmpty}, states)
	mu.Unlock()

	final := s.End()
	assert.Equal(t, s.ID(), final.ID)
	assert.False(t, s.Extend(model.Point{0, 0}))
}

func TestStrokeRecordsStreak(t *testing.T) {
	mClock := quartz.NewMock(t)
	mClock.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tracker, err := streak.New(context.Background(), streak.NewMemoryKV(), "alice",
		streak.WithClock(mClock), streak.WithLocation(time.UTC))
	require.NoError(t, err)
	defer tracker.Close()

	fs := newFakeServer(t)
	cfg := ink.DefaultConfig()
	cfg.RegenInterval = time.Hour
	c, _ := connect(t, fs, Options{UserID: "alice", Clock: mClock, Ink: cfg, Streak: tracker, PingInterval: time.Hour})

	_, ok := c.BeginStroke(0, 0, StrokeStyle{})
	require.True(t, ok)
	assert.Equal(t, 1, tracker.Data().CurrentStreak)
	assert.True(t, tracker.IsNewStreakDay())

	_, ok = c.BeginStroke(5, 5, StrokeStyle{})
	require.True(t, ok)
	assert.Equal(t, 1, tracker.Data().CurrentStreak)
}

func TestResetClearsAndResyncs(t *testing.T) {
	fs := newFakeServer(t)
	c, conn := connect(t, fs, Options{UserID: "alice"})

	fs.send(conn, protocol.Init{Elements: []model.Element{element(t, "e1", 1)}, StartTime: 1})
	require.Eventually(t, func() bool { return len(c.Scene()) == 1 }, waitFor, 5*time.Millisecond)

	fs.send(conn, protocol.Reset{StartTime: 42})
	_, ok := fs.next().(protocol.SyncRequest)
	require.True(t, ok)
	assert.Empty(t, c.Scene())
	assert.EqualValues(t, 42, c.StartTime())
}

func TestDeleteElement(t *testing.T) {
	fs := newFakeServer(t)
	c, conn := connect(t, fs, Options{UserID: "alice"})

	fs.send(conn, protocol.Init{Elements: []model.Element{element(t, "e1", 3)}})
	require.Eventually(t, func() bool { return len(c.Scene()) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.DeleteElement("e1"))
	ev, ok := fs.next().(protocol.ElementsUpdate)
	require.True(t, ok)
	assert.EqualValues(t, 4, ev.Elements[0].Version)
	assert.True(t, ev.Elements[0].IsDeleted)
	assert.Empty(t, c.Scene())

	assert.ErrorIs(t, c.DeleteElement("missing"), ErrUnknownElement)
}

func TestPublishSceneSkipsAfterRemote(t *testing.T) {
	fs := newFakeServer(t)
	c, conn := connect(t, fs, Options{UserID: "alice"})

	fs.send(conn, protocol.Init{Elements: []model.Element{element(t, "e1", 1)}})
	require.Eventually(t, func() bool { return len(c.Scene()) == 1 }, waitFor, 5*time.Millisecond)

	edited := element(t, "e1", 2)
	n, err := c.PublishScene([]model.Element{edited})
	require.NoError(t, err)
	assert.Zero(t, n, "render right after a remote merge is not a local edit")

	n, err = c.PublishScene([]model.Element{edited})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ev, ok := fs.next().(protocol.ElementsUpdate)
	require.True(t, ok)
	assert.EqualValues(t, 2, ev.Elements[0].Version)
}

func TestRunWithReconnect(t *testing.T) {
	fs := newFakeServer(t)
	c, err := New(Options{URL: fs.url(), UserID: "alice", InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var connects atomic.Int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.RunWithReconnect(ctx, func(*Client) { connects.Add(1) })
	}()

	first := fs.accept()
	_, ok := fs.next().(protocol.SyncRequest)
	require.True(t, ok)
	require.NoError(t, first.Close())

	fs.accept()
	_, ok = fs.next().(protocol.SyncRequest)
	require.True(t, ok, "reconnect must request a fresh sync")
	require.Eventually(t, func() bool { return connects.Load() == 2 }, waitFor, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("RunWithReconnect did not stop")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	// 수신 루프가 같은 연결을 닫는 것과 겹쳐도 에러가 없어야 한다
	for i := 0; i < 10; i++ {
		fs := newFakeServer(t)
		c, _ := connect(t, fs, Options{})
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.ErrorIs(t, c.RequestSync(), ErrClosed)
	}
}
