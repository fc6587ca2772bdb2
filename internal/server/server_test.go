package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-canvas/internal/archive"
	"realtime-canvas/internal/client"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/handler"
	"realtime-canvas/internal/ink"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
)

const waitFor = 3 * time.Second

func testConfig(dir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Environment: "test"},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			WriteTimeout:    time.Second,
			SendQueueSize:   64,
			MaxBatchSize:    100,
			MaxMessageBytes: 1 << 20,
		},
		CORS: config.CORSConfig{AllowOrigins: "*", AllowHeaders: "Origin, Content-Type, Accept, Authorization"},
		Auth: config.AuthConfig{JWTSecret: "test-secret", AccessTokenExpiry: time.Hour},
		Session: config.SessionConfig{
			ResetInterval: 24 * time.Hour,
			CheckInterval: time.Minute,
			Timezone:      "UTC",
		},
		Archive: config.ArchiveConfig{Sinks: []string{config.SinkFile}, Dir: dir, WriteTimeout: time.Second},
	}
}

type testServer struct {
	srv  *Server
	base string
	ws   string
	dir  string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)
	logger := zap.NewNop()
	m := metrics.NewCollector("canvas")

	sinks, err := archive.Build(cfg.Archive.Sinks, archive.Deps{Dir: dir, Logger: logger, Metrics: m})
	require.NoError(t, err)

	srv, err := New(cfg, Deps{Logger: logger, Metrics: m, Archive: sinks})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(context.Background(), ln)
	}()
	t.Cleanup(func() {
		_ = srv.Shutdown(time.Second)
		<-done
	})

	addr := ln.Addr().String()
	return &testServer{srv: srv, base: "http://" + addr, ws: "ws://" + addr + "/ws", dir: dir}
}

func (ts *testServer) participant(t *testing.T, opts client.Options) *client.Client {
	t.Helper()
	opts.URL = ts.ws
	ctx, cancel := context.WithCancel(context.Background())
	c, err := client.Dial(ctx, opts)
	require.NoError(t, err)

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
	return c
}

func (ts *testServer) fetchJSON(path string, v any) error {
	resp, err := http.Get(ts.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (ts *testServer) getJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, ts.fetchJSON(path, v))
}

func TestDrawRelayAndReset(t *testing.T) {
	ts := startServer(t)
	alice := ts.participant(t, client.Options{UserID: "alice"})
	bob := ts.participant(t, client.Options{UserID: "bob"})

	require.Eventually(t, func() bool {
		return alice.ConnectionCount() == 2 && bob.ConnectionCount() == 2
	}, waitFor, 10*time.Millisecond)

	stroke, ok := alice.BeginStroke(10, 10, client.StrokeStyle{Color: "#111"})
	require.True(t, ok)
	require.True(t, stroke.Extend(model.Point{13, 14}, model.Point{20, 20}))
	final := stroke.End()

	require.Eventually(t, func() bool {
		el, ok := bob.Element(final.ID)
		return ok && el.Version == final.Version
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "#111", bob.Scene()[0].StrokeColor)

	var sess handler.SessionResponse
	require.Eventually(t, func() bool {
		return ts.fetchJSON("/api/session", &sess) == nil && sess.ArtistCount == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, sess.ElementCount)
	assert.Equal(t, 2, sess.Connections)

	archived, err := ts.srv.Scheduler().Reset(context.Background())
	require.NoError(t, err)
	require.NotNil(t, archived)
	assert.Equal(t, 1, archived.StrokeCount)

	// 리셋 이후 두 참여자 모두 빈 캔버스로 다시 동기화된다
	next := ts.srv.Scheduler().Current().StartMs()
	require.Eventually(t, func() bool {
		return alice.StartTime() == next && bob.StartTime() == next &&
			len(alice.Scene()) == 0 && len(bob.Scene()) == 0
	}, waitFor, 10*time.Millisecond)

	_, err = os.Stat(filepath.Join(ts.dir, archived.ID+".json"))
	require.NoError(t, err)

	var list struct {
		Archives []handler.ArchiveSummary `json:"archives"`
	}
	ts.getJSON(t, "/api/archives", &list)
	require.Len(t, list.Archives, 1)
	assert.Equal(t, archived.ID, list.Archives[0].ID)
}

func TestTokenBindsIdentity(t *testing.T) {
	ts := startServer(t)

	resp, err := http.Post(ts.base+"/auth/anonymous", "application/json", strings.NewReader(`{"userName":"Ada"}`))
	require.NoError(t, err)
	var issued handler.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()
	require.NotEmpty(t, issued.Token)

	// 토큰과 다른 id 를 주장해도 서버는 토큰의 id 로 릴레이한다
	ada := ts.participant(t, client.Options{UserID: "someone-else", Token: issued.Token, Color: "#f0f"})
	watcher := ts.participant(t, client.Options{UserID: "watcher"})
	require.Eventually(t, func() bool { return ada.ConnectionCount() == 2 }, waitFor, 10*time.Millisecond)

	require.NoError(t, ada.MoveCursor(4, 2))
	require.Eventually(t, func() bool {
		cursors := watcher.Cursors()
		return len(cursors) == 1 && cursors[0].UserID == issued.UserID
	}, waitFor, 10*time.Millisecond)
	cursor := watcher.Cursors()[0]
	assert.Equal(t, "Ada", cursor.UserName)
	assert.Equal(t, "#f0f", cursor.Color)

	require.NoError(t, ada.Close())
	require.Eventually(t, func() bool {
		return len(watcher.Cursors()) == 0 && watcher.ConnectionCount() == 1
	}, waitFor, 10*time.Millisecond)
}

func TestLateJoinerReceivesScene(t *testing.T) {
	ts := startServer(t)
	first := ts.participant(t, client.Options{
		UserID: "first",
		Ink:    ink.Config{Max: 50, RegenRate: 0.1, RegenInterval: time.Hour, LowThreshold: 0.2},
	})
	require.Eventually(t, func() bool { return first.ConnectionCount() == 1 }, waitFor, 10*time.Millisecond)

	s, ok := first.BeginStroke(0, 0, client.StrokeStyle{})
	require.True(t, ok)
	s.Extend(model.Point{30, 40})
	assert.False(t, s.Extend(model.Point{60, 80}), "ink is exhausted")
	s.End()

	late := ts.participant(t, client.Options{UserID: "late"})
	require.Eventually(t, func() bool {
		scene := late.Scene()
		return len(scene) == 1 && len(scene[0].Points) == 2
	}, waitFor, 10*time.Millisecond)
}

func TestOperationalEndpoints(t *testing.T) {
	ts := startServer(t)
	ts.participant(t, client.Options{})

	var health handler.HealthResponse
	ts.getJSON(t, "/health", &health)
	assert.Equal(t, "healthy", health.Status)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "canvas_connections 1")
	}, waitFor, 20*time.Millisecond)

	resp, err := http.Get(ts.base + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
