// scribbler 봇 참여자 여러 명을 띄워 캔버스에 무작위 획을 그린다 (부하/데모용)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"realtime-canvas/internal/client"
	"realtime-canvas/internal/handler"
	"realtime-canvas/internal/logger"
	"realtime-canvas/internal/model"
)

type options struct {
	wsURL    string
	apiURL   string
	bots     int
	interval time.Duration
	points   int
	duration time.Duration
	width    float64
	height   float64
	logLevel string
}

var palette = []string{"#1e1e1e", "#e03131", "#2f9e44", "#1971c2", "#f08c00", "#9c36b5"}

func main() {
	var o options
	fs := pflag.NewFlagSet("scribbler", pflag.ExitOnError)
	fs.StringVar(&o.wsURL, "url", "ws://localhost:8080/ws", "canvas websocket endpoint")
	fs.StringVar(&o.apiURL, "api", "", "HTTP base URL for anonymous tokens (empty: connect without token)")
	fs.IntVarP(&o.bots, "bots", "n", 5, "number of participants")
	fs.DurationVar(&o.interval, "interval", 2*time.Second, "pause between strokes per bot")
	fs.IntVar(&o.points, "points", 12, "points per stroke")
	fs.DurationVarP(&o.duration, "duration", "d", 0, "stop after this long (0: until interrupted)")
	fs.Float64Var(&o.width, "width", 1600, "drawing area width")
	fs.Float64Var(&o.height, "height", 900, "drawing area height")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")
	_ = fs.Parse(os.Args[1:])

	zl, err := logger.New("development", o.logLevel)
	if err != nil {
		log.Fatalf("❌ Logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.bots; i++ {
		name := fmt.Sprintf("scribbler-%02d", i+1)
		g.Go(func() error {
			return runBot(ctx, o, name, zl)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		zl.Fatal("scribbler failed", zap.Error(err))
	}
	zl.Info("scribbler finished")
}

func runBot(ctx context.Context, o options, name string, zl *zap.Logger) error {
	opts := client.Options{
		URL:      o.wsURL,
		UserName: name,
		Color:    palette[rand.IntN(len(palette))],
		Logger:   zl,
	}
	if o.apiURL != "" {
		issued, err := anonymousToken(ctx, o.apiURL, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		opts.Token = issued.Token
		opts.UserID = issued.UserID
	}

	c, err := client.New(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	go func() {
		err := c.RunWithReconnect(ctx, func(c *client.Client) {
			zl.Debug("bot connected", zap.String("bot", name))
		})
		if err != nil && ctx.Err() == nil {
			zl.Warn("bot stopped", zap.String("bot", name), zap.Error(err))
		}
	}()

	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if !c.Connected() {
			continue
		}
		drawn := scribble(c, o)
		zl.Debug("stroke",
			zap.String("bot", name),
			zap.Int("points", drawn),
			zap.String("ink", string(c.Ink().State())),
			zap.Int("scene", len(c.Scene())),
		)
	}
}

// scribble 임의 보행으로 획 하나를 그린다. 잉크가 떨어지면 그 자리에서 끝낸다.
func scribble(c *client.Client, o options) int {
	x, y := rand.Float64()*o.width, rand.Float64()*o.height
	s, ok := c.BeginStroke(x, y, client.StrokeStyle{Width: 1 + rand.Float64()*3})
	if !ok {
		return 0
	}
	defer s.End()

	heading := rand.Float64() * 2 * math.Pi
	drawn := 1
	for i := 0; i < o.points; i++ {
		heading += (rand.Float64() - 0.5) * math.Pi / 3
		step := 8 + rand.Float64()*24
		x = clamp(x+math.Cos(heading)*step, 0, o.width)
		y = clamp(y+math.Sin(heading)*step, 0, o.height)
		_ = c.MoveCursor(x, y)
		if !s.Extend(model.Point{x, y}) {
			break
		}
		drawn++
	}
	return drawn
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func anonymousToken(ctx context.Context, base, name string) (*handler.AuthResponse, error) {
	body, err := json.Marshal(handler.AnonymousRequest{UserName: name})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/auth/anonymous", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("anonymous token: %s", resp.Status)
	}

	var out handler.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
