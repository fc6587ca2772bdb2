package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/coder/quartz"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-canvas/internal/archive"
	"realtime-canvas/internal/auth"
	"realtime-canvas/internal/cache"
	"realtime-canvas/internal/canvas"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/handler"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/session"
)

// Deps 외부에서 주입하는 의존성. Logger 외에는 모두 선택 사항이다.
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Clock   quartz.Clock
	DB      *gorm.DB
	Redis   *cache.RedisClient
	Archive *archive.MultiSink
}

// Server Fiber 서버 래퍼
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	store     *canvas.Store
	scheduler *session.Scheduler
	hub       *handler.CanvasHub

	wsHandler      *handler.CanvasWSHandler
	sessionHandler *handler.SessionHandler
	authHandler    *handler.AuthHandler
	archiveHandler *handler.ArchiveHandler
	healthHandler  *handler.HealthHandler
	jwtManager     *auth.JWTManager

	cancel context.CancelFunc
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector("canvas")
	}
	loc, err := cfg.Session.Location()
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               "Realtime Canvas",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	store := canvas.NewStore()

	// Archive 가 nil 이면 인터페이스에 nil 포인터가 들어가지 않게 한다
	var sink session.Archiver
	if deps.Archive != nil {
		sink = deps.Archive
	}
	scheduler := session.New(store, sink,
		session.WithClock(deps.Clock),
		session.WithResetInterval(cfg.Session.ResetInterval),
		session.WithCheckInterval(cfg.Session.CheckInterval),
		session.WithWriteTimeout(cfg.Archive.WriteTimeout),
		session.WithLogger(deps.Logger.Named("session")),
		session.WithMetrics(deps.Metrics),
	)

	hubOpts := []handler.HubOption{
		handler.WithHubClock(deps.Clock),
		handler.WithHubLogger(deps.Logger),
		handler.WithHubMetrics(deps.Metrics),
	}
	var redisPinger handler.Pinger
	if deps.Redis != nil {
		hubOpts = append(hubOpts, handler.WithArtistCounter(deps.Redis))
		redisPinger = deps.Redis
	}
	hub := handler.NewCanvasHub(store, scheduler, handler.HubConfig{
		SendQueueSize: cfg.WebSocket.SendQueueSize,
		WriteTimeout:  cfg.WebSocket.WriteTimeout,
		MaxBatch:      cfg.WebSocket.MaxBatchSize,
		Location:      loc,
	}, hubOpts...)

	// 리셋 후 연결된 모든 클라이언트에 알린다
	scheduler.OnReset(hub.AnnounceReset)

	// 아카이브 조회는 설정된 싱크 중 읽기 가능한 것만 사용
	var (
		fileSink *archive.FileSink
		dbSink   *archive.DBSink
	)
	if deps.Archive != nil {
		for _, s := range deps.Archive.Sinks() {
			switch v := s.(type) {
			case *archive.FileSink:
				fileSink = v
			case *archive.DBSink:
				dbSink = v
			}
		}
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	s := &Server{
		app:            app,
		cfg:            cfg,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		store:          store,
		scheduler:      scheduler,
		hub:            hub,
		wsHandler:      handler.NewCanvasWSHandler(hub, cfg.WebSocket.MaxMessageBytes, deps.Logger),
		sessionHandler: handler.NewSessionHandler(scheduler, hub),
		authHandler:    handler.NewAuthHandler(jwtManager, cfg.Auth.SecureCookie, deps.Logger),
		archiveHandler: handler.NewArchiveHandler(fileSink, dbSink, deps.Logger),
		healthHandler:  handler.NewHealthHandler(deps.DB, redisPinger, hub),
		jwtManager:     jwtManager,
	}
	s.SetupMiddleware()
	s.SetupRoutes()
	return s, nil
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: !s.cfg.Server.IsProduction(),
	}))

	// 로깅 (access log 는 zap 으로 보낸다)
	s.app.Use(logger.New(logger.Config{
		Format:     "${status} | ${latency} | ${ip} | ${method} ${path}",
		TimeFormat: time.RFC3339,
		Output:     zap.NewStdLog(s.logger.Named("http")).Writer(),
		Next: func(c *fiber.Ctx) bool {
			// 헬스체크와 메트릭 수집은 너무 잦다
			p := c.Path()
			return p == "/health/live" || p == "/metrics"
		},
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Prometheus
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	// Rate Limiter 설정 (토큰 발급 남용 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/anonymous", authLimiter, s.authHandler.Anonymous)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.Me)
	authGroup.Post("/logout", s.authHandler.Logout)

	// Canvas 조회
	api := s.app.Group("/api")
	api.Get("/session", s.sessionHandler.GetSession)
	api.Get("/presence", s.sessionHandler.GetPresence)
	api.Get("/archives", s.archiveHandler.ListArchives)
	api.Get("/archives/:id", s.archiveHandler.GetArchive)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 캔버스 엔드포인트 (토큰은 선택)
	s.app.Get("/ws", auth.OptionalAuthMiddleware(s.jwtManager), websocket.New(s.wsHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// App fiber 앱 (테스트용)
func (s *Server) App() *fiber.App { return s.app }

// Hub 캔버스 허브
func (s *Server) Hub() *handler.CanvasHub { return s.hub }

// Scheduler 세션 스케줄러
func (s *Server) Scheduler() *session.Scheduler { return s.scheduler }

// Serve 이미 열린 리스너로 서비스한다. 세션 스케줄러도 함께 시작한다.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.scheduler.Start(ctx)

	s.logger.Info("realtime canvas starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("session", s.scheduler.Current().ID),
		zap.Time("reset_at", s.scheduler.ResetAt()),
	)

	err := s.app.Listener(ln)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Start 설정된 포트로 서비스한다
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Shutdown 서버 종료. 스케줄러 정지 후 연결을 닫는다.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
	s.hub.Close()
	return s.app.ShutdownWithTimeout(timeout)
}
