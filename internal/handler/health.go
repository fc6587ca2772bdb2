package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Pinger 외부 의존성 상태 확인 (Redis 등)
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler 헬스체크 핸들러. DB 와 Redis 는 선택 사항이다.
type HealthHandler struct {
	db    *gorm.DB
	redis Pinger
	hub   *CanvasHub
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(db *gorm.DB, redis Pinger, hub *CanvasHub) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, hub: hub}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
	Canvas    *HubStats                 `json:"canvas,omitempty"`
}

// Check 전체 상태 확인 (DB + Redis + 캔버스)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. Database 체크 (아카이브 싱크 실패는 서비스 중단이 아니다)
	response.Checks["database"] = h.checkDB()
	if response.Checks["database"].Status == "unhealthy" {
		response.Status = "degraded"
	}

	// 2. Redis 체크
	response.Checks["redis"] = h.checkRedis(c.UserContext())
	if response.Checks["redis"].Status == "unhealthy" {
		response.Status = "degraded"
	}

	if h.hub != nil {
		stats := h.hub.Snapshot()
		response.Canvas = &stats
	}

	return c.JSON(response)
}

func (h *HealthHandler) checkDB() ComponentCheck {
	if h.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "failed to get database connection"}
	}
	if err := sqlDB.Ping(); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "database ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ComponentCheck {
	if h.redis == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := h.redis.Health(ctx); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "redis ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness 캔버스 허브가 떠 있으면 준비 완료. 저장소는 메모리라 외부 의존성을 기다리지 않는다.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if h.hub == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
