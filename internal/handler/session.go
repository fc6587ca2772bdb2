package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// SessionInfo 현재 세션 조회용
type SessionInfo interface {
	SessionSource
	ResetAt() time.Time
}

// SessionHandler 세션 조회 핸들러
type SessionHandler struct {
	sessions SessionInfo
	hub      *CanvasHub
}

// NewSessionHandler SessionHandler 생성
func NewSessionHandler(sessions SessionInfo, hub *CanvasHub) *SessionHandler {
	return &SessionHandler{sessions: sessions, hub: hub}
}

// SessionResponse 세션 응답
type SessionResponse struct {
	ID           string `json:"id"`
	StartTime    int64  `json:"startTime"`
	ResetAt      int64  `json:"resetAt"`
	ElementCount int    `json:"elementCount"`
	Connections  int    `json:"connections"`
	ArtistCount  int64  `json:"artistCount"`
}

// GetSession GET /api/session
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	cur := h.sessions.Current()
	stats := h.hub.Snapshot()
	return c.JSON(SessionResponse{
		ID:           cur.ID,
		StartTime:    cur.StartMs(),
		ResetAt:      h.sessions.ResetAt().UnixMilli(),
		ElementCount: stats.Elements,
		Connections:  stats.Connections,
		ArtistCount:  stats.ArtistCount,
	})
}

// GetPresence GET /api/presence 현재 커서 목록
func (h *SessionHandler) GetPresence(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"cursors": h.hub.Presence(),
	})
}
