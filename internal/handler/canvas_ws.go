package handler

import (
	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"realtime-canvas/internal/auth"
)

// CanvasWSHandler 캔버스 WebSocket 핸들러
type CanvasWSHandler struct {
	hub             *CanvasHub
	maxMessageBytes int64
	logger          *zap.Logger
}

// NewCanvasWSHandler CanvasWSHandler 생성
func NewCanvasWSHandler(hub *CanvasHub, maxMessageBytes int, logger *zap.Logger) *CanvasWSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CanvasWSHandler{
		hub:             hub,
		maxMessageBytes: int64(maxMessageBytes),
		logger:          logger.Named("ws"),
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *CanvasWSHandler) HandleWebSocket(c *websocket.Conn) {
	// 패닉 복구 - 서버 크래시 방지
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("canvas websocket panic recovered", zap.Any("panic", r))
		}
	}()

	// 토큰이 있으면 OptionalAuthMiddleware 가 채워 둔다
	id := Identity{}
	if v, ok := c.Locals(auth.LocalUserID).(string); ok {
		id.UserID = v
	}
	if v, ok := c.Locals(auth.LocalUserName).(string); ok {
		id.UserName = v
	}

	if h.maxMessageBytes > 0 {
		c.SetReadLimit(h.maxMessageBytes)
	}

	client := h.hub.Register(c, id)
	defer h.hub.Unregister(client)

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("unexpected close", zap.String("socket", client.ID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.HandleMessage(client, data)
	}
}
