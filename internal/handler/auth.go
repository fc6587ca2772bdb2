package handler

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-canvas/internal/auth"
)

// AuthHandler 익명 참여자 인증 핸들러
type AuthHandler struct {
	jwtManager   *auth.JWTManager
	secureCookie bool
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(jwtManager *auth.JWTManager, secureCookie bool, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		jwtManager:   jwtManager,
		secureCookie: secureCookie,
		validate:     validator.New(),
		logger:       logger.Named("auth"),
	}
}

// AnonymousRequest 익명 참여 요청 (이름은 선택)
type AnonymousRequest struct {
	UserName string `json:"userName" validate:"max=32"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Anonymous 새 참여자 id 를 발급하고 토큰을 쿠키로도 내려준다
func (h *AuthHandler) Anonymous(c *fiber.Ctx) error {
	var req AnonymousRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}
	req.UserName = strings.TrimSpace(req.UserName)
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userName must be at most 32 characters",
		})
	}

	userID := uuid.NewString()
	if req.UserName == "" {
		req.UserName = fmt.Sprintf("artist-%s", userID[:8])
	}

	token, err := h.jwtManager.GenerateAccessToken(userID, req.UserName)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	expiry := h.jwtManager.AccessExpiry()
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(expiry.Seconds()),
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		Token:     token,
		UserID:    userID,
		UserName:  req.UserName,
		ExpiresIn: int64(expiry.Seconds()),
	})
}

// Me 현재 토큰의 참여자 정보
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals(auth.LocalUserID).(string)
	userName, _ := c.Locals(auth.LocalUserName).(string)
	return c.JSON(fiber.Map{
		"userId":   userID,
		"userName": userName,
	})
}

// Logout 쿠키 삭제
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return c.SendStatus(fiber.StatusNoContent)
}
