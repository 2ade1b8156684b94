package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"gridroom-backend/internal/auth"
	"gridroom-backend/internal/model"
)

// AuthHandler 토큰 갱신 핸들러
type AuthHandler struct {
	db  *gorm.DB
	jwt *auth.JWTManager
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(db *gorm.DB, jwt *auth.JWTManager) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt}
}

// RefreshRequest 토큰 갱신 요청
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh 리프레시 토큰으로 액세스/리프레시 토큰을 재발급한다.
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.RefreshToken == "" {
		req.RefreshToken = c.Cookies("refresh_token")
	}
	if req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing refresh token"})
	}

	userID, err := h.jwt.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "refresh token expired",
				"code":  "TOKEN_EXPIRED",
			})
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid refresh token"})
	}

	// 클레임에 실을 닉네임/등급은 저장소의 현재 값을 쓴다
	var user model.User
	if err := h.db.WithContext(c.Context()).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unknown user"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load user"})
	}

	accessToken, err := h.jwt.GenerateAccessToken(user.ID, user.Nickname, user.Tier)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to issue token"})
	}
	// 리프레시 토큰도 회전시킨다
	refreshToken, err := h.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to issue token"})
	}

	return c.JSON(fiber.Map{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}
