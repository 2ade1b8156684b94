package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"gridroom-backend/internal/cache"
	"gridroom-backend/internal/model"
	"gridroom-backend/internal/presence"
	"gridroom-backend/internal/room"
)

// RoomHandler 방 REST 핸들러
type RoomHandler struct {
	db       *gorm.DB
	hub      *room.Hub
	rdb      *cache.RedisClient
	presence *presence.Manager
}

// NewRoomHandler RoomHandler 생성
func NewRoomHandler(db *gorm.DB, hub *room.Hub, rdb *cache.RedisClient, pm *presence.Manager) *RoomHandler {
	return &RoomHandler{db: db, hub: hub, rdb: rdb, presence: pm}
}

// CreateRoomRequest 방 생성 요청
type CreateRoomRequest struct {
	Settings model.RoomSettings `json:"settings"`
}

// Create 방 생성
// POST /api/rooms
func (h *RoomHandler) Create(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(int64)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	tier, _ := c.Locals("tier").(string)

	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	row, err := h.hub.CreateRoom(c.Context(), userID, model.Tier(tier), req.Settings)
	if err != nil {
		if errors.Is(err, room.ErrForbidden) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create room"})
	}

	return c.Status(fiber.StatusCreated).JSON(row)
}

// Get 방 조회 (코드 기준)
// GET /api/rooms/:code
func (h *RoomHandler) Get(c *fiber.Ctx) error {
	code := c.Params("code")

	var row model.Room
	if err := h.db.WithContext(c.Context()).
		Preload("Participants").
		Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load room"})
	}

	// 온라인 여부는 presence 캐시가 더 신선하다
	if h.presence != nil && len(row.Participants) > 0 {
		ids := make([]int64, 0, len(row.Participants))
		for _, p := range row.Participants {
			ids = append(ids, p.UserID)
		}
		if presenceMap, err := h.presence.GetMultiPresence(ids); err == nil {
			for i := range row.Participants {
				_, online := presenceMap[row.Participants[i].UserID]
				row.Participants[i].IsOnline = online
			}
		}
	}

	return c.JSON(row)
}

// Presence 방의 실시간 접속 상태 조회 (Redis presence 기준)
// GET /api/rooms/:code/presence
func (h *RoomHandler) Presence(c *fiber.Ctx) error {
	code := c.Params("code")

	var row model.Room
	if err := h.db.WithContext(c.Context()).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load room"})
	}
	if h.presence == nil {
		return c.JSON(fiber.Map{"online": []presence.PresenceData{}})
	}

	ids, err := h.presence.RoomOnlineIDs(row.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load presence"})
	}
	presenceMap, err := h.presence.GetMultiPresence(ids)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load presence"})
	}

	online := make([]presence.PresenceData, 0, len(presenceMap))
	for _, data := range presenceMap {
		online = append(online, *data)
	}
	return c.JSON(fiber.Map{"online": online})
}

// Activities 방 활동 로그 조회
// GET /api/rooms/:code/activities
func (h *RoomHandler) Activities(c *fiber.Ctx) error {
	code := c.Params("code")
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var row model.Room
	if err := h.db.WithContext(c.Context()).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load room"})
	}

	var activities []model.ActivityLog
	if err := h.db.WithContext(c.Context()).
		Where("room_id = ?", row.ID).
		Order("created_at DESC").Limit(limit).
		Find(&activities).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load activities"})
	}

	// 액션별 누적 카운터는 싱크가 Redis 해시에 올려둔다
	counts := map[string]string{}
	if h.rdb != nil {
		if m, err := h.rdb.HGetAll(c.Context(), "room:"+row.ID+":activity_stats"); err == nil {
			counts = m
		}
	}

	return c.JSON(fiber.Map{"activities": activities, "counts": counts})
}

// Messages 방 최근 채팅 조회 (Redis 캐시 우선, 미스 시 DB)
// GET /api/rooms/:code/messages
func (h *RoomHandler) Messages(c *fiber.Ctx) error {
	code := c.Params("code")
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var row model.Room
	if err := h.db.WithContext(c.Context()).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load room"})
	}

	if h.rdb != nil {
		if cached, err := h.rdb.GetRecentMessages(c.Context(), row.ID, int64(limit)); err == nil && len(cached) > 0 {
			total, _ := h.rdb.GetMessageCount(c.Context(), row.ID)
			// 읽히는 방의 캐시는 TTL을 연장한다
			h.rdb.SetRoomExpiry(c.Context(), row.ID, 24*time.Hour)
			return c.JSON(fiber.Map{"messages": cached, "total": total, "source": "cache"})
		}
	}

	var messages []model.ChatMessage
	if err := h.db.WithContext(c.Context()).
		Where("room_id = ?", row.ID).
		Order("created_at DESC").Limit(limit).
		Find(&messages).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load messages"})
	}

	return c.JSON(fiber.Map{"messages": messages, "source": "db"})
}

// Close 방 명시적 종료 (호스트 전용)
// DELETE /api/rooms/:code
func (h *RoomHandler) Close(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(int64)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	code := c.Params("code")

	var row model.Room
	if err := h.db.WithContext(c.Context()).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load room"})
	}
	if row.HostID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "only the host can close the room"})
	}

	err := h.db.WithContext(c.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Room{}).Where("id = ?", row.ID).
			Update("status", model.RoomStatusCompleted.String()).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Room{}, "id = ?", row.ID).Error // soft delete
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to close room"})
	}

	h.hub.Remove(code)
	if h.rdb != nil {
		// 캐시에만 남은 채팅을 회수하면서 키를 비운다
		if flushed, err := h.rdb.FlushRoom(c.Context(), row.ID); err == nil && len(flushed) > 0 {
			log.Printf("[Room %s] Drained %d cached messages on close", code, len(flushed))
		}
	}

	return c.JSON(fiber.Map{"message": "room closed"})
}
