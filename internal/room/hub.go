package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridroom-backend/internal/config"
	"gridroom-backend/internal/model"
	"gridroom-backend/internal/permission"
)

// =============================================================================
// Room Hub - 코드 단위 코디네이터 관리
// =============================================================================

// Flusher 방 생성/해제에 맞춰 주기 스냅샷 태스크를 켜고 끄는 수신자
type Flusher interface {
	StartRoom(c *Coordinator)
	StopRoom(roomID string)
}

// Hub manages all live room coordinators. Rooms are loaded from the durable
// store on first access and torn down when empty or expired.
type Hub struct {
	db         *gorm.DB
	cfg        config.RoomConfig
	sink       Sink
	flusher    Flusher
	completion CompletionFn

	rooms map[string]*Coordinator // join code -> coordinator
	mu    sync.RWMutex
}

// NewHub 허브 생성
func NewHub(db *gorm.DB, cfg config.RoomConfig, sink Sink, completion CompletionFn) *Hub {
	return &Hub{
		db:         db,
		cfg:        cfg,
		sink:       sink,
		completion: completion,
		rooms:      make(map[string]*Coordinator),
	}
}

// SetFlusher 스냅샷 플러셔 연결 (생성 순서 의존성 때문에 별도 주입)
func (h *Hub) SetFlusher(f Flusher) {
	h.flusher = f
}

// CreateRoom 새 방 생성. 구독 등급별 생성 한도를 검사한다.
func (h *Hub) CreateRoom(ctx context.Context, creatorID int64, tier model.Tier, settings model.RoomSettings) (*model.Room, error) {
	var activeCount int64
	if err := h.db.WithContext(ctx).Model(&model.Room{}).
		Where("host_id = ? AND status NOT IN ?", creatorID,
			[]string{model.RoomStatusCompleted.String(), model.RoomStatusExpired.String()}).
		Count(&activeCount).Error; err != nil {
		return nil, err
	}
	if int(activeCount) >= permission.RoomQuota(tier) {
		return nil, fmt.Errorf("%w: room quota exceeded for tier %s", ErrForbidden, tier)
	}

	if settings.MaxPlayers < h.cfg.MinPlayers {
		settings.MaxPlayers = h.cfg.MinPlayers
	}
	if settings.MaxPlayers > h.cfg.MaxPlayers {
		settings.MaxPlayers = h.cfg.MaxPlayers
	}
	if settings.ModerationLevel == "" {
		settings.ModerationLevel = "BASIC"
	}

	row := &model.Room{
		ID:           uuid.New().String(),
		Code:         newJoinCode(),
		HostID:       creatorID,
		Status:       model.RoomStatusWaiting.String(),
		Settings:     settings,
		LastActiveAt: time.Now(),
	}
	if err := h.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}

	h.db.WithContext(ctx).Create(&model.ActivityLog{
		RoomID:      row.ID,
		ActorID:     creatorID,
		Action:      model.ActionRoomCreated,
		Description: "room created",
	})

	log.Printf("[Hub] Created room %s (code %s) for user %d", row.ID, row.Code, creatorID)
	return row, nil
}

// GetOrLoad 코드로 코디네이터 조회. 메모리에 없으면 내구 저장소에서 적재한다.
func (h *Hub) GetOrLoad(ctx context.Context, code string) (*Coordinator, error) {
	h.mu.RLock()
	if c, ok := h.rooms[code]; ok {
		h.mu.RUnlock()
		return c, nil
	}
	h.mu.RUnlock()

	var row model.Room
	if err := h.db.WithContext(ctx).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, code)
		}
		return nil, err
	}
	if row.Status == model.RoomStatusExpired.String() {
		return nil, fmt.Errorf("%w: room %s expired", ErrNotFound, code)
	}

	var participants []model.Participant
	if err := h.db.WithContext(ctx).Where("room_id = ?", row.ID).Find(&participants).Error; err != nil {
		return nil, err
	}
	var cells []model.CellState
	if err := h.db.WithContext(ctx).Where("room_id = ?", row.ID).Find(&cells).Error; err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Double-check: 적재 경쟁에서 진 쪽은 이긴 쪽을 쓴다
	if c, ok := h.rooms[code]; ok {
		return c, nil
	}

	c := NewCoordinator(&row, participants, cells, h.cfg, h.sink, h.completion)
	h.rooms[code] = c
	if h.flusher != nil {
		h.flusher.StartRoom(c)
	}
	log.Printf("[Hub] Loaded room %s (code %s), %d participants, %d cells",
		row.ID, code, len(participants), len(cells))
	return c, nil
}

// Lookup 메모리에 올라온 코디네이터만 조회
func (h *Hub) Lookup(code string) (*Coordinator, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[code]
	return c, ok
}

// Invalidate 코디네이터를 내려 다음 접근 때 내구 저장소에서 다시 적재하게 한다.
// 복원(restore)처럼 저장소 상태가 메모리 밖에서 바뀐 뒤에 호출한다.
func (h *Hub) Invalidate(code string) {
	h.mu.Lock()
	c, ok := h.rooms[code]
	if ok {
		delete(h.rooms, code)
	}
	h.mu.Unlock()

	if ok {
		if h.flusher != nil {
			h.flusher.StopRoom(c.RoomID)
		}
		c.Shutdown()
		log.Printf("[Hub] Invalidated room %s", code)
	}
}

// Remove 방 해제 (빈 방 정리)
func (h *Hub) Remove(code string) {
	h.Invalidate(code)
}

// CleanupIdle 온라인 멤버가 없는 방 코디네이터를 내려 메모리를 회수한다.
// 내구 상태는 플러셔가 이미 반영했으므로 안전하게 다시 적재 가능하다.
func (h *Hub) CleanupIdle(ctx context.Context) {
	h.mu.RLock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	h.mu.RUnlock()

	for _, code := range codes {
		c, ok := h.Lookup(code)
		if !ok {
			continue
		}
		empty, err := c.Empty(ctx)
		if err != nil || !empty {
			continue
		}
		last, err := c.LastActive(ctx)
		if err != nil {
			continue
		}
		if time.Since(last) > 10*time.Minute {
			h.Remove(code)
			log.Printf("[Hub] Cleaned up idle room %s", code)
		}
	}
}

// ExpireStale 정책 기간(기본 7일) 동안 비활성인 방을 EXPIRED 처리하고 soft-delete한다.
func (h *Hub) ExpireStale(ctx context.Context) error {
	cutoff := time.Now().Add(-h.cfg.ExpireAfter)

	var stale []model.Room
	if err := h.db.WithContext(ctx).
		Where("last_active_at < ? AND status <> ?", cutoff, model.RoomStatusExpired.String()).
		Find(&stale).Error; err != nil {
		return err
	}

	for _, row := range stale {
		err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&model.Room{}).Where("id = ?", row.ID).
				Update("status", model.RoomStatusExpired.String()).Error; err != nil {
				return err
			}
			return tx.Delete(&model.Room{}, "id = ?", row.ID).Error // soft delete
		})
		if err != nil {
			log.Printf("[Hub] Failed to expire room %s: %v", row.Code, err)
			continue
		}
		h.Remove(row.Code)
		log.Printf("[Hub] Expired room %s (inactive since %s)", row.Code, row.LastActiveAt.Format(time.RFC3339))
	}
	return nil
}

// Shutdown 모든 방 종료
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*Coordinator)
	h.mu.Unlock()

	for code, c := range rooms {
		if h.flusher != nil {
			h.flusher.StopRoom(c.RoomID)
		}
		c.Shutdown()
		log.Printf("[Hub] Shut down room %s", code)
	}
}

// newJoinCode 8자리 join 코드 생성 (uuid 앞부분, 충돌은 unique index가 잡는다)
func newJoinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
