package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridroom-backend/internal/cache"
	"gridroom-backend/internal/config"
	"gridroom-backend/internal/model"
	"gridroom-backend/internal/room"
)

// =============================================================================
// Backup Manager - 백업 생성/복원/검색/삭제
// =============================================================================

// 복원 거부 사유별 에러. 핸들러가 상태 코드로 변환한다.
var (
	ErrBackupNotFound  = errors.New("backup not found")
	ErrBackupWrongRoom = errors.New("backup belongs to a different room")
	ErrBackupExpired   = errors.New("backup expired")
	ErrBackupCorrupted = errors.New("backup corrupted")
)

// Manager 백업 수명주기 관리자
type Manager struct {
	db  *gorm.DB
	rdb *cache.RedisClient
	cfg config.PersistConfig
}

// NewManager 생성자. rdb는 nil 허용.
func NewManager(db *gorm.DB, rdb *cache.RedisClient, cfg config.PersistConfig) *Manager {
	return &Manager{db: db, rdb: rdb, cfg: cfg}
}

// Create 명시적 백업 생성. 코디네이터 스냅샷에 채팅/활동 이력을 합쳐
// 불변 백업 레코드로 저장한다.
func (m *Manager) Create(ctx context.Context, snap room.RoomSnapshot, creatorID int64,
	backupType model.BackupType) (*model.Backup, error) {

	var messages []model.ChatMessage
	if err := m.db.WithContext(ctx).
		Where("room_id = ?", snap.RoomID).
		Order("created_at ASC").Limit(500).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	var activities []model.ActivityLog
	if err := m.db.WithContext(ctx).
		Where("room_id = ?", snap.RoomID).
		Order("created_at ASC").Limit(500).
		Find(&activities).Error; err != nil {
		return nil, err
	}

	payload := BuildPayload(snap, messages, activities, creatorID, backupType)
	data, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	backup := &model.Backup{
		ID:        uuid.New().String(),
		RoomID:    snap.RoomID,
		CreatorID: creatorID,
		Type:      backupType.String(),
		Data:      string(data),
		SizeBytes: int64(len(data)),
		ExpiresAt: time.Now().Add(m.cfg.BackupExpiry),
	}
	if err := m.db.WithContext(ctx).Create(backup).Error; err != nil {
		return nil, err
	}

	m.db.WithContext(ctx).Create(&model.ActivityLog{
		RoomID:      snap.RoomID,
		ActorID:     creatorID,
		Action:      model.ActionBackupCreated,
		Description: fmt.Sprintf("%s backup created (%d bytes)", backupType, backup.SizeBytes),
	})

	log.Printf("[Backup] Created %s backup %s for room %s (%d bytes)",
		backupType, backup.ID, snap.Code, backup.SizeBytes)
	return backup, nil
}

// Get 단일 백업 조회
func (m *Manager) Get(ctx context.Context, backupID string) (*model.Backup, error) {
	var backup model.Backup
	if err := m.db.WithContext(ctx).Where("id = ?", backupID).First(&backup).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBackupNotFound
		}
		return nil, err
	}
	return &backup, nil
}

// checkRestorable 복원 가능 여부의 순수 판정.
// 거부 우선순위: 없음 > 방 불일치 > 만료 > 손상.
func checkRestorable(backup *model.Backup, targetRoomID string, now time.Time) error {
	if backup == nil {
		return ErrBackupNotFound
	}
	if backup.RoomID != targetRoomID {
		return ErrBackupWrongRoom
	}
	if backup.IsExpired(now) {
		return ErrBackupExpired
	}
	if backup.IsCorrupted {
		return ErrBackupCorrupted
	}
	return nil
}

// Restore 백업을 방에 복원한다. 단일 트랜잭션으로 수행되어
// 어느 하위 단계가 실패해도 이전 단계의 효과가 남지 않는다.
func (m *Manager) Restore(ctx context.Context, backupID, targetRoomID string, actorID int64) (*Payload, error) {
	backup, err := m.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := checkRestorable(backup, targetRoomID, time.Now()); err != nil {
		return nil, err
	}

	payload, err := DecodePayload([]byte(backup.Data))
	if err != nil {
		// 저장된 데이터가 역직렬화조차 안 되면 손상으로 마킹하고 거부
		m.db.WithContext(ctx).Model(&model.Backup{}).
			Where("id = ?", backup.ID).Update("is_corrupted", true)
		return nil, fmt.Errorf("%w: %v", ErrBackupCorrupted, err)
	}
	if result := Validate([]byte(backup.Data), -1); !result.IsValid {
		return nil, fmt.Errorf("%w: %v", ErrBackupCorrupted, result.Errors)
	}

	now := time.Now()
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         payload.Room.State,
			"state_version":  payload.Room.Version,
			"last_active_at": now,
		}
		if payload.Room.Settings != nil {
			updates["settings"] = *payload.Room.Settings
		}
		if err := tx.Model(&model.Room{}).Where("id = ?", targetRoomID).Updates(updates).Error; err != nil {
			return err
		}

		// 셀은 지우고 다시 만든다
		if err := tx.Where("room_id = ?", targetRoomID).Delete(&model.CellState{}).Error; err != nil {
			return err
		}
		cells := payload.CellRows(targetRoomID, now)
		if len(cells) > 0 {
			if err := tx.Create(&cells).Error; err != nil {
				return err
			}
		}

		return tx.Create(&model.ActivityLog{
			RoomID:      targetRoomID,
			ActorID:     actorID,
			Action:      model.ActionBackupRestored,
			Description: fmt.Sprintf("restored from backup %s", backup.ID),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	// 복원 이전의 채팅 캐시는 되돌린 상태와 어긋나므로 비운다
	if m.rdb != nil {
		if err := m.rdb.DeleteRoom(ctx, targetRoomID); err != nil {
			log.Printf("[Backup] Failed to drop message cache for room %s: %v", targetRoomID, err)
		}
	}

	log.Printf("[Backup] Restored backup %s into room %s", backup.ID, targetRoomID)
	return &payload, nil
}

// Delete 백업 삭제
func (m *Manager) Delete(ctx context.Context, backupID, roomID string, actorID int64) error {
	backup, err := m.Get(ctx, backupID)
	if err != nil {
		return err
	}
	if backup.RoomID != roomID {
		return ErrBackupWrongRoom
	}

	if err := m.db.WithContext(ctx).Delete(&model.Backup{}, "id = ?", backupID).Error; err != nil {
		return err
	}
	m.db.WithContext(ctx).Create(&model.ActivityLog{
		RoomID:      roomID,
		ActorID:     actorID,
		Action:      model.ActionBackupDeleted,
		Description: fmt.Sprintf("backup %s deleted", backupID),
	})
	return nil
}

// SearchQuery 백업 검색 조건
type SearchQuery struct {
	Text     string // 생성자 닉네임/백업 ID 부분 일치
	Type     string // MANUAL, AUTO, IMPORT_BACKUP
	Status   string // active, expired, corrupted
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// SearchResult 페이지네이션된 검색 결과
type SearchResult struct {
	Backups    []model.Backup `json:"backups"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

// Search 방의 백업 목록 검색
func (m *Manager) Search(ctx context.Context, roomID string, q SearchQuery) (*SearchResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}

	query := m.db.WithContext(ctx).Model(&model.Backup{}).Where("room_id = ?", roomID)

	if q.Text != "" {
		query = query.Where("id::text ILIKE ?", "%"+q.Text+"%")
	}
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}
	now := time.Now()
	switch q.Status {
	case "active":
		query = query.Where("is_corrupted = false AND expires_at > ?", now)
	case "expired":
		query = query.Where("expires_at <= ?", now)
	case "corrupted":
		query = query.Where("is_corrupted = true")
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var backups []model.Backup
	if err := query.Order("created_at DESC").
		Offset((q.Page - 1) * q.PageSize).Limit(q.PageSize).
		Find(&backups).Error; err != nil {
		return nil, err
	}

	totalPages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	return &SearchResult{
		Backups:    backups,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
	}, nil
}

// Download 백업 원본 JSON 조회 (스트리밍 응답용)
func (m *Manager) Download(ctx context.Context, backupID, roomID string) ([]byte, error) {
	backup, err := m.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if backup.RoomID != roomID {
		return nil, ErrBackupWrongRoom
	}
	return []byte(backup.Data), nil
}
