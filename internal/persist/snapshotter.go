package persist

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gridroom-backend/internal/config"
	"gridroom-backend/internal/model"
	"gridroom-backend/internal/room"
)

// =============================================================================
// Snapshotter - 주기 스냅샷 기록자
// =============================================================================

// Snapshotter runs one flush loop per live room. Each tick it asks the
// coordinator for a consistent snapshot (scheduled through the room's own
// command queue) and writes it durably, skipping the write when the room
// version has not moved since the last persisted one.
type Snapshotter struct {
	db  *gorm.DB
	cfg config.PersistConfig

	mu    sync.Mutex
	loops map[string]context.CancelFunc // roomID -> loop cancel
}

// NewSnapshotter 생성자
func NewSnapshotter(db *gorm.DB, cfg config.PersistConfig) *Snapshotter {
	return &Snapshotter{
		db:    db,
		cfg:   cfg,
		loops: make(map[string]context.CancelFunc),
	}
}

// StartRoom 방 적재 시 플러시 루프 시작 (room.Flusher 구현)
func (s *Snapshotter) StartRoom(c *room.Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loops[c.RoomID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loops[c.RoomID] = cancel
	go s.run(ctx, c)
}

// StopRoom 방 해제 시 플러시 루프 종료 (room.Flusher 구현)
func (s *Snapshotter) StopRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.loops[roomID]; ok {
		cancel()
		delete(s.loops, roomID)
	}
}

// Shutdown 모든 루프 종료. 마지막 플러시는 호출측(Hub.Shutdown 이전)에서
// FlushNow로 처리한다.
func (s *Snapshotter) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, cancel := range s.loops {
		cancel()
		delete(s.loops, roomID)
	}
}

func (s *Snapshotter) run(ctx context.Context, c *room.Coordinator) {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	var lastVersion int64 = -1

	for {
		select {
		case <-ctx.Done():
			// 내리기 전 마지막 플러시
			s.flushOnce(c, &lastVersion)
			return
		case <-c.Done():
			return
		case <-ticker.C:
			s.flushOnce(c, &lastVersion)
		}
	}
}

func (s *Snapshotter) flushOnce(c *room.Coordinator, lastVersion *int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return // 방이 이미 닫힘
	}
	// 버전이 안 움직였으면 쓰지 않는다 (멱등 no-op)
	if snap.Version == *lastVersion && !snap.Dirty {
		return
	}

	if err := s.writeWithRetry(ctx, snap); err != nil {
		log.Printf("[Snapshot] Room %s flush failed after retries: %v", snap.Code, err)
		return
	}
	*lastVersion = snap.Version
}

// FlushNow 즉시 플러시 (종료 경로, 백업 생성 직전 등)
func (s *Snapshotter) FlushNow(ctx context.Context, c *room.Coordinator) (room.RoomSnapshot, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return snap, err
	}
	if err := s.writeWithRetry(ctx, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// writeWithRetry 내구 쓰기. 일시 장애는 백오프를 두고 재시도한다.
func (s *Snapshotter) writeWithRetry(ctx context.Context, snap room.RoomSnapshot) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
		if lastErr = s.write(ctx, snap); lastErr == nil {
			return nil
		}
		log.Printf("[Snapshot] Room %s write attempt %d failed: %v", snap.Code, attempt+1, lastErr)
	}
	return lastErr
}

func (s *Snapshotter) write(ctx context.Context, snap room.RoomSnapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         snap.Status.String(),
			"state_version":  snap.Version,
			"last_active_at": snap.TakenAt,
		}
		if snap.HostID != 0 {
			updates["host_id"] = snap.HostID
		}
		if err := tx.Model(&model.Room{}).Where("id = ?", snap.RoomID).Updates(updates).Error; err != nil {
			return err
		}

		if len(snap.Cells) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "room_id"}, {Name: "cell_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"value", "version", "is_completed", "attempts", "hints_used",
					"last_writer_id", "last_write_at",
				}),
			}).Create(&snap.Cells).Error; err != nil {
				return err
			}
		}

		if len(snap.Participants) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"nickname", "role", "is_online", "last_seen_at",
				}),
			}).Create(&snap.Participants).Error; err != nil {
				return err
			}
		}

		// 스냅샷에 없는 멤버 행은 삭제한다. 강퇴/퇴장한 멤버가
		// 다음 적재 때 되살아나면 안 된다.
		prune := tx.Where("room_id = ?", snap.RoomID)
		if len(snap.Participants) > 0 {
			ids := make([]int64, 0, len(snap.Participants))
			for _, p := range snap.Participants {
				ids = append(ids, p.UserID)
			}
			prune = prune.Where("user_id NOT IN ?", ids)
		}
		if err := prune.Delete(&model.Participant{}).Error; err != nil {
			return err
		}
		return nil
	})
}
