package persist

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"gridroom-backend/internal/cache"
	"gridroom-backend/internal/model"
)

// =============================================================================
// Async Sink - 코디네이터 부수 기록의 비동기 기록자
// =============================================================================

type sinkEntry struct {
	activity *model.ActivityLog
	chat     *model.ChatMessage
}

// AsyncSink 채팅/활동 로그를 핫패스 밖에서 내구 저장한다.
// 코디네이터 쪽 호출은 큐 적재만 하고 즉시 반환한다.
type AsyncSink struct {
	db     *gorm.DB
	rdb    *cache.RedisClient
	queue  chan sinkEntry
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAsyncSink 생성 및 구동. rdb는 nil 허용 (캐시 생략).
func NewAsyncSink(db *gorm.DB, rdb *cache.RedisClient) *AsyncSink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &AsyncSink{
		db:     db,
		rdb:    rdb,
		queue:  make(chan sinkEntry, 1024),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// LogActivity 활동 로그 적재 (논블로킹, 큐가 가득 차면 버린다)
func (s *AsyncSink) LogActivity(entry model.ActivityLog) {
	select {
	case s.queue <- sinkEntry{activity: &entry}:
	default:
		log.Printf("[Sink] Queue full, dropped activity %s for room %s", entry.Action, entry.RoomID)
	}
}

// SaveChat 채팅 메시지 적재 (논블로킹)
func (s *AsyncSink) SaveChat(msg model.ChatMessage) {
	select {
	case s.queue <- sinkEntry{chat: &msg}:
	default:
		log.Printf("[Sink] Queue full, dropped chat message for room %s", msg.RoomID)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			// 종료 전 큐에 남은 항목을 비운다
			for {
				select {
				case e := <-s.queue:
					s.write(e)
				default:
					return
				}
			}
		case e := <-s.queue:
			s.write(e)
		}
	}
}

func (s *AsyncSink) write(e sinkEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case e.activity != nil:
		if err := s.db.WithContext(ctx).Create(e.activity).Error; err != nil {
			log.Printf("[Sink] Failed to save activity %s: %v", e.activity.Action, err)
			return
		}
		if s.rdb != nil {
			// 액션별 누적 카운터 (활동 조회 API가 읽는다)
			key := "room:" + e.activity.RoomID + ":activity_stats"
			if _, err := s.rdb.HIncrBy(ctx, key, e.activity.Action, 1); err != nil {
				log.Printf("[Sink] Failed to bump activity counter: %v", err)
			}
		}
	case e.chat != nil:
		if err := s.db.WithContext(ctx).Create(e.chat).Error; err != nil {
			log.Printf("[Sink] Failed to save chat message: %v", err)
			return
		}
		if s.rdb != nil {
			cached := cache.CachedMessage{
				RoomID:    e.chat.RoomID,
				SenderID:  e.chat.SenderID,
				Nickname:  e.chat.Nickname,
				Message:   e.chat.Message,
				Type:      e.chat.Type,
				Timestamp: e.chat.CreatedAt,
			}
			if err := s.rdb.AddMessage(ctx, e.chat.RoomID, &cached); err != nil {
				log.Printf("[Sink] Failed to cache chat message: %v", err)
			}
		}
	}
}

// Close 큐를 정리하고 기록자를 멈춘다.
func (s *AsyncSink) Close() {
	s.cancel()
	<-s.done
}
