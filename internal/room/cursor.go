package room

import (
	"time"
)

// CursorPosition 휘발성 커서 상태 (영속화되지 않음)
type CursorPosition struct {
	UserID    int64
	CellID    string
	X         float64
	Y         float64
	UpdatedAt time.Time
}

// CursorSet best-effort 커서 전파 상태.
// 백그라운드 스윕 없이 다음 읽기 시점에 게으르게 만료 항목을 제거한다.
// 코디네이터 직렬 실행 아래에서만 접근되므로 락이 없다.
type CursorSet struct {
	positions map[int64]*CursorPosition
	throttle  time.Duration
	decay     time.Duration
}

// NewCursorSet 커서 집합 생성
func NewCursorSet(throttle, decay time.Duration) *CursorSet {
	return &CursorSet{
		positions: make(map[int64]*CursorPosition),
		throttle:  throttle,
		decay:     decay,
	}
}

// Update 커서 위치 갱신. 사용자별 스로틀 창 안의 갱신은 버린다.
// 좌표는 [0,1] 컨테이너 범위로 클램프되고, 실패 조건은 없다.
// 반환값은 브로드캐스트 필요 여부.
func (s *CursorSet) Update(userID int64, cellID string, x, y float64, now time.Time) bool {
	if prev, ok := s.positions[userID]; ok {
		if now.Sub(prev.UpdatedAt) < s.throttle {
			return false
		}
	}

	s.positions[userID] = &CursorPosition{
		UserID:    userID,
		CellID:    cellID,
		X:         clamp(x),
		Y:         clamp(y),
		UpdatedAt: now,
	}
	return true
}

// Remove 연결 해제 시 커서 제거
func (s *CursorSet) Remove(userID int64) {
	delete(s.positions, userID)
}

// Active 읽기 시점에 만료 항목을 제거하며 활성 커서를 돌려준다.
func (s *CursorSet) Active(now time.Time) []CursorPosition {
	active := make([]CursorPosition, 0, len(s.positions))
	for userID, pos := range s.positions {
		if now.Sub(pos.UpdatedAt) > s.decay {
			delete(s.positions, userID)
			continue
		}
		active = append(active, *pos)
	}
	return active
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
