package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCursorSet_ThrottleWindow(t *testing.T) {
	s := NewCursorSet(50*time.Millisecond, 5*time.Second)
	base := time.Now()

	assert.True(t, s.Update(1, "A1", 0.5, 0.5, base))
	// 스로틀 창 안의 갱신은 버려진다
	assert.False(t, s.Update(1, "A2", 0.6, 0.6, base.Add(20*time.Millisecond)))
	assert.False(t, s.Update(1, "A3", 0.7, 0.7, base.Add(49*time.Millisecond)))
	// 창이 지나면 다시 통과
	assert.True(t, s.Update(1, "A4", 0.8, 0.8, base.Add(50*time.Millisecond)))
}

func TestCursorSet_ThrottleIsPerUser(t *testing.T) {
	s := NewCursorSet(50*time.Millisecond, 5*time.Second)
	base := time.Now()

	assert.True(t, s.Update(1, "A1", 0.1, 0.1, base))
	assert.True(t, s.Update(2, "A1", 0.2, 0.2, base))
	assert.False(t, s.Update(1, "A1", 0.3, 0.3, base.Add(time.Millisecond)))
	assert.False(t, s.Update(2, "A1", 0.4, 0.4, base.Add(time.Millisecond)))
}

func TestCursorSet_ClampToUnitRange(t *testing.T) {
	s := NewCursorSet(0, 5*time.Second)
	now := time.Now()

	s.Update(1, "A1", -0.5, 1.7, now)
	active := s.Active(now)
	assert.Len(t, active, 1)
	assert.Equal(t, 0.0, active[0].X)
	assert.Equal(t, 1.0, active[0].Y)
}

func TestCursorSet_LazyDecayEviction(t *testing.T) {
	s := NewCursorSet(0, 5*time.Second)
	base := time.Now()

	s.Update(1, "A1", 0.1, 0.1, base)
	s.Update(2, "B2", 0.2, 0.2, base.Add(4*time.Second))

	// 5초 경과: 사용자 1만 만료
	active := s.Active(base.Add(6 * time.Second))
	assert.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].UserID)

	// 만료 항목은 읽기 시점에 실제로 제거되었다
	active = s.Active(base.Add(6 * time.Second))
	assert.Len(t, active, 1)
}

func TestCursorSet_RemoveOnDisconnect(t *testing.T) {
	s := NewCursorSet(0, 5*time.Second)
	now := time.Now()

	s.Update(1, "A1", 0.5, 0.5, now)
	s.Remove(1)
	assert.Empty(t, s.Active(now))
}
