package room

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridroom-backend/internal/config"
	"gridroom-backend/internal/model"
)

// fakeConn 테스트용 연결. 보낸 프레임을 내부에 쌓아둔다.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// received 수신한 이벤트 타입 목록
func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		if json.Unmarshal(frame, &env) == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

func (f *fakeConn) has(eventType string) bool {
	for _, t := range f.received() {
		if t == eventType {
			return true
		}
	}
	return false
}

// cellVersions cell_updated 프레임에서 버전만 순서대로 추출
func (f *fakeConn) cellVersions() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := make([]int64, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		if json.Unmarshal(frame, &env) != nil || env.Type != "cell_updated" {
			continue
		}
		var ev CellUpdatedEvent
		if json.Unmarshal(env.Payload, &ev) == nil {
			versions = append(versions, ev.Version)
		}
	}
	return versions
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testRoomConfig() config.RoomConfig {
	return config.RoomConfig{
		MinPlayers:        2,
		MaxPlayers:        10,
		CursorThrottle:    50 * time.Millisecond,
		CursorPresenceTTL: 5 * time.Second,
		CursorFadeTTL:     3 * time.Second,
		ExpireAfter:       7 * 24 * time.Hour,
		CommandBuffer:     16,
	}
}

func testRoomRow() *model.Room {
	return &model.Room{
		ID:     "room-uuid-1",
		Code:   "ABCD1234",
		HostID: 1,
		Status: model.RoomStatusWaiting.String(),
		Settings: model.RoomSettings{
			MaxPlayers:      4,
			AllowSpectators: true,
		},
	}
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(testRoomRow(), nil, nil, testRoomConfig(), nil, nil)
	t.Cleanup(c.Shutdown)
	return c
}

func join(t *testing.T, c *Coordinator, userID int64, nickname string, tier model.Tier,
	role model.Role) (*fakeConn, JoinResult) {
	t.Helper()
	conn := &fakeConn{}
	client := NewClient(userID, nickname, conn)
	result, err := c.Join(context.Background(), userID, nickname, tier, role, client)
	require.NoError(t, err)
	return conn, result
}

func TestCoordinator_CreatorBecomesHost(t *testing.T) {
	c := newTestCoordinator(t)

	_, result := join(t, c, 1, "alice", model.TierFree, "")
	assert.Equal(t, model.RoleHost, result.Role)
	assert.Equal(t, "ABCD1234", result.State.Code)
	assert.Len(t, result.State.Participants, 1)
}

func TestCoordinator_DefaultJoinIsSpectator(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")

	_, result := join(t, c, 2, "bob", model.TierFree, "")
	assert.Equal(t, model.RoleSpectator, result.Role)
}

func TestCoordinator_PlayerSeatRequiresPaidTier(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")

	// FREE 등급의 PLAYER 희망은 SPECTATOR로 떨어진다
	_, result := join(t, c, 2, "bob", model.TierFree, model.RolePlayer)
	assert.Equal(t, model.RoleSpectator, result.Role)

	// 유료 등급은 PLAYER 자리를 받는다
	_, result = join(t, c, 3, "carol", model.TierPlus, model.RolePlayer)
	assert.Equal(t, model.RolePlayer, result.Role)
}

func TestCoordinator_SpectatorsDeniedWhenDisallowed(t *testing.T) {
	row := testRoomRow()
	row.Settings.AllowSpectators = false
	c := NewCoordinator(row, nil, nil, testRoomConfig(), nil, nil)
	t.Cleanup(c.Shutdown)

	conn := &fakeConn{}
	client := NewClient(1, "alice", conn)
	_, err := c.Join(context.Background(), 1, "alice", model.TierFree, "", client)
	require.NoError(t, err) // 생성자는 HOST라 통과

	conn2 := &fakeConn{}
	client2 := NewClient(2, "bob", conn2)
	_, err = c.Join(context.Background(), 2, "bob", model.TierFree, "", client2)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCoordinator_PlayerCapEnforced(t *testing.T) {
	row := testRoomRow()
	row.Settings.MaxPlayers = 2
	c := NewCoordinator(row, nil, nil, testRoomConfig(), nil, nil)
	t.Cleanup(c.Shutdown)

	join(t, c, 1, "host", model.TierPremium, "") // HOST가 플레이어 자리 하나를 차지
	join(t, c, 2, "p1", model.TierPlus, model.RolePlayer)

	conn := &fakeConn{}
	client := NewClient(3, "p2", conn)
	_, err := c.Join(context.Background(), 3, "p2", model.TierPlus, model.RolePlayer, client)
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestCoordinator_SpectatorCannotEdit(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	join(t, c, 2, "bob", model.TierFree, "")

	_, err := c.ApplyCellEdit(context.Background(), 2, CellUpdateEvent{
		CellID: "A1", Value: "X", ExpectedVersion: 0,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCoordinator_EditFanoutAndConflict(t *testing.T) {
	c := newTestCoordinator(t)
	hostConn, _ := join(t, c, 1, "alice", model.TierFree, "")
	playerConn, _ := join(t, c, 2, "bob", model.TierPlus, model.RolePlayer)

	outcome, err := c.ApplyCellEdit(context.Background(), 1, CellUpdateEvent{
		CellID: "A1", Value: "X", ExpectedVersion: 0,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, int64(1), outcome.Version)

	// 수락된 편집은 모든 연결로 fan-out된다
	assert.Eventually(t, func() bool {
		return hostConn.has("cell_updated") && playerConn.has("cell_updated")
	}, time.Second, 10*time.Millisecond)

	// 구버전 토큰의 경쟁 편집은 거부되고 권위 현재 값을 받는다
	stale, err := c.ApplyCellEdit(context.Background(), 2, CellUpdateEvent{
		CellID: "A1", Value: "Y", ExpectedVersion: 0,
	})
	require.NoError(t, err)
	assert.False(t, stale.Accepted)
	assert.Equal(t, "X", stale.Value)
	assert.Equal(t, int64(1), stale.Version)
}

func TestCoordinator_KickRequiresModerationRight(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	targetConn, _ := join(t, c, 2, "bob", model.TierFree, "")
	join(t, c, 3, "carol", model.TierFree, "")

	// SPECTATOR가 강퇴 시도
	err := c.Kick(context.Background(), 3, 2, "nope")
	assert.ErrorIs(t, err, ErrForbidden)

	// HOST는 강퇴 가능
	err = c.Kick(context.Background(), 1, 2, "afk")
	require.NoError(t, err)

	assert.Eventually(t, targetConn.isClosed, time.Second, 10*time.Millisecond)

	// 강퇴된 멤버는 로스터에서 사라진다
	err = c.Kick(context.Background(), 1, 2, "again")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinator_TransferHostIsAtomic(t *testing.T) {
	c := newTestCoordinator(t)
	hostConn, _ := join(t, c, 1, "alice", model.TierFree, "")
	join(t, c, 2, "bob", model.TierPlus, model.RolePlayer)

	// 호스트가 아닌 쪽의 이전 시도는 거부
	err := c.TransferHost(context.Background(), 2, 1)
	assert.ErrorIs(t, err, ErrForbidden)

	err = c.TransferHost(context.Background(), 1, 2)
	require.NoError(t, err)

	hostID, err := c.HostID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hostID)

	assert.Eventually(t, func() bool { return hostConn.has("host_changed") },
		time.Second, 10*time.Millisecond)
}

func TestCoordinator_HostDisconnectPromotesSuccessor(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	playerConn, _ := join(t, c, 2, "bob", model.TierPlus, model.RolePlayer)

	c.Disconnect(1)

	assert.Eventually(t, func() bool {
		hostID, err := c.HostID(context.Background())
		return err == nil && hostID == 2
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return playerConn.has("host_changed") },
		time.Second, 10*time.Millisecond)
}

func TestCoordinator_DisconnectKeepsMembership(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	join(t, c, 2, "bob", model.TierPlus, model.RolePlayer)

	c.Disconnect(2)

	// 재접속하면 역할이 유지된다
	conn := &fakeConn{}
	client := NewClient(2, "bob", conn)
	result, err := c.Join(context.Background(), 2, "bob", model.TierFree, "", client)
	require.NoError(t, err)
	assert.Equal(t, model.RolePlayer, result.Role)
}

func TestCoordinator_CursorFanoutExcludesSender(t *testing.T) {
	c := newTestCoordinator(t)
	senderConn, _ := join(t, c, 1, "alice", model.TierFree, "")
	otherConn, _ := join(t, c, 2, "bob", model.TierFree, "")

	c.MoveCursor(1, CursorMoveEvent{CellID: "A1", X: 0.5, Y: 0.5})

	assert.Eventually(t, func() bool { return otherConn.has("cursor_moved") },
		time.Second, 10*time.Millisecond)
	assert.False(t, senderConn.has("cursor_moved"))
}

func TestCoordinator_SnapshotObservesConsistentState(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")

	for i := 0; i < 3; i++ {
		_, err := c.ApplyCellEdit(context.Background(), 1, CellUpdateEvent{
			CellID: "A1", Value: "v", ExpectedVersion: int64(i),
		})
		require.NoError(t, err)
	}

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "room-uuid-1", snap.RoomID)
	assert.Equal(t, int64(3), snap.Version)
	assert.True(t, snap.Dirty)
	require.Len(t, snap.Cells, 1)
	assert.Equal(t, int64(3), snap.Cells[0].Version)

	// 스냅샷이 dirty를 소진했으므로 바로 다음 스냅샷은 clean
	snap, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Dirty)
}

func TestCoordinator_RoomActivatesAtMinPlayers(t *testing.T) {
	c := newTestCoordinator(t)

	_, result := join(t, c, 1, "alice", model.TierFree, "")
	assert.Equal(t, model.RoomStatusWaiting.String(), result.State.Status)

	_, result = join(t, c, 2, "bob", model.TierFree, "")
	assert.Equal(t, model.RoomStatusActive.String(), result.State.Status)
}

// 같은 셀을 연속 편집하면 각 연결은 적용 순서 그대로,
// 버전이 단조 증가하는 cell_updated 열을 받아야 한다.
func TestCoordinator_BroadcastPreservesApplyOrder(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	watcherConn, _ := join(t, c, 2, "bob", model.TierFree, "")

	const edits = 100
	for i := 0; i < edits; i++ {
		outcome, err := c.ApplyCellEdit(context.Background(), 1, CellUpdateEvent{
			CellID: "A1", Value: "v", ExpectedVersion: int64(i),
		})
		require.NoError(t, err)
		require.True(t, outcome.Accepted)
	}

	require.Eventually(t, func() bool {
		return len(watcherConn.cellVersions()) == edits
	}, 2*time.Second, 10*time.Millisecond)

	versions := watcherConn.cellVersions()
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v, "delivery order broken at index %d", i)
	}
}

// 셀 편집 없이 멤버십만 바뀌어도 스냅샷은 dirty로 표시되고,
// 떠난 멤버는 스냅샷 참가자 목록에서 빠져야 한다.
func TestCoordinator_MembershipChangeMarksSnapshotDirty(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	join(t, c, 2, "bob", model.TierFree, "")

	// join이 남긴 dirty를 소진
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Dirty)
	snap, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	require.False(t, snap.Dirty)

	require.NoError(t, c.Kick(context.Background(), 1, 2, "afk"))

	snap, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Dirty, "kick must mark the next snapshot dirty")
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, int64(1), snap.Participants[0].UserID)

	// 명시적 퇴장도 마찬가지
	join(t, c, 3, "carol", model.TierFree, "")
	c.Snapshot(context.Background())
	require.NoError(t, c.Leave(context.Background(), 3))
	snap, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Dirty, "leave must mark the next snapshot dirty")
}

func TestCoordinator_DisconnectMarksSnapshotDirty(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	join(t, c, 2, "bob", model.TierFree, "")
	c.Snapshot(context.Background())
	c.Snapshot(context.Background())

	c.Disconnect(2)

	assert.Eventually(t, func() bool {
		snap, err := c.Snapshot(context.Background())
		return err == nil && snap.Dirty
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_UseHint(t *testing.T) {
	c := newTestCoordinator(t)
	hostConn, _ := join(t, c, 1, "alice", model.TierFree, "")
	join(t, c, 2, "bob", model.TierFree, "")

	// 관전자는 힌트도 못 쓴다 (편집과 같은 게이트)
	_, err := c.UseHint(context.Background(), 2, "A1")
	assert.ErrorIs(t, err, ErrForbidden)

	count, err := c.UseHint(context.Background(), 1, "A1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = c.UseHint(context.Background(), 1, "A1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Eventually(t, func() bool { return hostConn.has("hint_used") },
		time.Second, 10*time.Millisecond)

	// 힌트는 셀 버전을 올리지 않아서 편집 충돌 판정에 영향이 없다
	outcome, err := c.ApplyCellEdit(context.Background(), 1, CellUpdateEvent{
		CellID: "A1", Value: "X", ExpectedVersion: 0,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Cells, 1)
	assert.Equal(t, 2, snap.Cells[0].HintsUsed)
}

func TestCoordinator_ChatTruncatesOnRuneBoundary(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	otherConn, _ := join(t, c, 2, "bob", model.TierFree, "")

	// 3바이트 문자로 한도를 넘겨서 경계가 문자 중간에 떨어지게 한다
	long := strings.Repeat("한", 700) // 2100 바이트
	require.NoError(t, c.PostMessage(context.Background(), 1, long))

	assert.Eventually(t, func() bool { return otherConn.has("chat_message") },
		time.Second, 10*time.Millisecond)

	otherConn.mu.Lock()
	defer otherConn.mu.Unlock()
	for _, frame := range otherConn.frames {
		var env Envelope
		if json.Unmarshal(frame, &env) != nil || env.Type != "chat_message" {
			continue
		}
		var ev ChatBroadcastEvent
		require.NoError(t, json.Unmarshal(env.Payload, &ev))
		assert.LessOrEqual(t, len(ev.Message), maxChatBytes)
		assert.True(t, utf8.ValidString(ev.Message), "truncation must not split a rune")
	}
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "ab", truncateUTF8("abcd", 2))

	// "한"은 3바이트: 한도 4는 문자 중간이라 3바이트에서 잘린다
	s := truncateUTF8("한한", 4)
	assert.Equal(t, "한", s)
	assert.True(t, utf8.ValidString(s))

	// 경계가 정확히 문자 끝이면 그대로 유지
	assert.Equal(t, "한", truncateUTF8("한한", 3))
}

func TestCoordinator_JoinStateIncludesActiveCursors(t *testing.T) {
	c := newTestCoordinator(t)
	join(t, c, 1, "alice", model.TierFree, "")
	c.MoveCursor(1, CursorMoveEvent{CellID: "B2", X: 0.3, Y: 0.7})

	// 다음 참가자의 초기화 스냅샷에 기존 커서가 실린다
	assert.Eventually(t, func() bool {
		conn := &fakeConn{}
		client := NewClient(99, "watcher", conn)
		defer client.Close()
		result, err := c.Join(context.Background(), 99, "watcher", model.TierFree, "", client)
		if err != nil {
			return false
		}
		c.Leave(context.Background(), 99)
		for _, cur := range result.State.Cursors {
			if cur.UserID == 1 && cur.CellID == "B2" {
				return true
			}
		}
		return false
	}, time.Second, 50*time.Millisecond)
}

func TestCoordinator_OperationsFailAfterShutdown(t *testing.T) {
	c := NewCoordinator(testRoomRow(), nil, nil, testRoomConfig(), nil, nil)
	c.Shutdown()

	conn := &fakeConn{}
	client := NewClient(1, "alice", conn)
	_, err := c.Join(context.Background(), 1, "alice", model.TierFree, "", client)
	assert.ErrorIs(t, err, ErrRoomClosed)
}
