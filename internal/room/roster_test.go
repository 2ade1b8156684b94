package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridroom-backend/internal/model"
)

func TestRoster_SingleHostInvariant(t *testing.T) {
	r := NewRoster()
	base := time.Now()

	r.Add(1, "host", model.RoleHost, base)
	r.Add(2, "mod", model.RoleModerator, base.Add(time.Second))
	r.Add(3, "player", model.RolePlayer, base.Add(2*time.Second))

	countHosts := func() int {
		count := 0
		for _, id := range []int64{1, 2, 3} {
			if m, ok := r.Get(id); ok && m.Role == model.RoleHost {
				count++
			}
		}
		return count
	}

	assert.Equal(t, 1, countHosts())

	ok := r.TransferHost(1, 2)
	require.True(t, ok)
	assert.Equal(t, 1, countHosts())

	// 이전 호스트는 MODERATOR로 강등
	m, _ := r.Get(1)
	assert.Equal(t, model.RoleModerator, m.Role)
	m, _ = r.Get(2)
	assert.Equal(t, model.RoleHost, m.Role)
}

func TestRoster_TransferHostRejectsNonHost(t *testing.T) {
	r := NewRoster()
	now := time.Now()
	r.Add(1, "host", model.RoleHost, now)
	r.Add(2, "player", model.RolePlayer, now)

	assert.False(t, r.TransferHost(2, 1)) // 호스트가 아닌 쪽에서 이전 시도
	assert.False(t, r.TransferHost(1, 99)) // 없는 대상
	assert.False(t, r.TransferHost(99, 1)) // 없는 행위자

	m, _ := r.Get(1)
	assert.Equal(t, model.RoleHost, m.Role)
}

func TestRoster_PromoteSuccessorPrefersLongestTenuredModerator(t *testing.T) {
	r := NewRoster()
	base := time.Now()

	r.Add(1, "host", model.RoleHost, base)
	r.Add(2, "mod-late", model.RoleModerator, base.Add(3*time.Second))
	r.Add(3, "mod-early", model.RoleModerator, base.Add(time.Second))
	r.Add(4, "player", model.RolePlayer, base.Add(2*time.Second))

	r.Remove(1)
	newHostID, ok := r.PromoteSuccessor()
	require.True(t, ok)
	assert.Equal(t, int64(3), newHostID) // 최장 재적 온라인 MODERATOR

	m, _ := r.Get(3)
	assert.Equal(t, model.RoleHost, m.Role)
}

func TestRoster_PromoteSuccessorFallsBackToPlayer(t *testing.T) {
	r := NewRoster()
	base := time.Now()

	r.Add(1, "host", model.RoleHost, base)
	r.Add(2, "offline-mod", model.RoleModerator, base.Add(time.Second))
	r.SetOnline(2, false, base.Add(time.Minute))
	r.Add(3, "player", model.RolePlayer, base.Add(2*time.Second))
	r.Add(4, "spectator", model.RoleSpectator, base.Add(3*time.Second))

	r.Remove(1)
	newHostID, ok := r.PromoteSuccessor()
	require.True(t, ok)
	// 오프라인 MODERATOR는 건너뛰고 온라인 PLAYER가 승계
	assert.Equal(t, int64(3), newHostID)
}

func TestRoster_PromoteSuccessorNoEligible(t *testing.T) {
	r := NewRoster()
	base := time.Now()

	r.Add(1, "host", model.RoleHost, base)
	r.Add(2, "spectator", model.RoleSpectator, base.Add(time.Second))

	r.Remove(1)
	_, ok := r.PromoteSuccessor()
	assert.False(t, ok) // SPECTATOR는 승계 대상이 아니다
}

func TestRoster_RejoinKeepsRole(t *testing.T) {
	r := NewRoster()
	base := time.Now()

	r.Add(5, "mod", model.RoleModerator, base)
	r.SetOnline(5, false, base.Add(time.Minute))

	// 재접속: 기본 역할을 SPECTATOR로 요청해도 기존 MODERATOR 유지
	m := r.Add(5, "mod", model.RoleSpectator, base.Add(2*time.Minute))
	assert.Equal(t, model.RoleModerator, m.Role)
	assert.True(t, m.IsOnline)
	// 최초 입장 시각은 보존된다
	assert.Equal(t, base.Unix(), m.JoinedAt.Unix())
}

func TestRoster_PlayerCountIncludesHost(t *testing.T) {
	r := NewRoster()
	now := time.Now()

	r.Add(1, "host", model.RoleHost, now)
	r.Add(2, "player", model.RolePlayer, now)
	r.Add(3, "mod", model.RoleModerator, now)
	r.Add(4, "spec", model.RoleSpectator, now)

	assert.Equal(t, 2, r.PlayerCount())
	assert.Equal(t, 4, r.OnlineCount())
}

func TestRoster_SnapshotSortedByJoinTime(t *testing.T) {
	r := NewRoster()
	base := time.Now()

	r.Add(3, "c", model.RolePlayer, base.Add(2*time.Second))
	r.Add(1, "a", model.RoleHost, base)
	r.Add(2, "b", model.RolePlayer, base.Add(time.Second))

	infos := r.Snapshot()
	require.Len(t, infos, 3)
	assert.Equal(t, int64(1), infos[0].UserID)
	assert.Equal(t, int64(2), infos[1].UserID)
	assert.Equal(t, int64(3), infos[2].UserID)
}
