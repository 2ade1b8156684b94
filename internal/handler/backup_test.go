package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/permission"
)

func backupRoomFixture(hostID int64) *model.Room {
	return &model.Room{
		ID:     "room-1",
		Code:   "ABCD12",
		HostID: hostID,
		Settings: model.RoomSettings{
			MaxPlayers:      4,
			AllowSpectators: true,
		},
	}
}

func TestEffectiveRole(t *testing.T) {
	row := backupRoomFixture(10)

	// 기록상 호스트는 참가자 행이 없어도 HOST
	assert.Equal(t, model.RoleHost, effectiveRole(row, "", 10))
	// 참가자 행의 역할이 그대로 실효 역할이 된다
	assert.Equal(t, model.RoleModerator, effectiveRole(row, "MODERATOR", 20))
	assert.Equal(t, model.RolePlayer, effectiveRole(row, "PLAYER", 30))
	// 행이 없는 외부 사용자는 관전자 취급
	assert.Equal(t, model.RoleSpectator, effectiveRole(row, "", 40))
}

// 백업 수명주기는 조회성 엔드포인트까지 전부 호스트 권한 범위다.
// 플레이어/관전자/모더레이터는 목록 조회나 통계조차 통과하면 안 된다.
func TestBackupAccess_NonHostDenied(t *testing.T) {
	row := backupRoomFixture(10)

	for _, participantRole := range []string{"", "SPECTATOR", "PLAYER", "MODERATOR"} {
		role := effectiveRole(row, participantRole, 99)
		d := permission.CanPerform(role, "", permission.ActionManageBackup, row.Settings)
		assert.False(t, d.Allowed, "role %q should not manage backups", participantRole)
	}

	host := effectiveRole(row, "", 10)
	assert.True(t, permission.CanPerform(host, "", permission.ActionManageBackup, row.Settings).Allowed)
}
