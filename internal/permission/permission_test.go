package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/permission"
)

func TestCanPerform_EditCell(t *testing.T) {
	settings := model.RoomSettings{}

	assert.True(t, permission.CanPerform(model.RoleHost, "", permission.ActionEditCell, settings).Allowed)
	assert.True(t, permission.CanPerform(model.RolePlayer, "", permission.ActionEditCell, settings).Allowed)
	assert.False(t, permission.CanPerform(model.RoleSpectator, "", permission.ActionEditCell, settings).Allowed)

	// MODERATOR는 방 설정이 허용할 때만 편집 가능
	assert.False(t, permission.CanPerform(model.RoleModerator, "", permission.ActionEditCell, settings).Allowed)
	settings.ModeratorsCanEdit = true
	assert.True(t, permission.CanPerform(model.RoleModerator, "", permission.ActionEditCell, settings).Allowed)
}

func TestCanPerform_DenyCarriesReason(t *testing.T) {
	d := permission.CanPerform(model.RoleSpectator, "", permission.ActionEditCell, model.RoomSettings{})
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)
}

func TestCanPerform_Moderation(t *testing.T) {
	settings := model.RoomSettings{}

	assert.True(t, permission.CanPerform(model.RoleHost, "", permission.ActionKick, settings).Allowed)
	assert.True(t, permission.CanPerform(model.RoleModerator, "", permission.ActionKick, settings).Allowed)
	assert.False(t, permission.CanPerform(model.RolePlayer, "", permission.ActionKick, settings).Allowed)
	assert.False(t, permission.CanPerform(model.RoleSpectator, "", permission.ActionKick, settings).Allowed)
}

func TestCanPerform_TransferHostAndBackup(t *testing.T) {
	settings := model.RoomSettings{}

	assert.True(t, permission.CanPerform(model.RoleHost, "", permission.ActionTransferHost, settings).Allowed)
	assert.False(t, permission.CanPerform(model.RoleModerator, "", permission.ActionTransferHost, settings).Allowed)

	assert.True(t, permission.CanPerform(model.RoleHost, "", permission.ActionManageBackup, settings).Allowed)
	assert.False(t, permission.CanPerform(model.RoleModerator, "", permission.ActionManageBackup, settings).Allowed)
}

func TestCanPerform_JoinAsPlayerTierGate(t *testing.T) {
	settings := model.RoomSettings{}

	assert.False(t, permission.CanPerform(model.RolePlayer, model.TierFree, permission.ActionJoinAsPlayer, settings).Allowed)
	assert.True(t, permission.CanPerform(model.RolePlayer, model.TierPlus, permission.ActionJoinAsPlayer, settings).Allowed)
	assert.True(t, permission.CanPerform(model.RolePlayer, model.TierPremium, permission.ActionJoinAsPlayer, settings).Allowed)
}

func TestCanPerform_SendMessageStrictModeration(t *testing.T) {
	strict := model.RoomSettings{ModerationLevel: "STRICT"}

	assert.False(t, permission.CanPerform(model.RoleSpectator, "", permission.ActionSendMessage, strict).Allowed)
	assert.True(t, permission.CanPerform(model.RolePlayer, "", permission.ActionSendMessage, strict).Allowed)

	basic := model.RoomSettings{ModerationLevel: "BASIC"}
	assert.True(t, permission.CanPerform(model.RoleSpectator, "", permission.ActionSendMessage, basic).Allowed)
}

func TestCanPerform_UnknownAction(t *testing.T) {
	d := permission.CanPerform(model.RoleHost, "", permission.Action("NOPE"), model.RoomSettings{})
	assert.False(t, d.Allowed)
}

func TestCanModerate(t *testing.T) {
	// 상위가 하위를 조정하는 것만 허용
	assert.True(t, permission.CanModerate(model.RoleHost, model.RoleModerator).Allowed)
	assert.True(t, permission.CanModerate(model.RoleHost, model.RolePlayer).Allowed)
	assert.True(t, permission.CanModerate(model.RoleModerator, model.RolePlayer).Allowed)
	assert.True(t, permission.CanModerate(model.RoleModerator, model.RoleSpectator).Allowed)

	// 동급 이상은 거부
	assert.False(t, permission.CanModerate(model.RoleModerator, model.RoleModerator).Allowed)
	assert.False(t, permission.CanModerate(model.RoleModerator, model.RoleHost).Allowed)
	assert.False(t, permission.CanModerate(model.RoleHost, model.RoleHost).Allowed)
}

func TestRoomQuota(t *testing.T) {
	assert.Equal(t, 1, permission.RoomQuota(model.TierFree))
	assert.Equal(t, 5, permission.RoomQuota(model.TierPlus))
	assert.Equal(t, 20, permission.RoomQuota(model.TierPremium))
	// 알 수 없는 등급은 FREE로 취급
	assert.Equal(t, 1, permission.RoomQuota(model.Tier("UNKNOWN")))
}
