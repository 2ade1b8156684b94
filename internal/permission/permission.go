package permission

import (
	"gridroom-backend/internal/model"
)

// Action 방 안에서 요청 가능한 행위
type Action string

const (
	ActionEditCell     Action = "EDIT_CELL"
	ActionKick         Action = "KICK"
	ActionTransferHost Action = "TRANSFER_HOST"
	ActionChangeRole   Action = "CHANGE_ROLE"
	ActionManageBackup Action = "MANAGE_BACKUP"
	ActionSendMessage  Action = "SEND_MESSAGE"
	ActionJoinAsPlayer Action = "JOIN_AS_PLAYER"
	ActionCreateRoom   Action = "CREATE_ROOM"
)

// Decision 허용/거부 결과. 거부 시 Reason이 채워진다.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// 구독 등급별 동시 생성 가능 방 수
var roomQuota = map[model.Tier]int{
	model.TierFree:    1,
	model.TierPlus:    5,
	model.TierPremium: 20,
}

// RoomQuota 등급별 방 생성 한도 조회
func RoomQuota(tier model.Tier) int {
	if q, ok := roomQuota[tier]; ok {
		return q
	}
	return roomQuota[model.TierFree]
}

// CanPerform 역할+구독 등급을 요청된 행위와 대조하는 순수 결정 함수.
// 서버 권위 경로와 (선택적으로) 클라이언트 UI 경로에서 같은 규칙을 공유하지만
// 신뢰되는 평가는 서버 쪽뿐이다.
func CanPerform(actorRole model.Role, actorTier model.Tier, action Action, settings model.RoomSettings) Decision {
	switch action {
	case ActionEditCell:
		// 격자 편집은 PLAYER/HOST 전용. MODERATOR는 방 설정이 허용할 때만.
		switch actorRole {
		case model.RoleHost, model.RolePlayer:
			return allow()
		case model.RoleModerator:
			if settings.ModeratorsCanEdit {
				return allow()
			}
			return deny("moderators cannot edit the grid in this room")
		default:
			return deny("spectators cannot edit the grid")
		}

	case ActionKick, ActionChangeRole:
		// 조정 행위는 HOST/MODERATOR만. 대상 검사는 CanModerate에서 별도 수행.
		if actorRole == model.RoleHost || actorRole == model.RoleModerator {
			return allow()
		}
		return deny("requires host or moderator role")

	case ActionTransferHost:
		if actorRole == model.RoleHost {
			return allow()
		}
		return deny("only the host can transfer host role")

	case ActionManageBackup:
		if actorRole == model.RoleHost {
			return allow()
		}
		return deny("only the host can manage backups")

	case ActionSendMessage:
		if actorRole == model.RoleSpectator && settings.ModerationLevel == "STRICT" {
			return deny("spectators cannot chat under strict moderation")
		}
		return allow()

	case ActionJoinAsPlayer:
		// 등급은 PLAYER 승격 자격을 가른다. 일단 PLAYER가 된 뒤의 편집권은 역할이 결정.
		if actorTier == model.TierFree {
			return deny("player seats require a paid tier")
		}
		return allow()

	case ActionCreateRoom:
		return allow() // 생성 한도는 RoomQuota로 별도 검사

	default:
		return deny("unknown action")
	}
}

// CanModerate 조정 행위의 대상 검사: 자신보다 상위 또는 동급 역할에는 행사 불가.
// MODERATOR는 HOST를 강퇴하거나 호스트를 이전할 수 없다.
func CanModerate(actorRole, targetRole model.Role) Decision {
	if actorRole.Rank() <= targetRole.Rank() {
		return deny("cannot moderate a participant of equal or higher role")
	}
	return allow()
}
