package model

// Role 참가자 역할 (HOST > MODERATOR > PLAYER > SPECTATOR)
type Role string

const (
	RoleHost      Role = "HOST"
	RoleModerator Role = "MODERATOR"
	RolePlayer    Role = "PLAYER"
	RoleSpectator Role = "SPECTATOR"
)

func (r Role) String() string {
	return string(r)
}

// Rank 역할 서열 (조정 권한 비교용, 높을수록 상위)
func (r Role) Rank() int {
	switch r {
	case RoleHost:
		return 4
	case RoleModerator:
		return 3
	case RolePlayer:
		return 2
	case RoleSpectator:
		return 1
	default:
		return 0
	}
}

// RoomStatus 방 생명주기 상태
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "WAITING"
	RoomStatusActive    RoomStatus = "ACTIVE"
	RoomStatusCompleted RoomStatus = "COMPLETED"
	RoomStatusExpired   RoomStatus = "EXPIRED"
)

func (s RoomStatus) String() string {
	return string(s)
}

// BackupType 백업 생성 경로
type BackupType string

const (
	BackupTypeManual BackupType = "MANUAL"
	BackupTypeAuto   BackupType = "AUTO"
	BackupTypeImport BackupType = "IMPORT_BACKUP"
)

func (t BackupType) String() string {
	return string(t)
}

// Tier 구독 등급
type Tier string

const (
	TierFree    Tier = "FREE"
	TierPlus    Tier = "PLUS"
	TierPremium Tier = "PREMIUM"
)

func (t Tier) String() string {
	return string(t)
}

// 활동 로그 액션 종류
const (
	ActionRoomCreated    = "ROOM_CREATED"
	ActionRoleChanged    = "ROLE_CHANGED"
	ActionHostChanged    = "HOST_CHANGED"
	ActionPlayerKicked   = "PLAYER_KICKED"
	ActionBackupCreated  = "BACKUP_CREATED"
	ActionBackupRestored = "BACKUP_RESTORED"
	ActionBackupDeleted  = "BACKUP_DELETED"
	ActionDataImported   = "DATA_IMPORTED"
	ActionRoomRestored   = "ROOM_RESTORED"
)
