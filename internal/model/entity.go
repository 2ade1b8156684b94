package model

import (
	"time"

	"gorm.io/gorm"
)

// User 사용자 (외부 인증 공급자가 내려주는 신원 정보의 미러)
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Nickname  string    `gorm:"type:varchar(100);not null" json:"nickname"`
	Tier      string    `gorm:"type:varchar(20);default:'FREE'" json:"tier"` // FREE, PLUS, PREMIUM
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Participants []Participant `gorm:"foreignKey:UserID" json:"participants,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// RoomSettings 방 설정 (rooms.settings JSONB에 직렬화)
type RoomSettings struct {
	MaxPlayers        int    `json:"maxPlayers"`        // 2~10
	AllowSpectators   bool   `json:"allowSpectators"`   // 관전자 입장 허용
	ModeratorsCanEdit bool   `json:"moderatorsCanEdit"` // MODERATOR 격자 편집 허용
	ModerationLevel   string `json:"moderationLevel"`   // OFF, BASIC, STRICT
}

// Room 협업 퍼즐 방
type Room struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	Code         string         `gorm:"type:varchar(12);uniqueIndex;not null" json:"code"`
	HostID       int64          `gorm:"not null" json:"host_id"`
	Status       string         `gorm:"type:varchar(20);default:'WAITING'" json:"status"` // WAITING, ACTIVE, COMPLETED, EXPIRED
	Settings     RoomSettings   `gorm:"type:jsonb;serializer:json" json:"settings"`
	StateVersion int64          `gorm:"default:0" json:"state_version"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Host         User          `gorm:"foreignKey:HostID" json:"host,omitempty"`
	Participants []Participant `gorm:"foreignKey:RoomID" json:"participants,omitempty"`
	Cells        []CellState   `gorm:"foreignKey:RoomID" json:"cells,omitempty"`
	Backups      []Backup      `gorm:"foreignKey:RoomID" json:"backups,omitempty"`
	Activities   []ActivityLog `gorm:"foreignKey:RoomID" json:"activities,omitempty"`
}

func (Room) TableName() string {
	return "rooms"
}

// Participant 방 참가자
type Participant struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID     string    `gorm:"type:uuid;not null;uniqueIndex:idx_room_user" json:"room_id"`
	UserID     int64     `gorm:"not null;uniqueIndex:idx_room_user" json:"user_id"`
	Nickname   string    `gorm:"type:varchar(100);not null" json:"nickname"`
	Role       string    `gorm:"type:varchar(20);not null" json:"role"` // HOST, MODERATOR, PLAYER, SPECTATOR
	IsOnline   bool      `gorm:"default:true" json:"is_online"`
	JoinedAt   time.Time `gorm:"autoCreateTime" json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`

	// Relations
	Room Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Participant) TableName() string {
	return "participants"
}

// CellState 격자 셀 상태 (version이 낙관적 동시성 토큰)
type CellState struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_room_cell" json:"room_id"`
	CellID       string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_room_cell" json:"cell_id"`
	Value        string    `gorm:"type:varchar(10)" json:"value"`
	Version      int64     `gorm:"default:0" json:"version"`
	IsCompleted  bool      `gorm:"default:false" json:"is_completed"`
	Attempts     int       `gorm:"default:0" json:"attempts"`
	HintsUsed    int       `gorm:"default:0" json:"hints_used"`
	LastWriterID int64     `json:"last_writer_id"`
	LastWriteAt  time.Time `json:"last_write_at"`

	// Relations
	Room Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
}

func (CellState) TableName() string {
	return "cell_states"
}

// Backup 방 백업 (스냅샷 전체를 JSONB로 보관)
type Backup struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID      string    `gorm:"type:uuid;not null;index" json:"room_id"`
	CreatorID   int64     `gorm:"not null" json:"creator_id"`
	Type        string    `gorm:"type:varchar(20);not null" json:"type"` // MANUAL, AUTO, IMPORT_BACKUP
	Data        string    `gorm:"type:jsonb;not null" json:"-"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	IsCorrupted bool      `gorm:"default:false" json:"is_corrupted"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`

	// Relations
	Room    Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	Creator User `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
}

func (Backup) TableName() string {
	return "backups"
}

// IsExpired 만료 여부 (저장 시점이 아니라 조회 시점에 판정)
func (b *Backup) IsExpired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// ActivityLog 방 활동 로그 (append-only, 방 삭제 캐스케이드 외에는 수정/삭제 없음)
type ActivityLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID      string    `gorm:"type:uuid;not null;index:idx_activity_room_created" json:"room_id"`
	ActorID     int64     `gorm:"not null" json:"actor_id"`
	Action      string    `gorm:"type:varchar(40);not null" json:"action"`
	Description string    `gorm:"type:text" json:"description"`
	Metadata    string    `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_activity_room_created" json:"created_at"`

	// Relations
	Room  Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	Actor User `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

// ChatMessage 방 채팅 메시지
type ChatMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    string    `gorm:"type:uuid;not null;index" json:"room_id"`
	SenderID  int64     `gorm:"not null" json:"sender_id"`
	Nickname  string    `gorm:"type:varchar(100)" json:"nickname"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Type      string    `gorm:"type:varchar(20);default:'TEXT'" json:"type"` // TEXT, SYSTEM
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Room   Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	Sender User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
