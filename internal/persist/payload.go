package persist

import (
	"encoding/json"
	"time"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/room"
)

// =============================================================================
// Backup Payload - 백업/내보내기 직렬화 형식
// =============================================================================

// Payload 백업 레코드 하나에 담기는 전체 스냅샷.
// room / puzzle / messages 세 섹션은 복원 검증에서 필수다.
type Payload struct {
	Room         RoomSection      `json:"room"`
	Participants []ParticipantRow `json:"participants"`
	Puzzle       PuzzleSection    `json:"puzzle"`
	Messages     []MessageRow     `json:"messages"`
	Activities   []ActivityRow    `json:"activities"`
	Metadata     Metadata         `json:"metadata"`
}

// RoomSection 방 상태 섹션
type RoomSection struct {
	ID       string              `json:"id"`
	Code     string              `json:"code"`
	HostID   int64               `json:"hostId"`
	State    string              `json:"state"`
	Version  int64               `json:"version"`
	Settings *model.RoomSettings `json:"settings,omitempty"`
}

// PuzzleSection 격자 상태 섹션
type PuzzleSection struct {
	State []CellRow `json:"state"`
}

// CellRow 셀 한 칸의 직렬화 형태
type CellRow struct {
	CellID      string `json:"cellId"`
	Value       string `json:"value"`
	Version     int64  `json:"version"`
	IsCompleted bool   `json:"isCompleted"`
	Attempts    int    `json:"attempts"`
	HintsUsed   int    `json:"hintsUsed"`
}

// ParticipantRow 참가자 직렬화 형태
type ParticipantRow struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
	JoinedAt string `json:"joinedAt"`
}

// MessageRow 채팅 메시지 직렬화 형태
type MessageRow struct {
	SenderID  int64  `json:"senderId"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
}

// ActivityRow 활동 로그 직렬화 형태
type ActivityRow struct {
	ActorID     int64  `json:"actorId"`
	Action      string `json:"action"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

// Metadata 백업 메타데이터
type Metadata struct {
	CreatedAt string `json:"createdAt"`
	CreatedBy int64  `json:"createdBy"`
	Type      string `json:"type"`
}

// BuildPayload 코디네이터 스냅샷과 부가 데이터로 백업 페이로드를 조립한다.
func BuildPayload(snap room.RoomSnapshot, messages []model.ChatMessage,
	activities []model.ActivityLog, creatorID int64, backupType model.BackupType) Payload {

	p := Payload{
		Room: RoomSection{
			ID:       snap.RoomID,
			Code:     snap.Code,
			HostID:   snap.HostID,
			State:    snap.Status.String(),
			Version:  snap.Version,
			Settings: &snap.Settings,
		},
		Participants: make([]ParticipantRow, 0, len(snap.Participants)),
		Puzzle:       PuzzleSection{State: make([]CellRow, 0, len(snap.Cells))},
		Messages:     make([]MessageRow, 0, len(messages)),
		Activities:   make([]ActivityRow, 0, len(activities)),
		Metadata: Metadata{
			CreatedAt: time.Now().Format(time.RFC3339),
			CreatedBy: creatorID,
			Type:      backupType.String(),
		},
	}

	for _, pt := range snap.Participants {
		p.Participants = append(p.Participants, ParticipantRow{
			UserID:   pt.UserID,
			Nickname: pt.Nickname,
			Role:     pt.Role,
			JoinedAt: pt.JoinedAt.Format(time.RFC3339),
		})
	}
	for _, c := range snap.Cells {
		p.Puzzle.State = append(p.Puzzle.State, CellRow{
			CellID:      c.CellID,
			Value:       c.Value,
			Version:     c.Version,
			IsCompleted: c.IsCompleted,
			Attempts:    c.Attempts,
			HintsUsed:   c.HintsUsed,
		})
	}
	for _, m := range messages {
		p.Messages = append(p.Messages, MessageRow{
			SenderID:  m.SenderID,
			Nickname:  m.Nickname,
			Message:   m.Message,
			Type:      m.Type,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	for _, a := range activities {
		p.Activities = append(p.Activities, ActivityRow{
			ActorID:     a.ActorID,
			Action:      a.Action,
			Description: a.Description,
			CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		})
	}
	return p
}

// EncodePayload JSON 직렬화
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload JSON 역직렬화. 구조 검증은 Validate가 담당한다.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}

// CellRows 페이로드의 퍼즐 섹션을 CellState 행으로 변환한다.
func (p Payload) CellRows(roomID string, now time.Time) []model.CellState {
	rows := make([]model.CellState, 0, len(p.Puzzle.State))
	for _, c := range p.Puzzle.State {
		rows = append(rows, model.CellState{
			RoomID:      roomID,
			CellID:      c.CellID,
			Value:       c.Value,
			Version:     c.Version,
			IsCompleted: c.IsCompleted,
			Attempts:    c.Attempts,
			HintsUsed:   c.HintsUsed,
			LastWriteAt: now,
		})
	}
	return rows
}
