package room

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// Socket boundary - 닫힌 이벤트 집합 (tagged envelope)
// =============================================================================

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event payload")
)

// Envelope 소켓 경계를 넘는 모든 메시지의 공통 봉투
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event payloads

type JoinRoomEvent struct {
	UserID      int64  `json:"userId"`
	UserName    string `json:"userName"`
	DesiredRole string `json:"role,omitempty"`
}

type CellUpdateEvent struct {
	CellID          string `json:"cellId"`
	Value           string `json:"value"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type CursorMoveEvent struct {
	CellID string  `json:"cellId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type ChatMessageEvent struct {
	Message string `json:"message"`
}

type UseHintEvent struct {
	CellID string `json:"cellId"`
}

type LeaveRoomEvent struct {
	UserID int64 `json:"userId,omitempty"`
}

type KickEvent struct {
	TargetID int64  `json:"targetId"`
	Reason   string `json:"reason,omitempty"`
}

type TransferHostEvent struct {
	TargetID int64 `json:"targetId"`
}

// DecodeInbound 수신 바이트를 닫힌 이벤트 집합으로 검증/복원한다.
// 알 수 없는 타입이나 깨진 페이로드는 디스패치 전에 일괄 거부된다.
func DecodeInbound(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case "join_room":
		var ev JoinRoomEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		return env.Type, ev, nil
	case "cell_update":
		var ev CellUpdateEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		if ev.CellID == "" || ev.ExpectedVersion < 0 {
			return env.Type, nil, ErrMalformedEvent
		}
		return env.Type, ev, nil
	case "cursor_move":
		var ev CursorMoveEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		return env.Type, ev, nil
	case "chat_message":
		var ev ChatMessageEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		if ev.Message == "" {
			return env.Type, nil, ErrMalformedEvent
		}
		return env.Type, ev, nil
	case "use_hint":
		var ev UseHintEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		if ev.CellID == "" {
			return env.Type, nil, ErrMalformedEvent
		}
		return env.Type, ev, nil
	case "leave_room":
		var ev LeaveRoomEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		return env.Type, ev, nil
	case "kick":
		var ev KickEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		if ev.TargetID == 0 {
			return env.Type, nil, ErrMalformedEvent
		}
		return env.Type, ev, nil
	case "transfer_host":
		var ev TransferHostEvent
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return env.Type, nil, err
		}
		if ev.TargetID == 0 {
			return env.Type, nil, ErrMalformedEvent
		}
		return env.Type, ev, nil
	default:
		return env.Type, nil, ErrUnknownEvent
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Outbound event payloads

type ParticipantInfo struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
	IsOnline bool   `json:"isOnline"`
	JoinedAt int64  `json:"joinedAt"`
}

type CellInfo struct {
	CellID      string `json:"cellId"`
	Value       string `json:"value"`
	Version     int64  `json:"version"`
	IsCompleted bool   `json:"isCompleted"`
}

type CursorInfo struct {
	UserID int64   `json:"userId"`
	CellID string  `json:"cellId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Fading bool    `json:"fading"`
}

type RoomStateEvent struct {
	RoomID       string            `json:"roomId"`
	Code         string            `json:"code"`
	Status       string            `json:"status"`
	Participants []ParticipantInfo `json:"participants"`
	GridState    []CellInfo        `json:"gridState"`
	Cursors      []CursorInfo      `json:"cursors"`
	Version      int64             `json:"version"`
}

type CellUpdatedEvent struct {
	CellID      string `json:"cellId"`
	Value       string `json:"value"`
	Version     int64  `json:"version"`
	EditorID    int64  `json:"editorId"`
	IsCompleted bool   `json:"isCompleted"`
}

type CellConflictEvent struct {
	CellID         string `json:"cellId"`
	CurrentValue   string `json:"currentValue"`
	CurrentVersion int64  `json:"currentVersion"`
}

type CursorMovedEvent struct {
	UserID int64   `json:"userId"`
	CellID string  `json:"cellId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type HintUsedEvent struct {
	CellID    string `json:"cellId"`
	UserID    int64  `json:"userId"`
	HintsUsed int    `json:"hintsUsed"`
}

type HostChangedEvent struct {
	NewHostID      int64 `json:"newHostId"`
	PreviousHostID int64 `json:"previousHostId"`
}

type PlayerKickedEvent struct {
	UserID int64  `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

type PresenceUpdateEvent struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
	IsOnline bool   `json:"isOnline"`
}

type ChatBroadcastEvent struct {
	SenderID  int64  `json:"senderId"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Encode 송신 이벤트를 봉투에 싸서 직렬화한다.
func Encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}
