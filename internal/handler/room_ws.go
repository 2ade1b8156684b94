package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/presence"
	"gridroom-backend/internal/room"
)

// RoomWSHandler WebSocket 방 동기화 핸들러
type RoomWSHandler struct {
	hub      *room.Hub
	presence *presence.Manager
	serverID string
}

// NewRoomWSHandler RoomWSHandler 생성
func NewRoomWSHandler(hub *room.Hub, pm *presence.Manager, serverID string) *RoomWSHandler {
	return &RoomWSHandler{hub: hub, presence: pm, serverID: serverID}
}

// HandleWebSocket WebSocket 연결 처리. 경로: /ws/rooms/:code
func (h *RoomWSHandler) HandleWebSocket(c *websocket.Conn) {
	// 업그레이드 전에 미들웨어가 세팅한 세션 정보 (안전한 타입 변환)
	userID, ok1 := c.Locals("userID").(int64)
	nickname, ok2 := c.Locals("nickname").(string)
	tier, _ := c.Locals("tier").(string)
	code := c.Params("code")

	if !ok1 || !ok2 || code == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"invalid session"}}`))
		c.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	coordinator, err := h.hub.GetOrLoad(ctx, code)
	cancel()
	if err != nil {
		h.writeError(c, err)
		c.Close()
		return
	}

	// 첫 메시지는 join_room이어야 한다
	client, joinResult, err := h.awaitJoin(c, coordinator, userID, nickname, tier)
	if err != nil {
		h.writeError(c, err)
		if client != nil {
			client.Close()
		}
		c.Close()
		return
	}

	log.Printf("[WS] User %d joined room %s as %s", userID, code, joinResult.Role)

	heartbeatStop := make(chan struct{})
	if h.presence != nil {
		// 같은 사용자가 다른 인스턴스에 살아 있으면 이 연결이 이어받는다
		if prev, err := h.presence.GetPresence(userID); err == nil && prev != nil && prev.ServerID != h.serverID {
			log.Printf("[WS] User %d presence taken over from server %s", userID, prev.ServerID)
		}
		h.presence.SetPresence(userID, coordinator.RoomID, joinResult.Role.String(), presence.StatusOnline, h.serverID)
		go h.heartbeatLoop(heartbeatStop, coordinator, userID, joinResult.Role.String())
	}

	defer func() {
		close(heartbeatStop)
		coordinator.Disconnect(userID)
		if h.presence != nil {
			h.presence.RemovePresence(userID, coordinator.RoomID)
		}
		client.Close()
		c.Close()
		log.Printf("[WS] User %d disconnected from room %s", userID, code)
	}()

	// 초기화 스냅샷 전송
	if data, err := room.Encode("room_state", joinResult.State); err == nil {
		client.Send(data)
	}

	h.readLoop(c, coordinator, client, userID)
}

// heartbeatLoop presence TTL(60초)이 끊기지 않게 30초마다 생존 신고한다.
// 키가 이미 만료됐으면 재등록한다.
func (h *RoomWSHandler) heartbeatLoop(stop <-chan struct{}, coordinator *room.Coordinator,
	userID int64, role string) {

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := h.presence.UpdateHeartbeat(userID); err != nil {
				h.presence.SetPresence(userID, coordinator.RoomID, role, presence.StatusOnline, h.serverID)
			}
		}
	}
}

// awaitJoin join_room 이벤트를 기다려 방 참가를 완료한다.
func (h *RoomWSHandler) awaitJoin(c *websocket.Conn, coordinator *room.Coordinator,
	userID int64, nickname, tier string) (*room.Client, room.JoinResult, error) {

	_, msgBytes, err := c.ReadMessage()
	if err != nil {
		return nil, room.JoinResult{}, room.ErrMalformedEvent
	}

	eventType, payload, err := room.DecodeInbound(msgBytes)
	if err != nil || eventType != "join_room" {
		return nil, room.JoinResult{}, room.ErrMalformedEvent
	}
	joinEv, _ := payload.(room.JoinRoomEvent)

	client := room.NewClient(userID, nickname, c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := coordinator.Join(ctx, userID, nickname, model.Tier(tier),
		model.Role(joinEv.DesiredRole), client)
	if err != nil {
		// 쓰기 고루틴이 이미 떠 있으므로 호출자가 Close로 정리한다
		return client, room.JoinResult{}, err
	}
	return client, result, nil
}

// readLoop 수신 루프. 이벤트를 디코드해 코디네이터로 라우팅한다.
func (h *RoomWSHandler) readLoop(c *websocket.Conn, coordinator *room.Coordinator,
	client *room.Client, userID int64) {

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			return
		}

		eventType, payload, err := room.DecodeInbound(msgBytes)
		if err != nil {
			// 알 수 없거나 깨진 이벤트는 디스패치 없이 일괄 거부
			h.sendError(client, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h.dispatch(ctx, coordinator, client, userID, eventType, payload)
		cancel()
	}
}

func (h *RoomWSHandler) dispatch(ctx context.Context,
	coordinator *room.Coordinator, client *room.Client, userID int64,
	eventType string, payload any) {

	switch eventType {
	case "cell_update":
		ev := payload.(room.CellUpdateEvent)
		outcome, err := coordinator.ApplyCellEdit(ctx, userID, ev)
		if err != nil {
			h.sendError(client, err)
			return
		}
		// 거부는 호출자에게만 권위 현재 값을 돌려준다
		if !outcome.Accepted {
			if data, err := room.Encode("cell_conflict", room.CellConflictEvent{
				CellID:         outcome.CellID,
				CurrentValue:   outcome.Value,
				CurrentVersion: outcome.Version,
			}); err == nil {
				client.Send(data)
			}
		}

	case "cursor_move":
		ev := payload.(room.CursorMoveEvent)
		coordinator.MoveCursor(userID, ev)

	case "chat_message":
		ev := payload.(room.ChatMessageEvent)
		if err := coordinator.PostMessage(ctx, userID, ev.Message); err != nil {
			h.sendError(client, err)
		}

	case "use_hint":
		ev := payload.(room.UseHintEvent)
		if _, err := coordinator.UseHint(ctx, userID, ev.CellID); err != nil {
			h.sendError(client, err)
		}

	case "kick":
		ev := payload.(room.KickEvent)
		if err := coordinator.Kick(ctx, userID, ev.TargetID, ev.Reason); err != nil {
			h.sendError(client, err)
		}

	case "transfer_host":
		ev := payload.(room.TransferHostEvent)
		if err := coordinator.TransferHost(ctx, userID, ev.TargetID); err != nil {
			h.sendError(client, err)
		}

	case "leave_room":
		if err := coordinator.Leave(ctx, userID); err != nil {
			h.sendError(client, err)
		}

	case "join_room":
		// 이미 참가 완료된 연결의 중복 join은 무시
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, room.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, room.ErrRoomFull):
		return "ROOM_FULL"
	case errors.Is(err, room.ErrRoomClosed):
		return "ROOM_CLOSED"
	case errors.Is(err, room.ErrUnknownEvent), errors.Is(err, room.ErrMalformedEvent):
		return "BAD_EVENT"
	default:
		return "INTERNAL"
	}
}

// writeError join 전 에러 전송. 이 시점에는 쓰기 고루틴이 없어서
// 소켓에 직접 쓴다. join 이후에는 반드시 sendError를 쓴다.
func (h *RoomWSHandler) writeError(c *websocket.Conn, err error) {
	if data, encErr := room.Encode("error", room.ErrorEvent{
		Message: err.Error(),
		Code:    errorCode(err),
	}); encErr == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}
}

// sendError join 후 에러 전송. 브로드캐스트와 같은 쓰기 고루틴을 지나므로
// 소켓에 동시 쓰기가 생기지 않는다.
func (h *RoomWSHandler) sendError(client *room.Client, err error) {
	if data, encErr := room.Encode("error", room.ErrorEvent{
		Message: err.Error(),
		Code:    errorCode(err),
	}); encErr == nil {
		client.Send(data)
	}
}
