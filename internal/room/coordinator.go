package room

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"gridroom-backend/internal/config"
	"gridroom-backend/internal/model"
	"gridroom-backend/internal/permission"
)

// =============================================================================
// Room Coordinator - 방 단위 직렬 액터
// =============================================================================

// Sink 코디네이터가 핫패스 밖에서 내보내는 부수 기록의 수신자.
// 구현은 블로킹하지 않아야 한다 (내부적으로 비동기 처리).
type Sink interface {
	LogActivity(entry model.ActivityLog)
	SaveChat(msg model.ChatMessage)
}

// RoomSnapshot 한 시점의 방 전체 상태 캡처.
// 코디네이터의 명령 큐를 통해 채취되므로 일관된 시점을 관측한다.
type RoomSnapshot struct {
	RoomID       string
	Code         string
	HostID       int64
	Status       model.RoomStatus
	Settings     model.RoomSettings
	Version      int64
	Participants []model.Participant
	Cells        []model.CellState
	Dirty        bool
	TakenAt      time.Time
}

// JoinResult join 요청의 결과: 배정된 역할과 초기화용 전체 스냅샷
type JoinResult struct {
	Role  model.Role
	State RoomStateEvent
}

// Coordinator is the single authority for one room's mutable state.
// Every mutating request is funneled through a command channel and applied
// by one goroutine, so per-room operations are totally ordered and the
// grid/roster/cursor structures need no locking.
type Coordinator struct {
	RoomID string
	Code   string

	creatorID int64
	status    model.RoomStatus
	settings  model.RoomSettings
	version   int64
	dirty     bool // 마지막 스냅샷 이후 멤버십/역할 변경 여부

	grid    *Grid
	roster  *Roster
	cursors *CursorSet
	clients map[int64]*Client

	cmds   chan command
	ctx    context.Context
	cancel context.CancelFunc

	sink         Sink
	cfg          config.RoomConfig
	lastActivity time.Time
}

type command interface {
	execute(c *Coordinator)
}

// NewCoordinator 방 코디네이터 생성 및 구동.
// completion은 퍼즐 콘텐츠 서비스가 공급하는 정답 술어 (nil 허용).
func NewCoordinator(row *model.Room, participants []model.Participant, cells []model.CellState,
	cfg config.RoomConfig, sink Sink, completion CompletionFn) *Coordinator {

	ctx, cancel := context.WithCancel(context.Background())

	grid := NewGrid(completion)
	grid.Load(cells)

	roster := NewRoster()
	roster.Load(participants)

	c := &Coordinator{
		RoomID:       row.ID,
		Code:         row.Code,
		creatorID:    row.HostID,
		status:       model.RoomStatus(row.Status),
		settings:     row.Settings,
		version:      row.StateVersion,
		grid:         grid,
		roster:       roster,
		cursors:      NewCursorSet(cfg.CursorThrottle, cfg.CursorPresenceTTL),
		clients:      make(map[int64]*Client),
		cmds:         make(chan command, cfg.CommandBuffer),
		ctx:          ctx,
		cancel:       cancel,
		sink:         sink,
		cfg:          cfg,
		lastActivity: time.Now(),
	}

	go c.run()

	return c
}

// run consumes commands one at a time. This loop is the serialization point.
func (c *Coordinator) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd, ok := <-c.cmds:
			if !ok {
				return
			}
			cmd.execute(c)
		}
	}
}

// Shutdown 방 종료. 모든 연결을 닫고 루프를 멈춘다.
func (c *Coordinator) Shutdown() {
	done := make(chan struct{})
	if err := c.submit(cmdFunc(func(co *Coordinator) {
		for _, cl := range co.clients {
			cl.Close()
		}
		co.clients = make(map[int64]*Client)
		close(done)
	})); err != nil {
		return
	}
	<-done
	c.cancel()
	log.Printf("[Room %s] Shutdown complete", c.Code)
}

// Done 종료 신호 채널
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// cmdFunc 클로저를 command로 승격
type cmdFunc func(c *Coordinator)

func (f cmdFunc) execute(c *Coordinator) { f(c) }

func (c *Coordinator) submit(cmd command) error {
	select {
	case <-c.ctx.Done():
		return ErrRoomClosed
	case c.cmds <- cmd:
		return nil
	}
}

// call submits a command and waits for its reply closure to run.
func (c *Coordinator) call(ctx context.Context, fn func(co *Coordinator)) error {
	done := make(chan struct{})
	if err := c.submit(cmdFunc(func(co *Coordinator) {
		fn(co)
		close(done)
	})); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrRoomClosed
	}
}

// =============================================================================
// Public operations (모두 명령 큐를 경유)
// =============================================================================

// Join 참가 처리. 역할 배정 규칙:
// 방 생성자는 HOST, 그 외에는 기본 SPECTATOR. PLAYER 희망 시 구독 등급과
// 방의 플레이어 정원(2~10)을 검사해 통과하면 PLAYER.
// 성공 시 새 클라이언트가 경쟁 없이 초기화할 수 있도록 전체 스냅샷을 돌려준다.
func (c *Coordinator) Join(ctx context.Context, userID int64, nickname string, tier model.Tier,
	desiredRole model.Role, client *Client) (JoinResult, error) {

	var result JoinResult
	var opErr error

	err := c.call(ctx, func(co *Coordinator) {
		if co.status == model.RoomStatusExpired {
			opErr = fmt.Errorf("%w: room expired", ErrNotFound)
			return
		}

		now := time.Now()
		role := model.RoleSpectator

		if existing, ok := co.roster.Get(userID); ok {
			// 재접속: 기존 역할 유지
			role = existing.Role
		} else if userID == co.creatorID && co.roster.Host() == nil {
			role = model.RoleHost
		} else if desiredRole == model.RolePlayer {
			if d := permission.CanPerform(model.RolePlayer, tier, permission.ActionJoinAsPlayer, co.settings); d.Allowed {
				if co.roster.PlayerCount() >= co.playerCap() {
					opErr = ErrRoomFull
					return
				}
				role = model.RolePlayer
			}
		}

		if role == model.RoleSpectator && !co.settings.AllowSpectators && userID != co.creatorID {
			opErr = fmt.Errorf("%w: spectators not allowed", ErrForbidden)
			return
		}

		member := co.roster.Add(userID, nickname, role, now)
		co.dirty = true

		// 같은 사용자의 이전 연결은 대체한다
		if old, ok := co.clients[userID]; ok {
			old.Close()
		}
		co.clients[userID] = client

		if co.status == model.RoomStatusWaiting && co.roster.OnlineCount() >= co.cfg.MinPlayers {
			co.status = model.RoomStatusActive
		}

		co.touch()
		co.fanout("presence_update", PresenceUpdateEvent{
			UserID:   userID,
			Nickname: member.Nickname,
			Role:     member.Role.String(),
			IsOnline: true,
		}, userID)

		result = JoinResult{Role: member.Role, State: co.stateEvent()}
	})
	if err != nil {
		return result, err
	}
	return result, opErr
}

// Leave 명시적 퇴장. 호스트가 떠나면 승계 규칙이 적용된다.
func (c *Coordinator) Leave(ctx context.Context, userID int64) error {
	var opErr error
	err := c.call(ctx, func(co *Coordinator) {
		member, ok := co.roster.Get(userID)
		if !ok {
			opErr = ErrNotFound
			return
		}
		wasHost := member.Role == model.RoleHost

		co.roster.Remove(userID)
		co.cursors.Remove(userID)
		if cl, ok := co.clients[userID]; ok {
			delete(co.clients, userID)
			cl.Close()
		}

		co.dirty = true
		co.touch()
		co.fanout("presence_update", PresenceUpdateEvent{
			UserID: userID, Nickname: member.Nickname, Role: member.Role.String(), IsOnline: false,
		}, userID)

		if wasHost {
			co.promoteHost(userID)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Disconnect 소켓 끊김 처리. 멤버십은 유지하고 온라인 플래그만 내린다.
// 끊긴 클라이언트의 미결 연산은 그대로 버려진다.
func (c *Coordinator) Disconnect(userID int64) {
	_ = c.submit(cmdFunc(func(co *Coordinator) {
		member, ok := co.roster.Get(userID)
		if !ok {
			return
		}
		now := time.Now()
		co.roster.SetOnline(userID, false, now)
		co.cursors.Remove(userID)
		delete(co.clients, userID)
		co.dirty = true

		co.fanout("presence_update", PresenceUpdateEvent{
			UserID: userID, Nickname: member.Nickname, Role: member.Role.String(), IsOnline: false,
		}, userID)

		// 호스트가 명시적 이전 없이 끊긴 경우 승계
		if member.Role == model.RoleHost {
			co.promoteHost(userID)
		}
	}))
}

// Kick 강퇴. HOST/MODERATOR만 가능하고 동급 이상은 강퇴할 수 없다.
func (c *Coordinator) Kick(ctx context.Context, actorID, targetID int64, reason string) error {
	var opErr error
	err := c.call(ctx, func(co *Coordinator) {
		actor, ok := co.roster.Get(actorID)
		if !ok {
			opErr = fmt.Errorf("%w: actor not in room", ErrNotFound)
			return
		}
		target, ok := co.roster.Get(targetID)
		if !ok {
			opErr = fmt.Errorf("%w: target not in room", ErrNotFound)
			return
		}

		if d := permission.CanPerform(actor.Role, "", permission.ActionKick, co.settings); !d.Allowed {
			opErr = fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			return
		}
		if d := permission.CanModerate(actor.Role, target.Role); !d.Allowed {
			opErr = fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			return
		}

		co.roster.Remove(targetID)
		co.cursors.Remove(targetID)
		if cl, ok := co.clients[targetID]; ok {
			delete(co.clients, targetID)
			cl.Close()
		}

		co.dirty = true
		co.touch()
		co.fanout("player_kicked", PlayerKickedEvent{UserID: targetID, Reason: reason}, 0)
		co.logActivity(actorID, model.ActionPlayerKicked,
			fmt.Sprintf("%s kicked %s", actor.Nickname, target.Nickname))
	})
	if err != nil {
		return err
	}
	return opErr
}

// ApplyCellEdit 셀 편집. 권한 검사 후 버전 검사로 수락/거부를 결정한다.
// 수락 시 모든 연결에 cell_updated를 fan-out하고, 거부 시 호출자에게만
// 권위 현재 값을 담은 결과를 돌려준다 (저장 상태는 불변).
func (c *Coordinator) ApplyCellEdit(ctx context.Context, actorID int64, ev CellUpdateEvent) (EditOutcome, error) {
	var outcome EditOutcome
	var opErr error

	err := c.call(ctx, func(co *Coordinator) {
		actor, ok := co.roster.Get(actorID)
		if !ok {
			opErr = fmt.Errorf("%w: actor not in room", ErrNotFound)
			return
		}

		if d := permission.CanPerform(actor.Role, "", permission.ActionEditCell, co.settings); !d.Allowed {
			opErr = fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			return
		}

		outcome = co.grid.Apply(ev.CellID, ev.Value, ev.ExpectedVersion, actorID, time.Now())
		if !outcome.Accepted {
			return
		}

		co.version++
		co.touch()
		co.fanout("cell_updated", CellUpdatedEvent{
			CellID:      outcome.CellID,
			Value:       outcome.Value,
			Version:     outcome.Version,
			EditorID:    actorID,
			IsCompleted: outcome.IsCompleted,
		}, 0)
	})
	if err != nil {
		return outcome, err
	}
	return outcome, opErr
}

// MoveCursor 커서 이동. 스로틀/디케이 대상의 best-effort 전파이며 실패하지 않는다.
func (c *Coordinator) MoveCursor(userID int64, ev CursorMoveEvent) {
	_ = c.submit(cmdFunc(func(co *Coordinator) {
		if _, ok := co.roster.Get(userID); !ok {
			return // 방에 없는 사용자의 커서는 조용히 무시
		}
		if !co.cursors.Update(userID, ev.CellID, ev.X, ev.Y, time.Now()) {
			return
		}
		co.fanout("cursor_moved", CursorMovedEvent{
			UserID: userID, CellID: ev.CellID, X: clamp(ev.X), Y: clamp(ev.Y),
		}, userID)
	}))
}

// TransferHost 호스트 이전. HOST만 수행 가능하며 원자적으로 적용된다.
func (c *Coordinator) TransferHost(ctx context.Context, actorID, targetID int64) error {
	var opErr error
	err := c.call(ctx, func(co *Coordinator) {
		actor, ok := co.roster.Get(actorID)
		if !ok {
			opErr = fmt.Errorf("%w: actor not in room", ErrNotFound)
			return
		}
		if _, ok := co.roster.Get(targetID); !ok {
			opErr = fmt.Errorf("%w: target not in room", ErrNotFound)
			return
		}
		if d := permission.CanPerform(actor.Role, "", permission.ActionTransferHost, co.settings); !d.Allowed {
			opErr = fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			return
		}
		if !co.roster.TransferHost(actorID, targetID) {
			opErr = fmt.Errorf("%w: transfer failed", ErrForbidden)
			return
		}

		co.version++
		co.dirty = true
		co.touch()
		co.fanout("host_changed", HostChangedEvent{NewHostID: targetID, PreviousHostID: actorID}, 0)
		co.logActivity(actorID, model.ActionHostChanged,
			fmt.Sprintf("host transferred to user %d", targetID))
	})
	if err != nil {
		return err
	}
	return opErr
}

// PostMessage 채팅 메시지 브로드캐스트 + 비동기 저장
func (c *Coordinator) PostMessage(ctx context.Context, senderID int64, text string) error {
	var opErr error
	err := c.call(ctx, func(co *Coordinator) {
		sender, ok := co.roster.Get(senderID)
		if !ok {
			opErr = fmt.Errorf("%w: sender not in room", ErrNotFound)
			return
		}
		if d := permission.CanPerform(sender.Role, "", permission.ActionSendMessage, co.settings); !d.Allowed {
			opErr = fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			return
		}

		text = truncateUTF8(text, maxChatBytes)
		now := time.Now()

		co.touch()
		co.fanout("chat_message", ChatBroadcastEvent{
			SenderID:  senderID,
			Nickname:  sender.Nickname,
			Message:   text,
			CreatedAt: now.Format(time.RFC3339),
		}, 0)

		if co.sink != nil {
			co.sink.SaveChat(model.ChatMessage{
				RoomID:   co.RoomID,
				SenderID: senderID,
				Nickname: sender.Nickname,
				Message:  text,
				Type:     "TEXT",
			})
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// UseHint 힌트 사용 기록. 격자 편집과 같은 권한 게이트를 지나며
// 셀 버전은 올리지 않는다 (편집 충돌 판정에 영향이 없어야 한다).
func (c *Coordinator) UseHint(ctx context.Context, actorID int64, cellID string) (int, error) {
	var count int
	var opErr error
	err := c.call(ctx, func(co *Coordinator) {
		actor, ok := co.roster.Get(actorID)
		if !ok {
			opErr = fmt.Errorf("%w: actor not in room", ErrNotFound)
			return
		}
		if d := permission.CanPerform(actor.Role, "", permission.ActionEditCell, co.settings); !d.Allowed {
			opErr = fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
			return
		}

		count = co.grid.UseHint(cellID)
		co.touch()
		co.fanout("hint_used", HintUsedEvent{
			CellID:    cellID,
			UserID:    actorID,
			HintsUsed: count,
		}, 0)
	})
	if err != nil {
		return count, err
	}
	return count, opErr
}

// Snapshot consistent point-in-time capture, scheduled through the same
// per-room queue as mutations (no out-of-band racy read).
func (c *Coordinator) Snapshot(ctx context.Context) (RoomSnapshot, error) {
	var snap RoomSnapshot
	err := c.call(ctx, func(co *Coordinator) {
		var hostID int64
		if h := co.roster.Host(); h != nil {
			hostID = h.UserID
		}
		snap = RoomSnapshot{
			RoomID:       co.RoomID,
			Code:         co.Code,
			HostID:       hostID,
			Status:       co.status,
			Settings:     co.settings,
			Version:      co.version,
			Participants: co.roster.Rows(co.RoomID),
			Cells:        co.grid.Snapshot(co.RoomID),
			Dirty:        co.grid.HasDirty() || co.dirty,
			TakenAt:      time.Now(),
		}
		co.grid.ClearDirty()
		co.dirty = false
	})
	return snap, err
}

// HostID 현재 호스트 조회 (권한 검사를 스냅샷 없이 하고 싶을 때)
func (c *Coordinator) HostID(ctx context.Context) (int64, error) {
	var id int64
	err := c.call(ctx, func(co *Coordinator) {
		if h := co.roster.Host(); h != nil {
			id = h.UserID
		}
	})
	return id, err
}

// LastActive 마지막 활동 시각
func (c *Coordinator) LastActive(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := c.call(ctx, func(co *Coordinator) { t = co.lastActivity })
	return t, err
}

// Empty 온라인 멤버가 없는지
func (c *Coordinator) Empty(ctx context.Context) (bool, error) {
	var empty bool
	err := c.call(ctx, func(co *Coordinator) { empty = len(co.clients) == 0 })
	return empty, err
}

// =============================================================================
// Internals (명령 고루틴에서만 호출)
// =============================================================================

func (c *Coordinator) playerCap() int {
	limit := c.settings.MaxPlayers
	if limit < c.cfg.MinPlayers {
		limit = c.cfg.MinPlayers
	}
	if limit > c.cfg.MaxPlayers {
		limit = c.cfg.MaxPlayers
	}
	return limit
}

func (c *Coordinator) touch() {
	c.lastActivity = time.Now()
}

func (c *Coordinator) stateEvent() RoomStateEvent {
	now := time.Now()
	cursors := make([]CursorInfo, 0)
	for _, pos := range c.cursors.Active(now) {
		cursors = append(cursors, CursorInfo{
			UserID: pos.UserID,
			CellID: pos.CellID,
			X:      pos.X,
			Y:      pos.Y,
			Fading: now.Sub(pos.UpdatedAt) > c.cfg.CursorFadeTTL,
		})
	}
	return RoomStateEvent{
		RoomID:       c.RoomID,
		Code:         c.Code,
		Status:       c.status.String(),
		Participants: c.roster.Snapshot(),
		GridState:    c.grid.State(),
		Cursors:      cursors,
		Version:      c.version,
	}
}

// promoteHost elects and announces a successor after the host left or
// disconnected without an explicit transfer. With no eligible participant
// the room falls back to WAITING.
func (c *Coordinator) promoteHost(previousHostID int64) {
	newHostID, ok := c.roster.PromoteSuccessor()
	if !ok {
		// 승계자가 없으면 호스트 역할을 그대로 둔 채 대기 상태로 돌아간다.
		// 끊긴 호스트가 재접속하면 기존 역할로 방을 되찾는다.
		c.status = model.RoomStatusWaiting
		log.Printf("[Room %s] No eligible host successor, room back to WAITING", c.Code)
		return
	}
	// 끊긴 호스트가 로스터에 남아 있으면 강등해 HOST 유일성을 지킨다
	if prev, ok := c.roster.Get(previousHostID); ok && prev.Role == model.RoleHost {
		c.roster.SetRole(previousHostID, model.RoleModerator)
	}
	c.version++
	c.dirty = true
	c.fanout("host_changed", HostChangedEvent{NewHostID: newHostID, PreviousHostID: previousHostID}, 0)
	c.logActivity(newHostID, model.ActionHostChanged,
		fmt.Sprintf("host auto-promoted after user %d left", previousHostID))
}

// fanout encodes once and enqueues to every online client except excludeID.
// Enqueueing happens inside the command loop, so each client's write pump
// delivers events in the exact order the coordinator applied them.
func (c *Coordinator) fanout(eventType string, payload any, excludeID int64) {
	data, err := Encode(eventType, payload)
	if err != nil {
		log.Printf("[Room %s] Failed to encode %s: %v", c.Code, eventType, err)
		return
	}
	for userID, cl := range c.clients {
		if excludeID != 0 && userID == excludeID {
			continue
		}
		if err := cl.Send(data); err != nil {
			log.Printf("[Room %s] Failed to queue %s for user %d: %v", c.Code, eventType, userID, err)
		}
	}
}

const maxChatBytes = 2000

// truncateUTF8 바이트 한도로 자르되 멀티바이트 문자 경계를 보존한다.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (c *Coordinator) logActivity(actorID int64, action, description string) {
	if c.sink == nil {
		return
	}
	c.sink.LogActivity(model.ActivityLog{
		RoomID:      c.RoomID,
		ActorID:     actorID,
		Action:      action,
		Description: description,
	})
}
