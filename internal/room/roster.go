package room

import (
	"sort"
	"time"

	"gridroom-backend/internal/model"
)

// Member 방 참가자의 메모리 상 상태
type Member struct {
	UserID     int64
	Nickname   string
	Role       model.Role
	IsOnline   bool
	JoinedAt   time.Time
	LastSeenAt time.Time
}

// Roster 방 멤버십과 역할을 관리한다.
// 불변식: 활성 방에는 항상 HOST가 정확히 한 명이다.
// 코디네이터 직렬 실행 아래에서만 접근된다.
type Roster struct {
	members map[int64]*Member
}

// NewRoster 빈 로스터 생성
func NewRoster() *Roster {
	return &Roster{members: make(map[int64]*Member)}
}

// Load 영속 참가자 행에서 복원
func (r *Roster) Load(rows []model.Participant) {
	for _, row := range rows {
		r.members[row.UserID] = &Member{
			UserID:     row.UserID,
			Nickname:   row.Nickname,
			Role:       model.Role(row.Role),
			IsOnline:   false, // 재기동 직후에는 아무도 연결되어 있지 않다
			JoinedAt:   row.JoinedAt,
			LastSeenAt: row.LastSeenAt,
		}
	}
}

// Get 멤버 조회
func (r *Roster) Get(userID int64) (*Member, bool) {
	m, ok := r.members[userID]
	return m, ok
}

// Add 멤버 추가 (기존 멤버면 역할 유지, 온라인 전환만)
func (r *Roster) Add(userID int64, nickname string, role model.Role, now time.Time) *Member {
	if m, ok := r.members[userID]; ok {
		m.IsOnline = true
		m.LastSeenAt = now
		if m.Nickname == "" {
			m.Nickname = nickname
		}
		return m
	}
	m := &Member{
		UserID:     userID,
		Nickname:   nickname,
		Role:       role,
		IsOnline:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	}
	r.members[userID] = m
	return m
}

// Remove 명시적 퇴장/강퇴 시 멤버 제거
func (r *Roster) Remove(userID int64) {
	delete(r.members, userID)
}

// SetOnline 접속/해제 플래그 갱신
func (r *Roster) SetOnline(userID int64, online bool, now time.Time) {
	if m, ok := r.members[userID]; ok {
		m.IsOnline = online
		m.LastSeenAt = now
	}
}

// SetRole 역할 강제 변경 (승계 시 이전 호스트 강등 등)
func (r *Roster) SetRole(userID int64, role model.Role) {
	if m, ok := r.members[userID]; ok {
		m.Role = role
	}
}

// Host 현재 HOST 멤버 (없으면 nil)
func (r *Roster) Host() *Member {
	for _, m := range r.members {
		if m.Role == model.RoleHost {
			return m
		}
	}
	return nil
}

// TransferHost 호스트 이전을 원자적으로 수행한다.
// 이전 호스트는 MODERATOR가 되고, 두 HOST가 공존하는 순간은 없다.
func (r *Roster) TransferHost(fromID, toID int64) bool {
	from, okFrom := r.members[fromID]
	to, okTo := r.members[toID]
	if !okFrom || !okTo || from.Role != model.RoleHost {
		return false
	}
	from.Role = model.RoleModerator
	to.Role = model.RoleHost
	return true
}

// PromoteSuccessor 호스트 부재 시 승계자를 선출해 HOST로 승격한다.
// 정책: 최장 재적 온라인 MODERATOR, 없으면 최장 재적 온라인 PLAYER.
// 승계자가 없으면 (0, false).
func (r *Roster) PromoteSuccessor() (int64, bool) {
	pick := func(role model.Role) *Member {
		var best *Member
		for _, m := range r.members {
			if m.Role != role || !m.IsOnline {
				continue
			}
			if best == nil || m.JoinedAt.Before(best.JoinedAt) {
				best = m
			}
		}
		return best
	}

	successor := pick(model.RoleModerator)
	if successor == nil {
		successor = pick(model.RolePlayer)
	}
	if successor == nil {
		return 0, false
	}
	successor.Role = model.RoleHost
	return successor.UserID, true
}

// PlayerCount 현재 PLAYER 수 (HOST 포함: 호스트도 격자를 편집하는 자리)
func (r *Roster) PlayerCount() int {
	count := 0
	for _, m := range r.members {
		if m.Role == model.RolePlayer || m.Role == model.RoleHost {
			count++
		}
	}
	return count
}

// OnlineCount 온라인 멤버 수
func (r *Roster) OnlineCount() int {
	count := 0
	for _, m := range r.members {
		if m.IsOnline {
			count++
		}
	}
	return count
}

// Snapshot 참가자 전체를 정렬된 이벤트 형태로 복사
func (r *Roster) Snapshot() []ParticipantInfo {
	infos := make([]ParticipantInfo, 0, len(r.members))
	for _, m := range r.members {
		infos = append(infos, ParticipantInfo{
			UserID:   m.UserID,
			Nickname: m.Nickname,
			Role:     m.Role.String(),
			IsOnline: m.IsOnline,
			JoinedAt: m.JoinedAt.Unix(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].JoinedAt < infos[j].JoinedAt })
	return infos
}

// Rows 영속 저장용 참가자 행 복사
func (r *Roster) Rows(roomID string) []model.Participant {
	rows := make([]model.Participant, 0, len(r.members))
	for _, m := range r.members {
		rows = append(rows, model.Participant{
			RoomID:     roomID,
			UserID:     m.UserID,
			Nickname:   m.Nickname,
			Role:       m.Role.String(),
			IsOnline:   m.IsOnline,
			JoinedAt:   m.JoinedAt,
			LastSeenAt: m.LastSeenAt,
		})
	}
	return rows
}
