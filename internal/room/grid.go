package room

import (
	"time"

	"gridroom-backend/internal/model"
)

// CompletionFn 퍼즐 콘텐츠 서비스(외부 협력자)가 공급하는 정답 판정 술어.
// 격자 동기화기는 결과 불리언만 저장하고 퍼즐 의미는 검증하지 않는다.
type CompletionFn func(cellID, value string) bool

// Cell 격자 한 칸의 권위 상태
type Cell struct {
	Value        string
	Version      int64
	IsCompleted  bool
	Attempts     int
	HintsUsed    int
	LastWriterID int64
	LastWriteAt  time.Time
}

// EditOutcome 셀 편집 시도의 결과.
// 거부 시 Value/Version은 권위 측 현재 값을 담는다.
type EditOutcome struct {
	Accepted    bool
	CellID      string
	Value       string
	Version     int64
	IsCompleted bool
}

// Grid 셀 단위 버전을 가진 권위 셀 값 저장소.
// 동시성 제어는 방 코디네이터의 직렬 실행이 담당하므로 내부 락이 없다.
type Grid struct {
	cells      map[string]*Cell
	dirty      map[string]struct{}
	completion CompletionFn
}

// NewGrid 빈 격자 생성
func NewGrid(completion CompletionFn) *Grid {
	return &Grid{
		cells:      make(map[string]*Cell),
		dirty:      make(map[string]struct{}),
		completion: completion,
	}
}

// Load 영속 상태에서 격자 복원
func (g *Grid) Load(rows []model.CellState) {
	for _, row := range rows {
		g.cells[row.CellID] = &Cell{
			Value:        row.Value,
			Version:      row.Version,
			IsCompleted:  row.IsCompleted,
			Attempts:     row.Attempts,
			HintsUsed:    row.HintsUsed,
			LastWriterID: row.LastWriterID,
			LastWriteAt:  row.LastWriteAt,
		}
	}
}

// Apply 낙관적 동시성 검사로 셀 편집을 적용한다.
// expectedVersion이 현재 버전과 같을 때만 수락하고 버전을 올린다.
// 불일치 시 아무것도 바꾸지 않고 권위 (value, version)을 돌려준다.
func (g *Grid) Apply(cellID, newValue string, expectedVersion int64, actorID int64, now time.Time) EditOutcome {
	cell, ok := g.cells[cellID]
	if !ok {
		cell = &Cell{}
		g.cells[cellID] = cell
	}

	if expectedVersion != cell.Version {
		return EditOutcome{
			Accepted:    false,
			CellID:      cellID,
			Value:       cell.Value,
			Version:     cell.Version,
			IsCompleted: cell.IsCompleted,
		}
	}

	cell.Value = newValue
	cell.Version++
	cell.Attempts++
	cell.LastWriterID = actorID
	cell.LastWriteAt = now
	if g.completion != nil {
		cell.IsCompleted = g.completion(cellID, newValue)
	}

	g.dirty[cellID] = struct{}{}

	return EditOutcome{
		Accepted:    true,
		CellID:      cellID,
		Value:       cell.Value,
		Version:     cell.Version,
		IsCompleted: cell.IsCompleted,
	}
}

// UseHint 힌트 사용 횟수 기록 후 누적 횟수 반환 (버전은 올리지 않음)
func (g *Grid) UseHint(cellID string) int {
	cell, ok := g.cells[cellID]
	if !ok {
		cell = &Cell{}
		g.cells[cellID] = cell
	}
	cell.HintsUsed++
	g.dirty[cellID] = struct{}{}
	return cell.HintsUsed
}

// HasDirty 마지막 플러시 이후 변경 여부
func (g *Grid) HasDirty() bool {
	return len(g.dirty) > 0
}

// ClearDirty 플러시 완료 후 dirty set 초기화
func (g *Grid) ClearDirty() {
	g.dirty = make(map[string]struct{})
}

// Snapshot 전체 격자를 영속 행 형태로 복사한다.
func (g *Grid) Snapshot(roomID string) []model.CellState {
	rows := make([]model.CellState, 0, len(g.cells))
	for cellID, cell := range g.cells {
		rows = append(rows, model.CellState{
			RoomID:       roomID,
			CellID:       cellID,
			Value:        cell.Value,
			Version:      cell.Version,
			IsCompleted:  cell.IsCompleted,
			Attempts:     cell.Attempts,
			HintsUsed:    cell.HintsUsed,
			LastWriterID: cell.LastWriterID,
			LastWriteAt:  cell.LastWriteAt,
		})
	}
	return rows
}

// State 클라이언트 초기화용 격자 상태
func (g *Grid) State() []CellInfo {
	state := make([]CellInfo, 0, len(g.cells))
	for cellID, cell := range g.cells {
		state = append(state, CellInfo{
			CellID:      cellID,
			Value:       cell.Value,
			Version:     cell.Version,
			IsCompleted: cell.IsCompleted,
		})
	}
	return state
}

// VersionSum 모든 셀 버전의 합 (단조 증가 불변식 검증용)
func (g *Grid) VersionSum() int64 {
	var sum int64
	for _, cell := range g.cells {
		sum += cell.Version
	}
	return sum
}
