package persist

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/room"
)

func snapshotFixture() room.RoomSnapshot {
	return room.RoomSnapshot{
		RoomID:  "room-1",
		Code:    "ABCD1234",
		HostID:  1,
		Status:  model.RoomStatusActive,
		Version: 7,
		Settings: model.RoomSettings{
			MaxPlayers:      4,
			AllowSpectators: true,
		},
		Participants: []model.Participant{
			{RoomID: "room-1", UserID: 1, Nickname: "alice", Role: "HOST", JoinedAt: time.Now()},
		},
		Cells: []model.CellState{
			{RoomID: "room-1", CellID: "A1", Value: "X", Version: 4, IsCompleted: true, Attempts: 6, HintsUsed: 1},
			{RoomID: "room-1", CellID: "B2", Value: "Y", Version: 3},
		},
		TakenAt: time.Now(),
	}
}

func TestPayload_RoundTripPreservesGridState(t *testing.T) {
	snap := snapshotFixture()
	payload := BuildPayload(snap, nil, nil, 1, model.BackupTypeManual)

	data, err := EncodePayload(payload)
	require.NoError(t, err)

	decoded, err := DecodePayload(data)
	require.NoError(t, err)

	// 내보내기 직후 가져오기: 격자 상태가 그대로 재현된다 (round-trip 법칙)
	rows := decoded.CellRows("room-2", time.Now())
	require.Len(t, rows, 2)

	byID := map[string]model.CellState{}
	for _, row := range rows {
		assert.Equal(t, "room-2", row.RoomID) // 대상 방 기준으로 재배치
		byID[row.CellID] = row
	}
	assert.Equal(t, "X", byID["A1"].Value)
	assert.Equal(t, int64(4), byID["A1"].Version)
	assert.True(t, byID["A1"].IsCompleted)
	assert.Equal(t, 6, byID["A1"].Attempts)
	assert.Equal(t, 1, byID["A1"].HintsUsed)
	assert.Equal(t, int64(3), byID["B2"].Version)
}

func TestPayload_RoundTripPassesValidation(t *testing.T) {
	payload := BuildPayload(snapshotFixture(), nil, nil, 1, model.BackupTypeManual)
	data, err := EncodePayload(payload)
	require.NoError(t, err)

	result := Validate(data, 7)
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestBuildPayload_Sections(t *testing.T) {
	messages := []model.ChatMessage{
		{RoomID: "room-1", SenderID: 1, Nickname: "alice", Message: "hi", Type: "TEXT", CreatedAt: time.Now()},
	}
	activities := []model.ActivityLog{
		{RoomID: "room-1", ActorID: 1, Action: model.ActionRoomCreated, CreatedAt: time.Now()},
	}

	payload := BuildPayload(snapshotFixture(), messages, activities, 42, model.BackupTypeAuto)

	assert.Equal(t, "room-1", payload.Room.ID)
	assert.Equal(t, int64(7), payload.Room.Version)
	require.NotNil(t, payload.Room.Settings)
	assert.Equal(t, 4, payload.Room.Settings.MaxPlayers)

	assert.Len(t, payload.Participants, 1)
	assert.Len(t, payload.Puzzle.State, 2)
	assert.Len(t, payload.Messages, 1)
	assert.Len(t, payload.Activities, 1)

	assert.Equal(t, int64(42), payload.Metadata.CreatedBy)
	assert.Equal(t, model.BackupTypeAuto.String(), payload.Metadata.Type)
}

func TestExportCSV_ContainsCellRows(t *testing.T) {
	payload := BuildPayload(snapshotFixture(), nil, nil, 1, model.BackupTypeManual)
	data, err := encodeCSV(payload)
	require.NoError(t, err)

	text := string(data)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3) // 헤더 + 셀 2개
	assert.Equal(t, "cellId,value,version,isCompleted,attempts,hintsUsed", lines[0])
	assert.Contains(t, text, "A1,X,4,true,6,1")
}

func TestExportXML_WellFormed(t *testing.T) {
	payload := BuildPayload(snapshotFixture(), nil, nil, 1, model.BackupTypeManual)
	data, err := encodeXML(payload)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "<?xml"))
	assert.Contains(t, text, "<roomExport>")
	assert.Contains(t, text, "<cell>")
}
