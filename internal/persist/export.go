package persist

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/room"
)

// =============================================================================
// Export / Import
// =============================================================================

// ExportFormat 내보내기 형식
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatXML  ExportFormat = "xml"
)

// ExportResult 내보내기 산출물
type ExportResult struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Export 방 스냅샷을 지정 형식으로 직렬화한다.
func (m *Manager) Export(ctx context.Context, snap room.RoomSnapshot, format ExportFormat,
	includeMetadata bool, actorID int64) (*ExportResult, error) {

	var messages []model.ChatMessage
	if err := m.db.WithContext(ctx).
		Where("room_id = ?", snap.RoomID).
		Order("created_at ASC").Limit(500).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	var activities []model.ActivityLog
	if err := m.db.WithContext(ctx).
		Where("room_id = ?", snap.RoomID).
		Order("created_at ASC").Limit(500).
		Find(&activities).Error; err != nil {
		return nil, err
	}

	payload := BuildPayload(snap, messages, activities, actorID, model.BackupTypeManual)
	if !includeMetadata {
		payload.Metadata = Metadata{}
		payload.Activities = nil
	}

	stamp := time.Now().Format("20060102-150405")
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			ContentType: "application/json",
			Filename:    fmt.Sprintf("room-%s-%s.json", snap.Code, stamp),
			Data:        data,
		}, nil
	case FormatCSV:
		data, err := encodeCSV(payload)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("room-%s-%s.csv", snap.Code, stamp),
			Data:        data,
		}, nil
	case FormatXML:
		data, err := encodeXML(payload)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			ContentType: "application/xml",
			Filename:    fmt.Sprintf("room-%s-%s.xml", snap.Code, stamp),
			Data:        data,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// encodeCSV 셀 상태를 CSV 표로 직렬화 (형식 특성상 퍼즐 섹션만 담는다)
func encodeCSV(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"cellId", "value", "version", "isCompleted", "attempts", "hintsUsed"}); err != nil {
		return nil, err
	}
	for _, c := range p.Puzzle.State {
		record := []string{
			c.CellID,
			c.Value,
			strconv.FormatInt(c.Version, 10),
			strconv.FormatBool(c.IsCompleted),
			strconv.Itoa(c.Attempts),
			strconv.Itoa(c.HintsUsed),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// xmlPayload XML 직렬화용 래퍼 (최상위 엘리먼트 이름 고정)
type xmlPayload struct {
	XMLName      xml.Name         `xml:"roomExport"`
	Room         RoomSection      `xml:"room"`
	Participants []ParticipantRow `xml:"participants>participant"`
	Cells        []CellRow        `xml:"puzzle>cell"`
	Messages     []MessageRow     `xml:"messages>message"`
}

func encodeXML(p Payload) ([]byte, error) {
	wrapped := xmlPayload{
		Room:         p.Room,
		Participants: p.Participants,
		Cells:        p.Puzzle.State,
		Messages:     p.Messages,
	}
	data, err := xml.MarshalIndent(wrapped, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

// ImportOptions 가져오기 동작 옵션
type ImportOptions struct {
	Overwrite    bool `json:"overwrite"`    // true면 기존 하위 컬렉션 교체
	Merge        bool `json:"merge"`        // true면 기존 데이터에 추가 병합
	Validate     bool `json:"validate"`     // 구조 검증 수행 여부
	CreateBackup bool `json:"createBackup"` // 가져오기 전 안전 백업 생성
}

// ImportReport 가져오기 결과 요약
type ImportReport struct {
	Validation     ValidationResult `json:"validation"`
	SafetyBackupID string           `json:"safetyBackupId,omitempty"`
	CellsImported  int              `json:"cellsImported"`
	Imported       bool             `json:"imported"`
}

// Import 외부 데이터를 방에 적용한다. overwrite는 교체, merge는 하위
// 컬렉션 단위 추가 병합이다. 복원과 같은 원자성 보장을 가진다.
func (m *Manager) Import(ctx context.Context, snap room.RoomSnapshot, data []byte,
	opts ImportOptions, actorID int64) (*ImportReport, error) {

	report := &ImportReport{}

	if opts.Validate {
		report.Validation = Validate(data, snap.Version)
		if !report.Validation.IsValid {
			return report, nil
		}
	} else {
		report.Validation = ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}, Compatibility: "FULL"}
	}

	payload, err := DecodePayload(data)
	if err != nil {
		report.Validation.addError(fmt.Sprintf("invalid JSON: %v", err))
		return report, nil
	}

	if opts.CreateBackup {
		safety, err := m.Create(ctx, snap, actorID, model.BackupTypeImport)
		if err != nil {
			return report, fmt.Errorf("safety backup failed: %w", err)
		}
		report.SafetyBackupID = safety.ID
	}

	now := time.Now()
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.Overwrite {
			updates := map[string]interface{}{
				"status":         payload.Room.State,
				"state_version":  payload.Room.Version,
				"last_active_at": now,
			}
			if payload.Room.Settings != nil {
				updates["settings"] = *payload.Room.Settings
			}
			if err := tx.Model(&model.Room{}).Where("id = ?", snap.RoomID).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Where("room_id = ?", snap.RoomID).Delete(&model.CellState{}).Error; err != nil {
				return err
			}
			cells := payload.CellRows(snap.RoomID, now)
			if len(cells) > 0 {
				if err := tx.Create(&cells).Error; err != nil {
					return err
				}
			}
			report.CellsImported = len(cells)
		} else if opts.Merge {
			// 병합: 기존 셀은 유지하고 새 셀만 upsert
			cells := payload.CellRows(snap.RoomID, now)
			if len(cells) > 0 {
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "room_id"}, {Name: "cell_id"}},
					DoNothing: true,
				}).Create(&cells).Error; err != nil {
					return err
				}
			}
			report.CellsImported = len(cells)
		}

		// 메시지는 overwrite에서도 기존 이력을 지우지 않고 추가한다 (append-only)
		for _, msg := range payload.Messages {
			createdAt, _ := time.Parse(time.RFC3339, msg.CreatedAt)
			row := model.ChatMessage{
				RoomID:    snap.RoomID,
				SenderID:  msg.SenderID,
				Nickname:  msg.Nickname,
				Message:   msg.Message,
				Type:      msg.Type,
				CreatedAt: createdAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		return tx.Create(&model.ActivityLog{
			RoomID:      snap.RoomID,
			ActorID:     actorID,
			Action:      model.ActionDataImported,
			Description: fmt.Sprintf("imported %d cells (overwrite=%t merge=%t)", report.CellsImported, opts.Overwrite, opts.Merge),
		}).Error
	})
	if err != nil {
		return report, err
	}

	report.Imported = true
	return report, nil
}
