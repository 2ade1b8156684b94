package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"gridroom-backend/internal/model"
	"gridroom-backend/internal/permission"
	"gridroom-backend/internal/persist"
	"gridroom-backend/internal/room"
)

// BackupHandler 백업 수명주기 REST 핸들러
type BackupHandler struct {
	db          *gorm.DB
	hub         *room.Hub
	manager     *persist.Manager
	snapshotter *persist.Snapshotter

	monitorMu sync.Mutex
	monitors  map[string]*persist.Monitor // roomID -> monitor
}

// NewBackupHandler BackupHandler 생성
func NewBackupHandler(db *gorm.DB, hub *room.Hub, manager *persist.Manager, snapshotter *persist.Snapshotter) *BackupHandler {
	return &BackupHandler{
		db:          db,
		hub:         hub,
		manager:     manager,
		snapshotter: snapshotter,
		monitors:    make(map[string]*persist.Monitor),
	}
}

// loadRoom 코드로 방 조회 + 백업 관리 권한 검사.
// 백업 수명주기 전체(조회 포함)가 호스트 권한 범위라서 모든 엔드포인트가
// 같은 게이트를 지난다.
func (h *BackupHandler) loadRoom(c *fiber.Ctx) (*model.Room, int64, error) {
	userID, ok := c.Locals("userID").(int64)
	if !ok {
		return nil, 0, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	code := c.Params("code")

	var row model.Room
	if err := h.db.WithContext(c.Context()).Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return nil, 0, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load room"})
	}

	participantRole := ""
	var participant model.Participant
	if err := h.db.WithContext(c.Context()).
		Where("room_id = ? AND user_id = ?", row.ID, userID).
		First(&participant).Error; err == nil {
		participantRole = participant.Role
	}
	role := effectiveRole(&row, participantRole, userID)
	if d := permission.CanPerform(role, "", permission.ActionManageBackup, row.Settings); !d.Allowed {
		return nil, 0, c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": d.Reason})
	}

	return &row, userID, nil
}

// effectiveRole 저장된 참가자 역할에서 실효 역할을 판정한다.
// 방의 기록상 호스트는 참가자 행과 무관하게 HOST로 승격된다.
func effectiveRole(row *model.Room, participantRole string, userID int64) model.Role {
	role := model.RoleSpectator
	if participantRole != "" {
		role = model.Role(participantRole)
	}
	if row.HostID == userID {
		role = model.RoleHost
	}
	return role
}

// snapshotFor 라이브 코디네이터가 있으면 일관 스냅샷, 없으면 저장소 기준으로 조립
func (h *BackupHandler) snapshotFor(ctx context.Context, row *model.Room) (room.RoomSnapshot, error) {
	if c, ok := h.hub.Lookup(row.Code); ok {
		return h.snapshotter.FlushNow(ctx, c)
	}

	var participants []model.Participant
	if err := h.db.WithContext(ctx).Where("room_id = ?", row.ID).Find(&participants).Error; err != nil {
		return room.RoomSnapshot{}, err
	}
	var cells []model.CellState
	if err := h.db.WithContext(ctx).Where("room_id = ?", row.ID).Find(&cells).Error; err != nil {
		return room.RoomSnapshot{}, err
	}
	return room.RoomSnapshot{
		RoomID:       row.ID,
		Code:         row.Code,
		HostID:       row.HostID,
		Status:       model.RoomStatus(row.Status),
		Settings:     row.Settings,
		Version:      row.StateVersion,
		Participants: participants,
		Cells:        cells,
		TakenAt:      time.Now(),
	}, nil
}

// Create 수동 백업 생성
// POST /api/rooms/:code/backups
func (h *BackupHandler) Create(c *fiber.Ctx) error {
	row, userID, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	snap, err := h.snapshotFor(c.Context(), row)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to snapshot room"})
	}

	backup, err := h.manager.Create(c.Context(), snap, userID, model.BackupTypeManual)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create backup"})
	}
	return c.Status(fiber.StatusCreated).JSON(backup)
}

// Search 백업 검색
// GET /api/rooms/:code/backups?q=&type=&status=&from=&to=&page=&pageSize=
func (h *BackupHandler) Search(c *fiber.Ctx) error {
	row, _, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	q := persist.SearchQuery{
		Text:     c.Query("q"),
		Type:     c.Query("type"),
		Status:   c.Query("status"),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("pageSize", 20),
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = &t
		}
	}

	result, err := h.manager.Search(c.Context(), row.ID, q)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to search backups"})
	}
	return c.JSON(result)
}

// Restore 백업 복원
// POST /api/rooms/:code/backups/:backupId/restore
func (h *BackupHandler) Restore(c *fiber.Ctx) error {
	row, userID, err := h.loadRoom(c)
	if row == nil {
		return err
	}
	backupID := c.Params("backupId")

	_, err = h.manager.Restore(c.Context(), backupID, row.ID, userID)
	if err != nil {
		return h.restoreError(c, err)
	}

	// 메모리의 옛 상태를 버리고 다음 접근 때 복원본을 적재한다
	h.hub.Invalidate(row.Code)

	return c.JSON(fiber.Map{"message": "room restored", "backupId": backupID})
}

// restoreError 복원 거부 사유를 상태 코드로 변환
func (h *BackupHandler) restoreError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, persist.ErrBackupNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "backup not found"})
	case errors.Is(err, persist.ErrBackupWrongRoom):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "backup belongs to a different room"})
	case errors.Is(err, persist.ErrBackupExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "backup expired"})
	case errors.Is(err, persist.ErrBackupCorrupted):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "backup corrupted"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "restore failed"})
	}
}

// Delete 백업 삭제
// DELETE /api/rooms/:code/backups/:backupId
func (h *BackupHandler) Delete(c *fiber.Ctx) error {
	row, userID, err := h.loadRoom(c)
	if row == nil {
		return err
	}
	backupID := c.Params("backupId")

	if err := h.manager.Delete(c.Context(), backupID, row.ID, userID); err != nil {
		return h.restoreError(c, err)
	}
	return c.JSON(fiber.Map{"message": "backup deleted"})
}

// Download 백업 원본 JSON 다운로드
// GET /api/rooms/:code/backups/:backupId/download
func (h *BackupHandler) Download(c *fiber.Ctx) error {
	row, _, err := h.loadRoom(c)
	if row == nil {
		return err
	}
	backupID := c.Params("backupId")

	data, err := h.manager.Download(c.Context(), backupID, row.ID)
	if err != nil {
		return h.restoreError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/json")
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(data)))
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="backup-%s.json"`, backupID))
	return c.Send(data)
}

// Stats 백업 통계
// GET /api/rooms/:code/backups/stats
func (h *BackupHandler) Stats(c *fiber.Ctx) error {
	row, _, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	stats, err := h.manager.Stats(c.Context(), row.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute statistics"})
	}
	return c.JSON(stats)
}

// Export 방 상태 내보내기
// GET /api/rooms/:code/export?format=json|csv|xml&includeMetadata=true
func (h *BackupHandler) Export(c *fiber.Ctx) error {
	row, userID, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	format := persist.ExportFormat(c.Query("format", "json"))
	includeMetadata := c.QueryBool("includeMetadata", true)

	snap, err := h.snapshotFor(c.Context(), row)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to snapshot room"})
	}

	result, err := h.manager.Export(c.Context(), snap, format, includeMetadata, userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set(fiber.HeaderContentType, result.ContentType)
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	return c.Send(result.Data)
}

// ImportRequest 가져오기 요청
type ImportRequest struct {
	Data    interface{}           `json:"data"`
	Options persist.ImportOptions `json:"options"`
}

// Import 외부 데이터 가져오기
// POST /api/rooms/:code/import
func (h *BackupHandler) Import(c *fiber.Ctx) error {
	row, userID, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	var req ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Data == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing data field"})
	}
	data, err := jsonBytes(req.Data)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "data field is not serializable"})
	}

	snap, err := h.snapshotFor(c.Context(), row)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to snapshot room"})
	}

	report, err := h.manager.Import(c.Context(), snap, data, req.Options, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if report.Imported {
		h.hub.Invalidate(row.Code)
	}
	status := fiber.StatusOK
	if !report.Validation.IsValid {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(report)
}

// ValidateRequest 검증 요청
type ValidateRequest struct {
	Data interface{} `json:"data"`
}

// Validate 가져오기 데이터 사전 검증
// POST /api/rooms/:code/validate
func (h *BackupHandler) Validate(c *fiber.Ctx) error {
	row, _, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	var req ValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Data == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing data field"})
	}
	data, err := jsonBytes(req.Data)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "data field is not serializable"})
	}

	return c.JSON(persist.Validate(data, row.StateVersion))
}

// MonitoringRequest 감시 제어 요청
type MonitoringRequest struct {
	Action     string                   `json:"action"` // start_monitoring, stop_monitoring, update_alerts, test_monitoring
	Thresholds *persist.AlertThresholds `json:"thresholds,omitempty"`
}

// Monitoring 감시 상태 조회
// GET /api/rooms/:code/backups/monitoring
func (h *BackupHandler) Monitoring(c *fiber.Ctx) error {
	row, _, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	m := h.monitorFor(row.ID)
	return c.JSON(fiber.Map{
		"running":    m.Running(),
		"lastHealth": m.LastHealth(),
	})
}

// ControlMonitoring 감시 제어
// POST /api/rooms/:code/backups/monitoring
func (h *BackupHandler) ControlMonitoring(c *fiber.Ctx) error {
	row, _, err := h.loadRoom(c)
	if row == nil {
		return err
	}

	var req MonitoringRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	m := h.monitorFor(row.ID)
	switch req.Action {
	case "start_monitoring":
		m.Start(time.Minute)
		return c.JSON(fiber.Map{"message": "monitoring started"})
	case "stop_monitoring":
		m.Stop()
		return c.JSON(fiber.Map{"message": "monitoring stopped"})
	case "update_alerts":
		if req.Thresholds == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing thresholds"})
		}
		m.UpdateThresholds(*req.Thresholds)
		return c.JSON(fiber.Map{"message": "alert thresholds updated"})
	case "test_monitoring":
		health, err := m.Check(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "health check failed"})
		}
		return c.JSON(health)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown monitoring action"})
	}
}

// jsonBytes data 필드를 원본 JSON 바이트로 변환 (문자열이면 그대로)
func jsonBytes(v interface{}) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

func (h *BackupHandler) monitorFor(roomID string) *persist.Monitor {
	h.monitorMu.Lock()
	defer h.monitorMu.Unlock()
	if m, ok := h.monitors[roomID]; ok {
		return m
	}
	m := persist.NewMonitor(h.manager, roomID)
	h.monitors[roomID] = m
	return m
}
