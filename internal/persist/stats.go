package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gridroom-backend/internal/model"
)

// =============================================================================
// Backup Statistics & Monitoring
// =============================================================================

// Overview 백업 현황 요약
type Overview struct {
	Total          int64   `json:"total"`
	Active         int64   `json:"active"`
	Expired        int64   `json:"expired"`
	Corrupted      int64   `json:"corrupted"`
	TotalSizeBytes int64   `json:"totalSizeBytes"`
	AvgSizeBytes   float64 `json:"avgSizeBytes"`
}

// TrendPoint 일자별 생성 추이
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Health 가중치 기반 건강 점수와 경보
type Health struct {
	Score          int      `json:"score"`          // 0~100
	CorruptionRate float64  `json:"corruptionRate"` // 퍼센트
	ExpiredRate    float64  `json:"expiredRate"`    // 퍼센트
	Alerts         []string `json:"alerts"`
}

// Statistics 통계 응답 전체
type Statistics struct {
	Overview Overview         `json:"overview"`
	Types    map[string]int64 `json:"types"`
	Trends   []TrendPoint     `json:"trends"`
	Health   Health           `json:"health"`
}

const statsCacheTTL = 30 * time.Second

// Stats 기본 경보 기준으로 통계 산출. 짧은 TTL의 Redis 캐시를 앞에 둬서
// 대시보드 폴링이 매번 집계 쿼리를 치지 않게 한다.
func (m *Manager) Stats(ctx context.Context, roomID string) (*Statistics, error) {
	cacheKey := "room:" + roomID + ":backup_stats"
	if m.rdb != nil {
		if cached, err := m.rdb.Get(ctx, cacheKey); err == nil && cached != "" {
			var stats Statistics
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				return &stats, nil
			}
		}
	}

	stats, err := m.StatsWith(ctx, roomID, defaultThresholds(m.cfg.MaxBackupBytes))
	if err != nil {
		return nil, err
	}

	if m.rdb != nil {
		if data, err := json.Marshal(stats); err == nil {
			_ = m.rdb.Set(ctx, cacheKey, data, statsCacheTTL)
		}
	}
	return stats, nil
}

// StatsWith 방의 백업 통계를 주어진 경보 기준으로 산출
func (m *Manager) StatsWith(ctx context.Context, roomID string, t AlertThresholds) (*Statistics, error) {
	var backups []model.Backup
	if err := m.db.WithContext(ctx).
		Select("id", "type", "size_bytes", "is_corrupted", "created_at", "expires_at").
		Where("room_id = ?", roomID).
		Find(&backups).Error; err != nil {
		return nil, err
	}
	return computeStatistics(backups, time.Now(), t), nil
}

// computeStatistics 순수 집계. 만료는 저장 플래그가 아니라 조회 시점 판정이다.
func computeStatistics(backups []model.Backup, now time.Time, t AlertThresholds) *Statistics {
	stats := &Statistics{
		Types:  map[string]int64{},
		Trends: []TrendPoint{},
	}

	byDate := map[string]int64{}
	var latest time.Time

	for i := range backups {
		b := &backups[i]
		stats.Overview.Total++
		stats.Overview.TotalSizeBytes += b.SizeBytes
		stats.Types[b.Type]++

		switch {
		case b.IsCorrupted:
			stats.Overview.Corrupted++
		case b.IsExpired(now):
			stats.Overview.Expired++
		default:
			stats.Overview.Active++
		}

		byDate[b.CreatedAt.Format("2006-01-02")]++
		if b.CreatedAt.After(latest) {
			latest = b.CreatedAt
		}
	}

	if stats.Overview.Total > 0 {
		stats.Overview.AvgSizeBytes = float64(stats.Overview.TotalSizeBytes) / float64(stats.Overview.Total)
	}

	// 최근 7일 추이
	for d := 6; d >= 0; d-- {
		date := now.AddDate(0, 0, -d).Format("2006-01-02")
		stats.Trends = append(stats.Trends, TrendPoint{Date: date, Count: byDate[date]})
	}

	stats.Health = computeHealth(stats.Overview, latest, now, t)
	return stats
}

// computeHealth 건강 점수 산출.
// 100에서 만료 비율 가중치(30), 손상 비율 가중치(50), 평균 크기 초과
// 페널티(최대 10)를 차감한다. 경보 판정은 주어진 기준을 따른다.
func computeHealth(o Overview, latestBackup time.Time, now time.Time, t AlertThresholds) Health {
	h := Health{Score: 100, Alerts: []string{}}
	if o.Total == 0 {
		h.Alerts = append(h.Alerts, "no backups exist for this room")
		return h
	}

	expiredRatio := float64(o.Expired) / float64(o.Total)
	corruptedRatio := float64(o.Corrupted) / float64(o.Total)
	h.ExpiredRate = math.Round(expiredRatio*1000) / 10
	h.CorruptionRate = math.Round(corruptedRatio*1000) / 10

	score := 100.0 - 30.0*expiredRatio - 50.0*corruptedRatio
	if t.AvgSizeBytes > 0 && o.AvgSizeBytes > float64(t.AvgSizeBytes) {
		penalty := 10.0 * (o.AvgSizeBytes - float64(t.AvgSizeBytes)) / float64(t.AvgSizeBytes)
		if penalty > 10 {
			penalty = 10
		}
		score -= penalty
		h.Alerts = append(h.Alerts, "average backup size above threshold")
	}
	if score < 0 {
		score = 0
	}
	h.Score = int(math.Round(score))

	if h.CorruptionRate > t.CorruptionRatePct {
		h.Alerts = append(h.Alerts, fmt.Sprintf("corruption rate above %.0f%%", t.CorruptionRatePct))
	}
	if !latestBackup.IsZero() && now.Sub(latestBackup) > t.StaleAfter {
		h.Alerts = append(h.Alerts, fmt.Sprintf("no backup created in the last %d hours", int(t.StaleAfter.Hours())))
	}
	return h
}

// -----------------------------------------------------------------------------
// Monitor - 주기 건강 점검
// -----------------------------------------------------------------------------

// AlertThresholds 경보 판정 기준
type AlertThresholds struct {
	CorruptionRatePct float64       `json:"corruptionRatePct"` // 기본 10
	StaleAfter        time.Duration `json:"staleAfter"`        // 기본 24h
	AvgSizeBytes      int64         `json:"avgSizeBytes"`
}

func defaultThresholds(sizeAlertBytes int64) AlertThresholds {
	return AlertThresholds{
		CorruptionRatePct: 10,
		StaleAfter:        24 * time.Hour,
		AvgSizeBytes:      sizeAlertBytes,
	}
}

// Monitor 방 단위 백업 건강 감시자
type Monitor struct {
	manager *Manager
	roomID  string

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	thresholds AlertThresholds
	lastHealth *Health
}

// NewMonitor 생성자
func NewMonitor(manager *Manager, roomID string) *Monitor {
	return &Monitor{
		manager:    manager,
		roomID:     roomID,
		thresholds: defaultThresholds(manager.cfg.MaxBackupBytes),
	}
}

// Start 감시 시작 (이미 실행 중이면 no-op)
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
	log.Printf("[Monitor] Started for room %s (interval %s)", m.roomID, interval)
}

// Stop 감시 중단
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
	log.Printf("[Monitor] Stopped for room %s", m.roomID)
}

// Running 실행 여부
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// UpdateThresholds 경보 기준 갱신
func (m *Monitor) UpdateThresholds(t AlertThresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CorruptionRatePct > 0 {
		m.thresholds.CorruptionRatePct = t.CorruptionRatePct
	}
	if t.StaleAfter > 0 {
		m.thresholds.StaleAfter = t.StaleAfter
	}
	if t.AvgSizeBytes > 0 {
		m.thresholds.AvgSizeBytes = t.AvgSizeBytes
	}
}

// Thresholds 현재 경보 기준 조회
func (m *Monitor) Thresholds() AlertThresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Check 즉시 점검 수행 (test_monitoring 액션)
func (m *Monitor) Check(ctx context.Context) (*Health, error) {
	return m.check(ctx)
}

// LastHealth 마지막 점검 결과
func (m *Monitor) LastHealth() *Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealth
}

func (m *Monitor) check(ctx context.Context) (*Health, error) {
	m.mu.Lock()
	thresholds := m.thresholds
	m.mu.Unlock()

	stats, err := m.manager.StatsWith(ctx, m.roomID, thresholds)
	if err != nil {
		log.Printf("[Monitor] Health check failed for room %s: %v", m.roomID, err)
		return nil, err
	}
	health := stats.Health

	m.mu.Lock()
	m.lastHealth = &health
	m.mu.Unlock()

	for _, alert := range health.Alerts {
		log.Printf("[Monitor] Room %s alert: %s (score %d)", m.roomID, alert, health.Score)
	}
	return &health, nil
}
