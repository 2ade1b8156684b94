package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridroom-backend/internal/config"
	"gridroom-backend/internal/model"
)

func backupFixture(createdAgo time.Duration, expiresIn time.Duration, corrupted bool, now time.Time) model.Backup {
	return model.Backup{
		Type:        model.BackupTypeManual.String(),
		SizeBytes:   1024,
		IsCorrupted: corrupted,
		CreatedAt:   now.Add(-createdAgo),
		ExpiresAt:   now.Add(expiresIn),
	}
}

func TestComputeStatistics_DocumentedScenario(t *testing.T) {
	// 백업 10개, 손상 2개, 만료 3개
	now := time.Now()
	backups := make([]model.Backup, 0, 10)
	for i := 0; i < 2; i++ {
		backups = append(backups, backupFixture(time.Hour, 24*time.Hour, true, now))
	}
	for i := 0; i < 3; i++ {
		backups = append(backups, backupFixture(48*time.Hour, -time.Hour, false, now))
	}
	for i := 0; i < 5; i++ {
		backups = append(backups, backupFixture(time.Hour, 24*time.Hour, false, now))
	}

	stats := computeStatistics(backups, now, defaultThresholds(5*1024*1024))

	assert.Equal(t, int64(10), stats.Overview.Total)
	assert.Equal(t, int64(2), stats.Overview.Corrupted)
	assert.Equal(t, int64(3), stats.Overview.Expired)
	assert.Equal(t, int64(5), stats.Overview.Active)

	// corruptionRate = 2/10 = 20%
	assert.Equal(t, 20.0, stats.Health.CorruptionRate)
	// score = 100 - 30*0.3 - 50*0.2 = 81
	assert.Equal(t, 81, stats.Health.Score)
	assert.Less(t, stats.Health.Score, 100)

	// 손상률 > 10% 경보
	assert.Contains(t, stats.Health.Alerts, "corruption rate above 10%")
}

func TestComputeStatistics_EmptyRoom(t *testing.T) {
	stats := computeStatistics(nil, time.Now(), defaultThresholds(0))
	assert.Equal(t, int64(0), stats.Overview.Total)
	assert.Equal(t, 100, stats.Health.Score)
	assert.Contains(t, stats.Health.Alerts, "no backups exist for this room")
}

func TestComputeStatistics_AllHealthy(t *testing.T) {
	now := time.Now()
	backups := []model.Backup{
		backupFixture(time.Hour, 24*time.Hour, false, now),
		backupFixture(2*time.Hour, 24*time.Hour, false, now),
	}
	stats := computeStatistics(backups, now, defaultThresholds(5*1024*1024))
	assert.Equal(t, 100, stats.Health.Score)
	assert.Empty(t, stats.Health.Alerts)
}

func TestComputeStatistics_StaleBackupAlert(t *testing.T) {
	now := time.Now()
	backups := []model.Backup{
		backupFixture(48*time.Hour, 24*time.Hour, false, now), // 마지막 백업이 48시간 전
	}
	stats := computeStatistics(backups, now, defaultThresholds(5*1024*1024))
	assert.Contains(t, stats.Health.Alerts, "no backup created in the last 24 hours")
}

func TestComputeStatistics_SizePenalty(t *testing.T) {
	now := time.Now()
	big := backupFixture(time.Hour, 24*time.Hour, false, now)
	big.SizeBytes = 4096
	stats := computeStatistics([]model.Backup{big}, now, defaultThresholds(1024)) // 임계값 1KB

	assert.Less(t, stats.Health.Score, 100)
	assert.Contains(t, stats.Health.Alerts, "average backup size above threshold")
	// 크기 페널티는 10점으로 캡
	assert.GreaterOrEqual(t, stats.Health.Score, 90)
}

func TestComputeStatistics_ExpiryDerivedAtReadTime(t *testing.T) {
	now := time.Now()
	b := backupFixture(time.Hour, time.Minute, false, now)

	stats := computeStatistics([]model.Backup{b}, now, defaultThresholds(0))
	assert.Equal(t, int64(1), stats.Overview.Active)

	// 같은 레코드라도 판정 시점이 지나면 만료로 집계된다
	stats = computeStatistics([]model.Backup{b}, now.Add(2*time.Minute), defaultThresholds(0))
	assert.Equal(t, int64(1), stats.Overview.Expired)
	assert.Equal(t, int64(0), stats.Overview.Active)
}

func TestComputeStatistics_CustomThresholds(t *testing.T) {
	now := time.Now()
	// 백업 10개 중 손상 1개 (손상률 10%), 마지막 생성 2시간 전
	backups := make([]model.Backup, 0, 10)
	backups = append(backups, backupFixture(2*time.Hour, 24*time.Hour, true, now))
	for i := 0; i < 9; i++ {
		backups = append(backups, backupFixture(2*time.Hour, 24*time.Hour, false, now))
	}

	// 기본 기준(10% 초과, 24시간)으로는 경보가 없다
	stats := computeStatistics(backups, now, defaultThresholds(0))
	assert.Empty(t, stats.Health.Alerts)

	// 기준을 내리면 같은 데이터가 경보를 낸다
	tight := AlertThresholds{CorruptionRatePct: 5, StaleAfter: time.Hour}
	stats = computeStatistics(backups, now, tight)
	assert.Contains(t, stats.Health.Alerts, "corruption rate above 5%")
	assert.Contains(t, stats.Health.Alerts, "no backup created in the last 1 hours")
}

func TestMonitor_UpdateThresholdsApplied(t *testing.T) {
	m := NewMonitor(&Manager{cfg: config.PersistConfig{MaxBackupBytes: 5 * 1024 * 1024}}, "room-1")

	defaults := m.Thresholds()
	assert.Equal(t, 10.0, defaults.CorruptionRatePct)
	assert.Equal(t, 24*time.Hour, defaults.StaleAfter)

	m.UpdateThresholds(AlertThresholds{CorruptionRatePct: 5, StaleAfter: time.Hour})
	updated := m.Thresholds()
	assert.Equal(t, 5.0, updated.CorruptionRatePct)
	assert.Equal(t, time.Hour, updated.StaleAfter)
	// 0 값 필드는 기존 기준을 유지한다
	assert.Equal(t, defaults.AvgSizeBytes, updated.AvgSizeBytes)
}

func TestComputeStatistics_TypeBreakdownAndTrends(t *testing.T) {
	now := time.Now()
	manual := backupFixture(time.Hour, 24*time.Hour, false, now)
	auto := backupFixture(time.Hour, 24*time.Hour, false, now)
	auto.Type = model.BackupTypeAuto.String()

	stats := computeStatistics([]model.Backup{manual, auto, manual}, now, defaultThresholds(0))
	assert.Equal(t, int64(2), stats.Types[model.BackupTypeManual.String()])
	assert.Equal(t, int64(1), stats.Types[model.BackupTypeAuto.String()])

	require.Len(t, stats.Trends, 7)
	today := stats.Trends[6]
	assert.Equal(t, now.Format("2006-01-02"), today.Date)
	assert.Equal(t, int64(3), today.Count)
}
