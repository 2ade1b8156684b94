package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Room      RoomConfig
	Persist   PersistConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	SecureCookie       bool
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RoomConfig 방/실시간 동기화 정책
type RoomConfig struct {
	MinPlayers        int           // 플레이어 하한
	MaxPlayers        int           // 플레이어 상한 (설정값의 클램프 범위)
	CursorThrottle    time.Duration // 커서 업데이트 스로틀 창
	CursorPresenceTTL time.Duration // 커서 presence 유지 시간
	CursorFadeTTL     time.Duration // 커서 시각 페이드 시간
	ExpireAfter       time.Duration // 비활성 방 만료 기준 (기본 7일)
	CommandBuffer     int           // 방 코디네이터 명령 채널 버퍼
}

// PersistConfig 스냅샷/백업 정책
type PersistConfig struct {
	SnapshotInterval time.Duration // 주기 스냅샷 간격 (기본 30초)
	BackupExpiry     time.Duration // 백업 보관 기간 (기본 30일)
	WriteRetries     int           // 내구 쓰기 재시도 횟수
	RetryBackoff     time.Duration // 재시도 백오프 기준값
	MaxBackupBytes   int64         // 평균 크기 경보 임계값
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 4096),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			RefreshTokenExpiry: getDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			SecureCookie:       getBool("SECURE_COOKIE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Room: RoomConfig{
			MinPlayers:        getInt("ROOM_MIN_PLAYERS", 2),
			MaxPlayers:        getInt("ROOM_MAX_PLAYERS", 10),
			CursorThrottle:    getDuration("CURSOR_THROTTLE", 50*time.Millisecond),
			CursorPresenceTTL: getDuration("CURSOR_PRESENCE_TTL", 5*time.Second),
			CursorFadeTTL:     getDuration("CURSOR_FADE_TTL", 3*time.Second),
			ExpireAfter:       getDuration("ROOM_EXPIRE_AFTER", 7*24*time.Hour),
			CommandBuffer:     getInt("ROOM_COMMAND_BUFFER", 256),
		},
		Persist: PersistConfig{
			SnapshotInterval: getDuration("SNAPSHOT_INTERVAL", 30*time.Second),
			BackupExpiry:     getDuration("BACKUP_EXPIRY", 30*24*time.Hour),
			WriteRetries:     getInt("PERSIST_WRITE_RETRIES", 3),
			RetryBackoff:     getDuration("PERSIST_RETRY_BACKOFF", time.Second),
			MaxBackupBytes:   int64(getInt("BACKUP_SIZE_ALERT_BYTES", 5*1024*1024)),
		},
	}
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
