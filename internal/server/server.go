package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"gridroom-backend/internal/auth"
	"gridroom-backend/internal/cache"
	"gridroom-backend/internal/config"
	"gridroom-backend/internal/handler"
	"gridroom-backend/internal/model"
	"gridroom-backend/internal/persist"
	"gridroom-backend/internal/presence"
	"gridroom-backend/internal/room"
)

// Server Fiber 서버 래퍼
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	db            *gorm.DB
	hub           *room.Hub
	roomHandler   *handler.RoomHandler
	authHandler   *handler.AuthHandler
	backupHandler *handler.BackupHandler
	roomWSHandler *handler.RoomWSHandler
	healthHandler *handler.HealthHandler
	jwtManager    *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB, hub *room.Hub, rdb *cache.RedisClient,
	pm *presence.Manager, manager *persist.Manager, snapshotter *persist.Snapshotter) *Server {

	app := fiber.New(fiber.Config{
		AppName:               "Gridroom Sync Backend",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             10 * 1024 * 1024, // 10MB - import 페이로드 허용
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	hostname, _ := os.Hostname()

	return &Server{
		app:           app,
		cfg:           cfg,
		db:            db,
		hub:           hub,
		roomHandler:   handler.NewRoomHandler(db, hub, rdb, pm),
		authHandler:   handler.NewAuthHandler(db, jwtManager),
		backupHandler: handler.NewBackupHandler(db, hub, manager, snapshotter),
		roomWSHandler: handler.NewRoomWSHandler(hub, pm, hostname),
		healthHandler: handler.NewHealthHandler(db, rdb),
		jwtManager:    jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter (백업 생성/복원 같은 무거운 연산 보호)
	heavyLimiter := limiter.New(limiter.Config{
		Max:        20,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// 토큰 갱신 (인증 불필요, 리프레시 토큰 자체가 자격)
	s.app.Post("/api/auth/refresh", s.authHandler.Refresh)

	// 방 미리보기는 비로그인도 볼 수 있다 (presence 오버레이는 동일)
	s.app.Get("/api/rooms/:code", auth.OptionalAuthMiddleware(s.jwtManager), s.roomHandler.Get)

	// Room 라우트 그룹 (인증 필요)
	roomGroup := s.app.Group("/api/rooms", auth.AuthMiddleware(s.jwtManager))
	roomGroup.Post("", s.roomHandler.Create)
	roomGroup.Delete("/:code", s.roomHandler.Close)
	roomGroup.Get("/:code/presence", s.roomHandler.Presence)
	roomGroup.Get("/:code/activities", s.roomHandler.Activities)
	roomGroup.Get("/:code/messages", s.roomHandler.Messages)

	// Backup 라우트 (방 하위)
	roomGroup.Post("/:code/backups", heavyLimiter, s.backupHandler.Create)
	roomGroup.Get("/:code/backups", s.backupHandler.Search)
	roomGroup.Get("/:code/backups/stats", s.backupHandler.Stats)
	roomGroup.Get("/:code/backups/monitoring", s.backupHandler.Monitoring)
	roomGroup.Post("/:code/backups/monitoring", s.backupHandler.ControlMonitoring)
	roomGroup.Post("/:code/backups/:backupId/restore", heavyLimiter, s.backupHandler.Restore)
	roomGroup.Delete("/:code/backups/:backupId", s.backupHandler.Delete)
	roomGroup.Get("/:code/backups/:backupId/download", s.backupHandler.Download)

	// Export / Import / Validate
	roomGroup.Get("/:code/export", s.backupHandler.Export)
	roomGroup.Post("/:code/import", heavyLimiter, s.backupHandler.Import)
	roomGroup.Post("/:code/validate", s.backupHandler.Validate)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 방 동기화 엔드포인트
	s.app.Get("/ws/rooms/:code", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 쿠키 또는 쿼리에서 JWT 토큰 추출
		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.ValidateAccessToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		// 방 존재 확인 (만료된 방은 연결 거부)
		var count int64
		s.db.Table("rooms").
			Where("code = ? AND status <> ? AND deleted_at IS NULL",
				c.Params("code"), model.RoomStatusExpired.String()).
			Count(&count)
		if count == 0 {
			return c.SendStatus(fiber.StatusNotFound)
		}

		c.Locals("userID", claims.UserID)
		c.Locals("nickname", claims.Nickname)
		c.Locals("tier", claims.Tier)

		return c.Next()
	}, websocket.New(s.roomWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		s.hub.Shutdown()
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Gridroom Sync Backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/rooms/:code", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
