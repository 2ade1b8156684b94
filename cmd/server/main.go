package main

import (
	"context"
	"log"
	"time"

	"gridroom-backend/internal/cache"
	"gridroom-backend/internal/config"
	"gridroom-backend/internal/database"
	"gridroom-backend/internal/persist"
	"gridroom-backend/internal/presence"
	"gridroom-backend/internal/room"
	"gridroom-backend/internal/server"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully")

	// Redis 연결 (없어도 기동은 계속)
	rdb, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		log.Printf("⚠️ Redis connection failed: %v (message cache disabled)", err)
		rdb = nil
	}
	defer func() {
		if rdb != nil {
			rdb.Close()
		}
	}()

	var pm *presence.Manager
	if rdb != nil {
		pm = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

		// 다른 인스턴스의 presence 변경을 구독해 관측 로그로 남긴다
		go func() {
			sub := pm.SubscribePresence()
			defer sub.Close()
			for msg := range sub.Channel() {
				log.Printf("📡 Presence update: %s", msg.Payload)
			}
		}()
	}

	// 부수 기록 싱크, 스냅샷터, 허브 조립
	sink := persist.NewAsyncSink(db, rdb)
	defer sink.Close()

	hub := room.NewHub(db, cfg.Room, sink, nil)
	snapshotter := persist.NewSnapshotter(db, cfg.Persist)
	hub.SetFlusher(snapshotter)
	defer snapshotter.Shutdown()

	manager := persist.NewManager(db, rdb, cfg.Persist)

	// 백그라운드 정리 루프: 유휴 코디네이터 회수 + 7일 비활성 방 만료
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			hub.CleanupIdle(ctx)
			if err := hub.ExpireStale(ctx); err != nil {
				log.Printf("⚠️ Room expiry sweep failed: %v", err)
			}
			cancel()
		}
	}()

	// 서버 생성 및 설정
	srv := server.New(cfg, db, hub, rdb, pm, manager, snapshotter)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
