package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedMessage represents a chat message entry cached for a room
type CachedMessage struct {
	RoomID    string    `json:"roomId"`
	SenderID  int64     `json:"senderId"`
	Nickname  string    `json:"nickname"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisClient wraps the Redis client for room message caching
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

// AddMessage adds a chat message to the room's list
func (r *RedisClient) AddMessage(ctx context.Context, roomID string, m *CachedMessage) error {
	key := "room:" + roomID + ":messages"
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	// RPUSH to append to list
	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		log.Printf("[Redis] Failed to add message: %v", err)
		return err
	}

	// Set TTL on first write (24 hours)
	r.client.Expire(ctx, key, 24*time.Hour)

	return nil
}

// GetMessages retrieves all cached messages for a room
func (r *RedisClient) GetMessages(ctx context.Context, roomID string) ([]CachedMessage, error) {
	key := "room:" + roomID + ":messages"

	results, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]CachedMessage, 0, len(results))
	for _, data := range results {
		var m CachedMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetRecentMessages retrieves the last N messages for a room
func (r *RedisClient) GetRecentMessages(ctx context.Context, roomID string, count int64) ([]CachedMessage, error) {
	key := "room:" + roomID + ":messages"

	// Get last N items
	results, err := r.client.LRange(ctx, key, -count, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]CachedMessage, 0, len(results))
	for _, data := range results {
		var m CachedMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetMessageCount returns the number of cached messages in a room
func (r *RedisClient) GetMessageCount(ctx context.Context, roomID string) (int64, error) {
	key := "room:" + roomID + ":messages"
	return r.client.LLen(ctx, key).Result()
}

// SetRoomExpiry sets the expiration time for a room's message cache
func (r *RedisClient) SetRoomExpiry(ctx context.Context, roomID string, duration time.Duration) error {
	key := "room:" + roomID + ":messages"
	return r.client.Expire(ctx, key, duration).Err()
}

// FlushRoom retrieves all messages and deletes them from Redis
// Use this when moving data to RDS
func (r *RedisClient) FlushRoom(ctx context.Context, roomID string) ([]CachedMessage, error) {
	messages, err := r.GetMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// Delete from Redis
	key := "room:" + roomID + ":messages"
	r.client.Del(ctx, key)

	log.Printf("[Redis] Flushed %d messages for room %s", len(messages), roomID)
	return messages, nil
}

// DeleteRoom removes all cached messages for a room
func (r *RedisClient) DeleteRoom(ctx context.Context, roomID string) error {
	key := "room:" + roomID + ":messages"
	return r.client.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Generic Redis Operations

// Set sets a key-value pair with expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Get gets a value by key
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// HGetAll gets all fields and values from a hash
func (r *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

// HIncrBy increments the integer value of a hash field by the given number
func (r *RedisClient) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, incr).Result()
}
