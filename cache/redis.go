package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

const dashboardKey = "marketpulse:dashboard"

// ErrMiss is returned when no dashboard payload is cached.
var ErrMiss = errors.New("cache miss")

// RedisCache holds the latest dashboard payload so the read layer never
// queries the store on the hot path.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Log
}

// NewRedisCache connects and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCache{client: client, ttl: ttl, log: logger.GetLogger()}, nil
}

// SetDashboard stores the payload as JSON under the dashboard key.
func (c *RedisCache) SetDashboard(ctx context.Context, payload *models.DashboardPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dashboard payload: %w", err)
	}
	if err := c.client.Set(ctx, dashboardKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set dashboard payload: %w", err)
	}
	return nil
}

// GetDashboard loads the cached payload, returning ErrMiss when absent or
// expired.
func (c *RedisCache) GetDashboard(ctx context.Context) (*models.DashboardPayload, error) {
	data, err := c.client.Get(ctx, dashboardKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get dashboard payload: %w", err)
	}

	var payload models.DashboardPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal dashboard payload: %w", err)
	}
	return &payload, nil
}

// Close releases the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
