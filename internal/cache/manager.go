// Package cache manages the shared Redis connection used by the Redis quota
// backend.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/council/config"
)

// Manager owns the Redis client lifecycle.
type Manager struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewManager connects to Redis and verifies the connection.
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	m := &Manager{
		client: client,
		logger: logger.With(zap.String("component", "redis")),
	}
	m.logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return m, nil
}

// Client returns the underlying Redis client.
func (m *Manager) Client() *redis.Client {
	return m.client
}

// Ping checks the connection.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("redis manager is closed")
	}
	return m.client.Ping(ctx).Err()
}

// Close shuts the connection down. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.client.Close()
}
