package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
)

// NewRedisClient connects and pings. The client is shared by the socket
// pub/sub and the notification throttle.
func NewRedisClient(log *logger.Logger, address, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info("Connected to Redis :)", "address", address)
	return rdb, nil
}
