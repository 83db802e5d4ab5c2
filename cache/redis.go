package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"station-svc/config"
	"station-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

func transactionKey(id string) string {
	return fmt.Sprintf("transaction:%s", id)
}

func GetTransaction(ctx context.Context, rdb *redis.Client, id string) (*models.Transaction, error) {
	data, err := rdb.Get(ctx, transactionKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var tx models.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode cached transaction: %w", err)
	}
	return &tx, nil
}

func SetTransaction(ctx context.Context, rdb *redis.Client, tx *models.Transaction, ttl time.Duration) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, transactionKey(tx.ID), data, ttl).Err()
}

func DeleteTransaction(ctx context.Context, rdb *redis.Client, id string) error {
	return rdb.Del(ctx, transactionKey(id)).Err()
}
