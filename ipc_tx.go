package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

type IPCTx struct {
	log   *LeveledLogger
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context
}

func NewIPCTx(logger *LeveledLogger, redis *redis.Client) *IPCTx {
	return &IPCTx{
		log:   logger,
		redis: redis,
		ctx:   context.Background(),
	}
}

func (tx *IPCTx) Destroy() {}

func (tx *IPCTx) SendSpeed(data RedisSpeedStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, "speed-governor", map[string]interface{}{
		"speed-fraction": fmt.Sprintf("%.2f", data.Fraction),
		"speed-tier":     data.Tier,
		"policy":         data.Policy,
	})

	// Publish speed command changes
	pipe.Publish(tx.ctx, "speed-governor speed", nil)

	_, err := pipe.Exec(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to send speed status: %v", err)
	}

	return nil
}

func (tx *IPCTx) SendLink(data RedisLinkStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, "speed-governor", map[string]interface{}{
		"link":          data.State,
		"link-attempts": data.Attempts,
	})

	// Publish link state changes
	pipe.Publish(tx.ctx, "speed-governor link", nil)

	_, err := pipe.Exec(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to send link status: %v", err)
	}

	return nil
}

func (tx *IPCTx) SendFeed(data RedisFeedStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, "speed-governor", map[string]interface{}{
		"distance":        fmt.Sprintf("%.3f", data.Distance),
		"distance-age-ms": data.AgeMs,
		"feed":            data.Feed,
	})

	// Also publish feed updates
	pipe.Publish(tx.ctx, "speed-governor feed", nil)

	_, err := pipe.Exec(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to send feed status: %v", err)
	}

	return nil
}

func (tx *IPCTx) SendTelemetry(data RedisTelemetry) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, "speed-governor",
		"actual-speed", fmt.Sprintf("%.3f", data.ActualSpeed),
		"target-speed", fmt.Sprintf("%.3f", data.TargetSpeed),
	).Err(); err != nil {
		return fmt.Errorf("failed to send telemetry: %v", err)
	}

	return nil
}
