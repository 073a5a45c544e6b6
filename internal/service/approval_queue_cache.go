package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

const pendingQueueKey = "approvals:pending"

// ApprovalQueueCache keeps the reviewer-facing pending queue in Redis so the
// dashboard poll does not hit Postgres on every refresh. Every write path
// that touches envelope status invalidates the key; staleness is otherwise
// bounded by the TTL.
type ApprovalQueueCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewApprovalQueueCache constructs the cache. A nil client disables caching.
func NewApprovalQueueCache(client *redis.Client, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *ApprovalQueueCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalQueueCache{client: client, ttl: ttl, metrics: metrics, logger: logger}
}

func (c *ApprovalQueueCache) enabled() bool {
	return c != nil && c.client != nil
}

// GetPending returns the cached pending queue and whether the cache was hit.
func (c *ApprovalQueueCache) GetPending(ctx context.Context) ([]models.ApprovalRequest, bool) {
	if !c.enabled() {
		return nil, false
	}
	start := time.Now()
	data, err := c.client.Get(ctx, pendingQueueKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("pending queue cache get failed", zap.Error(err))
		}
		c.metrics.RecordCacheOperation(false, time.Since(start))
		return nil, false
	}
	var requests []models.ApprovalRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		c.logger.Warn("pending queue cache decode failed", zap.Error(err))
		c.metrics.RecordCacheOperation(false, time.Since(start))
		return nil, false
	}
	c.metrics.RecordCacheOperation(true, time.Since(start))
	return requests, true
}

// SetPending stores the pending queue.
func (c *ApprovalQueueCache) SetPending(ctx context.Context, requests []models.ApprovalRequest) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(requests)
	if err != nil {
		c.logger.Warn("pending queue cache encode failed", zap.Error(err))
		return
	}
	start := time.Now()
	if err := c.client.Set(ctx, pendingQueueKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("pending queue cache set failed", zap.Error(err))
	}
	c.metrics.ObserveCacheWrite(time.Since(start))
}

// InvalidatePending drops the cached queue.
func (c *ApprovalQueueCache) InvalidatePending(ctx context.Context) {
	if !c.enabled() {
		return
	}
	if err := c.client.Del(ctx, pendingQueueKey).Err(); err != nil {
		c.logger.Warn("pending queue cache invalidate failed", zap.Error(err))
	}
}
