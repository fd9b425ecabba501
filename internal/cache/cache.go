package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veritrust/internal/metrics"
	"veritrust/internal/models"
	"veritrust/pkg/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	verificationTTL = 30 * time.Minute
	documentListTTL = 5 * time.Minute
)

// Cache is a read-through Redis cache for verification lookups and document
// listings. Every failure is logged and treated as a miss: the cache can be
// down without affecting correctness, only latency.
type Cache struct {
	client  *redis.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(cfg *config.RedisConfig, m *metrics.Metrics, logger *zap.Logger) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client, metrics: m, logger: logger}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func verificationKey(documentID uuid.UUID) string {
	return "verification:" + documentID.String()
}

func documentListKey(userID uuid.UUID, limit, offset int) string {
	return fmt.Sprintf("documents:%s:%d:%d", userID, limit, offset)
}

// GetDocument returns the cached document with its verification state, or
// nil on a miss.
func (c *Cache) GetDocument(ctx context.Context, documentID uuid.UUID) *models.Document {
	var doc models.Document
	if !c.get(ctx, verificationKey(documentID), "verification", &doc) {
		return nil
	}
	return &doc
}

func (c *Cache) SetDocument(ctx context.Context, doc *models.Document) {
	c.set(ctx, verificationKey(doc.ID), doc, verificationTTL)
}

// InvalidateVerification drops the cached document after a verification
// write so readers never see a stale status.
func (c *Cache) InvalidateVerification(ctx context.Context, documentID uuid.UUID) {
	if err := c.client.Del(ctx, verificationKey(documentID)).Err(); err != nil {
		c.logger.Warn("Failed to invalidate verification cache",
			zap.String("document_id", documentID.String()),
			zap.Error(err),
		)
	}
}

// GetDocumentList returns the cached listing page for a user, or nil on a miss.
func (c *Cache) GetDocumentList(ctx context.Context, userID uuid.UUID, limit, offset int) []models.Document {
	var docs []models.Document
	if !c.get(ctx, documentListKey(userID, limit, offset), "document_list", &docs) {
		return nil
	}
	return docs
}

func (c *Cache) SetDocumentList(ctx context.Context, userID uuid.UUID, limit, offset int, docs []models.Document) {
	c.set(ctx, documentListKey(userID, limit, offset), docs, documentListTTL)
}

// InvalidateDocumentLists drops every cached listing page for the user.
func (c *Cache) InvalidateDocumentLists(ctx context.Context, userID uuid.UUID) {
	pattern := fmt.Sprintf("documents:%s:*", userID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Failed to scan document list cache keys", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Failed to invalidate document list cache", zap.Error(err))
	}
}

func (c *Cache) get(ctx context.Context, key, cacheType string, out interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		c.metrics.IncrementCacheMiss(cacheType)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("Failed to decode cached value", zap.String("key", key), zap.Error(err))
		c.metrics.IncrementCacheMiss(cacheType)
		return false
	}
	c.metrics.IncrementCacheHit(cacheType)
	return true
}

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to encode value for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
