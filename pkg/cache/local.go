package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// LocalCache 进程内缓存后端
type LocalCache struct {
	store  *gocache.Cache
	logger *zap.Logger
}

// NewLocalCache 创建本地缓存
func NewLocalCache(cfg LocalConfig, logger *zap.Logger) *LocalCache {
	if cfg.DefaultExpiration <= 0 {
		cfg.DefaultExpiration = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return &LocalCache{
		store:  gocache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		logger: logger,
	}
}

// Get 获取缓存值
func (c *LocalCache) Get(ctx context.Context, key string) (string, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set 设置缓存值
func (c *LocalCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, value, ttl)
	return nil
}

// Delete 删除缓存值
func (c *LocalCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// Exists 检查键是否存在
func (c *LocalCache) Exists(ctx context.Context, key string) bool {
	_, ok := c.store.Get(key)
	return ok
}

// Close 关闭缓存
func (c *LocalCache) Close() error {
	c.store.Flush()
	return nil
}
