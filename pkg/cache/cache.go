package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cache 响应缓存接口。
// 缓存是 best-effort 的：后端不可用时 Get 永远返回未命中而不是错误，
// 调用方必须在缓存完全缺席时依然正确。
type Cache interface {
	// Get 获取缓存值，未命中或后端不可用时返回 ("", false)
	Get(ctx context.Context, key string) (string, bool)

	// Set 设置缓存值，ttl<=0 时使用后端默认过期时间
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete 删除缓存值
	Delete(ctx context.Context, key string) error

	// Exists 检查键是否存在
	Exists(ctx context.Context, key string) bool

	// Close 关闭缓存连接
	Close() error
}

// Config 缓存配置
type Config struct {
	Type  string // local | redis
	Redis RedisConfig
	Local LocalConfig
}

// RedisConfig Redis 后端配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	DefaultExpiration time.Duration
	CleanupInterval   time.Duration
}

// New 根据配置创建缓存实例
func New(cfg Config, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "redis":
		return NewRedisCache(cfg.Redis, logger)
	default:
		return NewLocalCache(cfg.Local, logger), nil
	}
}
