package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"go.uber.org/zap"
)

// Config 限流与并发准入配置
type Config struct {
	// RateLimit 每个窗口允许的操作次数，按 (tenant, resource) 计数
	RateLimit int64
	// RateWindow 限流窗口长度
	RateWindow time.Duration
	// MaxConcurrentCalls 每租户同时进行的出站呼叫上限
	MaxConcurrentCalls int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		RateLimit:          30,
		RateWindow:         time.Minute,
		MaxConcurrentCalls: 5,
	}
}

// Governor 组合固定窗口限流与并发准入门。
// 两个机制相互独立：限流先判，再为通过的请求保留并发令牌。
type Governor struct {
	cfg     Config
	limiter *limiter.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]int
}

// New 创建使用进程内存窗口的 Governor
func New(cfg Config, logger *zap.Logger) *Governor {
	return newWithStore(cfg, memory.NewStore(), logger)
}

// NewWithRedis 创建使用 Redis 窗口的 Governor，多实例部署时共享计数
func NewWithRedis(cfg Config, client *redis.Client, logger *zap.Logger) (*Governor, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "governor",
	})
	if err != nil {
		return nil, err
	}
	return newWithStore(cfg, store, logger), nil
}

func newWithStore(cfg Config, store limiter.Store, logger *zap.Logger) *Governor {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultConfig().RateWindow
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = DefaultConfig().MaxConcurrentCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg: cfg,
		limiter: limiter.New(store, limiter.Rate{
			Period: cfg.RateWindow,
			Limit:  cfg.RateLimit,
		}),
		logger: logger,
		active: make(map[string]int),
	}
}

// Allow 消耗 (tenant, resource) 的一个窗口名额。
// 超出阈值时返回 AdmissionRejected。
func (g *Governor) Allow(ctx context.Context, tenant, resource string) error {
	lctx, err := g.limiter.Get(ctx, tenant+":"+resource)
	if err != nil {
		// 窗口后端故障时放行：限流是保护措施，不能成为单点
		g.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("tenant", tenant),
			zap.String("resource", resource),
			zap.Error(err),
		)
		return nil
	}
	if lctx.Reached {
		return errhandler.NewAdmissionRejectedError("governor",
			fmt.Sprintf("rate limit exceeded for %s/%s: %d per %s",
				tenant, resource, g.cfg.RateLimit, g.cfg.RateWindow))
	}
	return nil
}

// Admit 为一次出站呼叫保留并发令牌,先过限流窗口再检查并发上限。
// 成功时返回的 Token 必须在呼叫到达终态（或下发失败）时释放。
func (g *Governor) Admit(ctx context.Context, tenant string) (*Token, error) {
	if err := g.Allow(ctx, tenant, "calls"); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[tenant] >= g.cfg.MaxConcurrentCalls {
		return nil, errhandler.NewAdmissionRejectedError("governor",
			fmt.Sprintf("concurrent call limit reached for %s: %d",
				tenant, g.cfg.MaxConcurrentCalls))
	}
	g.active[tenant]++

	return &Token{governor: g, tenant: tenant}, nil
}

// ActiveCalls 返回租户当前持有的并发令牌数
func (g *Governor) ActiveCalls(tenant string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[tenant]
}

func (g *Governor) release(tenant string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[tenant] > 0 {
		g.active[tenant]--
		if g.active[tenant] == 0 {
			delete(g.active, tenant)
		}
	}
}

// Token 一次已通过准入的呼叫持有的并发令牌
type Token struct {
	governor *Governor
	tenant   string
	released sync.Once
}

// Release 归还令牌。重复调用是 no-op。
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.released.Do(func() {
		t.governor.release(t.tenant)
	})
}

// Tenant 返回令牌所属租户
func (t *Token) Tenant() string {
	return t.tenant
}
