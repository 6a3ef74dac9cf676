package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/cmd/bootstrap"
	handlers "github.com/voxen-labs/voxen/internal/handler"
	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/cache"
	"github.com/voxen-labs/voxen/pkg/config"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
	"github.com/voxen-labs/voxen/pkg/governor"
	"github.com/voxen-labs/voxen/pkg/lifecycle"
	"github.com/voxen-labs/voxen/pkg/llm"
	"github.com/voxen-labs/voxen/pkg/logger"
	"github.com/voxen-labs/voxen/pkg/metrics"
	"github.com/voxen-labs/voxen/pkg/middleware"
	"github.com/voxen-labs/voxen/pkg/signaling"
	"github.com/voxen-labs/voxen/pkg/stt"
	"github.com/voxen-labs/voxen/pkg/telephony"
	"github.com/voxen-labs/voxen/pkg/transcription"
)

// callCommands 把信令通道上的命令接到状态机与事件总线，带归属校验
type callCommands struct {
	machine *lifecycle.Machine
	store   store.Store
	bus     *events.Bus
}

func (c *callCommands) ownedCall(ctx context.Context, callID string, userID uint) error {
	call, err := c.store.FindCall(ctx, callID)
	if err != nil {
		return errhandler.NewError("signaling", "lookup call failed", err)
	}
	if call == nil || call.UserID != userID {
		return errhandler.NewNotFoundError("signaling", "call "+callID+" not found")
	}
	return nil
}

func (c *callCommands) EndCall(ctx context.Context, callID string, userID uint) error {
	if err := c.ownedCall(ctx, callID, userID); err != nil {
		return err
	}
	_, err := c.machine.EndCall(ctx, callID)
	return err
}

func (c *callCommands) Chat(ctx context.Context, callID string, userID uint, text string) error {
	if err := c.ownedCall(ctx, callID, userID); err != nil {
		return err
	}
	c.bus.PublishType(events.TypeChatMessage, map[string]interface{}{
		"call_id": callID,
		"user_id": userID,
		"text":    text,
	}, "signaling")
	return nil
}

func main() {
	// 1. 解析命令行参数
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 2. 加载配置与日志
	cfg := config.Load()
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()
	lg := logger.Lg

	// 3. 初始化数据库
	db, err := bootstrap.SetupDatabase(cfg, os.Stdout, &bootstrap.Options{
		AutoMigrate: true,
		SeedNonProd: cfg.Mode != "production",
	})
	if err != nil {
		lg.Fatal("database setup failed", zap.Error(err))
	}
	st := store.NewGormStore(db)

	// 4. 缓存与准入
	responseCache, err := cache.New(cfg.Cache, lg)
	if err != nil {
		lg.Warn("cache init failed, falling back to local cache", zap.Error(err))
		responseCache, _ = cache.New(cache.Config{Type: "local"}, lg)
	}
	defer responseCache.Close()

	gov := governor.New(cfg.Governor, lg)
	if cfg.Cache.Type == "redis" {
		// 多实例部署时限流窗口共享同一个 Redis
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if shared, err := governor.NewWithRedis(cfg.Governor, client, lg); err == nil {
			gov = shared
		} else {
			lg.Warn("redis governor init failed, using in-memory window", zap.Error(err))
		}
	}

	// 5. 事件总线与指标
	bus := events.NewBus(lg)
	m := metrics.New()
	m.BindBus(bus)

	exec := executor.New(lg)
	exec.OnRetry(m.ObserveRetry)

	// 6. 外部提供商
	telephonyProvider := telephony.NewHTTPProvider(cfg.Telephony, lg)
	sttProvider := stt.NewDeepgramProvider(cfg.Deepgram, lg)

	// 7. 生命周期状态机
	machine := lifecycle.NewMachine(st, gov, exec, telephonyProvider, bus, lg)
	if cfg.SummaryEnabled && cfg.LLM.APIKey != "" {
		summarizer := llm.NewSummarizer(
			llm.NewOpenAIProvider(cfg.LLM), responseCache, exec, cfg.LLM.Model, lg)
		summarizer.SetCacheObserver(m.CacheHits.Inc, m.CacheMisses.Inc)
		machine.SetSummarizer(summarizer)
	}

	// 8. 流式转写
	manager := transcription.NewManager(sttProvider, st, exec, bus, stt.StreamOptions{
		Model:      cfg.Deepgram.Model,
		Language:   cfg.Deepgram.Language,
		SampleRate: cfg.Deepgram.SampleRate,
		Channels:   cfg.Deepgram.Channels,
		Encoding:   cfg.Deepgram.Encoding,
	}, lg)
	manager.BindLifecycle(bus, st)
	defer manager.StopAll()

	// 9. 信令通道
	hub := signaling.NewHub(cfg.Signaling, lg)
	hub.BindBus(bus)
	hub.SetCommandHandler(&callCommands{machine: machine, store: st, bus: bus})
	defer hub.Close()

	// 10. HTTP 路由
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(lg))
	r.Use(metrics.Middleware(m))

	h := handlers.NewHandlers(db, st, machine, hub, m, lg)
	h.Register(r)

	httpServer := &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		lg.Info("Starting HTTP server", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("HTTP server run failed", zap.Error(err))
		}
	}()

	// 11. 等待退出信号，优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		lg.Error("server shutdown failed", zap.Error(err))
	}
}
