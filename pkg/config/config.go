package config

import (
	"log"
	"os"
	"time"

	"github.com/voxen-labs/voxen/pkg/cache"
	"github.com/voxen-labs/voxen/pkg/governor"
	"github.com/voxen-labs/voxen/pkg/llm"
	"github.com/voxen-labs/voxen/pkg/logger"
	"github.com/voxen-labs/voxen/pkg/signaling"
	"github.com/voxen-labs/voxen/pkg/stt"
	"github.com/voxen-labs/voxen/pkg/telephony"
	"github.com/voxen-labs/voxen/pkg/utils"
)

// Config 服务配置，全部来自环境变量，每一项都有默认值
type Config struct {
	ServerName string `env:"SERVER_NAME"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	DBDriver   string `env:"DB_DRIVER"`
	DSN        string `env:"DSN"`

	Log       logger.LogConfig
	Cache     cache.Config
	Governor  governor.Config
	Telephony telephony.Config
	Deepgram  stt.Config
	LLM       llm.OpenAIConfig
	Signaling signaling.Config

	// SummaryEnabled 是否在通话结束后生成摘要
	SummaryEnabled bool `env:"SUMMARY_ENABLED"`
}

// Load 根据环境加载配置。不依赖全局状态，调用方持有返回值并显式注入。
func Load() *Config {
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		// .env 文件不存在时只记录日志，不影响启动
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	return &Config{
		ServerName: getStringOrDefault("SERVER_NAME", "voxen"),
		Addr:       getStringOrDefault("ADDR", ":7080"),
		Mode:       getStringOrDefault("MODE", "development"),
		DBDriver:   getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:        getStringOrDefault("DSN", "./voxen.db"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		Cache: cache.Config{
			Type: getStringOrDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     getStringOrDefault("REDIS_ADDR", "localhost:6379"),
				Password: getStringOrDefault("REDIS_PASSWORD", ""),
				DB:       getIntOrDefault("REDIS_DB", 0),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: getDurationOrDefault("CACHE_DEFAULT_TTL", 5*time.Minute),
				CleanupInterval:   getDurationOrDefault("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		Governor: governor.Config{
			RateLimit:          int64(getIntOrDefault("RATE_LIMIT", 30)),
			RateWindow:         getDurationOrDefault("RATE_WINDOW", time.Minute),
			MaxConcurrentCalls: getIntOrDefault("MAX_CONCURRENT_CALLS", 5),
		},
		Telephony: telephony.Config{
			BaseURL:     getStringOrDefault("TELEPHONY_BASE_URL", ""),
			APIKey:      getStringOrDefault("TELEPHONY_API_KEY", ""),
			CallbackURL: getStringOrDefault("TELEPHONY_CALLBACK_URL", ""),
			Timeout:     getDurationOrDefault("TELEPHONY_TIMEOUT", 10*time.Second),
		},
		Deepgram: stt.Config{
			APIKey:            getStringOrDefault("DEEPGRAM_API_KEY", ""),
			Model:             getStringOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:          getStringOrDefault("DEEPGRAM_LANGUAGE", "en-US"),
			SampleRate:        getIntOrDefault("DEEPGRAM_SAMPLE_RATE", 16000),
			Channels:          getIntOrDefault("DEEPGRAM_CHANNELS", 1),
			Encoding:          getStringOrDefault("DEEPGRAM_ENCODING", "linear16"),
			KeepAliveInterval: getDurationOrDefault("DEEPGRAM_KEEPALIVE_INTERVAL", 3*time.Second),
		},
		LLM: llm.OpenAIConfig{
			APIKey:  getStringOrDefault("LLM_API_KEY", ""),
			BaseURL: getStringOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:   getStringOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},
		Signaling: signaling.Config{
			HeartbeatInterval: getDurationOrDefault("SIGNALING_HEARTBEAT_INTERVAL", 25*time.Second),
			PongTimeout:       getDurationOrDefault("SIGNALING_PONG_TIMEOUT", 60*time.Second),
			WriteTimeout:      getDurationOrDefault("SIGNALING_WRITE_TIMEOUT", 10*time.Second),
		},
		SummaryEnabled: getBoolOrDefault("SUMMARY_ENABLED", true),
	}
}

func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

func getIntOrDefault(key string, defaultValue int) int {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return int(value)
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := utils.GetDurationEnv(key)
	if value == 0 {
		return defaultValue
	}
	return time.Duration(value)
}
