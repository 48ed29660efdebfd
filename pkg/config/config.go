// Package config 定义了 cachekit 的配置结构和校验逻辑。
// 配置在 Initialize 时读取一次，运行期间不再轮询；
// 配置校验错误是整个模块中唯一向调用方传播的错误类别。
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"cachekit/pkg/core"
)

// Config 主配置结构
type Config struct {
	// Enabled 总开关。关闭后 Manager.Initialize 只构建空壳组件。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Cache 缓存配置
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Monitor 资源监控配置
	Monitor MonitorConfig `json:"monitor" mapstructure:"monitor"`

	// Perf 性能度量配置
	Perf PerfConfig `json:"perf" mapstructure:"perf"`

	// Startup 启动调度配置
	Startup StartupConfig `json:"startup" mapstructure:"startup"`

	// Logger 日志配置
	Logger LoggerConfig `json:"logger" mapstructure:"logger"`

	// Redis 远程缓存后端配置（可选）
	Redis RedisConfig `json:"redis" mapstructure:"redis"`

	// InfluxDB 指标导出配置（可选）
	InfluxDB InfluxDBConfig `json:"influxdb" mapstructure:"influxdb"`

	// Server HTTP 服务配置（仅 cmd/cachekit-server 使用）
	Server ServerConfig `json:"server" mapstructure:"server"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	MaxSizeBytes     int64         `json:"max_size_bytes" mapstructure:"max_size_bytes"`       // 单个缓存的字节数上限
	MaxEntries       int64         `json:"max_entries" mapstructure:"max_entries"`             // 单个缓存的条目数上限
	DefaultTTL       time.Duration `json:"default_ttl" mapstructure:"default_ttl"`             // 默认生存时间
	Strategy         string        `json:"strategy" mapstructure:"strategy"`                   // 淘汰策略 (lru, lfu, fifo, size, adaptive)
	CleanupInterval  time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"`   // 过期清理间隔
	PersistencePath  string        `json:"persistence_path" mapstructure:"persistence_path"`   // 快照文件路径，空表示不持久化
	HitRateFloor     float64       `json:"hit_rate_floor" mapstructure:"hit_rate_floor"`       // 命中率低于此值时产生建议
	SizeWarningBytes int64         `json:"size_warning_bytes" mapstructure:"size_warning_bytes"` // 大小超过此值时产生建议
}

// MonitorConfig 资源监控配置
type MonitorConfig struct {
	SampleInterval    time.Duration `json:"sample_interval" mapstructure:"sample_interval"`       // 内存采样间隔
	MemoryThresholdMB uint64        `json:"memory_threshold_mb" mapstructure:"memory_threshold_mb"` // 触发回收的堆内存阈值(MB)
	HistorySize       int           `json:"history_size" mapstructure:"history_size"`             // 采样历史环大小
	SubCacheMaxSize   int           `json:"sub_cache_max_size" mapstructure:"sub_cache_max_size"` // 每个子缓存的条目上限
	CleanupInterval   time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"`     // 子缓存定期清理间隔
}

// PerfConfig 性能度量配置
type PerfConfig struct {
	MetricBufferSize int           `json:"metric_buffer_size" mapstructure:"metric_buffer_size"` // 指标环形缓冲区大小
	SlowOpThreshold  time.Duration `json:"slow_op_threshold" mapstructure:"slow_op_threshold"`   // 慢操作告警阈值
}

// StartupConfig 启动调度配置
type StartupConfig struct {
	TotalThreshold time.Duration `json:"total_threshold" mapstructure:"total_threshold"` // 启动总耗时建议阈值
	DrainDelay     time.Duration `json:"drain_delay" mapstructure:"drain_delay"`         // 渐进加载的服务间延迟
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `json:"format" mapstructure:"format"` // 日志格式 (text, json)
}

// RedisConfig 远程缓存后端配置
type RedisConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// InfluxDBConfig 指标导出配置
type InfluxDBConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Token   string `json:"token" mapstructure:"token"`
	Org     string `json:"org" mapstructure:"org"`
	Bucket  string `json:"bucket" mapstructure:"bucket"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `json:"port" mapstructure:"port"`
	Mode string `json:"mode" mapstructure:"mode"` // debug, release, test
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Enabled: true,
		Cache: CacheConfig{
			MaxSizeBytes:     50 * 1024 * 1024,
			MaxEntries:       1000,
			DefaultTTL:       30 * time.Minute,
			Strategy:         "lru",
			CleanupInterval:  5 * time.Minute,
			HitRateFloor:     0.5,
			SizeWarningBytes: 40 * 1024 * 1024,
		},
		Monitor: MonitorConfig{
			SampleInterval:    30 * time.Second,
			MemoryThresholdMB: 200,
			HistorySize:       100,
			SubCacheMaxSize:   500,
			CleanupInterval:   10 * time.Minute,
		},
		Perf: PerfConfig{
			MetricBufferSize: 1000,
			SlowOpThreshold:  1000 * time.Millisecond,
		},
		Startup: StartupConfig{
			TotalThreshold: 5 * time.Second,
			DrainDelay:     100 * time.Millisecond,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Port: "8080",
			Mode: "release",
		},
	}
}

// Load 使用 viper 从文件加载配置，环境变量可覆盖同名项
// （如 CACHEKIT_CACHE_MAX_ENTRIES 覆盖 cache.max_entries）。
// 文件不存在时返回默认配置（通过环境变量运行是合法场景）。
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("CACHEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv 只对已注册的键查找环境变量，
	// 所以每个键都要先通过 SetDefault 注册一遍
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, "读取配置文件失败", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, "解析配置文件失败", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("enabled", cfg.Enabled)

	v.SetDefault("cache.max_size_bytes", cfg.Cache.MaxSizeBytes)
	v.SetDefault("cache.max_entries", cfg.Cache.MaxEntries)
	v.SetDefault("cache.default_ttl", cfg.Cache.DefaultTTL)
	v.SetDefault("cache.strategy", cfg.Cache.Strategy)
	v.SetDefault("cache.cleanup_interval", cfg.Cache.CleanupInterval)
	v.SetDefault("cache.persistence_path", cfg.Cache.PersistencePath)
	v.SetDefault("cache.hit_rate_floor", cfg.Cache.HitRateFloor)
	v.SetDefault("cache.size_warning_bytes", cfg.Cache.SizeWarningBytes)

	v.SetDefault("monitor.sample_interval", cfg.Monitor.SampleInterval)
	v.SetDefault("monitor.memory_threshold_mb", cfg.Monitor.MemoryThresholdMB)
	v.SetDefault("monitor.history_size", cfg.Monitor.HistorySize)
	v.SetDefault("monitor.sub_cache_max_size", cfg.Monitor.SubCacheMaxSize)
	v.SetDefault("monitor.cleanup_interval", cfg.Monitor.CleanupInterval)

	v.SetDefault("perf.metric_buffer_size", cfg.Perf.MetricBufferSize)
	v.SetDefault("perf.slow_op_threshold", cfg.Perf.SlowOpThreshold)

	v.SetDefault("startup.total_threshold", cfg.Startup.TotalThreshold)
	v.SetDefault("startup.drain_delay", cfg.Startup.DrainDelay)

	v.SetDefault("logger.level", cfg.Logger.Level)
	v.SetDefault("logger.format", cfg.Logger.Format)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)

	v.SetDefault("influxdb.enabled", cfg.InfluxDB.Enabled)
	v.SetDefault("influxdb.url", cfg.InfluxDB.URL)
	v.SetDefault("influxdb.token", cfg.InfluxDB.Token)
	v.SetDefault("influxdb.org", cfg.InfluxDB.Org)
	v.SetDefault("influxdb.bucket", cfg.InfluxDB.Bucket)

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.mode", cfg.Server.Mode)
}

// Validate 验证配置。校验失败的错误会向调用方传播。
func (c *Config) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return core.NewError(core.ErrConfigInvalid, "cache.max_entries must be positive")
	}

	if c.Cache.MaxSizeBytes <= 0 {
		return core.NewError(core.ErrConfigInvalid, "cache.max_size_bytes must be positive")
	}

	if c.Cache.DefaultTTL <= 0 {
		return core.NewError(core.ErrConfigInvalid, "cache.default_ttl must be positive")
	}

	switch c.Cache.Strategy {
	case "lru", "lfu", "fifo", "size", "adaptive":
	default:
		return core.NewError(core.ErrConfigInvalid, "unknown cache.strategy: "+c.Cache.Strategy)
	}

	if c.Cache.HitRateFloor < 0 || c.Cache.HitRateFloor > 1 {
		return core.NewError(core.ErrConfigInvalid, "cache.hit_rate_floor must be in [0,1]")
	}

	if c.Monitor.SampleInterval <= 0 {
		return core.NewError(core.ErrConfigInvalid, "monitor.sample_interval must be positive")
	}

	if c.Monitor.MemoryThresholdMB == 0 {
		return core.NewError(core.ErrConfigInvalid, "monitor.memory_threshold_mb must be positive")
	}

	if c.Monitor.HistorySize <= 0 {
		return core.NewError(core.ErrConfigInvalid, "monitor.history_size must be positive")
	}

	if c.Perf.MetricBufferSize <= 0 {
		return core.NewError(core.ErrConfigInvalid, "perf.metric_buffer_size must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return core.NewError(core.ErrConfigInvalid, "redis.addr is required when redis is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		return core.NewError(core.ErrConfigInvalid, "influxdb.url is required when influxdb is enabled")
	}

	return nil
}
