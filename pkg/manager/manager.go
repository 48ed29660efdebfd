// Package manager 提供 cachekit 的顶层生命周期管理。
// Manager 按配置组装缓存注册表、资源监控、性能度量和启动调度，
// 是宿主编排层与本模块交互的唯一入口。
// 注册表和监控器都是显式的、由 Manager 持有的实例，不存在包级单例；
// 测试应构造各自独立的 Manager。
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/cache"
	"cachekit/pkg/config"
	"cachekit/pkg/core"
	"cachekit/pkg/logger"
	"cachekit/pkg/monitor"
	"cachekit/pkg/perf"
	"cachekit/pkg/schedule"
	"cachekit/pkg/startup"
)

// DefaultStoreName 默认缓存的注册名。
const DefaultStoreName = "default"

// Manager cachekit 的顶层管理器。
type Manager struct {
	mu          sync.Mutex
	cfg         *config.Config
	log         *logrus.Logger
	registry    *cache.Registry
	monitor     *monitor.ResourceMonitor
	recorder    *perf.Recorder
	optimizer   *perf.Optimizer
	startup     *startup.Scheduler
	runner      *schedule.Runner
	exporter    perf.Exporter
	initialized bool
	disposed    bool
}

// New 创建管理器。组件在 Initialize 中构建。
func New(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Manager{cfg: cfg}
}

// Initialize 按配置构建并启动所有组件。
// 配置校验错误是唯一向调用方传播的错误；其余内部失败（远程后端不可达、
// 快照损坏等）只记录日志并降级继续。重复调用是无害的空操作。
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	if err := m.cfg.Validate(); err != nil {
		return err
	}

	m.log = logger.New(logger.Config{
		Level:  m.cfg.Logger.Level,
		Format: m.cfg.Logger.Format,
	})
	mlog := logger.WithComponent(m.log, "manager")

	m.startup = startup.NewScheduler(startup.Config{
		TotalThreshold: m.cfg.Startup.TotalThreshold,
		DrainDelay:     m.cfg.Startup.DrainDelay,
	}, logrus.NewEntry(m.log))

	if !m.cfg.Enabled {
		m.initialized = true
		mlog.Info("cachekit 已禁用，跳过组件初始化")
		return nil
	}

	m.startup.BeginPhase("components")

	m.registry = cache.NewRegistry(cache.ReportConfig{
		HitRateFloor:     m.cfg.Cache.HitRateFloor,
		SizeWarningBytes: m.cfg.Cache.SizeWarningBytes,
	}, logrus.NewEntry(m.log))

	m.monitor = monitor.NewResourceMonitor(monitor.Config{
		SampleInterval:    m.cfg.Monitor.SampleInterval,
		MemoryThresholdMB: m.cfg.Monitor.MemoryThresholdMB,
		HistorySize:       m.cfg.Monitor.HistorySize,
		SubCacheMaxSize:   m.cfg.Monitor.SubCacheMaxSize,
	}, logrus.NewEntry(m.log))

	m.recorder = perf.NewRecorder(perf.RecorderConfig{
		BufferSize:      m.cfg.Perf.MetricBufferSize,
		SlowOpThreshold: m.cfg.Perf.SlowOpThreshold,
	}, logrus.NewEntry(m.log))
	m.optimizer = perf.NewOptimizer(m.recorder, logrus.NewEntry(m.log))

	m.startup.EndPhase("components")
	m.startup.BeginPhase("services")

	// 默认缓存：带持久化的内存缓存，启动时恢复快照
	store := m.registry.GetOrCreate(DefaultStoreName, cache.StoreConfig{
		MaxSizeBytes:    m.cfg.Cache.MaxSizeBytes,
		MaxEntries:      m.cfg.Cache.MaxEntries,
		DefaultTTL:      m.cfg.Cache.DefaultTTL,
		Strategy:        cache.ParseStrategy(m.cfg.Cache.Strategy),
		CleanupInterval: m.cfg.Cache.CleanupInterval,
		PersistencePath: m.cfg.Cache.PersistencePath,
	})
	if m.cfg.Cache.PersistencePath != "" {
		adapter := cache.NewSnapshotAdapter(m.cfg.Cache.PersistencePath, logrus.NewEntry(m.log))
		adapter.Load(store)
	}

	// 可选的远程缓存后端：不可达时降级为纯内存运行
	if m.cfg.Redis.Enabled {
		_, err := m.registry.RegisterRemote("remote", cache.RedisStoreConfig{
			Addr:       m.cfg.Redis.Addr,
			Password:   m.cfg.Redis.Password,
			DB:         m.cfg.Redis.DB,
			DefaultTTL: m.cfg.Cache.DefaultTTL,
		})
		if err != nil {
			mlog.WithError(err).Warn("远程缓存后端不可用，降级为纯内存运行")
		}
	}

	// 可选的指标导出
	if m.cfg.InfluxDB.Enabled {
		m.exporter = perf.NewInfluxExporter(perf.InfluxConfig{
			URL:    m.cfg.InfluxDB.URL,
			Token:  m.cfg.InfluxDB.Token,
			Org:    m.cfg.InfluxDB.Org,
			Bucket: m.cfg.InfluxDB.Bucket,
		}, logrus.NewEntry(m.log))
		m.recorder.SetExporter(m.exporter)
	}

	m.startup.EndPhase("services")
	m.startup.BeginPhase("background")

	// 周期后台任务，统一由 runner 管理生命周期
	m.runner = schedule.NewRunner(logrus.NewEntry(m.log))
	if _, err := m.runner.AddTask("memory-sample", m.cfg.Monitor.SampleInterval, func() error {
		m.monitor.Sample()
		return nil
	}); err != nil {
		mlog.WithError(err).Warn("注册内存采样任务失败")
	}
	if m.cfg.Monitor.CleanupInterval > 0 {
		if _, err := m.runner.AddTask("subcache-cleanup", m.cfg.Monitor.CleanupInterval, func() error {
			m.monitor.CleanupSubCaches()
			return nil
		}); err != nil {
			mlog.WithError(err).Warn("注册子缓存清理任务失败")
		}
	}
	m.runner.Start()

	m.startup.EndPhase("background")
	m.startup.ForegroundDone()

	m.initialized = true
	mlog.Info("cachekit 初始化完成")
	return nil
}

// Registry 返回缓存注册表。
func (m *Manager) Registry() *cache.Registry { return m.registry }

// Monitor 返回资源监控器。
func (m *Manager) Monitor() *monitor.ResourceMonitor { return m.monitor }

// Recorder 返回度量记录器。
func (m *Manager) Recorder() *perf.Recorder { return m.recorder }

// Optimizer 返回性能优化器。
func (m *Manager) Optimizer() *perf.Optimizer { return m.optimizer }

// Startup 返回启动调度器。
func (m *Manager) Startup() *startup.Scheduler { return m.startup }

// GetAllStats 返回所有已注册缓存的统计快照。
func (m *Manager) GetAllStats() map[string]cache.StoreStats {
	if m.registry == nil {
		return map[string]cache.StoreStats{}
	}
	return m.registry.GetAllStats()
}

// OptimizeMemory 委托给资源监控器执行内存回收，返回实际执行的动作。
func (m *Manager) OptimizeMemory() []string {
	if m.monitor == nil {
		return []string{}
	}
	return m.monitor.OptimizeMemory()
}

// GenerateReport 生成综合文本报告：缓存性能 + 内存 + 启动 + 慢操作。
func (m *Manager) GenerateReport() string {
	var b strings.Builder
	b.WriteString("=== cachekit 运行报告 ===\n")
	b.WriteString("生成时间: " + time.Now().Format(time.RFC3339) + "\n\n")

	if m.registry != nil {
		report := m.registry.GetPerformanceReport()
		b.WriteString("--- 缓存 ---\n")
		for name, ss := range report.PerStore {
			b.WriteString(name + " (" + ss.Kind + "): ")
			b.WriteString(formatStats(ss.Stats))
			b.WriteString("\n")
		}
		for _, rec := range report.Recommendations {
			b.WriteString("建议: " + rec + "\n")
		}
		b.WriteString("\n")
	}

	if m.monitor != nil {
		b.WriteString(m.monitor.GenerateMemoryReport())
		b.WriteString("\n")
	}

	if m.startup != nil {
		sr := m.startup.GenerateReport()
		b.WriteString("--- 启动 ---\n")
		b.WriteString("总耗时: " + sr.Total.Round(time.Millisecond).String() + "\n")
		for _, rec := range sr.Recommendations {
			b.WriteString("建议: " + rec + "\n")
		}
	}

	return b.String()
}

// Dispose 终结调用：停止后台任务、落盘快照并关闭所有组件。幂等。
func (m *Manager) Dispose(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || !m.initialized {
		m.disposed = true
		return
	}
	m.disposed = true

	if m.runner != nil {
		m.runner.Stop()
	}
	if m.registry != nil {
		m.registry.DisposeAll() // Store.Close 内部按需落盘快照
	}
	if m.exporter != nil {
		if err := m.exporter.Close(); err != nil {
			logger.WithComponent(m.log, "manager").WithError(err).Warn("关闭指标导出器失败")
		}
	}
}

func formatStats(s core.CacheStats) string {
	return fmt.Sprintf("条目 %d, 字节 %d, 命中率 %.1f%%",
		s.EntryCount, s.TotalSizeBytes, s.HitRate*100)
}
