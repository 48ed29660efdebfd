package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/core"
)

// 缓存种类标签，用于聚合统计时区分来源。
const (
	KindMemory = "memory"
	KindRemote = "remote"
)

// ReportConfig 性能报告的阈值配置。
type ReportConfig struct {
	HitRateFloor     float64 `json:"hit_rate_floor" mapstructure:"hit_rate_floor"`         // 命中率低于此值时给出建议
	SizeWarningBytes int64   `json:"size_warning_bytes" mapstructure:"size_warning_bytes"` // 大小超过此值时给出建议
}

// StoreStats 带种类标签的单缓存统计。
type StoreStats struct {
	Kind  string          `json:"kind"`
	Stats core.CacheStats `json:"stats"`
}

// PerformanceReport 注册表的性能报告。
// Recommendations 是纯建议性文本，注册表从不据此强制执行任何动作。
type PerformanceReport struct {
	GeneratedAt     time.Time             `json:"generated_at"`
	StoreCount      int                   `json:"store_count"`
	TotalHitRate    float64               `json:"total_hit_rate"`
	TotalSizeBytes  int64                 `json:"total_size_bytes"`
	PerStore        map[string]StoreStats `json:"per_store"`
	Recommendations []string              `json:"recommendations"`
}

// Registry 是进程级的命名缓存查找表。
// 每个逻辑缓存名对应一个 Store，生命周期与进程一致；
// 测试应构造独立的 Registry 实例而不是依赖共享全局状态。
type Registry struct {
	mu     sync.Mutex
	stores map[string]core.Cache
	kinds  map[string]string
	report ReportConfig
	logger *logrus.Entry
}

// NewRegistry 创建缓存注册表。
func NewRegistry(report ReportConfig, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		stores: make(map[string]core.Cache),
		kinds:  make(map[string]string),
		report: report,
		logger: log.WithField("component", "registry"),
	}
}

// GetOrCreate 返回已注册的同名内存缓存，不存在时按配置新建。
// 已存在但种类不同（如远程缓存）时返回 nil，调用方应换用 Get。
func (r *Registry) GetOrCreate(name string, config StoreConfig) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.stores[name]; ok {
		if store, ok := existing.(*Store); ok {
			return store
		}
		r.logger.WithField("name", name).Warn("同名缓存已注册为其他种类")
		return nil
	}

	config.Name = name
	store := NewStore(config, r.logger)
	r.stores[name] = store
	r.kinds[name] = KindMemory
	r.logger.WithFields(logrus.Fields{
		"name":     name,
		"strategy": config.Strategy,
	}).Debug("创建缓存")
	return store
}

// RegisterRemote 注册一个 Redis 远程缓存后端。
func (r *Registry) RegisterRemote(name string, config RedisStoreConfig) (*RedisStore, error) {
	config.Name = name
	store, err := NewRedisStore(config, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stores[name]; ok {
		_ = store.Close()
		return nil, core.NewError(core.ErrConfigInvalid, "缓存名已被占用: "+name)
	}

	r.stores[name] = store
	r.kinds[name] = KindRemote
	return store, nil
}

// Get 按名称返回已注册的缓存。
func (r *Registry) Get(name string) (core.Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.stores[name]
	return c, ok
}

// GetAllStats 合并所有已注册缓存的统计信息，按种类打标。
func (r *Registry) GetAllStats() map[string]StoreStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make(map[string]StoreStats, len(r.stores))
	for name, store := range r.stores {
		all[name] = StoreStats{
			Kind:  r.kinds[name],
			Stats: store.Stats(),
		}
	}
	return all
}

// GetPerformanceReport 生成性能报告。
// 命中率低于阈值或大小超过警戒线的缓存会收到建议文本。
func (r *Registry) GetPerformanceReport() PerformanceReport {
	perStore := r.GetAllStats()

	report := PerformanceReport{
		GeneratedAt:     time.Now(),
		StoreCount:      len(perStore),
		PerStore:        perStore,
		Recommendations: make([]string, 0),
	}

	var totalHits, totalMisses int64

	names := make([]string, 0, len(perStore))
	for name := range perStore {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ss := perStore[name]
		totalHits += ss.Stats.HitCount
		totalMisses += ss.Stats.MissCount
		report.TotalSizeBytes += ss.Stats.TotalSizeBytes

		accessed := ss.Stats.HitCount+ss.Stats.MissCount > 0
		if accessed && ss.Stats.HitRate < r.report.HitRateFloor {
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"缓存 %s 命中率过低 (%.1f%% < %.1f%%)，考虑调整TTL或淘汰策略",
				name, ss.Stats.HitRate*100, r.report.HitRateFloor*100))
		}
		if r.report.SizeWarningBytes > 0 && ss.Stats.TotalSizeBytes > r.report.SizeWarningBytes {
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"缓存 %s 占用 %d 字节，超过警戒线 %d 字节，考虑降低容量上限",
				name, ss.Stats.TotalSizeBytes, r.report.SizeWarningBytes))
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		report.TotalHitRate = float64(totalHits) / float64(total)
	}

	return report
}

// ClearAll 清空所有已注册缓存，主要用于关停和测试隔离。
func (r *Registry) ClearAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, store := range r.stores {
		if err := store.Clear(ctx); err != nil {
			r.logger.WithError(err).WithField("name", name).Warn("清空缓存失败")
		}
	}
}

// DisposeAll 关闭并注销所有缓存。
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, store := range r.stores {
		if err := store.Close(); err != nil {
			r.logger.WithError(err).WithField("name", name).Warn("关闭缓存失败")
		}
		delete(r.stores, name)
		delete(r.kinds, name)
	}
}
