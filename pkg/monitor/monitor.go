// Package monitor 提供进程内存监控与压力回收。
// ResourceMonitor 周期性采样进程内存，维护轻量级子缓存用于临时备忘，
// 并在采样值越过阈值时执行尽力而为的有序回收。
// 它是模块中唯一有权发起全局回收（清缓存、请求GC）的组件。
package monitor

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/core"
)

// Config 资源监控配置
type Config struct {
	SampleInterval    time.Duration `json:"sample_interval" mapstructure:"sample_interval"`         // 内存采样间隔
	MemoryThresholdMB uint64        `json:"memory_threshold_mb" mapstructure:"memory_threshold_mb"` // 触发回收的堆内存阈值(MB)
	HistorySize       int           `json:"history_size" mapstructure:"history_size"`               // 采样历史环大小
	SubCacheMaxSize   int           `json:"sub_cache_max_size" mapstructure:"sub_cache_max_size"`   // 每个子缓存的条目上限
}

// subCacheTrimRatio 子缓存溢出时批量淘汰的比例（最旧的约15%）。
const subCacheTrimRatio = 0.15

// ResourceMonitor 进程资源监控器。
// 内存占用数字全部来自启发式估算（runtime.ReadMemStats 与序列化测长），
// 是近似值而非权威值，任何调用方都不应依赖字节级精确。
type ResourceMonitor struct {
	mu        sync.Mutex
	config    Config
	history   []core.MemorySample // 有界环，满时丢最旧
	subCaches map[string]*subCache
	logger    *logrus.Entry

	readMem func(*runtime.MemStats) // 可在测试中替换
	gc      func()                  // 可在测试中替换
}

// subCache 轻量级命名子缓存，用于临时进程内备忘，独立于 Registry 的缓存。
type subCache struct {
	entries map[string]subEntry
	order   []string // 插入顺序
	hits    int64
	misses  int64
}

type subEntry struct {
	value     interface{}
	createdAt time.Time
}

// SubCacheStats 子缓存统计。
type SubCacheStats struct {
	EntryCount int     `json:"entry_count"`
	HitCount   int64   `json:"hit_count"`
	MissCount  int64   `json:"miss_count"`
	HitRate    float64 `json:"hit_rate"`
}

// NewResourceMonitor 创建资源监控器。
func NewResourceMonitor(config Config, log *logrus.Entry) *ResourceMonitor {
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	if config.SubCacheMaxSize <= 0 {
		config.SubCacheMaxSize = 500
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &ResourceMonitor{
		config:    config,
		history:   make([]core.MemorySample, 0, config.HistorySize),
		subCaches: make(map[string]*subCache),
		logger:    log.WithField("component", "monitor"),
		readMem:   runtime.ReadMemStats,
		gc:        runtime.GC,
	}
}

// Sample 采样一次进程内存并记入历史环。
func (m *ResourceMonitor) Sample() core.MemorySample {
	var ms runtime.MemStats
	m.readMem(&ms)

	sample := core.MemorySample{
		Timestamp:  time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		StackInuse: ms.StackInuse,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
	}

	m.mu.Lock()
	m.history = append(m.history, sample)
	if len(m.history) > m.config.HistorySize {
		m.history = m.history[len(m.history)-m.config.HistorySize:]
	}
	m.mu.Unlock()

	return sample
}

// History 返回采样历史的副本，最老的在前。
func (m *ResourceMonitor) History() []core.MemorySample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.MemorySample, len(m.history))
	copy(out, m.history)
	return out
}

// LatestSample 返回最近一次采样；没有采样过时现场采一次。
func (m *ResourceMonitor) LatestSample() core.MemorySample {
	m.mu.Lock()
	n := len(m.history)
	if n > 0 {
		sample := m.history[n-1]
		m.mu.Unlock()
		return sample
	}
	m.mu.Unlock()
	return m.Sample()
}

// OptimizeMemory 在采样内存超过阈值时执行有序回收，返回实际执行的动作列表。
// 每一步都是独立的尽力而为，整个方法从不返回错误。
func (m *ResourceMonitor) OptimizeMemory() []string {
	actions := make([]string, 0)

	sample := m.LatestSample()
	thresholdBytes := m.config.MemoryThresholdMB * 1024 * 1024
	if sample.HeapAlloc <= thresholdBytes {
		return actions
	}

	m.logger.WithFields(logrus.Fields{
		"heap_alloc_mb": sample.HeapAlloc / 1024 / 1024,
		"threshold_mb":  m.config.MemoryThresholdMB,
	}).Info("内存超过阈值，开始回收")

	// 第一步：清空所有子缓存
	cleared := m.clearSubCaches()
	actions = append(actions, fmt.Sprintf("cleared %d sub-cache entries", cleared))

	// 第二步：请求一次垃圾回收
	m.gc()
	actions = append(actions, "requested garbage collection")

	// 第三步：历史环过大时裁剪到一半
	m.mu.Lock()
	if len(m.history) > m.config.HistorySize/2 {
		trimmed := len(m.history) - m.config.HistorySize/2
		m.history = m.history[trimmed:]
		actions = append(actions, fmt.Sprintf("trimmed %d memory samples", trimmed))
	}
	m.mu.Unlock()

	m.logger.WithField("actions", actions).Info("内存回收完成")
	return actions
}

// SubCacheSet 向命名子缓存写入。子缓存满时批量淘汰最旧的一批条目。
func (m *ResourceMonitor) SubCacheSet(cacheName, key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.subCaches[cacheName]
	if !ok {
		sc = &subCache{entries: make(map[string]subEntry)}
		m.subCaches[cacheName] = sc
	}

	if _, exists := sc.entries[key]; !exists && len(sc.entries) >= m.config.SubCacheMaxSize {
		m.trimSubCacheLocked(cacheName, sc)
	}

	if _, exists := sc.entries[key]; !exists {
		sc.order = append(sc.order, key)
	}
	sc.entries[key] = subEntry{value: value, createdAt: time.Now()}
}

// SubCacheGet 从命名子缓存读取，并维护每个子缓存独立的命中计数。
func (m *ResourceMonitor) SubCacheGet(cacheName, key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.subCaches[cacheName]
	if !ok {
		return nil, false
	}

	entry, ok := sc.entries[key]
	if !ok {
		sc.misses++
		return nil, false
	}

	sc.hits++
	return entry.value, true
}

// SubCacheStats 返回所有子缓存的统计。
func (m *ResourceMonitor) SubCacheStats() map[string]SubCacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]SubCacheStats, len(m.subCaches))
	for name, sc := range m.subCaches {
		var rate float64
		if total := sc.hits + sc.misses; total > 0 {
			rate = float64(sc.hits) / float64(total)
		}
		out[name] = SubCacheStats{
			EntryCount: len(sc.entries),
			HitCount:   sc.hits,
			MissCount:  sc.misses,
			HitRate:    rate,
		}
	}
	return out
}

// CleanupSubCaches 定期清理入口：对每个超限的子缓存做一次批量淘汰。
func (m *ResourceMonitor) CleanupSubCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, sc := range m.subCaches {
		if len(sc.entries) >= m.config.SubCacheMaxSize {
			m.trimSubCacheLocked(name, sc)
		}
	}
}

// trimSubCacheLocked 批量淘汰子缓存中最旧的约15%条目（至少1条）。
// 子缓存刻意用粗粒度的批量裁剪代替逐条淘汰，保持轻量。
func (m *ResourceMonitor) trimSubCacheLocked(name string, sc *subCache) {
	n := int(float64(len(sc.order)) * subCacheTrimRatio)
	if n < 1 {
		n = 1
	}
	if n > len(sc.order) {
		n = len(sc.order)
	}

	for _, key := range sc.order[:n] {
		delete(sc.entries, key)
	}
	sc.order = sc.order[n:]

	m.logger.WithFields(logrus.Fields{
		"sub_cache": name,
		"trimmed":   n,
	}).Debug("子缓存批量淘汰")
}

// clearSubCaches 清空所有子缓存，返回清除的条目总数。
func (m *ResourceMonitor) clearSubCaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, sc := range m.subCaches {
		total += len(sc.entries)
		sc.entries = make(map[string]subEntry)
		sc.order = sc.order[:0]
	}
	return total
}

// EstimateSize 估算一个值占用的字节数。
// 这是一个明确的启发式：可序列化的值按序列化长度测量，其余用固定估算。
func EstimateSize(value interface{}) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	default:
		if data, err := json.Marshal(value); err == nil {
			return int64(len(data))
		}
		return 64
	}
}
