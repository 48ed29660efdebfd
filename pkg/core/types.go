// Package core 定义了 cachekit 的核心接口、数据结构和常量。
// 这些类型为所有子包（如 cache, monitor, perf）提供统一的抽象和交互契约。
package core

import (
	"context"
	"time"
)

// CacheEntry 代表缓存中的一个条目。
// 条目在 Set 时创建，仅由 Get 的访问记账修改，
// 由 delete/evict/expire/clear/dispose 销毁，其余情况不可变。
type CacheEntry struct {
	Value          interface{}       `json:"value"`            // 缓存的值
	CreatedAt      time.Time         `json:"created_at"`       // 创建时间
	LastAccessedAt time.Time         `json:"last_accessed_at"` // 最后访问时间
	TTL            time.Duration     `json:"ttl"`              // 生存时间
	AccessCount    int64             `json:"access_count"`     // 访问次数
	SizeBytes      int64             `json:"size_bytes"`       // 条目大小（字节，启发式估算）
	ContentHash    string            `json:"content_hash"`     // 内容哈希（完整性/去重）
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsStale 判断条目在 now 时刻是否已逻辑过期。
// 过期检测是惰性的：只在访问或清理扫描时执行，绝不在写入过程中主动触发。
func (e *CacheEntry) IsStale(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats 包含了缓存的详细统计信息。
type CacheStats struct {
	EntryCount     int64         `json:"entry_count"`      // 当前缓存中的条目数
	MaxEntries     int64         `json:"max_entries"`      // 条目数上限
	TotalSizeBytes int64         `json:"total_size_bytes"` // 当前占用字节数（估算）
	MaxSizeBytes   int64         `json:"max_size_bytes"`   // 字节数上限
	HitCount       int64         `json:"hit_count"`        // 命中次数
	MissCount      int64         `json:"miss_count"`       // 未命中次数
	EvictionCount  int64         `json:"eviction_count"`   // 容量淘汰次数
	ExpiredCount   int64         `json:"expired_count"`    // 过期删除次数
	HitRate        float64       `json:"hit_rate"`         // 命中率 HitCount/(HitCount+MissCount)
	AvgAccessTime  time.Duration `json:"avg_access_time"`  // 平均访问耗时（滑动混合）
	DefaultTTL     time.Duration `json:"default_ttl"`      // 默认生存时间
	LastCleanup    time.Time     `json:"last_cleanup"`     // 最后一次清理过期条目的时间
}

// Cache 定义了缓存行为的接口。
// cachekit 中的所有缓存实现（如 cache.Store, cache.RedisStore）都遵循此接口。
type Cache interface {
	// Get 从缓存中获取一个值。未命中或已过期返回 ErrCacheMiss。
	Get(ctx context.Context, key string) (interface{}, error)
	// Set 向缓存中设置一个值，ttl<=0 时使用默认TTL。
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Has 检查键是否存在。会触发与 Get 相同的惰性过期删除，但不计入命中/未命中。
	Has(ctx context.Context, key string) bool
	// Delete 从缓存中删除一个值。
	Delete(ctx context.Context, key string) error
	// Clear 清空所有缓存条目。
	Clear(ctx context.Context) error
	// Stats 获取缓存的统计信息。
	Stats() CacheStats
	// Close 关闭缓存并释放所有资源（停止后台任务，按需落盘）。
	Close() error
}

// MemorySample 代表一次进程内存采样。
type MemorySample struct {
	Timestamp  time.Time `json:"timestamp"`
	HeapAlloc  uint64    `json:"heap_alloc"`  // 堆上已分配且仍在使用的字节数
	HeapSys    uint64    `json:"heap_sys"`    // 从操作系统获得的堆内存
	StackInuse uint64    `json:"stack_inuse"` // 栈使用量
	Sys        uint64    `json:"sys"`         // 进程从操作系统获得的总内存
	NumGC      uint32    `json:"num_gc"`      // 截至采样时的GC次数
}
