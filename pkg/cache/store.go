// Package cache 提供了 cachekit 的缓存层实现：
// 带容量约束和TTL的内存存储、多种淘汰策略、快照持久化、
// 远程(Redis)后端以及聚合多个命名缓存的注册表。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/core"
)

// defaultEntrySize 是值无法序列化时使用的固定大小估算（字节）。
const defaultEntrySize = 64

// StoreConfig 内存缓存配置
type StoreConfig struct {
	Name            string        `json:"name" mapstructure:"name"`
	MaxSizeBytes    int64         `json:"max_size_bytes" mapstructure:"max_size_bytes"`   // 字节数上限（软限制）
	MaxEntries      int64         `json:"max_entries" mapstructure:"max_entries"`         // 条目数上限（软限制）
	DefaultTTL      time.Duration `json:"default_ttl" mapstructure:"default_ttl"`         // 默认生存时间
	Strategy        StrategyType  `json:"strategy" mapstructure:"strategy"`               // 淘汰策略
	CleanupInterval time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"` // 过期清理间隔，0表示不启动后台清理
	PersistencePath string        `json:"persistence_path" mapstructure:"persistence_path"` // 快照路径，空表示不持久化
}

// Store 是带容量约束、TTL和访问统计的内存缓存。
//
// 容量是软限制：插入前先淘汰，淘汰完所有可淘汰条目后仍放不下时，
// 新条目照常写入并记录一条超预算日志。
// 过期检测是惰性的，发生在访问或后台清理扫描中。
type Store struct {
	mu      sync.Mutex
	entries map[string]*core.CacheEntry
	order   []string // 插入顺序，用于稳定的淘汰平局裁决
	config  StoreConfig

	hits      int64
	misses    int64
	evictions int64
	expired   int64
	totalSize int64
	avgAccess time.Duration

	logger      *logrus.Entry
	now         func() time.Time // 可在测试中替换以模拟时钟
	lastCleanup time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closed        bool
}

// NewStore 创建内存缓存。
func NewStore(config StoreConfig, log *logrus.Entry) *Store {
	if config.Strategy == "" {
		config.Strategy = StrategyLRU
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Store{
		entries:     make(map[string]*core.CacheEntry),
		order:       make([]string, 0),
		config:      config,
		logger:      log.WithField("cache", config.Name),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		lastCleanup: time.Now(),
	}

	// 启动过期清理协程
	if config.CleanupInterval > 0 {
		s.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go s.cleanupLoop()
	}

	return s
}

// Set 向缓存设置一个值。
// 先估算大小并计算内容哈希；若本次写入会突破容量约束，则在插入前执行淘汰。
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.SetWithMetadata(ctx, key, value, ttl, nil)
}

// SetWithMetadata 与 Set 相同，额外附带调用方自定义的元数据。
func (s *Store) SetWithMetadata(ctx context.Context, key string, value interface{}, ttl time.Duration, metadata map[string]string) error {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	size, hash := s.estimate(key, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrCacheAlreadyClosed
	}

	// 覆盖写：先移除旧条目，使其不参与容量计算
	if _, exists := s.entries[key]; exists {
		s.removeLocked(key)
	}

	s.makeRoomLocked(size)

	now := s.now()
	s.entries[key] = &core.CacheEntry{
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
		SizeBytes:      size,
		ContentHash:    hash,
		Metadata:       metadata,
	}
	s.order = append(s.order, key)
	s.totalSize += size

	return nil
}

// Get 从缓存获取一个值。
// 已逻辑过期的条目会被先删除并计为一次未命中（惰性过期）。
func (s *Store) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, core.ErrCacheAlreadyClosed
	}

	entry, exists := s.entries[key]
	if !exists {
		s.misses++
		return nil, core.ErrCacheMissNotFound
	}

	if entry.IsStale(s.now()) {
		s.removeLocked(key)
		s.expired++
		s.misses++
		return nil, core.NewError(core.ErrCacheMiss, "cache entry expired")
	}

	entry.AccessCount++
	entry.LastAccessedAt = s.now()
	s.hits++
	s.blendAccessTime(time.Since(start))

	return entry.Value, nil
}

// Has 检查键是否存在。触发与 Get 相同的惰性过期删除，但不计入命中/未命中。
func (s *Store) Has(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return false
	}

	if entry.IsStale(s.now()) {
		s.removeLocked(key)
		s.expired++
		return false
	}

	return true
}

// Delete 显式删除一个键。
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(key)
	return nil
}

// Clear 清空缓存并重置统计。
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*core.CacheEntry)
	s.order = s.order[:0]
	s.totalSize = 0
	s.hits = 0
	s.misses = 0
	s.evictions = 0
	s.expired = 0
	return nil
}

// Stats 获取缓存统计信息。
func (s *Store) Stats() core.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hitRate float64
	if total := s.hits + s.misses; total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}

	return core.CacheStats{
		EntryCount:     int64(len(s.entries)),
		MaxEntries:     s.config.MaxEntries,
		TotalSizeBytes: s.totalSize,
		MaxSizeBytes:   s.config.MaxSizeBytes,
		HitCount:       s.hits,
		MissCount:      s.misses,
		EvictionCount:  s.evictions,
		ExpiredCount:   s.expired,
		HitRate:        hitRate,
		AvgAccessTime:  s.avgAccess,
		DefaultTTL:     s.config.DefaultTTL,
		LastCleanup:    s.lastCleanup,
	}
}

// Name 返回缓存名称。
func (s *Store) Name() string {
	return s.config.Name
}

// Close 关闭缓存：停止后台清理，若配置了持久化则落盘快照。
// 快照I/O错误只记录日志，不向调用方传播。
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}
	close(s.stopCleanup)
	s.mu.Unlock()

	if s.config.PersistencePath != "" {
		adapter := NewSnapshotAdapter(s.config.PersistencePath, s.logger)
		if err := adapter.Save(s); err != nil {
			s.logger.WithError(err).Warn("保存缓存快照失败")
		}
	}

	return nil
}

// estimate 估算值的序列化大小并计算内容哈希。
// 序列化失败时回退到固定默认大小，写入照常进行。
func (s *Store) estimate(key string, value interface{}) (int64, string) {
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			s.logger.WithError(err).WithField("key", key).
				Debug("值序列化失败，使用默认大小估算")
			return defaultEntrySize, ""
		}
		data = encoded
	}

	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:])
}

// makeRoomLocked 在插入 pending 字节的新条目前腾出空间：
// 先机会性清除所有已过期条目，仍超预算时按策略逐个淘汰极值优先级条目。
// 淘汰完全部现存条目后仍放不下时记录超预算日志（软限制）。
func (s *Store) makeRoomLocked(pending int64) {
	if !s.overBudgetLocked(pending) {
		return
	}

	// 第一步：清除已逻辑过期的条目
	now := s.now()
	for _, key := range append([]string(nil), s.order...) {
		if entry, ok := s.entries[key]; ok && entry.IsStale(now) {
			s.removeLocked(key)
			s.expired++
		}
	}

	// 第二步：按策略淘汰，直到满足预算
	for s.overBudgetLocked(pending) && len(s.entries) > 0 {
		victim := s.selectVictimLocked(now)
		if victim == "" {
			break
		}
		s.removeLocked(victim)
		s.evictions++
	}

	if s.overBudgetLocked(pending) {
		s.logger.WithFields(logrus.Fields{
			"pending_bytes":  pending,
			"max_size_bytes": s.config.MaxSizeBytes,
		}).Warn("淘汰后仍超出容量预算，新条目照常写入")
	}
}

// overBudgetLocked 判断再插入一个 pending 字节的条目是否会突破约束。
func (s *Store) overBudgetLocked(pending int64) bool {
	if s.config.MaxEntries > 0 && int64(len(s.entries))+1 > s.config.MaxEntries {
		return true
	}
	if s.config.MaxSizeBytes > 0 && s.totalSize+pending > s.config.MaxSizeBytes {
		return true
	}
	return false
}

// selectVictimLocked 按插入顺序遍历，选出优先级最小的条目。
// 使用严格小于比较，因此优先级相同时先插入者先被淘汰（稳定平局裁决）。
func (s *Store) selectVictimLocked(now time.Time) string {
	var victim string
	var victimPriority float64
	first := true

	for _, key := range s.order {
		entry, ok := s.entries[key]
		if !ok {
			continue
		}
		p := s.config.Strategy.priority(entry, now)
		if first || p < victimPriority {
			victim = key
			victimPriority = p
			first = false
		}
	}

	return victim
}

// removeLocked 删除条目并同步扣减大小计数和插入顺序。
func (s *Store) removeLocked(key string) {
	entry, exists := s.entries[key]
	if !exists {
		return
	}

	delete(s.entries, key)
	s.totalSize -= entry.SizeBytes
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// blendAccessTime 混合滑动平均访问耗时。
func (s *Store) blendAccessTime(elapsed time.Duration) {
	if s.avgAccess == 0 {
		s.avgAccess = elapsed
		return
	}
	s.avgAccess = (s.avgAccess*7 + elapsed) / 8
}

// cleanupLoop 后台过期清理协程。只触碰本 Store 的内部map。
func (s *Store) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

// sweep 清理所有已逻辑过期的条目。
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, key := range append([]string(nil), s.order...) {
		if entry, ok := s.entries[key]; ok && entry.IsStale(now) {
			s.removeLocked(key)
			s.expired++
			removed++
		}
	}
	s.lastCleanup = now

	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("过期清理完成")
	}
}

var _ core.Cache = (*Store)(nil)
