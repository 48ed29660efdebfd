package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cachekit/pkg/core"
	"cachekit/pkg/logger"
)

// fakeClock 返回一个可手动推进的时钟，用于确定性的TTL和策略测试。
func fakeClock(base time.Time) (*time.Time, func() time.Time) {
	current := base
	return &current, func() time.Time { return current }
}

// 测试Store基本操作
func TestStore_BasicOperations(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "basic",
		MaxEntries: 100,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	// 测试Set和Get
	err := s.Set(ctx, "key1", "value1", 0)
	assert.NoError(t, err)

	value, err := s.Get(ctx, "key1")
	assert.NoError(t, err)
	assert.Equal(t, "value1", value)

	// 测试不存在的键
	_, err = s.Get(ctx, "nonexistent")
	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrCacheMiss))

	// 测试Delete
	err = s.Delete(ctx, "key1")
	assert.NoError(t, err)

	_, err = s.Get(ctx, "key1")
	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrCacheMiss))
}

// TestStore_TTLLazyExpiry 测试惰性过期：过期条目在Get时被删除并计为未命中
func TestStore_TTLLazyExpiry(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "ttl",
		MaxEntries: 100,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	clock, now := fakeClock(time.Now())
	s.now = now

	ctx := context.Background()

	err := s.Set(ctx, "key1", "value1", 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), s.Stats().EntryCount)

	// 推进时钟到TTL之后
	*clock = clock.Add(200 * time.Millisecond)

	_, err = s.Get(ctx, "key1")
	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrCacheMiss))

	// 验证条目已在Get操作中被删除，并同时计入过期和未命中
	stats := s.Stats()
	assert.Equal(t, int64(0), stats.EntryCount)
	assert.Equal(t, int64(1), stats.ExpiredCount)
	assert.Equal(t, int64(1), stats.MissCount)
	assert.Equal(t, int64(0), stats.TotalSizeBytes)
}

// 测试ttl<=0时回退到默认TTL
func TestStore_DefaultTTL(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "default-ttl",
		MaxEntries: 100,
		DefaultTTL: 42 * time.Second,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()
	assert.NoError(t, s.Set(ctx, "key1", "value1", 0))

	s.mu.Lock()
	entry := s.entries["key1"]
	s.mu.Unlock()
	assert.Equal(t, 42*time.Second, entry.TTL)
}

// 测试FIFO策略：maxEntries=2时按插入顺序淘汰
func TestStore_FIFOEviction(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "fifo",
		MaxEntries: 2,
		DefaultTTL: 5 * time.Minute,
		Strategy:   StrategyFIFO,
	}, logger.Discard())
	defer s.Close()

	clock, now := fakeClock(time.Now())
	s.now = now

	ctx := context.Background()

	assert.NoError(t, s.Set(ctx, "key1", "value1", 0))
	*clock = clock.Add(time.Millisecond)
	assert.NoError(t, s.Set(ctx, "key2", "value2", 0))
	*clock = clock.Add(time.Millisecond)
	assert.NoError(t, s.Set(ctx, "key3", "value3", 0))

	// 最早插入的key1被淘汰
	assert.False(t, s.Has(ctx, "key1"))
	assert.True(t, s.Has(ctx, "key2"))
	assert.True(t, s.Has(ctx, "key3"))
	assert.Equal(t, int64(1), s.Stats().EvictionCount)
}

// 测试LRU策略：最久未访问的条目先被淘汰
func TestStore_LRUEviction(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "lru",
		MaxEntries: 3,
		DefaultTTL: 5 * time.Minute,
		Strategy:   StrategyLRU,
	}, logger.Discard())
	defer s.Close()

	clock, now := fakeClock(time.Now())
	s.now = now

	ctx := context.Background()

	assert.NoError(t, s.Set(ctx, "a", 1, 0))
	*clock = clock.Add(time.Millisecond)
	assert.NoError(t, s.Set(ctx, "b", 2, 0))
	*clock = clock.Add(time.Millisecond)
	assert.NoError(t, s.Set(ctx, "c", 3, 0))

	// 访问a和b，让c成为最久未访问者
	*clock = clock.Add(time.Millisecond)
	_, err := s.Get(ctx, "a")
	assert.NoError(t, err)
	*clock = clock.Add(time.Millisecond)
	_, err = s.Get(ctx, "b")
	assert.NoError(t, err)

	*clock = clock.Add(time.Millisecond)
	assert.NoError(t, s.Set(ctx, "d", 4, 0))

	assert.False(t, s.Has(ctx, "c"))
	assert.True(t, s.Has(ctx, "a"))
	assert.True(t, s.Has(ctx, "b"))
	assert.True(t, s.Has(ctx, "d"))
}

// 测试LFU策略：访问次数最少者先被淘汰，相同次数时先插入者先出局
func TestStore_LFUEvictionWithTieBreak(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "lfu",
		MaxEntries: 3,
		DefaultTTL: 5 * time.Minute,
		Strategy:   StrategyLFU,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	assert.NoError(t, s.Set(ctx, "a", 1, 0))
	assert.NoError(t, s.Set(ctx, "b", 2, 0))
	assert.NoError(t, s.Set(ctx, "c", 3, 0))

	// c访问两次，a和b访问次数均为0，平局时先插入的a被淘汰
	_, _ = s.Get(ctx, "c")
	_, _ = s.Get(ctx, "c")

	assert.NoError(t, s.Set(ctx, "d", 4, 0))

	assert.False(t, s.Has(ctx, "a"))
	assert.True(t, s.Has(ctx, "b"))
	assert.True(t, s.Has(ctx, "c"))
	assert.True(t, s.Has(ctx, "d"))
}

// 测试Size策略：最大的条目先被淘汰
func TestStore_SizeEviction(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:         "size",
		MaxSizeBytes: 100,
		DefaultTTL:   5 * time.Minute,
		Strategy:     StrategySize,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	// big占60字节，small占10字节
	assert.NoError(t, s.Set(ctx, "small", string(make([]byte, 10)), 0))
	assert.NoError(t, s.Set(ctx, "big", string(make([]byte, 60)), 0))

	// 再插入50字节会超出预算，最大的big被淘汰
	assert.NoError(t, s.Set(ctx, "medium", string(make([]byte, 50)), 0))

	assert.False(t, s.Has(ctx, "big"))
	assert.True(t, s.Has(ctx, "small"))
	assert.True(t, s.Has(ctx, "medium"))
	assert.Equal(t, int64(60), s.Stats().TotalSizeBytes)
}

// 测试Adaptive策略：既老又少被访问的条目先出局
func TestStore_AdaptiveEviction(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "adaptive",
		MaxEntries: 2,
		DefaultTTL: time.Hour,
		Strategy:   StrategyAdaptive,
	}, logger.Discard())
	defer s.Close()

	clock, now := fakeClock(time.Now())
	s.now = now

	ctx := context.Background()

	assert.NoError(t, s.Set(ctx, "cold", 1, 0))
	assert.NoError(t, s.Set(ctx, "hot", 2, 0))

	// hot被频繁访问，cold长时间无人问津
	*clock = clock.Add(10 * time.Minute)
	for i := 0; i < 5; i++ {
		_, err := s.Get(ctx, "hot")
		assert.NoError(t, err)
	}

	assert.NoError(t, s.Set(ctx, "fresh", 3, 0))

	assert.False(t, s.Has(ctx, "cold"))
	assert.True(t, s.Has(ctx, "hot"))
	assert.True(t, s.Has(ctx, "fresh"))
}

// 测试任意写入序列后容量约束始终成立（淘汰完成后）
func TestStore_CapacityInvariant(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:         "invariant",
		MaxEntries:   5,
		MaxSizeBytes: 200,
		DefaultTTL:   5 * time.Minute,
		Strategy:     StrategyLRU,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	for i := 0; i < 20; i++ {
		assert.NoError(t, s.Set(ctx, fmt.Sprintf("key%d", i), string(make([]byte, 20)), 0))

		stats := s.Stats()
		assert.LessOrEqual(t, stats.EntryCount, int64(5))
		assert.LessOrEqual(t, stats.TotalSizeBytes, int64(200))
	}

	assert.Equal(t, int64(15), s.Stats().EvictionCount)
}

// 测试容量软限制：单条目超过总预算时仍照常写入
func TestStore_SoftCapacityViolation(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:         "soft",
		MaxSizeBytes: 10,
		DefaultTTL:   5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	err := s.Set(ctx, "huge", string(make([]byte, 50)), 0)
	assert.NoError(t, err)

	assert.True(t, s.Has(ctx, "huge"))
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.EntryCount)
	assert.Equal(t, int64(50), stats.TotalSizeBytes)
}

// 测试覆盖写：旧条目被替换，大小计数不重复累计
func TestStore_Overwrite(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "overwrite",
		MaxEntries: 10,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	assert.NoError(t, s.Set(ctx, "key1", "12345", 0))
	assert.NoError(t, s.Set(ctx, "key1", "1234567890", 0))

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.EntryCount)
	assert.Equal(t, int64(10), stats.TotalSizeBytes)

	value, err := s.Get(ctx, "key1")
	assert.NoError(t, err)
	assert.Equal(t, "1234567890", value)
}

// 测试Has不计入命中/未命中统计
func TestStore_HasDoesNotCount(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "has",
		MaxEntries: 10,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()
	assert.NoError(t, s.Set(ctx, "key1", "value1", 0))

	assert.True(t, s.Has(ctx, "key1"))
	assert.False(t, s.Has(ctx, "missing"))

	stats := s.Stats()
	assert.Equal(t, int64(0), stats.HitCount)
	assert.Equal(t, int64(0), stats.MissCount)
}

// 测试Store统计信息与命中率
func TestStore_Stats(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "stats",
		MaxEntries: 100,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	// 零访问时命中率为0而不是NaN
	stats := s.Stats()
	assert.Equal(t, int64(0), stats.EntryCount)
	assert.Equal(t, float64(0), stats.HitRate)

	s.Set(ctx, "key1", "value1", 0)
	s.Set(ctx, "key2", "value2", 0)

	s.Get(ctx, "key1") // hit
	s.Get(ctx, "key3") // miss

	stats = s.Stats()
	assert.Equal(t, int64(2), stats.EntryCount)
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Greater(t, int64(stats.AvgAccessTime), int64(0))
}

// 测试Clear清空数据并重置统计
func TestStore_Clear(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "clear",
		MaxEntries: 100,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	s.Set(ctx, "key1", "value1", 0)
	s.Set(ctx, "key2", "value2", 0)
	s.Get(ctx, "key1")
	s.Get(ctx, "missing")

	assert.NoError(t, s.Clear(ctx))

	stats := s.Stats()
	assert.Equal(t, int64(0), stats.EntryCount)
	assert.Equal(t, int64(0), stats.TotalSizeBytes)
	assert.Equal(t, int64(0), stats.HitCount)
	assert.Equal(t, int64(0), stats.MissCount)
	assert.Equal(t, float64(0), stats.HitRate)
}

// 测试关闭后的操作返回CACHE_CLOSED
func TestStore_ClosedOperations(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "closed",
		MaxEntries: 10,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())

	ctx := context.Background()
	assert.NoError(t, s.Close())

	err := s.Set(ctx, "key1", "value1", 0)
	assert.True(t, core.IsCode(err, core.ErrCacheClosed))

	_, err = s.Get(ctx, "key1")
	assert.True(t, core.IsCode(err, core.ErrCacheClosed))

	// 重复Close是安全的
	assert.NoError(t, s.Close())
}

// 测试不可序列化的值回退到默认大小估算，写入照常进行
func TestStore_EstimateFallback(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "estimate",
		MaxEntries: 10,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	ch := make(chan int)
	assert.NoError(t, s.Set(ctx, "chan", ch, 0))

	s.mu.Lock()
	entry := s.entries["chan"]
	s.mu.Unlock()
	assert.Equal(t, int64(defaultEntrySize), entry.SizeBytes)
	assert.Empty(t, entry.ContentHash)

	value, err := s.Get(ctx, "chan")
	assert.NoError(t, err)
	assert.Equal(t, interface{}(ch), value)
}

// 测试可序列化值的大小估算和内容哈希
func TestStore_EstimateSizeAndHash(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "hash",
		MaxEntries: 10,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	size, hash := s.estimate("k", "hello")
	assert.Equal(t, int64(5), size)
	assert.Len(t, hash, 64) // sha256十六进制

	size, _ = s.estimate("k", []byte("0123456789"))
	assert.Equal(t, int64(10), size)

	// 相同内容哈希相同，不同内容哈希不同
	_, h1 := s.estimate("k", "same")
	_, h2 := s.estimate("k", "same")
	_, h3 := s.estimate("k", "different")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

// 测试淘汰前优先清除已过期条目
func TestStore_EvictPrefersStaleEntries(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:       "stale-first",
		MaxEntries: 2,
		DefaultTTL: time.Hour,
		Strategy:   StrategyLRU,
	}, logger.Discard())
	defer s.Close()

	clock, now := fakeClock(time.Now())
	s.now = now

	ctx := context.Background()

	assert.NoError(t, s.Set(ctx, "stale", 1, 50*time.Millisecond))
	assert.NoError(t, s.Set(ctx, "live", 2, time.Hour))

	*clock = clock.Add(time.Minute)

	// stale已过期，插入新条目时它先被清除，live留下
	assert.NoError(t, s.Set(ctx, "new", 3, 0))

	assert.True(t, s.Has(ctx, "live"))
	assert.True(t, s.Has(ctx, "new"))
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.ExpiredCount)
	assert.Equal(t, int64(0), stats.EvictionCount)
}

// 测试后台清理协程
func TestStore_BackgroundSweep(t *testing.T) {
	s := NewStore(StoreConfig{
		Name:            "sweep",
		MaxEntries:      100,
		DefaultTTL:      30 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	s.Set(ctx, "key1", "value1", 30*time.Millisecond)
	s.Set(ctx, "key2", "value2", time.Hour)

	time.Sleep(80 * time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.EntryCount)
	assert.GreaterOrEqual(t, stats.ExpiredCount, int64(1))
	assert.True(t, s.Has(ctx, "key2"))
}

// Store基准测试
func BenchmarkStore_Set(b *testing.B) {
	s := NewStore(StoreConfig{
		Name:       "bench",
		MaxEntries: 100000,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set(ctx, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i), 0)
	}
}

func BenchmarkStore_Get(b *testing.B) {
	s := NewStore(StoreConfig{
		Name:       "bench",
		MaxEntries: 10000,
		DefaultTTL: 5 * time.Minute,
	}, logger.Discard())
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		s.Set(ctx, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i), 0)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Get(ctx, fmt.Sprintf("key%d", i%1000))
	}
}
