package cache

import (
	"time"

	"cachekit/pkg/core"
)

// StrategyType 淘汰策略类型。策略是一个封闭集合，
// 在构造 Store 时选定，之后通过同一个优先级函数统一分发。
type StrategyType string

const (
	StrategyLRU      StrategyType = "lru"      // Least Recently Used
	StrategyLFU      StrategyType = "lfu"      // Least Frequently Used
	StrategyFIFO     StrategyType = "fifo"     // First In First Out
	StrategySize     StrategyType = "size"     // 最大条目优先淘汰
	StrategyAdaptive StrategyType = "adaptive" // 简化的 recency/frequency 比值
)

// ParseStrategy 解析策略名称，未知名称回退到LRU。
func ParseStrategy(name string) StrategyType {
	switch StrategyType(name) {
	case StrategyLRU, StrategyLFU, StrategyFIFO, StrategySize, StrategyAdaptive:
		return StrategyType(name)
	default:
		return StrategyLRU
	}
}

// priority 计算条目在 now 时刻的淘汰优先级，数值最小者最先被淘汰。
//
// adaptive 策略刻意保留简化的 (now-lastAccessed)/max(accessCount,1) 比值，
// 而不是教科书式的双链表ARC算法：既老又少被访问的条目比值最大，最先出局。
func (s StrategyType) priority(entry *core.CacheEntry, now time.Time) float64 {
	switch s {
	case StrategyLFU:
		return float64(entry.AccessCount)
	case StrategyFIFO:
		return float64(entry.CreatedAt.UnixNano())
	case StrategySize:
		return -float64(entry.SizeBytes)
	case StrategyAdaptive:
		idle := now.Sub(entry.LastAccessedAt)
		freq := entry.AccessCount
		if freq < 1 {
			freq = 1
		}
		return -float64(idle) / float64(freq)
	default: // StrategyLRU
		return float64(entry.LastAccessedAt.UnixNano())
	}
}
