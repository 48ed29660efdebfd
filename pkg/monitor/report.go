package monitor

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// GenerateMemoryReport 生成人类可读的内存监控报告。
// 数字用千分位格式化，面向运维阅读而非程序解析。
func (m *ResourceMonitor) GenerateMemoryReport() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	sample := m.LatestSample()
	history := m.History()

	b.WriteString("=== 内存监控报告 ===\n")
	b.WriteString(p.Sprintf("时间: %s\n", sample.Timestamp.Format(time.RFC3339)))
	b.WriteString(p.Sprintf("堆内存使用: %d 字节 (%.1f MB)\n",
		sample.HeapAlloc, float64(sample.HeapAlloc)/1024/1024))
	b.WriteString(p.Sprintf("堆内存保留: %d 字节\n", sample.HeapSys))
	b.WriteString(p.Sprintf("栈使用: %d 字节\n", sample.StackInuse))
	b.WriteString(p.Sprintf("进程总内存: %d 字节\n", sample.Sys))
	b.WriteString(p.Sprintf("GC 次数: %d\n", sample.NumGC))
	b.WriteString(p.Sprintf("采样阈值: %d MB\n", m.config.MemoryThresholdMB))
	b.WriteString(p.Sprintf("历史采样数: %d\n", len(history)))

	if len(history) >= 2 {
		first := history[0]
		delta := int64(sample.HeapAlloc) - int64(first.HeapAlloc)
		b.WriteString(p.Sprintf("观测窗口内堆变化: %+d 字节\n", delta))
	}

	subStats := m.SubCacheStats()
	if len(subStats) > 0 {
		b.WriteString("--- 子缓存 ---\n")
		for name, ss := range subStats {
			b.WriteString(p.Sprintf("%s: %d 条目, 命中率 %.1f%%\n",
				name, ss.EntryCount, ss.HitRate*100))
		}
	}

	return b.String()
}
