// Package perf 提供 cachekit 的性能度量设施：
// 秒表式计时器、有界指标环、百分位统计、基准测试执行器，
// 以及可以叠加在慢操作前面的优化包装器。
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Metric 一次已完成操作的度量记录。
type Metric struct {
	Name      string                 `json:"name"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TimingStats 按操作名聚合的耗时统计。
type TimingStats struct {
	Name  string        `json:"name"`
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// RecorderConfig 度量记录器配置
type RecorderConfig struct {
	BufferSize      int           `json:"buffer_size" mapstructure:"buffer_size"`             // 指标环大小，满时丢最旧
	SlowOpThreshold time.Duration `json:"slow_op_threshold" mapstructure:"slow_op_threshold"` // 单次慢操作告警阈值
}

// Recorder 度量记录器：活动计时器表 + 有界丢最旧的指标环。
type Recorder struct {
	mu      sync.Mutex
	active  map[string]activeTimer
	metrics []Metric
	config  RecorderConfig

	logger   *logrus.Entry
	exporter Exporter // 可选的指标导出器
}

type activeTimer struct {
	start    time.Time
	metadata map[string]interface{}
}

// NewRecorder 创建度量记录器。
func NewRecorder(config RecorderConfig, log *logrus.Entry) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.SlowOpThreshold <= 0 {
		config.SlowOpThreshold = 1000 * time.Millisecond
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Recorder{
		active:  make(map[string]activeTimer),
		metrics: make([]Metric, 0, config.BufferSize),
		config:  config,
		logger:  log.WithField("component", "perf"),
	}
}

// SetExporter 设置可选的指标导出器。导出失败只记日志，绝不影响记录本身。
func (r *Recorder) SetExporter(e Exporter) {
	r.mu.Lock()
	r.exporter = e
	r.mu.Unlock()
}

// StartTimer 启动一个命名计时器。同名计时器未结束时重复启动会覆盖旧的。
func (r *Recorder) StartTimer(name string, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[name]; exists {
		r.logger.WithField("operation", name).Debug("覆盖未结束的计时器")
	}
	r.active[name] = activeTimer{start: time.Now(), metadata: metadata}
}

// EndTimer 结束一个命名计时器并记录指标，返回本次耗时。
// 没有匹配的 StartTimer 时记录一条警告、返回零，且不产生任何指标。
func (r *Recorder) EndTimer(name string, extra map[string]interface{}) time.Duration {
	r.mu.Lock()
	timer, exists := r.active[name]
	if !exists {
		r.mu.Unlock()
		r.logger.WithField("operation", name).Warn("EndTimer 没有匹配的 StartTimer")
		return 0
	}
	delete(r.active, name)
	r.mu.Unlock()

	duration := time.Since(timer.start)

	metadata := timer.metadata
	if len(extra) > 0 {
		if metadata == nil {
			metadata = make(map[string]interface{}, len(extra))
		}
		for k, v := range extra {
			metadata[k] = v
		}
	}

	r.RecordMetric(Metric{
		Name:      name,
		Duration:  duration,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})

	return duration
}

// RecordMetric 追加一条指标到环形缓冲区（满时丢最旧）。
// 单次耗时超过绝对慢操作阈值时独立产生一条告警日志，与任何按操作的目标无关。
func (r *Recorder) RecordMetric(metric Metric) {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.metrics = append(r.metrics, metric)
	if len(r.metrics) > r.config.BufferSize {
		r.metrics = r.metrics[len(r.metrics)-r.config.BufferSize:]
	}
	exporter := r.exporter
	r.mu.Unlock()

	if metric.Duration > r.config.SlowOpThreshold {
		r.logger.WithFields(logrus.Fields{
			"operation":    metric.Name,
			"duration_ms":  metric.Duration.Milliseconds(),
			"threshold_ms": r.config.SlowOpThreshold.Milliseconds(),
		}).Warn("检测到慢操作")
	}

	if exporter != nil {
		if err := exporter.Export(metric); err != nil {
			r.logger.WithError(err).Debug("指标导出失败")
		}
	}
}

// GetStats 返回指定操作名的聚合统计；该操作没有任何指标时返回 nil。
// 百分位通过排序后取 ceil(n*p)-1 下标（钳制到合法范围）计算。
func (r *Recorder) GetStats(name string) *TimingStats {
	r.mu.Lock()
	durations := make([]time.Duration, 0)
	for _, m := range r.metrics {
		if m.Name == name {
			durations = append(durations, m.Duration)
		}
	}
	r.mu.Unlock()

	if len(durations) == 0 {
		return nil
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	stats := &TimingStats{
		Name:  name,
		Count: len(durations),
		Min:   durations[0],
		Max:   durations[len(durations)-1],
	}
	for _, d := range durations {
		stats.Total += d
	}
	stats.Avg = stats.Total / time.Duration(len(durations))
	stats.P50 = percentile(durations, 0.50)
	stats.P95 = percentile(durations, 0.95)
	stats.P99 = percentile(durations, 0.99)

	return stats
}

// OperationNames 返回当前缓冲区中出现过的所有操作名。
func (r *Recorder) OperationNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, m := range r.metrics {
		if _, ok := seen[m.Name]; !ok {
			seen[m.Name] = struct{}{}
			names = append(names, m.Name)
		}
	}
	sort.Strings(names)
	return names
}

// MetricCount 返回缓冲区中的指标总数。
func (r *Recorder) MetricCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metrics)
}

// percentile 在已排序切片上取 p 分位值。
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
