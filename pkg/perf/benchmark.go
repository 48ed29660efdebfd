package perf

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BenchmarkFn 是被基准测试的操作。返回值会作为最后一次成功结果透传给调用方。
type BenchmarkFn func() (interface{}, error)

// BenchmarkRun 单次基准运行的记录。
type BenchmarkRun struct {
	Index      int           `json:"index"`
	Duration   time.Duration `json:"duration"`
	AllocDelta uint64        `json:"alloc_delta"` // 本次运行期间的累计分配增量（字节）
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// BenchmarkResult 一组基准运行的汇总。
// AvgDuration 只对成功的运行取平均；SuccessRate 的分母包含失败的运行。
type BenchmarkResult struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Iterations  int            `json:"iterations"`
	Succeeded   int            `json:"succeeded"`
	SuccessRate float64        `json:"success_rate"`
	AvgDuration time.Duration  `json:"avg_duration"`
	MinDuration time.Duration  `json:"min_duration"`
	MaxDuration time.Duration  `json:"max_duration"`
	TotalAlloc  uint64         `json:"total_alloc"`
	Runs        []BenchmarkRun `json:"runs"`
	StartedAt   time.Time      `json:"started_at"`
}

// Benchmark 顺序执行 fn iterations 次，逐次记录耗时和内存分配增量。
// 出错的运行记为失败：不参与平均耗时，但计入成功率分母。
// 返回最后一次成功运行的结果值和汇总记录。
func (r *Recorder) Benchmark(name string, fn BenchmarkFn, iterations int) (interface{}, *BenchmarkResult) {
	if iterations < 1 {
		iterations = 1
	}

	result := &BenchmarkResult{
		ID:         uuid.NewString(),
		Name:       name,
		Iterations: iterations,
		Runs:       make([]BenchmarkRun, 0, iterations),
		StartedAt:  time.Now(),
	}

	var lastValue interface{}
	var totalSuccessDuration time.Duration

	for i := 0; i < iterations; i++ {
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)

		start := time.Now()
		value, err := fn()
		elapsed := time.Since(start)

		runtime.ReadMemStats(&after)
		allocDelta := after.TotalAlloc - before.TotalAlloc

		run := BenchmarkRun{
			Index:      i,
			Duration:   elapsed,
			AllocDelta: allocDelta,
		}

		if err != nil {
			run.Error = err.Error()
			result.Runs = append(result.Runs, run)
			continue
		}

		run.Success = true
		result.Runs = append(result.Runs, run)
		result.Succeeded++
		result.TotalAlloc += allocDelta
		totalSuccessDuration += elapsed
		lastValue = value

		if result.MinDuration == 0 || elapsed < result.MinDuration {
			result.MinDuration = elapsed
		}
		if elapsed > result.MaxDuration {
			result.MaxDuration = elapsed
		}
	}

	result.SuccessRate = float64(result.Succeeded) / float64(iterations)
	if result.Succeeded > 0 {
		result.AvgDuration = totalSuccessDuration / time.Duration(result.Succeeded)
	}

	r.RecordMetric(Metric{
		Name:      name,
		Duration:  result.AvgDuration,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"benchmark_id": result.ID,
			"iterations":   iterations,
			"success_rate": result.SuccessRate,
		},
	})

	r.logger.WithFields(logrus.Fields{
		"benchmark":    name,
		"iterations":   iterations,
		"succeeded":    result.Succeeded,
		"avg_duration": result.AvgDuration,
	}).Debug("基准测试完成")

	return lastValue, result
}
