package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cachekit/pkg/logger"
)

// 测试阶段计时
func TestScheduler_Phases(t *testing.T) {
	s := NewScheduler(Config{DrainDelay: time.Millisecond}, logger.Discard())

	s.BeginPhase("components")
	time.Sleep(5 * time.Millisecond)
	s.EndPhase("components")

	// 没有匹配BeginPhase的EndPhase被忽略
	s.EndPhase("unknown")

	report := s.GenerateReport()
	assert.Len(t, report.Phases, 1)
	assert.Equal(t, "components", report.Phases[0].Name)
	assert.GreaterOrEqual(t, report.Phases[0].Duration, 5*time.Millisecond)
}

// 测试急加载服务的初始化与计时
func TestScheduler_InitService(t *testing.T) {
	s := NewScheduler(Config{DrainDelay: time.Millisecond}, logger.Discard())

	ctx := context.Background()

	err := s.InitService(ctx, "database", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.True(t, s.IsLoaded("database"))

	// 初始化失败的服务不记为已加载，错误透传
	err = s.InitService(ctx, "broken", func(ctx context.Context) error { return errors.New("boom") })
	assert.Error(t, err)
	assert.False(t, s.IsLoaded("broken"))

	report := s.GenerateReport()
	assert.Equal(t, 2, report.EagerCount)
	assert.Equal(t, LoadEager, report.Services[0].Mode)
}

// 测试渐进队列按FIFO顺序排空
func TestScheduler_DrainFIFO(t *testing.T) {
	s := NewScheduler(Config{DrainDelay: time.Millisecond}, logger.Discard())

	ctx := context.Background()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		n := name
		s.Defer(n, func(ctx context.Context) error {
			order = append(order, n)
			return nil
		})
	}
	assert.Equal(t, 3, s.QueueLength())

	// 前台启动未完成时排空被拒绝
	assert.Equal(t, 0, s.DrainDeferred(ctx))
	assert.Equal(t, 3, s.QueueLength())

	s.ForegroundDone()
	drained := s.DrainDeferred(ctx)

	assert.Equal(t, 3, drained)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, 0, s.QueueLength())
	assert.True(t, s.IsLoaded("second"))
}

// 测试排空时静默跳过已加载的服务
func TestScheduler_DrainSkipsLoaded(t *testing.T) {
	s := NewScheduler(Config{DrainDelay: time.Millisecond}, logger.Discard())

	ctx := context.Background()

	calls := 0
	init := func(ctx context.Context) error {
		calls++
		return nil
	}

	assert.NoError(t, s.InitService(ctx, "shared", init))
	s.Defer("shared", init)
	s.Defer("extra", init)

	s.ForegroundDone()
	drained := s.DrainDeferred(ctx)

	// shared已被急加载，排空时跳过且不重复初始化
	assert.Equal(t, 1, drained)
	assert.Equal(t, 2, calls)
}

// 测试渐进加载失败的服务不计入排空数量，可再次入队重试
func TestScheduler_DrainFailedService(t *testing.T) {
	s := NewScheduler(Config{DrainDelay: time.Millisecond}, logger.Discard())

	ctx := context.Background()

	s.Defer("flaky", func(ctx context.Context) error { return errors.New("boom") })
	s.ForegroundDone()

	assert.Equal(t, 0, s.DrainDeferred(ctx))
	assert.False(t, s.IsLoaded("flaky"))

	s.Defer("flaky", func(ctx context.Context) error { return nil })
	assert.Equal(t, 1, s.DrainDeferred(ctx))
	assert.True(t, s.IsLoaded("flaky"))
}

// 测试上下文取消中断排空
func TestScheduler_DrainRespectsContext(t *testing.T) {
	s := NewScheduler(Config{DrainDelay: time.Millisecond}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Defer("never", func(ctx context.Context) error {
		t.Fatal("不应执行已取消上下文里的初始化")
		return nil
	})
	s.ForegroundDone()

	assert.Equal(t, 0, s.DrainDeferred(ctx))
}

// 测试启动报告的建议：总耗时超阈值、急加载占比、超长阶段
func TestScheduler_ReportRecommendations(t *testing.T) {
	s := NewScheduler(Config{
		TotalThreshold: time.Nanosecond, // 任何启动都超阈值
		DrainDelay:     time.Millisecond,
	}, logger.Discard())

	ctx := context.Background()

	s.BeginPhase("heavy")
	time.Sleep(10 * time.Millisecond)
	s.EndPhase("heavy")

	s.InitService(ctx, "svc", func(ctx context.Context) error { return nil })

	report := s.GenerateReport()
	assert.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations[0], "超过阈值")
}

// 测试未超阈值时报告不产生建议
func TestScheduler_ReportNoRecommendations(t *testing.T) {
	s := NewScheduler(Config{
		TotalThreshold: time.Hour,
		DrainDelay:     time.Millisecond,
	}, logger.Discard())

	report := s.GenerateReport()
	assert.Empty(t, report.Recommendations)
	assert.Equal(t, 0, report.EagerCount)
	assert.Equal(t, 0, report.DeferredCount)
}
