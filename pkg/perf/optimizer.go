package perf

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"cachekit/pkg/cache"
	"cachekit/pkg/core"
)

// Operation 是可被优化包装的操作。
type Operation func(ctx context.Context) (interface{}, error)

// Target 单个操作的性能目标。
type Target struct {
	MaxDuration   time.Duration `json:"max_duration" mapstructure:"max_duration"`     // 可接受的最大耗时
	WarnThreshold time.Duration `json:"warn_threshold" mapstructure:"warn_threshold"` // 告警阈值
}

// Wrapper 是可以叠加在操作前面的优化策略。
type Wrapper interface {
	// Name 返回策略名称，用于日志和报告。
	Name() string
	// Wrap 返回套上本策略的新操作。
	Wrap(op Operation) Operation
}

// Optimizer 持有按操作名的性能目标表和可选的包装器链。
// Execute 按配置顺序逐个尝试包装器，接受第一个实测耗时满足目标的，
// 全部不满足时回退到未包装的原始调用。
type Optimizer struct {
	mu       sync.Mutex
	targets  map[string]Target
	wrappers map[string][]Wrapper
	recorder *Recorder
	logger   *logrus.Entry
}

// NewOptimizer 创建性能优化器。
func NewOptimizer(recorder *Recorder, log *logrus.Entry) *Optimizer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Optimizer{
		targets:  make(map[string]Target),
		wrappers: make(map[string][]Wrapper),
		recorder: recorder,
		logger:   log.WithField("component", "optimizer"),
	}
}

// SetTarget 设置操作的性能目标。
func (o *Optimizer) SetTarget(name string, target Target) {
	o.mu.Lock()
	o.targets[name] = target
	o.mu.Unlock()
}

// AddWrapper 为操作追加一个包装策略，尝试顺序与添加顺序一致。
func (o *Optimizer) AddWrapper(name string, w Wrapper) {
	o.mu.Lock()
	o.wrappers[name] = append(o.wrappers[name], w)
	o.mu.Unlock()
}

// Execute 执行操作：依次尝试配置的包装器，接受第一个满足目标的结果；
// 没有包装器满足目标（或没有配置目标/包装器）时执行未包装的原始操作。
func (o *Optimizer) Execute(ctx context.Context, name string, op Operation) (interface{}, error) {
	o.mu.Lock()
	target, hasTarget := o.targets[name]
	wrappers := o.wrappers[name]
	o.mu.Unlock()

	if hasTarget && len(wrappers) > 0 {
		for _, w := range wrappers {
			wrapped := w.Wrap(op)

			start := time.Now()
			value, err := wrapped(ctx)
			elapsed := time.Since(start)

			if o.recorder != nil {
				o.recorder.RecordMetric(Metric{
					Name:     name,
					Duration: elapsed,
					Metadata: map[string]interface{}{"wrapper": w.Name()},
				})
			}

			if err == nil && elapsed <= target.MaxDuration {
				if target.WarnThreshold > 0 && elapsed > target.WarnThreshold {
					o.logger.WithFields(logrus.Fields{
						"operation": name,
						"wrapper":   w.Name(),
					}).Warn("操作耗时接近目标上限")
				}
				return value, nil
			}

			o.logger.WithFields(logrus.Fields{
				"operation":   name,
				"wrapper":     w.Name(),
				"duration_ms": elapsed.Milliseconds(),
				"target_ms":   target.MaxDuration.Milliseconds(),
			}).Debug("包装器未达到性能目标")
		}
	}

	// 回退：未包装的原始调用
	start := time.Now()
	value, err := op(ctx)
	elapsed := time.Since(start)

	if o.recorder != nil {
		o.recorder.RecordMetric(Metric{
			Name:     name,
			Duration: elapsed,
			Metadata: map[string]interface{}{"wrapper": "none"},
		})
	}

	return value, err
}

// ---- 内置包装策略 ----

// DebounceWrapper 防抖：窗口期内的重复调用直接复用上一次结果。
type DebounceWrapper struct {
	Interval time.Duration

	mu       sync.Mutex
	lastCall time.Time
	lastVal  interface{}
	lastErr  error
	called   bool
}

// NewDebounceWrapper 创建防抖包装器。
func NewDebounceWrapper(interval time.Duration) *DebounceWrapper {
	return &DebounceWrapper{Interval: interval}
}

// Name 实现 Wrapper。
func (d *DebounceWrapper) Name() string { return "debounce" }

// Wrap 实现 Wrapper。
func (d *DebounceWrapper) Wrap(op Operation) Operation {
	return func(ctx context.Context) (interface{}, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.called && time.Since(d.lastCall) < d.Interval {
			return d.lastVal, d.lastErr
		}

		d.lastVal, d.lastErr = op(ctx)
		d.lastCall = time.Now()
		d.called = true
		return d.lastVal, d.lastErr
	}
}

// ThrottleWrapper 节流：保证两次真实执行之间至少间隔 Interval，
// 间隔内的调用复用上一次结果而不是阻塞等待。
type ThrottleWrapper struct {
	Interval time.Duration

	mu       sync.Mutex
	lastExec time.Time
	lastVal  interface{}
	lastErr  error
	executed bool
}

// NewThrottleWrapper 创建节流包装器。
func NewThrottleWrapper(interval time.Duration) *ThrottleWrapper {
	return &ThrottleWrapper{Interval: interval}
}

// Name 实现 Wrapper。
func (t *ThrottleWrapper) Name() string { return "throttle" }

// Wrap 实现 Wrapper。
func (t *ThrottleWrapper) Wrap(op Operation) Operation {
	return func(ctx context.Context) (interface{}, error) {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.executed && time.Since(t.lastExec) < t.Interval {
			return t.lastVal, t.lastErr
		}

		t.lastVal, t.lastErr = op(ctx)
		t.lastExec = time.Now()
		t.executed = true
		return t.lastVal, t.lastErr
	}
}

// CacheTTLWrapper 结果缓存：用一个 cache.Store 按固定键缓存操作结果。
type CacheTTLWrapper struct {
	Store *cache.Store
	Key   string
	TTL   time.Duration
}

// NewCacheTTLWrapper 创建结果缓存包装器。
func NewCacheTTLWrapper(store *cache.Store, key string, ttl time.Duration) *CacheTTLWrapper {
	return &CacheTTLWrapper{Store: store, Key: key, TTL: ttl}
}

// Name 实现 Wrapper。
func (c *CacheTTLWrapper) Name() string { return "cache-ttl" }

// Wrap 实现 Wrapper。
func (c *CacheTTLWrapper) Wrap(op Operation) Operation {
	return func(ctx context.Context) (interface{}, error) {
		if value, err := c.Store.Get(ctx, c.Key); err == nil {
			return value, nil
		} else if !core.IsCode(err, core.ErrCacheMiss) {
			return nil, err
		}

		value, err := op(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.Store.Set(ctx, c.Key, value, c.TTL); err != nil {
			return value, nil // 缓存失败不影响本次结果
		}
		return value, nil
	}
}

// BatchWrapper 批量合并：窗口期内的多次调用共享一次底层执行。
type BatchWrapper struct {
	Window time.Duration

	mu       sync.Mutex
	lastExec time.Time
	lastVal  interface{}
	lastErr  error
	executed bool
}

// NewBatchWrapper 创建批量合并包装器。
func NewBatchWrapper(window time.Duration) *BatchWrapper {
	return &BatchWrapper{Window: window}
}

// Name 实现 Wrapper。
func (b *BatchWrapper) Name() string { return "batch" }

// Wrap 实现 Wrapper。
func (b *BatchWrapper) Wrap(op Operation) Operation {
	return func(ctx context.Context) (interface{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.executed && time.Since(b.lastExec) < b.Window {
			return b.lastVal, b.lastErr
		}

		b.lastVal, b.lastErr = op(ctx)
		b.lastExec = time.Now()
		b.executed = true
		return b.lastVal, b.lastErr
	}
}

// BreakerWrapper 熔断：连续失败达到阈值后短路调用，避免持续撞击慢操作。
type BreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

// BreakerConfig 熔断包装器配置。
type BreakerConfig struct {
	Name                string        `json:"name" mapstructure:"name"`
	MaxRequests         uint32        `json:"max_requests" mapstructure:"max_requests"`                 // 半开状态下的最大请求数
	Interval            time.Duration `json:"interval" mapstructure:"interval"`                         // 统计窗口时间
	Timeout             time.Duration `json:"timeout" mapstructure:"timeout"`                           // 熔断打开后的冷却时间
	ConsecutiveFailures uint32        `json:"consecutive_failures" mapstructure:"consecutive_failures"` // 触发熔断的连续失败次数
}

// DefaultBreakerConfig 默认熔断配置。
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// NewBreakerWrapper 创建熔断包装器。
func NewBreakerWrapper(config BreakerConfig, log *logrus.Entry) *BreakerWrapper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Info("熔断器状态变更")
		},
	}

	return &BreakerWrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name 实现 Wrapper。
func (b *BreakerWrapper) Name() string { return "breaker" }

// Wrap 实现 Wrapper。
func (b *BreakerWrapper) Wrap(op Operation) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return b.cb.Execute(func() (interface{}, error) {
			return op(ctx)
		})
	}
}
