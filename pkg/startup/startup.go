// Package startup 跟踪启动阶段与服务初始化耗时，
// 并在前台启动结束后按FIFO顺序渐进加载被推迟的服务。
package startup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LoadMode 服务的加载方式。
type LoadMode string

const (
	LoadEager       LoadMode = "eager"       // 前台启动期间同步加载
	LoadProgressive LoadMode = "progressive" // 前台启动完成后渐进加载
)

// Config 启动调度配置
type Config struct {
	TotalThreshold time.Duration `json:"total_threshold" mapstructure:"total_threshold"` // 启动总耗时建议阈值
	DrainDelay     time.Duration `json:"drain_delay" mapstructure:"drain_delay"`         // 渐进加载的服务间延迟
}

// PhaseTiming 单个启动阶段的耗时。
type PhaseTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// ServiceTiming 单个服务的初始化耗时。
type ServiceTiming struct {
	Name     string        `json:"name"`
	Mode     LoadMode      `json:"mode"`
	Duration time.Duration `json:"duration"`
}

// ServiceInit 渐进加载队列中的一项。
type ServiceInit struct {
	Name string
	Init func(ctx context.Context) error
}

// Report 启动报告。
type Report struct {
	Total           time.Duration   `json:"total"`
	Phases          []PhaseTiming   `json:"phases"`
	Services        []ServiceTiming `json:"services"`
	EagerCount      int             `json:"eager_count"`
	DeferredCount   int             `json:"deferred_count"`
	Recommendations []string        `json:"recommendations"`
}

// Scheduler 启动调度器：阶段/服务计时 + 渐进激活队列。
type Scheduler struct {
	mu     sync.Mutex
	config Config
	logger *logrus.Entry

	startedAt    time.Time
	phaseStarts  map[string]time.Time
	phases       []PhaseTiming
	services     []ServiceTiming
	loaded       map[string]bool
	queue        []ServiceInit // FIFO 渐进激活队列
	foregroundOK bool
	draining     bool
}

// NewScheduler 创建启动调度器并开始计总时。
func NewScheduler(config Config, log *logrus.Entry) *Scheduler {
	if config.DrainDelay <= 0 {
		config.DrainDelay = 100 * time.Millisecond
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Scheduler{
		config:      config,
		logger:      log.WithField("component", "startup"),
		startedAt:   time.Now(),
		phaseStarts: make(map[string]time.Time),
		loaded:      make(map[string]bool),
	}
}

// BeginPhase 标记一个启动阶段开始。
func (s *Scheduler) BeginPhase(name string) {
	s.mu.Lock()
	s.phaseStarts[name] = time.Now()
	s.mu.Unlock()
}

// EndPhase 标记一个启动阶段结束并记录耗时。
func (s *Scheduler) EndPhase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.phaseStarts[name]
	if !ok {
		s.logger.WithField("phase", name).Warn("EndPhase 没有匹配的 BeginPhase")
		return
	}
	delete(s.phaseStarts, name)
	s.phases = append(s.phases, PhaseTiming{Name: name, Duration: time.Since(start)})
}

// InitService 前台同步初始化一个服务并计时（急加载）。
func (s *Scheduler) InitService(ctx context.Context, name string, init func(ctx context.Context) error) error {
	start := time.Now()
	err := init(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.services = append(s.services, ServiceTiming{Name: name, Mode: LoadEager, Duration: elapsed})
	if err == nil {
		s.loaded[name] = true
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).WithField("service", name).Error("服务初始化失败")
	}
	return err
}

// Defer 将服务加入渐进激活队列（FIFO）。前台启动已结束时也可以继续入队，
// 下一次 DrainDeferred 会处理它。
func (s *Scheduler) Defer(name string, init func(ctx context.Context) error) {
	s.mu.Lock()
	s.queue = append(s.queue, ServiceInit{Name: name, Init: init})
	s.mu.Unlock()

	s.logger.WithField("service", name).Debug("服务已推迟到渐进加载")
}

// ForegroundDone 标记前台启动完成。此后才允许排空渐进队列。
func (s *Scheduler) ForegroundDone() {
	s.mu.Lock()
	s.foregroundOK = true
	s.mu.Unlock()
}

// DrainDeferred 逐个排空渐进激活队列，服务之间插入短延迟，
// 保证排空过程永远不会挤占前台路径。排空是幂等的：
// 已加载的服务会被静默跳过，并发的第二次排空直接返回。
func (s *Scheduler) DrainDeferred(ctx context.Context) int {
	s.mu.Lock()
	if !s.foregroundOK || s.draining {
		s.mu.Unlock()
		return 0
	}
	s.draining = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	drained := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			break
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		already := s.loaded[item.Name]
		s.mu.Unlock()

		if already {
			continue
		}

		select {
		case <-ctx.Done():
			return drained
		default:
		}

		start := time.Now()
		err := item.Init(ctx)
		elapsed := time.Since(start)

		s.mu.Lock()
		s.services = append(s.services, ServiceTiming{Name: item.Name, Mode: LoadProgressive, Duration: elapsed})
		if err == nil {
			s.loaded[item.Name] = true
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.WithError(err).WithField("service", item.Name).Warn("渐进加载服务失败")
		} else {
			drained++
		}

		// 服务间延迟，避免排空抢占前台
		select {
		case <-ctx.Done():
			return drained
		case <-time.After(s.config.DrainDelay):
		}
	}

	return drained
}

// IsLoaded 判断服务是否已加载。
func (s *Scheduler) IsLoaded(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[name]
}

// QueueLength 返回渐进队列中尚未处理的服务数。
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// GenerateReport 生成启动报告。总耗时超过阈值时给出建议。
func (s *Scheduler) GenerateReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{
		Total:           time.Since(s.startedAt),
		Phases:          append([]PhaseTiming(nil), s.phases...),
		Services:        append([]ServiceTiming(nil), s.services...),
		Recommendations: make([]string, 0),
	}

	var eagerTotal time.Duration
	for _, svc := range s.services {
		if svc.Mode == LoadEager {
			report.EagerCount++
			eagerTotal += svc.Duration
		} else {
			report.DeferredCount++
		}
	}

	if s.config.TotalThreshold > 0 && report.Total > s.config.TotalThreshold {
		report.Recommendations = append(report.Recommendations, fmt.Sprintf(
			"启动总耗时 %v 超过阈值 %v", report.Total.Round(time.Millisecond), s.config.TotalThreshold))

		if report.EagerCount > 0 && report.DeferredCount < report.EagerCount {
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"急加载服务 %d 个（共耗时 %v），考虑将部分服务改为渐进加载",
				report.EagerCount, eagerTotal.Round(time.Millisecond)))
		}

		for _, phase := range s.phases {
			if report.Total > 0 && float64(phase.Duration) > float64(report.Total)*0.5 {
				report.Recommendations = append(report.Recommendations, fmt.Sprintf(
					"阶段 %s 占启动总耗时的一半以上 (%v)", phase.Name, phase.Duration.Round(time.Millisecond)))
			}
		}
	}

	return report
}
