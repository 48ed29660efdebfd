// Package schedule 提供模块内所有周期性后台工作的统一生命周期管理。
// 每个任务是一个可取消的定时调度（内存采样、子缓存清理、过期扫描等），
// 任务只允许触碰其所属组件的公开接口，跨组件协调一律走公开方法。
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TaskStatus 任务状态。
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusStopped TaskStatus = "stopped"
)

// Task 一个已注册的周期任务。
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Status     TaskStatus    `json:"status"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastRun    time.Time     `json:"last_run"`

	entryID cron.EntryID
}

// Runner 周期任务执行器，基于 cron 的 @every 调度。
// 整个 Runner 由单一生命周期管理：Start 后任务开始触发，Stop 全部停止。
type Runner struct {
	mu      sync.Mutex
	cron    *cron.Cron
	tasks   map[string]*Task
	logger  *logrus.Entry
	started bool
}

// NewRunner 创建任务执行器。
func NewRunner(log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		cron:   cron.New(cron.WithSeconds()),
		tasks:  make(map[string]*Task),
		logger: log.WithField("component", "schedule"),
	}
}

// AddTask 注册一个按固定间隔执行的任务。fn 返回的错误只计数和记日志。
// @every 调度的粒度是秒，不足1秒的间隔会被 cron 悄悄抬高到1秒，
// 因此这里直接拒绝，避免注册一个与声明间隔不符的任务。
func (r *Runner) AddTask(name string, interval time.Duration, fn func() error) (*Task, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("任务 %s 的间隔不能小于1秒: %s", name, interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return nil, fmt.Errorf("任务名已存在: %s", name)
	}

	task := &Task{
		ID:       uuid.NewString(),
		Name:     name,
		Interval: interval,
		Status:   TaskStatusPending,
	}

	entryID, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		r.runTask(task, fn)
	})
	if err != nil {
		return nil, fmt.Errorf("注册任务 %s 失败: %w", name, err)
	}

	task.entryID = entryID
	if r.started {
		task.Status = TaskStatusRunning
	}
	r.tasks[name] = task

	r.logger.WithFields(logrus.Fields{
		"task":     name,
		"interval": interval,
	}).Debug("注册周期任务")

	return task, nil
}

// RemoveTask 注销一个任务。
func (r *Runner) RemoveTask(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[name]
	if !exists {
		return
	}

	r.cron.Remove(task.entryID)
	task.Status = TaskStatusStopped
	delete(r.tasks, name)
}

// Start 启动所有任务的调度。
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	r.cron.Start()
	r.started = true
	for _, task := range r.tasks {
		task.Status = TaskStatusRunning
	}
	r.logger.WithField("tasks", len(r.tasks)).Info("后台任务调度已启动")
}

// Stop 停止调度并等待在跑的任务结束（最长30秒）。
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	ctx := r.cron.Stop()
	for _, task := range r.tasks {
		task.Status = TaskStatusStopped
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		r.logger.Info("后台任务调度已停止")
	case <-time.After(30 * time.Second):
		r.logger.Warn("后台任务调度停止超时")
	}
}

// Tasks 返回所有任务的快照。
func (r *Runner) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, *task)
	}
	return out
}

func (r *Runner) runTask(task *Task, fn func() error) {
	err := fn()

	r.mu.Lock()
	task.RunCount++
	task.LastRun = time.Now()
	if err != nil {
		task.ErrorCount++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.WithError(err).WithField("task", task.Name).Warn("周期任务执行失败")
	}
}
