package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cachekit/pkg/config"
	"cachekit/pkg/core"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logger.Level = "error"
	cfg.Monitor.SampleInterval = time.Hour // 后台任务在测试中不触发
	cfg.Monitor.CleanupInterval = time.Hour
	return cfg
}

// 测试完整的初始化/使用/关闭生命周期
func TestManager_Lifecycle(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	assert.NoError(t, m.Initialize(ctx))
	defer m.Dispose(ctx)

	// 所有组件就绪
	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.Monitor())
	assert.NotNil(t, m.Recorder())
	assert.NotNil(t, m.Optimizer())
	assert.NotNil(t, m.Startup())

	// 默认缓存已注册且可用
	store, ok := m.Registry().Get(DefaultStoreName)
	assert.True(t, ok)
	assert.NoError(t, store.Set(ctx, "key1", "value1", 0))

	stats := m.GetAllStats()
	assert.Contains(t, stats, DefaultStoreName)
	assert.Equal(t, int64(1), stats[DefaultStoreName].Stats.EntryCount)

	// 重复初始化是无害的空操作
	assert.NoError(t, m.Initialize(ctx))
}

// 测试配置校验错误向调用方传播
func TestManager_InitializeInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.MaxEntries = 0

	m := New(cfg)
	err := m.Initialize(context.Background())

	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrConfigInvalid))
}

// 测试总开关关闭时只构建空壳
func TestManager_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	m := New(cfg)
	ctx := context.Background()

	assert.NoError(t, m.Initialize(ctx))
	defer m.Dispose(ctx)

	assert.Nil(t, m.Registry())
	assert.Nil(t, m.Monitor())
	assert.Empty(t, m.GetAllStats())
	assert.Empty(t, m.OptimizeMemory())
}

// 测试采样间隔不足1秒时初始化降级：任务注册失败只记日志，缓存照常可用
func TestManager_SubSecondSampleInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.SampleInterval = 500 * time.Millisecond

	m := New(cfg)
	ctx := context.Background()

	assert.NoError(t, m.Initialize(ctx))
	defer m.Dispose(ctx)

	store, ok := m.Registry().Get(DefaultStoreName)
	assert.True(t, ok)
	assert.NoError(t, store.Set(ctx, "key1", "value1", 0))
}

// 测试nil配置回退到默认配置
func TestManager_NilConfig(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	assert.NoError(t, m.Initialize(ctx))
	m.Dispose(ctx)
}

// 测试Dispose的幂等性与关闭后的缓存状态
func TestManager_DisposeIdempotent(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	assert.NoError(t, m.Initialize(ctx))

	store, ok := m.Registry().Get(DefaultStoreName)
	assert.True(t, ok)

	m.Dispose(ctx)
	m.Dispose(ctx)

	// 注册表已清空，缓存已关闭
	assert.Empty(t, m.GetAllStats())
	err := store.Set(ctx, "key1", "value1", 0)
	assert.True(t, core.IsCode(err, core.ErrCacheClosed))
}

// 测试快照跨Manager生命周期存续
func TestManager_SnapshotPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	ctx := context.Background()

	cfg := testConfig()
	cfg.Cache.PersistencePath = path

	first := New(cfg)
	assert.NoError(t, first.Initialize(ctx))
	store, _ := first.Registry().Get(DefaultStoreName)
	assert.NoError(t, store.Set(ctx, "durable", "value", time.Hour))
	first.Dispose(ctx) // Close时落盘

	second := New(cfg)
	assert.NoError(t, second.Initialize(ctx))
	defer second.Dispose(ctx)

	restored, _ := second.Registry().Get(DefaultStoreName)
	value, err := restored.Get(ctx, "durable")
	assert.NoError(t, err)
	assert.Equal(t, "value", value)
}

// 测试综合报告包含各组件的段落
func TestManager_GenerateReport(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	assert.NoError(t, m.Initialize(ctx))
	defer m.Dispose(ctx)

	store, _ := m.Registry().Get(DefaultStoreName)
	store.Set(ctx, "key1", "value1", 0)
	store.Get(ctx, "key1")

	report := m.GenerateReport()
	assert.Contains(t, report, "运行报告")
	assert.Contains(t, report, DefaultStoreName)
	assert.Contains(t, report, "内存监控报告")
	assert.Contains(t, report, "--- 启动 ---")
}

// 测试Redis不可达时降级为纯内存运行
func TestManager_RedisDegradation(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1" // 不可达端口

	m := New(cfg)
	ctx := context.Background()

	// 初始化成功，远程缓存未注册
	assert.NoError(t, m.Initialize(ctx))
	defer m.Dispose(ctx)

	_, ok := m.Registry().Get("remote")
	assert.False(t, ok)

	_, ok = m.Registry().Get(DefaultStoreName)
	assert.True(t, ok)
}
