package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cachekit/pkg/core"
	"cachekit/pkg/logger"
)

// 测试后端不可达时构造失败并返回REMOTE_UNAVAILABLE
func TestRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(RedisStoreConfig{
		Name: "remote",
		Addr: "127.0.0.1:1", // 不可达端口
	}, logger.Discard())

	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrRemoteUnavailable))
}

// 测试Registry注册远程后端失败时不占用缓存名
func TestRegistry_RegisterRemoteUnreachable(t *testing.T) {
	r := NewRegistry(ReportConfig{}, logger.Discard())
	defer r.DisposeAll()

	_, err := r.RegisterRemote("remote", RedisStoreConfig{
		Addr:       "127.0.0.1:1",
		DefaultTTL: time.Minute,
	})
	assert.Error(t, err)

	_, ok := r.Get("remote")
	assert.False(t, ok)

	// 同名仍可注册为内存缓存
	s := r.GetOrCreate("remote", testStoreConfig())
	assert.NotNil(t, s)
}
