package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"cachekit/pkg/core"
)

// RedisStoreConfig 远程缓存后端配置
type RedisStoreConfig struct {
	Name       string        `json:"name" mapstructure:"name"`
	Addr       string        `json:"addr" mapstructure:"addr"`
	Password   string        `json:"password" mapstructure:"password"`
	DB         int           `json:"db" mapstructure:"db"`
	DefaultTTL time.Duration `json:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix  string        `json:"key_prefix" mapstructure:"key_prefix"`
}

// RedisStore 是基于 Redis 的远程缓存后端，实现与内存 Store 相同的 core.Cache 接口。
// 它只是一个可选的存储后端，不提供任何跨进程的缓存一致性保证；
// 后端不可达时调用方应将其视为未命中。
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
	config RedisStoreConfig
	logger *logrus.Entry

	hits   int64
	misses int64
}

// NewRedisStore 创建远程缓存后端并探测连通性。
func NewRedisStore(config RedisStoreConfig, log *logrus.Entry) (*RedisStore, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "cachekit:" + config.Name + ":"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.WrapError(core.ErrRemoteUnavailable, "连接Redis失败", err)
	}

	return &RedisStore{
		client: client,
		config: config,
		logger: log.WithField("cache", config.Name),
	}, nil
}

// Get 从 Redis 获取一个值。键不存在或后端不可达都表现为未命中。
func (rs *RedisStore) Get(ctx context.Context, key string) (interface{}, error) {
	data, err := rs.client.Get(ctx, rs.config.KeyPrefix+key).Bytes()
	if err == redis.Nil {
		rs.count(false)
		return nil, core.ErrCacheMissNotFound
	}
	if err != nil {
		rs.count(false)
		rs.logger.WithError(err).Warn("Redis读取失败，按未命中处理")
		return nil, core.WrapError(core.ErrRemoteUnavailable, "redis get failed", err)
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		rs.count(false)
		return nil, core.WrapError(core.ErrSerializeFailed, "反序列化远程缓存值失败", err)
	}

	rs.count(true)
	return value, nil
}

// Set 向 Redis 写入一个值，值以JSON编码。
func (rs *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rs.config.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return core.WrapError(core.ErrSerializeFailed, "序列化远程缓存值失败", err)
	}

	if err := rs.client.Set(ctx, rs.config.KeyPrefix+key, data, ttl).Err(); err != nil {
		return core.WrapError(core.ErrRemoteUnavailable, "redis set failed", err)
	}
	return nil
}

// Has 检查键是否存在。过期由 Redis 端的TTL负责。
func (rs *RedisStore) Has(ctx context.Context, key string) bool {
	n, err := rs.client.Exists(ctx, rs.config.KeyPrefix+key).Result()
	if err != nil {
		rs.logger.WithError(err).Warn("Redis存在性检查失败")
		return false
	}
	return n > 0
}

// Delete 从 Redis 删除一个键。
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.config.KeyPrefix+key).Err(); err != nil {
		return core.WrapError(core.ErrRemoteUnavailable, "redis del failed", err)
	}
	return nil
}

// Clear 删除本缓存前缀下的所有键。使用SCAN避免阻塞Redis。
func (rs *RedisStore) Clear(ctx context.Context) error {
	iter := rs.client.Scan(ctx, 0, rs.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rs.client.Del(ctx, iter.Val()).Err(); err != nil {
			return core.WrapError(core.ErrRemoteUnavailable, "redis clear failed", err)
		}
	}
	if err := iter.Err(); err != nil {
		return core.WrapError(core.ErrRemoteUnavailable, "redis scan failed", err)
	}

	rs.mu.Lock()
	rs.hits = 0
	rs.misses = 0
	rs.mu.Unlock()
	return nil
}

// Stats 返回客户端侧统计。条目数和字节数由服务端管理，这里不做估算。
func (rs *RedisStore) Stats() core.CacheStats {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var hitRate float64
	if total := rs.hits + rs.misses; total > 0 {
		hitRate = float64(rs.hits) / float64(total)
	}

	return core.CacheStats{
		HitCount:   rs.hits,
		MissCount:  rs.misses,
		HitRate:    hitRate,
		DefaultTTL: rs.config.DefaultTTL,
	}
}

// Close 关闭与 Redis 的连接。
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) count(hit bool) {
	rs.mu.Lock()
	if hit {
		rs.hits++
	} else {
		rs.misses++
	}
	rs.mu.Unlock()
}

var _ core.Cache = (*RedisStore)(nil)
