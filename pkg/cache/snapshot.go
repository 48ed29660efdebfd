package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/core"
)

// SnapshotAdapter 负责 Store 内容的快照落盘与恢复。
// 只在生命周期节点（启动加载、关闭保存）被调用，绝不出现在 Get/Set 热路径上。
type SnapshotAdapter struct {
	path   string
	logger *logrus.Entry
}

// Snapshot 是快照文件的文档结构。
// Entries 是有序的 (key, entry) 关联列表而不是无序map，
// 以便重新加载后保留插入/访问的相对顺序信息。
type Snapshot struct {
	Entries   []SnapshotPair  `json:"entries"`
	Stats     core.CacheStats `json:"stats"`
	Timestamp time.Time       `json:"timestamp"`
}

// SnapshotPair 快照中的一个键值对。
type SnapshotPair struct {
	Key   string           `json:"key"`
	Entry *core.CacheEntry `json:"entry"`
}

// NewSnapshotAdapter 创建快照适配器。
func NewSnapshotAdapter(path string, log *logrus.Entry) *SnapshotAdapter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SnapshotAdapter{
		path:   path,
		logger: log.WithField("snapshot", path),
	}
}

// Save 将 Store 的内容按插入顺序写入快照文件。
// 写入采用临时文件+重命名，避免留下半写的快照。
func (a *SnapshotAdapter) Save(s *Store) error {
	s.mu.Lock()
	snap := Snapshot{
		Entries:   make([]SnapshotPair, 0, len(s.entries)),
		Timestamp: time.Now(),
	}
	for _, key := range s.order {
		if entry, ok := s.entries[key]; ok {
			snap.Entries = append(snap.Entries, SnapshotPair{Key: key, Entry: entry})
		}
	}
	snap.Stats = core.CacheStats{
		EntryCount:     int64(len(s.entries)),
		TotalSizeBytes: s.totalSize,
		HitCount:       s.hits,
		MissCount:      s.misses,
		EvictionCount:  s.evictions,
		ExpiredCount:   s.expired,
	}
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return core.WrapError(core.ErrSerializeFailed, "序列化快照失败", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return core.WrapError(core.ErrPersistenceIO, "创建快照目录失败", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return core.WrapError(core.ErrPersistenceIO, "写入快照临时文件失败", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return core.WrapError(core.ErrPersistenceIO, "重命名快照文件失败", err)
	}

	a.logger.WithField("entries", len(snap.Entries)).Debug("缓存快照已保存")
	return nil
}

// Load 从快照文件恢复 Store 的内容。
// 只恢复相对加载时刻TTL尚未耗尽的条目；快照不存在、不可读或损坏时，
// Store 保持为空并记录一条警告——加载永远不向调用方报错。
func (a *SnapshotAdapter) Load(s *Store) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.WithError(err).Warn("读取缓存快照失败，从空缓存启动")
		}
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		a.logger.WithError(err).Warn("缓存快照损坏，从空缓存启动")
		return
	}

	now := time.Now()
	restored := 0

	s.mu.Lock()
	for _, pair := range snap.Entries {
		if pair.Entry == nil || pair.Key == "" {
			continue
		}
		if pair.Entry.IsStale(now) {
			continue
		}
		if _, exists := s.entries[pair.Key]; exists {
			continue
		}
		s.entries[pair.Key] = pair.Entry
		s.order = append(s.order, pair.Key)
		s.totalSize += pair.Entry.SizeBytes
		restored++
	}
	// 历史命中统计随快照一起恢复，保持重启前后的报表连续性
	s.hits += snap.Stats.HitCount
	s.misses += snap.Stats.MissCount
	s.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"restored": restored,
		"skipped":  len(snap.Entries) - restored,
	}).Info("缓存快照已加载")
}
