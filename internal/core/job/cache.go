package job

import (
	"context"
	"errors"
	"sync"

	rds "signalboard/internal/platform/redis"
)

// Cache maps a job ID to its latest snapshot. Put overwrites unconditionally;
// no history is kept.
type Cache interface {
	Get(ctx context.Context, id ID) (Snapshot, bool, error)
	Put(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, id ID) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[ID]Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[ID]Snapshot)}
}

func (c *MemoryCache) Get(_ context.Context, id ID) (Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snaps[id]
	if !ok {
		return Snapshot{}, false, nil
	}
	return s.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, snap Snapshot) error {
	if snap.JobID == "" {
		return errMissingID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.JobID] = snap.Clone()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, id ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snaps)
}

// RedisCache stores snapshots as JSON under job:<id> and publishes "updated"
// on the same channel after every write, so other processes can follow a job.
// Keys carry no TTL; Delete is the only way an entry goes away.
type RedisCache struct {
	redis *rds.Service
}

func NewRedisCache(redis *rds.Service) *RedisCache { return &RedisCache{redis: redis} }

func (c *RedisCache) Get(ctx context.Context, id ID) (Snapshot, bool, error) {
	var snap Snapshot
	err := c.redis.CacheGet(ctx, key(id), &snap)
	if errors.Is(err, rds.ErrCacheMiss) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c *RedisCache) Put(ctx context.Context, snap Snapshot) error {
	if snap.JobID == "" {
		return errMissingID
	}
	if err := c.redis.CacheSet(ctx, key(snap.JobID), snap, 0); err != nil {
		return err
	}
	_ = c.redis.Publish(ctx, key(snap.JobID), "updated")
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id ID) error {
	return c.redis.CacheDelete(ctx, key(id))
}

func key(id ID) string { return "job:" + string(id) }
