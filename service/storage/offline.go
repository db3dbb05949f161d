package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// OfflineQueue 每用户一个离线信箱，存已渲染好的投递 payload。
//
// 信箱只是加速层：Drain 是非破坏性读（客户端重复拉取安全），历史兜底
// 永远是消息库。容量满了按 FIFO 淘汰最老的，TTL 到期整键过期。
type OfflineQueue interface {
	Enqueue(ctx context.Context, user string, payload []byte) error
	Drain(ctx context.Context, user string) ([][]byte, error)
	PurgeExpired(ctx context.Context, user string) error
}

// ===== Redis 实现 =====

type redisOffline struct {
	rdb *redis.Client
	cap int
	ttl time.Duration
}

func NewRedisOffline(rdb *redis.Client, cap int, ttl time.Duration) OfflineQueue {
	if cap <= 0 {
		cap = 10000
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisOffline{rdb: rdb, cap: cap, ttl: ttl}
}

func offlineKey(user string) string { return "im:offline:" + user }

func (q *redisOffline) Enqueue(ctx context.Context, user string, payload []byte) error {
	if q.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	// LPUSH + LTRIM 滚动窗口：只留最近 cap 条；每次写入顺带续 TTL
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, offlineKey(user), payload)
	pipe.LTrim(ctx, offlineKey(user), 0, int64(q.cap-1))
	pipe.Expire(ctx, offlineKey(user), q.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "offline enqueue")
}

func (q *redisOffline) Drain(ctx context.Context, user string) ([][]byte, error) {
	if q.rdb == nil {
		return nil, fmt.Errorf("redis not initialized")
	}
	// LPUSH 头插，所以倒序读回才是发送顺序；不 pop，读多次结果一致
	vals, err := q.rdb.LRange(ctx, offlineKey(user), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "offline drain")
	}
	out := make([][]byte, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		out = append(out, []byte(vals[i]))
	}
	return out, nil
}

func (q *redisOffline) PurgeExpired(ctx context.Context, user string) error {
	if q.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	// Redis 侧整键 TTL 已兜底；这里用于客户端 "mark fetched" 后的主动清空
	return q.rdb.Del(ctx, offlineKey(user)).Err()
}

// ===== 内存实现（单测） =====

type memOffline struct {
	mu  sync.Mutex
	m   map[string][]memOfflineEnt
	cap int
	ttl time.Duration
}

type memOfflineEnt struct {
	payload  []byte
	expireAt time.Time
}

func NewMemOffline(cap int, ttl time.Duration) OfflineQueue {
	if cap <= 0 {
		cap = 10000
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &memOffline{m: make(map[string][]memOfflineEnt), cap: cap, ttl: ttl}
}

func (q *memOffline) Enqueue(_ context.Context, user string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	lst := append(q.m[user], memOfflineEnt{payload: payload, expireAt: time.Now().Add(q.ttl)})
	if over := len(lst) - q.cap; over > 0 {
		lst = lst[over:] // FIFO：最老的先走
	}
	q.m[user] = lst
	return nil
}

func (q *memOffline) Drain(_ context.Context, user string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	out := make([][]byte, 0, len(q.m[user]))
	for _, e := range q.m[user] {
		if now.After(e.expireAt) {
			continue
		}
		out = append(out, e.payload)
	}
	return out, nil
}

func (q *memOffline) PurgeExpired(_ context.Context, user string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.m, user)
	return nil
}
