package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== 后备存储 =====

// CounterStore 未读数的原子后备存储。
// 单聊是 (user, chat) -> {count, last_read_id}，计数靠 HINCRBY 原子自增；
// 群聊只存 (user, group) -> last_read_id（high-water mark），数量读时推导，
// 避免一条群消息要改 N 份成员计数。
type CounterStore interface {
	Increment(ctx context.Context, user, chat string) error
	Reset(ctx context.Context, user, chat string, lastReadID int64) error
	Count(ctx context.Context, user, chat string) (int64, error)
	SetHighWater(ctx context.Context, user, group string, id int64) error
	HighWater(ctx context.Context, user, group string) (int64, error)
}

// ===== Redis 实现 =====

// high-water mark 只增不减：并发 markRead 带着更小的 id 不能回退进度
var luaHWMSet = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local nv = tonumber(ARGV[2])
if nv > cur then
  redis.call('HSET', KEYS[1], ARGV[1], nv)
  return nv
end
return cur
`)

type redisCounters struct {
	rdb *redis.Client
}

func NewRedisCounters(rdb *redis.Client) CounterStore {
	return &redisCounters{rdb: rdb}
}

// im:unread:<user>   hash: chatID -> count
// im:lastread:<user> hash: chatID -> last_read_id
// im:hwm:<user>      hash: groupID -> last_read_id
func unreadKey(user string) string   { return "im:unread:" + user }
func lastReadKey(user string) string { return "im:lastread:" + user }
func hwmKey(user string) string      { return "im:hwm:" + user }

func (s *redisCounters) Increment(ctx context.Context, user, chat string) error {
	if s.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return errors.Wrap(s.rdb.HIncrBy(ctx, unreadKey(user), chat, 1).Err(), "unread incr")
}

func (s *redisCounters) Reset(ctx context.Context, user, chat string, lastReadID int64) error {
	if s.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, unreadKey(user), chat, 0)
	pipe.HSet(ctx, lastReadKey(user), chat, lastReadID)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "unread reset")
}

func (s *redisCounters) Count(ctx context.Context, user, chat string) (int64, error) {
	if s.rdb == nil {
		return 0, fmt.Errorf("redis not initialized")
	}
	val, err := s.rdb.HGet(ctx, unreadKey(user), chat).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "unread count")
	}
	n, _ := strconv.ParseInt(val, 10, 64)
	return n, nil
}

func (s *redisCounters) SetHighWater(ctx context.Context, user, group string, id int64) error {
	if s.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return errors.Wrap(
		luaHWMSet.Run(ctx, s.rdb, []string{hwmKey(user)}, group, id).Err(),
		"hwm set")
}

func (s *redisCounters) HighWater(ctx context.Context, user, group string) (int64, error) {
	if s.rdb == nil {
		return 0, fmt.Errorf("redis not initialized")
	}
	val, err := s.rdb.HGet(ctx, hwmKey(user), group).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "hwm get")
	}
	n, _ := strconv.ParseInt(val, 10, 64)
	return n, nil
}

// ===== 内存实现（单测） =====

type memCounters struct {
	mu       sync.Mutex
	count    map[string]int64 // user|chat -> count
	lastRead map[string]int64
	hwm      map[string]int64 // user|group -> id
}

func NewMemCounters() CounterStore {
	return &memCounters{
		count:    make(map[string]int64),
		lastRead: make(map[string]int64),
		hwm:      make(map[string]int64),
	}
}

func ck(user, chat string) string { return user + "|" + chat }

func (s *memCounters) Increment(_ context.Context, user, chat string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count[ck(user, chat)]++
	return nil
}

func (s *memCounters) Reset(_ context.Context, user, chat string, lastReadID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count[ck(user, chat)] = 0
	s.lastRead[ck(user, chat)] = lastReadID
	return nil
}

func (s *memCounters) Count(_ context.Context, user, chat string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count[ck(user, chat)], nil
}

func (s *memCounters) SetHighWater(_ context.Context, user, group string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.hwm[ck(user, group)] {
		s.hwm[ck(user, group)] = id
	}
	return nil
}

func (s *memCounters) HighWater(_ context.Context, user, group string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hwm[ck(user, group)], nil
}

// ===== 未读服务（读穿缓存 + 群聊推导） =====

// GroupMessageCounter 由消息库实现：groupID 内 id > afterID 且发送者
// 不是 excludeSender 的消息数。
type GroupMessageCounter interface {
	CountAfter(ctx context.Context, groupID string, afterID int64, excludeSender string) (int64, error)
}

// UnreadCounters 未读账本。所有变更都是幂等 upsert，读前面挡一层
// 进程内缓存，任何同 key 变更即失效。
type UnreadCounters struct {
	store   CounterStore
	msgs    GroupMessageCounter
	cacheMu sync.Mutex
	cache   map[string]unreadCacheEnt
	ttl     time.Duration
}

type unreadCacheEnt struct {
	n        int64
	expireAt time.Time
}

func NewUnreadCounters(store CounterStore, msgs GroupMessageCounter, cacheTTL time.Duration) *UnreadCounters {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &UnreadCounters{
		store: store,
		msgs:  msgs,
		cache: make(map[string]unreadCacheEnt),
		ttl:   cacheTTL,
	}
}

func (u *UnreadCounters) Increment(ctx context.Context, user, chat string) error {
	if err := u.store.Increment(ctx, user, chat); err != nil {
		return err
	}
	u.invalidate("p:" + ck(user, chat))
	return nil
}

func (u *UnreadCounters) MarkRead(ctx context.Context, user, chat string, lastReadID int64) error {
	if err := u.store.Reset(ctx, user, chat, lastReadID); err != nil {
		return err
	}
	u.invalidate("p:" + ck(user, chat))
	return nil
}

func (u *UnreadCounters) UnreadCount(ctx context.Context, user, chat string) (int64, error) {
	key := "p:" + ck(user, chat)
	if n, ok := u.cached(key); ok {
		return n, nil
	}
	n, err := u.store.Count(ctx, user, chat)
	if err != nil {
		return 0, err
	}
	u.fill(key, n)
	return n, nil
}

// MarkGroupRead 推进群聊 high-water mark。
func (u *UnreadCounters) MarkGroupRead(ctx context.Context, user, group string, lastReadID int64) error {
	if err := u.store.SetHighWater(ctx, user, group, lastReadID); err != nil {
		return err
	}
	u.invalidate("g:" + ck(user, group))
	return nil
}

// GroupUnreadCount 读时推导：hwm 之后、且不是自己发的消息数。
// 成本与群消息增量相关，与成员数无关。
func (u *UnreadCounters) GroupUnreadCount(ctx context.Context, user, group string) (int64, error) {
	key := "g:" + ck(user, group)
	if n, ok := u.cached(key); ok {
		return n, nil
	}
	hwm, err := u.store.HighWater(ctx, user, group)
	if err != nil {
		return 0, err
	}
	n, err := u.msgs.CountAfter(ctx, group, hwm, user)
	if err != nil {
		return 0, err
	}
	u.fill(key, n)
	return n, nil
}

// InvalidateGroup 群里有新消息时让推导缓存失效。
func (u *UnreadCounters) InvalidateGroup(user, group string) {
	u.invalidate("g:" + ck(user, group))
}

func (u *UnreadCounters) cached(key string) (int64, bool) {
	u.cacheMu.Lock()
	defer u.cacheMu.Unlock()
	e, ok := u.cache[key]
	if !ok || time.Now().After(e.expireAt) {
		delete(u.cache, key)
		return 0, false
	}
	return e.n, true
}

func (u *UnreadCounters) fill(key string, n int64) {
	u.cacheMu.Lock()
	defer u.cacheMu.Unlock()
	u.cache[key] = unreadCacheEnt{n: n, expireAt: time.Now().Add(u.ttl)}
}

func (u *UnreadCounters) invalidate(key string) {
	u.cacheMu.Lock()
	defer u.cacheMu.Unlock()
	delete(u.cache, key)
}
