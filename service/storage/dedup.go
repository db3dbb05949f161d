package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"IMProject/logger"
)

// ClaimStore 幂等层：clientMsgID -> 服务端消息ID。
//
// 发送路径先 TryClaim，命中则直接回放已分配的ID，跳过持久化和 fan-out；
// 持久化成功后调用一次 Claim 建立映射。窗口外（默认30m）到达的重复
// 发送不会被识别，会当成新消息入库——这是有界陈旧性的取舍，不是 bug。
type ClaimStore interface {
	TryClaim(ctx context.Context, clientMsgID string) (messageID int64, ok bool, err error)
	Claim(ctx context.Context, clientMsgID string, messageID int64) error
}

// ===== Redis 实现 =====

type redisClaims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClaims(rdb *redis.Client, ttl time.Duration) ClaimStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &redisClaims{rdb: rdb, ttl: ttl}
}

func dedupKey(clientMsgID string) string { return "im:dedup:" + clientMsgID }

func (s *redisClaims) TryClaim(ctx context.Context, clientMsgID string) (int64, bool, error) {
	if s.rdb == nil {
		return 0, false, fmt.Errorf("redis not initialized")
	}
	val, err := s.rdb.Get(ctx, dedupKey(clientMsgID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "dedup lookup")
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// 脏数据按未命中处理，Claim 会覆盖
		return 0, false, nil
	}
	return id, true, nil
}

func (s *redisClaims) Claim(ctx context.Context, clientMsgID string, messageID int64) error {
	if s.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	// NX：并发的重复 Claim 只有第一个生效，后到的读回既有值即可
	set, err := s.rdb.SetNX(ctx, dedupKey(clientMsgID), strconv.FormatInt(messageID, 10), s.ttl).Result()
	if err != nil {
		return errors.Wrap(err, "dedup claim")
	}
	if !set {
		logger.Debugf("[dedup] concurrent claim, key=%s kept existing id", clientMsgID)
	}
	return nil
}

// ===== 内存实现（单进程/单测） =====

type memClaims struct {
	mu  sync.Mutex
	m   map[string]memClaimEnt
	ttl time.Duration
}

type memClaimEnt struct {
	id       int64
	expireAt time.Time
}

func NewMemClaims(ttl time.Duration) ClaimStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	mc := &memClaims{m: make(map[string]memClaimEnt), ttl: ttl}
	// 清理协程
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now()
			mc.mu.Lock()
			for k, e := range mc.m {
				if now.After(e.expireAt) {
					delete(mc.m, k)
				}
			}
			mc.mu.Unlock()
		}
	}()
	return mc
}

func (s *memClaims) TryClaim(_ context.Context, clientMsgID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[clientMsgID]
	if !ok || time.Now().After(e.expireAt) {
		delete(s.m, clientMsgID)
		return 0, false, nil
	}
	return e.id, true, nil
}

func (s *memClaims) Claim(_ context.Context, clientMsgID string, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[clientMsgID]; ok && time.Now().Before(e.expireAt) {
		return nil // 先到者生效
	}
	s.m[clientMsgID] = memClaimEnt{id: messageID, expireAt: time.Now().Add(s.ttl)}
	return nil
}
