package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PresenceStore 全fleet在线集。真实实现落在 Redis：
// key 存 gatewayID，TTL 控制在线有效期；没有分布式锁，也没有共享内存，
// 各实例靠 TTL + 心跳续期收敛到最终一致。
type PresenceStore interface {
	Online(ctx context.Context, user, gatewayID string, ttl time.Duration) error
	Offline(ctx context.Context, user string) error
	Touch(ctx context.Context, user string, ttl time.Duration) error
	Lookup(ctx context.Context, user string) (gatewayID string, online bool, err error)
}

// ===== Redis 实现 =====

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceStore {
	return &redisPresence{rdb: rdb}
}

// presence key: im:presence:<user>
func presenceKey(user string) string { return "im:presence:" + user }

func (p *redisPresence) Online(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	if p.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return p.rdb.Set(ctx, presenceKey(user), gatewayID, ttl).Err()
}

func (p *redisPresence) Offline(ctx context.Context, user string) error {
	if p.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return p.rdb.Del(ctx, presenceKey(user)).Err()
}

func (p *redisPresence) Touch(ctx context.Context, user string, ttl time.Duration) error {
	if p.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	// 只续期不改值；key 不存在说明已被判下线，由下一次 0→1 转换重建
	return p.rdb.Expire(ctx, presenceKey(user), ttl).Err()
}

func (p *redisPresence) Lookup(ctx context.Context, user string) (string, bool, error) {
	if p.rdb == nil {
		return "", false, fmt.Errorf("redis not initialized")
	}
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// ===== 内存实现（单测用） =====

type memPresence struct {
	mu sync.Mutex
	m  map[string]memPresenceEnt
}

type memPresenceEnt struct {
	gatewayID string
	expireAt  time.Time
}

func NewMemPresence() PresenceStore {
	return &memPresence{m: make(map[string]memPresenceEnt)}
}

func (p *memPresence) Online(_ context.Context, user, gatewayID string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[user] = memPresenceEnt{gatewayID: gatewayID, expireAt: time.Now().Add(ttl)}
	return nil
}

func (p *memPresence) Offline(_ context.Context, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, user)
	return nil
}

func (p *memPresence) Touch(_ context.Context, user string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[user]; ok {
		e.expireAt = time.Now().Add(ttl)
		p.m[user] = e
	}
	return nil
}

func (p *memPresence) Lookup(_ context.Context, user string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[user]
	if !ok || time.Now().After(e.expireAt) {
		delete(p.m, user)
		return "", false, nil
	}
	return e.gatewayID, true, nil
}
