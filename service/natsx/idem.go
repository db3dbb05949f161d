package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]int64 // key -> expireUnix
	ttl time.Duration
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]int64), ttl: defaultTTL}
	// 清理协程
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now().Unix()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if exp <= now {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}()
	return mi
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	exp := time.Now().Add(ttl).Unix()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if old, ok := mi.m[key]; ok && old > time.Now().Unix() {
		return true, nil // 已见过
	}
	mi.m[key] = exp
	return false, nil
}

// IdemMiddleware 转发去重：同一条 relay 可能因为重连被重复收到。
// key 用 targetUserId+payload 的弱ID（envelope 自身无序号）。
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next RelayHandler) RelayHandler {
		return func(ctx context.Context, env RelayEnvelope) error {
			key := env.TargetUserID + "|" + string(env.Payload)
			seen, _ := store.SeenOnce(key, ttl)
			if seen {
				return nil
			}
			return next(ctx, env)
		}
	}
}

// 生成随机 msgID（16字节）
func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
