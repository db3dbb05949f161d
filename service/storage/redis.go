package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

var (
	rdb *redis.Client
	ctx = context.Background()
)

// InitRedis 进程内共享一个客户端；presence/dedup/offline/unread 都走它。
func InitRedis(c Config) error {
	rdb = redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	return rdb.Ping(ctx).Err()
}

// Client 暴露给需要自定义命令的调用方（测试可注入 miniredis 等）。
func Client() *redis.Client { return rdb }
