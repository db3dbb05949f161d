package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig 连接参数
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// OpenMongo 建连 + ping。协作方的参考实现都挂在返回的 database 上。
func OpenMongo(ctx context.Context, cfg MongoConfig) (*mongo.Database, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cli, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(cctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return cli.Database(cfg.Database), nil
}
