package global

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"IMProject/logger"
)

// AppConfig 网关进程的全部配置。除 GatewayID 外都有可用默认值，
// 单机起一套 redis+nats 即可跑通。
type AppConfig struct {
	GatewayID string `mapstructure:"gateway_id"` // 节点ID，每个实例唯一
	NodeID    int64  `mapstructure:"node_id"`    // 雪花ID节点号 0~1023
	HTTPPort  int    `mapstructure:"http_port"`

	JWTSecret string `mapstructure:"jwt_secret"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Nats struct {
		Servers []string `mapstructure:"servers"`
		Name    string   `mapstructure:"name"`
	} `mapstructure:"nats"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"` // 投递审计事件 topic
	} `mapstructure:"kafka"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Postgres struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"postgres"`

	// 调参项；原型里的固定常量，这里统一可配（默认值即设计值）
	Tuning TuningConfig `mapstructure:"tuning"`
}

type TuningConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"` // 会话心跳超时（默认 5m）
	SweepEvery       time.Duration `mapstructure:"sweep_every"`       // 会话清理周期
	MaxPerUser       int           `mapstructure:"max_per_user"`      // 每用户最大连接数
	DedupTTL         time.Duration `mapstructure:"dedup_ttl"`         // 幂等窗口（默认 30m）
	OfflineCap       int           `mapstructure:"offline_cap"`       // 离线队列容量（默认 10000）
	OfflineTTL       time.Duration `mapstructure:"offline_ttl"`       // 离线队列 TTL（默认 7d）
	UnreadCacheTTL   time.Duration `mapstructure:"unread_cache_ttl"`  // 未读数缓存 TTL
	PresenceTTL      time.Duration `mapstructure:"presence_ttl"`      // 在线集 key TTL
}

// Norm 填充默认值；零值一律回落到设计值。
func (t *TuningConfig) Norm() {
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = 5 * time.Minute
	}
	if t.SweepEvery <= 0 {
		t.SweepEvery = 10 * time.Second
	}
	if t.MaxPerUser <= 0 {
		t.MaxPerUser = 5
	}
	if t.DedupTTL <= 0 {
		t.DedupTTL = 30 * time.Minute
	}
	if t.OfflineCap <= 0 {
		t.OfflineCap = 10000
	}
	if t.OfflineTTL <= 0 {
		t.OfflineTTL = 7 * 24 * time.Hour
	}
	if t.UnreadCacheTTL <= 0 {
		t.UnreadCacheTTL = 30 * time.Second
	}
	if t.PresenceTTL <= 0 {
		t.PresenceTTL = 10 * time.Minute
	}
}

var Conf *AppConfig

// Load 读取 config.yaml 并用环境变量覆盖（IM_REDIS_ADDR 这种形式）。
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("gateway_id", "msg_gw-1")
	v.SetDefault("node_id", 1)
	v.SetDefault("http_port", 8080)
	v.SetDefault("jwt_secret", "dev-secret-change-me")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "im-gateway")
	v.SetDefault("kafka.topic", "im-delivery-events")
	// mongo.uri/postgres.url 故意不给默认：留空走内存实现，单机联调不拉一堆依赖
	v.SetDefault("mongo.database", "im")

	v.SetEnvPrefix("IM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 没有配置文件时允许全默认启动
		logger.Warnf("[config] read %s failed, using defaults/env: %v", path, err)
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Tuning.Norm()
	Conf = cfg
	return cfg, nil
}
