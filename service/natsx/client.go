package natsx

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Client 进程内共享的 NATS 连接。
// 只用 Core 模式：跨实例转发是 fire-and-forget 热路径，
// 持久化归消息库管，这一层丢了只是丢低延迟投递，不丢数据。
type Client struct {
	cfg Config
	nc  *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewClient 连接 NATS
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, nc: nc}, nil
}

// Close 优雅关闭：先 Drain 订阅再断连
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *Client) track(sub *nats.Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}
