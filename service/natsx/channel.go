package natsx

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"IMProject/logger"
)

// RelayEnvelope 跨实例转发的线格式：payload 是渲染完的客户端 JSON，
// 收端不需要再查任何东西。
type RelayEnvelope struct {
	TargetUserID string          `json:"targetUserId"`
	Payload      json.RawMessage `json:"payload"`
}

// RelayHandler 每实例的 onMessage：尝试本地投递，目标用户不在本实例
// 就空操作（多个实例都会收到同一条 publish，只有持有会话的那个会动手）。
type RelayHandler func(ctx context.Context, env RelayEnvelope) error

// Middleware 中间件（日志、幂等等）
type Middleware func(RelayHandler) RelayHandler

// Chain 组合中间件
func Chain(h RelayHandler, mws ...Middleware) RelayHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

const relaySubject = "im.relay"

// Channel 把所有网关实例连成一体的 pub/sub 转发通道。
type Channel struct {
	c *Client
}

func NewChannel(c *Client) *Channel {
	return &Channel{c: c}
}

// Publish 单向发送，没有结果、没有回压。发布方不知道对端有没有收：
// 失败只记日志就吞掉，消息库里已经有这条记录，客户端拉历史能补回来。
func (ch *Channel) Publish(targetUserID string, payload []byte) {
	env := RelayEnvelope{TargetUserID: targetUserID, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		logger.Errorf("[natsx] marshal relay envelope user=%s err=%v", targetUserID, err)
		return
	}
	msg := nats.NewMsg(relaySubject)
	msg.Data = data
	msg.Header.Set("Nats-Msg-Id", genMsgID())
	if err := ch.c.nc.PublishMsg(msg); err != nil {
		// 瞬时传输失败：吞掉不重试，见错误处理设计
		logger.Warnf("[natsx] relay publish失败 user=%s err=%v", targetUserID, err)
	}
}

// Subscribe 每个实例一个普通订阅（不是 queue group：同一条 publish
// 要到达所有实例，由持有会话的实例投递）。
func (ch *Channel) Subscribe(h RelayHandler, mws ...Middleware) error {
	final := Chain(h, mws...)
	sub, err := ch.c.nc.Subscribe(relaySubject, func(m *nats.Msg) {
		var env RelayEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[natsx] bad relay envelope: %v", err)
			return
		}
		if err := final(context.Background(), env); err != nil {
			logger.Warnf("[natsx] relay handler user=%s err=%v", env.TargetUserID, err)
		}
	})
	if err != nil {
		return err
	}
	ch.c.track(sub)
	return nil
}

// LoggingMiddleware 转发日志
func LoggingMiddleware() Middleware {
	return func(next RelayHandler) RelayHandler {
		return func(ctx context.Context, env RelayEnvelope) error {
			logger.Debugf("[natsx] relay recv user=%s bytes=%d", env.TargetUserID, len(env.Payload))
			return next(ctx, env)
		}
	}
}
