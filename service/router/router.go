package router

import (
	"context"
	"time"

	"IMProject/logger"
	"IMProject/module/chat/model"
	"IMProject/module/chat/store"
	"IMProject/service/chat"
	"IMProject/service/storage"
)

// ===== 依赖契约 =====

// LocalRegistry 本实例连接登记表（ConnManager 满足）。
type LocalRegistry interface {
	IsLiveLocally(userID string) bool
	HandlesFor(userID string) []*chat.Session
}

// Relay 跨实例通道的单向发布。没有返回值：这层就是 best-effort，
// 调用方不许假设有同步确认（natsx.Channel 满足）。
type Relay interface {
	Publish(targetUserID string, payload []byte)
}

// FleetPresence 全fleet在线查询（只用 Lookup）。
type FleetPresence interface {
	Lookup(ctx context.Context, user string) (gatewayID string, online bool, err error)
}

// Events 投递审计事件出口（kafka 生产者满足）；nil 则不发。
type Events interface {
	Emit(evt DeliveryEvent)
}

// DeliveryEvent 每接收人一条的投递结果事件。
type DeliveryEvent struct {
	MessageID   int64  `json:"message_id,omitempty"` // 状态通知为 0
	RecipientID string `json:"recipient_id"`
	Outcome     string `json:"outcome"` // DELIVERED / RELAYED / QUEUED_OFFLINE
	GatewayID   string `json:"gateway_id"`
	Ts          int64  `json:"ts"`
}

const (
	OutcomeDelivered     = "DELIVERED"
	OutcomeRelayed       = "RELAYED"
	OutcomeQueuedOffline = "QUEUED_OFFLINE"
)

// ===== 路由器 =====

// Router 消息广播编排。入口在消息持久化 + 幂等声明之后；
// 每个接收人独立处理：本地推 / 跨实例转发 / 离线兜底，
// 任何一个接收人失败都不影响其他人，也不回滚。
type Router struct {
	gwID    string
	reg     LocalRegistry
	fanout  *chat.Fanout
	relay   Relay
	fleet   FleetPresence
	offline storage.OfflineQueue
	unread  *storage.UnreadCounters
	msgs    store.MessageStore
	groups  store.GroupDirectory
	events  Events
}

func NewRouter(gwID string, reg LocalRegistry, fanout *chat.Fanout, relay Relay,
	fleet FleetPresence, offline storage.OfflineQueue, unread *storage.UnreadCounters,
	msgs store.MessageStore, groups store.GroupDirectory, events Events) *Router {
	return &Router{
		gwID:    gwID,
		reg:     reg,
		fanout:  fanout,
		relay:   relay,
		fleet:   fleet,
		offline: offline,
		unread:  unread,
		msgs:    msgs,
		groups:  groups,
		events:  events,
	}
}

// ResolveRecipients 单聊是会话对端一个人；群聊拉全量名册逐个 fan-out
// （没有原生多播：最坏延迟受名册大小约束，但单聊/群聊走同一套路由）。
// 发送者不在接收人集合里，它在发送路径上拿 ACK。
func (r *Router) ResolveRecipients(ctx context.Context, m *model.Message) ([]string, error) {
	if m.SessionType == model.SessionGroup {
		members, err := r.groups.Members(ctx, m.GroupID)
		if err != nil {
			// 名册查询失败：这条消息对未解析出的接收人放弃路由
			return nil, err
		}
		out := make([]string, 0, len(members))
		for _, u := range members {
			if u != m.SenderID {
				out = append(out, u)
			}
		}
		return out, nil
	}
	peer, ok := model.DMPeer(m.ChatID, m.SenderID)
	if !ok {
		return nil, errBadChat(m.ChatID)
	}
	return []string{peer}, nil
}

// RouteMessage 解析接收人后路由。持久化成功后才允许调这里（前置条件）。
func (r *Router) RouteMessage(ctx context.Context, m *model.Message) {
	recipients, err := r.ResolveRecipients(ctx, m)
	if err != nil {
		logger.Errorf("[router] resolve recipients msg=%d err=%v", m.ID, err)
		return
	}
	r.Route(ctx, m, recipients)
}

// Route 按接收人逐个投递。一旦开始不会取消：本地推/转发/离线兜底，
// 三条路总会走完一条。
func (r *Router) Route(ctx context.Context, m *model.Message, recipients []string) {
	payload, err := chat.BuildDeliverFrame(m)
	if err != nil {
		logger.Errorf("[router] render payload msg=%d err=%v", m.ID, err)
		return
	}

	for _, recipient := range recipients {
		if recipient == m.SenderID {
			continue
		}
		outcome := r.deliverPayload(ctx, recipient, payload)
		r.bookkeep(ctx, m, recipient, outcome)
		r.emit(m.ID, recipient, outcome)
	}
}

// DeliverToUser 按接收人的投递原语（presence 状态通知也走这里）。
// 不做未读记账。
func (r *Router) DeliverToUser(ctx context.Context, userID string, payload []byte) {
	outcome := r.deliverPayload(ctx, userID, payload)
	r.emit(0, userID, outcome)
}

// 单接收人投递：
//  1. 本实例有活跃会话 → 直接进各会话发送队列（DELIVERED）
//  2. fleet 在线集显示在别的实例 → 发一条 relay，收端实例自己投
//     （发布方不知道成没成；这条链路没有投递确认）
//  3. 全fleet无会话（离线常态）→ 离线队列兜底
func (r *Router) deliverPayload(ctx context.Context, userID string, payload []byte) string {
	if r.reg.IsLiveLocally(userID) {
		r.fanout.Broadcast(r.reg.HandlesFor(userID), payload)
		return OutcomeDelivered
	}

	gw, online, err := r.fleet.Lookup(ctx, userID)
	if err != nil {
		logger.Warnf("[router] fleet lookup user=%s err=%v", userID, err)
		online = false // 查不到当离线，队列兜底
	}
	if online && gw != r.gwID {
		r.relay.Publish(userID, payload)
		return OutcomeRelayed
	}

	if err := r.offline.Enqueue(ctx, userID, payload); err != nil {
		// 静默降级：消息库有记录，客户端拉历史能补
		logger.Errorf("[router] offline enqueue user=%s err=%v", userID, err)
	}
	return OutcomeQueuedOffline
}

// 投递后的记账。未读：单聊离线接收人原子自增；群聊只失效推导缓存
// （计数读时用 high-water mark 推导）。DELIVERED 时顺手把消息状态
// 推到已投递。
func (r *Router) bookkeep(ctx context.Context, m *model.Message, recipient, outcome string) {
	if m.SessionType == model.SessionGroup {
		r.unread.InvalidateGroup(recipient, m.GroupID)
	} else if outcome == OutcomeQueuedOffline {
		if err := r.unread.Increment(ctx, recipient, m.ChatID); err != nil {
			logger.Errorf("[router] unread incr user=%s chat=%s err=%v", recipient, m.ChatID, err)
		}
	}
	if outcome == OutcomeDelivered {
		if err := r.msgs.MarkDelivered(ctx, m.ID); err != nil {
			logger.Debugf("[router] mark delivered msg=%d err=%v", m.ID, err)
		}
	}
}

func (r *Router) emit(msgID int64, recipient, outcome string) {
	if r.events == nil {
		return
	}
	r.events.Emit(DeliveryEvent{
		MessageID:   msgID,
		RecipientID: recipient,
		Outcome:     outcome,
		GatewayID:   r.gwID,
		Ts:          time.Now().UnixMilli(),
	})
}

type errBadChat string

func (e errBadChat) Error() string { return "not a dm chat id: " + string(e) }
