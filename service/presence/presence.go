package presence

import (
	"context"
	"time"

	"IMProject/logger"
	"IMProject/service/chat"
	"IMProject/service/storage"
)

// ContactResolver 外部联系人图：在线状态只广播给已通过的好友。
type ContactResolver interface {
	AcceptedContacts(ctx context.Context, userID string) ([]string, error)
}

// StatusWriter 用户目录里的持久化状态列。
type StatusWriter interface {
	SetStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error
}

// Deliverer 路由器的按接收人投递原语。状态通知和普通消息
// 走同一条链路：联系人不在线就进离线队列，没有独立 presence 通道。
type Deliverer interface {
	DeliverToUser(ctx context.Context, userID string, payload []byte)
}

// Service 在线状态服务。只在会话数 0→1 / 1→0 转换时被调用
// （ConnManager 的钩子保证这一点），多端重连/心跳不会触发广播。
//
// 快速上下线抖动只受心跳超时粒度钝化，不做额外去抖——
// 简单性换延迟的取舍。
type Service struct {
	gwID     string
	store    storage.PresenceStore
	users    StatusWriter
	contacts ContactResolver
	deliver  Deliverer

	ttl   time.Duration    // 在线集 key TTL
	clock func() time.Time // 可注入时钟
}

type Conf struct {
	GatewayID   string
	PresenceTTL time.Duration
	Clock       func() time.Time
}

func (c *Conf) norm() {
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 10 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

func NewService(conf Conf, store storage.PresenceStore, users StatusWriter,
	contacts ContactResolver, deliver Deliverer) *Service {
	conf.norm()
	return &Service{
		gwID:     conf.GatewayID,
		store:    store,
		users:    users,
		contacts: contacts,
		deliver:  deliver,
		ttl:      conf.PresenceTTL,
		clock:    conf.Clock,
	}
}

// MarkOnline 0→1 转换：写在线集、落状态列、广播给好友。
func (s *Service) MarkOnline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := s.clock()

	if err := s.store.Online(ctx, userID, s.gwID, s.ttl); err != nil {
		logger.Errorf("[presence] online set user=%s err=%v", userID, err)
	}
	if err := s.users.SetStatus(ctx, userID, chat.StatusOnline, now); err != nil {
		logger.Errorf("[presence] status column user=%s err=%v", userID, err)
	}
	s.broadcast(ctx, userID, chat.StatusOnline, now)
}

// MarkOffline 1→0 转换。
func (s *Service) MarkOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := s.clock()

	if err := s.store.Offline(ctx, userID); err != nil {
		logger.Errorf("[presence] offline set user=%s err=%v", userID, err)
	}
	if err := s.users.SetStatus(ctx, userID, chat.StatusOffline, now); err != nil {
		logger.Errorf("[presence] status column user=%s err=%v", userID, err)
	}
	s.broadcast(ctx, userID, chat.StatusOffline, now)
}

// Touch 心跳续期在线集 key；不触发任何广播。
func (s *Service) Touch(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Touch(ctx, userID, s.ttl); err != nil {
		logger.Debugf("[presence] touch user=%s err=%v", userID, err)
	}
}

// 每个好友各发一条状态通知；联系人图查询失败只记日志（下次转换会再发）。
func (s *Service) broadcast(ctx context.Context, userID, status string, at time.Time) {
	contacts, err := s.contacts.AcceptedContacts(ctx, userID)
	if err != nil {
		logger.Errorf("[presence] resolve contacts user=%s err=%v", userID, err)
		return
	}
	if len(contacts) == 0 {
		return
	}
	payload := chat.BuildStatusChange(userID, status, at)
	for _, c := range contacts {
		s.deliver.DeliverToUser(ctx, c, payload)
	}
	logger.Debugf("[presence] %s -> %s broadcast to %d contacts", userID, status, len(contacts))
}
