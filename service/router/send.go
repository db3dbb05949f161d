package router

import (
	"context"
	"time"

	"IMProject/logger"
	"IMProject/module/chat/model"
	"IMProject/module/chat/store"
	"IMProject/service/storage"
	"IMProject/tools/errs"
	"IMProject/tools/safe"
)

// SendReq 消息发送入口的入参（socket DATA 帧和 REST 共用）。
type SendReq struct {
	SenderID    string        `json:"-"`
	ClientMsgID string        `json:"clientMessageId" binding:"required"`
	TargetType  string        `json:"targetType" binding:"required"` // private | group
	TargetID    string        `json:"targetId" binding:"required"`   // 单聊=对端用户ID，群聊=群ID
	Content     model.Content `json:"content" binding:"required"`
}

// SendResult 发送方拿到的回执：总是一个已落库的消息ID。
type SendResult struct {
	MessageID int64  `json:"messageId"`
	ChatID    string `json:"chatId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

const (
	TargetPrivate = "private"
	TargetGroup   = "group"
)

// Sender 发送路径编排：幂等检查 → 持久化 → 幂等声明 → 异步路由。
// 路由相对发送方确认是异步的，慢的接收人解析不会拖住 ACK。
type Sender struct {
	claims storage.ClaimStore
	msgs   store.MessageStore
	router *Router
	clock  func() time.Time
}

func NewSender(claims storage.ClaimStore, msgs store.MessageStore, r *Router) *Sender {
	return &Sender{claims: claims, msgs: msgs, router: r, clock: time.Now}
}

// Send 处理一次发送。客户端重试（掉了 ACK 再发）の重复请求在
// 幂等窗口内直接回放最初分配的ID：不重复落库、不重复 fan-out、
// 未读数也不会多加。
func (s *Sender) Send(ctx context.Context, req *SendReq) (*SendResult, error) {
	if req.SenderID == "" || req.ClientMsgID == "" {
		return nil, errs.ErrArgs.WithDetail("sender/clientMessageId required")
	}
	if !req.Content.Valid() {
		return nil, errs.ErrArgs.WithDetail("bad content payload")
	}

	// 1) 幂等回放：持久化之前查
	if id, hit, err := s.claims.TryClaim(ctx, req.ClientMsgID); err != nil {
		logger.Warnf("[send] dedup lookup key=%s err=%v", req.ClientMsgID, err)
	} else if hit {
		logger.Debugf("[send] duplicate key=%s replay id=%d", req.ClientMsgID, id)
		res := &SendResult{MessageID: id, Duplicate: true}
		s.fillTarget(req, res)
		return res, nil
	}

	// 2) 持久化（外部协作方，消息ID在这里分配）
	m := &model.Message{
		ClientMsgID: req.ClientMsgID,
		SenderID:    req.SenderID,
		Status:      model.StatusSent,
		Content:     req.Content,
		CreatedAt:   s.clock(),
	}
	switch req.TargetType {
	case TargetPrivate:
		m.SessionType = model.SessionPrivate
		m.ChatID = model.DMKey(req.SenderID, req.TargetID)
	case TargetGroup:
		m.SessionType = model.SessionGroup
		m.GroupID = req.TargetID
	default:
		return nil, errs.ErrArgs.WithDetail("targetType must be private|group")
	}

	id, err := s.msgs.Persist(ctx, m)
	if err != nil {
		return nil, errs.Wrap(err, "persist message")
	}
	m.ID = id

	// 3) 幂等声明：持久化成功后恰好一次
	if err := s.claims.Claim(ctx, req.ClientMsgID, id); err != nil {
		// 声明失败只影响后续重试的识别，消息本身已持久
		logger.Warnf("[send] dedup claim key=%s id=%d err=%v", req.ClientMsgID, id, err)
	}

	// 4) 异步 fan-out：持久化成功是路由的前置条件，这里已满足
	msg := m
	safe.SafeGo(func() {
		routeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.router.RouteMessage(routeCtx, msg)
	})

	res := &SendResult{MessageID: id}
	s.fillTarget(req, res)
	return res, nil
}

func (s *Sender) fillTarget(req *SendReq, res *SendResult) {
	if req.TargetType == TargetGroup {
		res.GroupID = req.TargetID
	} else {
		res.ChatID = model.DMKey(req.SenderID, req.TargetID)
	}
}
