package handlers

import (
	"IMProject/service/chat"
	"IMProject/service/presence"
)

// PingHandler 应用层心跳：续本地会话 TTL + 续 fleet 在线集。
type PingHandler struct {
	presence *presence.Service
}

func NewPingHandler(p *presence.Service) *PingHandler {
	return &PingHandler{presence: p}
}

func (h *PingHandler) Type() string { return chat.FramePing }

func (h *PingHandler) Handle(ctx *chat.Context, _ *chat.ClientFrame, conn *chat.ConnState) error {
	if conn.Session != nil {
		_ = ctx.S.ConnMgr().Touch(conn.Session.SessionID)
		if h.presence != nil {
			h.presence.Touch(conn.Session.UserID)
		}
	}
	conn.Reply(chat.BuildPong())
	return nil
}
