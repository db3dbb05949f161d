package handlers

import (
	"encoding/json"
	"time"

	"IMProject/logger"
	"IMProject/service/chat"
	"IMProject/tools/ids"
	"IMProject/tools/security"
)

// AuthHandler AUTH 帧：校验 JWT → 登记会话 → 起写泵。
// 登记后 ConnManager 在 0→1 转换时回调 presence。
type AuthHandler struct {
	jwtOpts security.Options
}

func NewAuthHandler(jwtOpts security.Options) *AuthHandler {
	return &AuthHandler{jwtOpts: jwtOpts}
}

func (h *AuthHandler) Type() string { return chat.FrameAuth }

type authAck struct {
	Type      string `json:"type"` // AUTH_ACK
	OK        bool   `json:"ok"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	// 客户端据此配置心跳
	PingIntervalMS int64 `json:"pingIntervalMs,omitempty"`
	ServerTime     int64 `json:"serverTime"`
}

func (h *AuthHandler) Handle(ctx *chat.Context, f *chat.ClientFrame, conn *chat.ConnState) error {
	if conn.Session != nil {
		// 重复 AUTH：幂等返回现有会话
		h.ack(conn, conn.Session.UserID, conn.Session.SessionID)
		return nil
	}

	userID, err := security.Verify(h.jwtOpts, f.Token)
	if err != nil {
		logger.Infof("[auth] verify failed: %v", err)
		conn.Reply(chat.BuildError(1502, "auth failed"))
		return nil // 不断连，客户端可重试
	}

	sessionID := ids.GenerateString()
	sess, err := ctx.S.ConnMgr().Register(sessionID, userID, conn.WS)
	if err != nil {
		conn.Reply(chat.BuildError(1500, "register session"))
		return err
	}
	conn.Session = sess
	ctx.S.StartWritePump(sess, conn.WS)

	h.ack(conn, userID, sessionID)
	logger.Infof("[auth] user=%s session=%s online on gw=%s", userID, sessionID, ctx.S.GwID())
	return nil
}

func (h *AuthHandler) ack(conn *chat.ConnState, userID, sessionID string) {
	b, _ := json.Marshal(authAck{
		Type:           "AUTH_ACK",
		OK:             true,
		UserID:         userID,
		SessionID:      sessionID,
		PingIntervalMS: 25000,
		ServerTime:     time.Now().UnixMilli(),
	})
	conn.Reply(b)
}
