package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"IMProject/module/chat/model"
)

// ===== 帧类型 =====
//
// 客户端 <-> 网关的业务帧都是 JSON 文本帧，type 字段路由。

const (
	FrameAuth   = "AUTH"    // c->s 鉴权
	FramePing   = "PING"    // c->s 心跳
	FramePong   = "PONG"    // s->c 心跳回执
	FrameData   = "DATA"    // c->s 发消息
	FrameAck    = "ACK"     // s->c 发送回执（带服务端消息ID）
	FrameCack   = "CACK"    // c->s 客户端收到投递的确认
	FrameError  = "ERROR"   // s->c 错误
	FrameStatus = "STATUS_CHANGE"
	FrameDeliver = "DELIVER"
)

// 在线状态
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// ClientFrame 客户端上行帧（按 Type 取字段）。
type ClientFrame struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts,omitempty"`

	// AUTH
	Token string `json:"token,omitempty"`

	// DATA
	ClientMsgID string        `json:"clientMessageId,omitempty"`
	TargetType  string        `json:"targetType,omitempty"` // private | group
	TargetID    string        `json:"targetId,omitempty"`
	Content     model.Content `json:"content,omitempty"`

	// CACK
	MessageID int64 `json:"messageId,omitempty"`
}

func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	f := &ClientFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return f, nil
}

// ===== 下行帧 =====

// DeliverFrame 投递给接收端的完整渲染 payload。
// 跨实例转发走的就是这个 JSON（收端零查询），离线队列存的也是它。
type DeliverFrame struct {
	Type        string        `json:"type"` // DELIVER
	MessageID   int64         `json:"messageId"`
	SessionType int32         `json:"sessionType"` // 1=单聊 2=群聊
	ChatID      string        `json:"chatId,omitempty"`
	GroupID     string        `json:"groupId,omitempty"`
	SenderID    string        `json:"senderId"`
	Content     model.Content `json:"content"`
	CreatedAt   int64         `json:"createdAt"` // Unix ms
}

// BuildDeliverFrame 由已持久化的消息渲染投递 payload。
func BuildDeliverFrame(m *model.Message) ([]byte, error) {
	f := DeliverFrame{
		Type:        FrameDeliver,
		MessageID:   m.ID,
		SessionType: m.SessionType,
		ChatID:      m.ChatID,
		GroupID:     m.GroupID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt.UnixMilli(),
	}
	return json.Marshal(f)
}

// StatusChangeFrame 在线状态变更通知，和普通消息走同一条
// 按接收人路由的投递链路（含离线队列），没有单独的 presence 通道。
type StatusChangeFrame struct {
	Type      string `json:"type"` // STATUS_CHANGE
	UserID    string `json:"userId"`
	Status    string `json:"status"` // ONLINE | OFFLINE
	Timestamp int64  `json:"timestamp"`
}

func BuildStatusChange(userID, status string, at time.Time) []byte {
	b, _ := json.Marshal(StatusChangeFrame{
		Type:      FrameStatus,
		UserID:    userID,
		Status:    status,
		Timestamp: at.UnixMilli(),
	})
	return b
}

// AckFrame 发送方回执：总是带一个已落库的消息ID；
// 重复发送时 Duplicate=true 且 MessageID 是最初分配的那个。
type AckFrame struct {
	Type        string `json:"type"` // ACK
	ClientMsgID string `json:"clientMessageId"`
	MessageID   int64  `json:"messageId"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Ts          int64  `json:"ts"`
}

func BuildAck(clientMsgID string, messageID int64, duplicate bool) []byte {
	b, _ := json.Marshal(AckFrame{
		Type:        FrameAck,
		ClientMsgID: clientMsgID,
		MessageID:   messageID,
		Duplicate:   duplicate,
		Ts:          time.Now().UnixMilli(),
	})
	return b
}

// ErrorFrame 下行错误
type ErrorFrame struct {
	Type string `json:"type"` // ERROR
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func BuildError(code int, msg string) []byte {
	b, _ := json.Marshal(ErrorFrame{Type: FrameError, Code: code, Msg: msg})
	return b
}

// PongFrame 心跳回执
func BuildPong() []byte {
	b, _ := json.Marshal(map[string]any{"type": FramePong, "ts": time.Now().UnixMilli()})
	return b
}
