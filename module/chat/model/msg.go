package model

import "time"

// ===== 会话类型 / 消息状态 =====

const (
	SessionPrivate int32 = 1 // 单聊
	SessionGroup   int32 = 2 // 群聊
)

// 消息投递状态
const (
	StatusSent      int32 = 1
	StatusDelivered int32 = 2
	StatusRead      int32 = 3
)

// ===== 内容：tagged variant =====
//
// Kind 决定哪组字段有效；路由层不关心内容，只透传。
// 新增类型时 payload 构造方（BuildDeliverFrame）必须同步补 case。

const (
	ContentText  = "text"
	ContentImage = "image"
	ContentFile  = "file"
)

// Content 消息内容（按 Kind 取字段）。
type Content struct {
	Kind string `bson:"kind" json:"kind"`

	// text
	Text string `bson:"text,omitempty" json:"text,omitempty"`

	// image
	ImageURL string `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Width    int32  `bson:"width,omitempty" json:"width,omitempty"`
	Height   int32  `bson:"height,omitempty" json:"height,omitempty"`

	// file
	FileURL  string `bson:"file_url,omitempty" json:"file_url,omitempty"`
	FileName string `bson:"file_name,omitempty" json:"file_name,omitempty"`
	FileSize int64  `bson:"file_size,omitempty" json:"file_size,omitempty"`
}

// Valid 校验 Kind 与必填字段。
func (c *Content) Valid() bool {
	switch c.Kind {
	case ContentText:
		return c.Text != ""
	case ContentImage:
		return c.ImageURL != ""
	case ContentFile:
		return c.FileURL != ""
	default:
		return false
	}
}

// ===== 消息主干 =====

// Message 一条已持久化的消息。ID 由存储层在持久化时分配，
// 同一会话内随发送顺序单调递增；核心侧只读，不回改。
type Message struct {
	ID          int64   `bson:"_id" json:"id"`
	ClientMsgID string  `bson:"client_msg_id" json:"client_msg_id"` // 客户端幂等ID
	SenderID    string  `bson:"sender_id" json:"sender_id"`
	SessionType int32   `bson:"session_type" json:"session_type"` // 1=单聊 2=群聊
	ChatID      string  `bson:"chat_id,omitempty" json:"chat_id,omitempty"`   // 单聊会话ID
	GroupID     string  `bson:"group_id,omitempty" json:"group_id,omitempty"` // 群ID
	Content     Content `bson:"content" json:"content"`
	Status      int32   `bson:"status" json:"status"`
	IsRecalled  bool    `bson:"is_recalled" json:"is_recalled"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// TargetID 会话维度的对端：单聊是 ChatID，群聊是 GroupID。
func (m *Message) TargetID() string {
	if m.SessionType == SessionGroup {
		return m.GroupID
	}
	return m.ChatID
}
