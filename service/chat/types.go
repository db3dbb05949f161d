package chat

import "github.com/gorilla/websocket"

// Handler 按帧类型分发的处理器。
type Handler interface {
	Type() string
	Handle(*Context, *ClientFrame, *ConnState) error
}

// Context 处理器上下文
type Context struct {
	S *Server
}

// ConnState 单条 socket 的读循环状态。AUTH 成功前 Session 为 nil。
type ConnState struct {
	WS      *websocket.Conn
	Session *Session
	send    func([]byte) // 未注册阶段直接写 socket 的出口
}

// Reply 给当前连接回帧：已注册走发送队列，未注册直接写。
func (c *ConnState) Reply(payload []byte) {
	if c.Session != nil {
		select {
		case c.Session.Send <- payload:
		default:
		}
		return
	}
	if c.send != nil {
		c.send(payload)
	}
}
