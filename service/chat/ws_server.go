package chat

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"IMProject/logger"
	"IMProject/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait    = 5 * time.Second
	pingInterval = 25 * time.Second
)

// HandleWS ===== WebSocket 入口 =====
//
// 读循环只读不写；所有下行都走会话发送队列（单写协程），
// 规避 gorilla 并发写限制。连接断开即 Unregister，
// 最后一条会话被摘掉时由 ConnManager 的钩子通知 presence。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	state := &ConnState{
		WS:   ws,
		send: func(b []byte) { _ = writeText(ws, b, writeWait) },
	}

	defer func() {
		if state.Session != nil {
			s.connMgr.Unregister(state.Session.SessionID)
		} else {
			closeQuiet(ws)
		}
	}()

	// ---- 读循环 ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[WS] peer closed err=%v", rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout err=%v", rerr)
			} else {
				logger.Infof("[WS] read err=%v", rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseClientFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseClientFrame err=%v sample=%q", perr, sample)
			continue
		}

		// AUTH 之前只放行 AUTH/PING
		if state.Session == nil && frame.Type != FrameAuth && frame.Type != FramePing {
			state.Reply(BuildError(1502, "not authorized"))
			continue
		}

		if err := s.DispatchFrame(frame, state); err != nil {
			logger.Infof("[WS] handle type=%s err=%v", frame.Type, err)
		}
	}
}

// StartWritePump 鉴权成功后启动该会话的单写协程：
// 消费发送队列 + 周期性 ping。写失败即退出，由读循环收尾。
func (s *Server) StartWritePump(sess *Session, ws *websocket.Conn) {
	s.connMgr.AttachPongHandler(ws, sess.SessionID)
	safe.SafeGo(func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case payload := <-sess.Send:
				if err := writeText(ws, payload, writeWait); err != nil {
					logger.Debugf("[WS] write pump exit session=%s err=%v", sess.SessionID, err)
					return
				}
			case <-t.C:
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}

// 带写超时的文本帧发送
func writeText(ws *websocket.Conn, data []byte, d time.Duration) error {
	_ = ws.SetWriteDeadline(time.Now().Add(d))
	return ws.WriteMessage(websocket.TextMessage, data)
}
