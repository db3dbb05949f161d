package handlers

import (
	"context"
	"time"

	"IMProject/logger"
	"IMProject/module/chat/store"
	"IMProject/service/chat"
	"IMProject/service/router"
	"IMProject/tools/errs"
)

// DataHandler DATA 帧：socket 上的消息发送入口。
// 发送方总是拿到一个已落库的消息ID（重复发送回放最初那个）。
type DataHandler struct {
	sender *router.Sender
}

func NewDataHandler(sender *router.Sender) *DataHandler {
	return &DataHandler{sender: sender}
}

func (h *DataHandler) Type() string { return chat.FrameData }

func (h *DataHandler) Handle(_ *chat.Context, f *chat.ClientFrame, conn *chat.ConnState) error {
	req := &router.SendReq{
		SenderID:    conn.Session.UserID,
		ClientMsgID: f.ClientMsgID,
		TargetType:  f.TargetType,
		TargetID:    f.TargetID,
		Content:     f.Content,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := h.sender.Send(ctx, req)
	if err != nil {
		var ce *errs.CodeError
		if errs.As(err, &ce) {
			conn.Reply(chat.BuildError(ce.Code, ce.Msg))
		} else {
			conn.Reply(chat.BuildError(1500, "send failed"))
		}
		return err
	}

	conn.Reply(chat.BuildAck(f.ClientMsgID, res.MessageID, res.Duplicate))
	return nil
}

// CackHandler CACK 帧：客户端确认收到某条投递，状态推到已投递。
type CackHandler struct {
	msgs store.MessageStore
}

func NewCackHandler(msgs store.MessageStore) *CackHandler {
	return &CackHandler{msgs: msgs}
}

func (h *CackHandler) Type() string { return chat.FrameCack }

func (h *CackHandler) Handle(_ *chat.Context, f *chat.ClientFrame, conn *chat.ConnState) error {
	if f.MessageID == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.msgs.MarkDelivered(ctx, f.MessageID); err != nil {
		logger.Debugf("[cack] mark delivered msg=%d err=%v", f.MessageID, err)
	}
	return nil
}
