package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"IMProject/logger"
	midsec "IMProject/middleware/security"
	"IMProject/service/router"
	"IMProject/service/storage"
	"IMProject/tools/errs"
)

// Handlers 客户端拉取面：离线信箱、未读统计、已读上报、REST 发送。
type Handlers struct {
	sender  *router.Sender
	offline storage.OfflineQueue
	unread  *storage.UnreadCounters
}

func NewHandlers(sender *router.Sender, offline storage.OfflineQueue, unread *storage.UnreadCounters) *Handlers {
	return &Handlers{sender: sender, offline: offline, unread: unread}
}

// HandleSend POST /api/messages/send —— 非 socket 发送入口，
// 和 DATA 帧走同一条 Sender 路径（同样幂等）。
func (h *Handlers) HandleSend(c *gin.Context) {
	var req router.SendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	req.SenderID = midsec.UserID(c)

	res, err := h.sender.Send(c.Request.Context(), &req)
	if err != nil {
		var ce *errs.CodeError
		if errs.As(err, &ce) {
			c.JSON(http.StatusBadRequest, ce)
			return
		}
		logger.Errorf("[api] send: %v", err)
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleOfflineMessages GET /api/offline-messages —— 非破坏性读：
// 重复拉取安全，显式 purge 前条目一直在（TTL 兜底）。
func (h *Handlers) HandleOfflineMessages(c *gin.Context) {
	user := midsec.UserID(c)
	payloads, err := h.offline.Drain(c.Request.Context(), user)
	if err != nil {
		logger.Errorf("[api] offline drain user=%s: %v", user, err)
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	// 存的就是渲染好的 JSON，原样透传
	msgs := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, p)
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

type unreadStatsReq struct {
	ChatIDs  []string `form:"chatIds"`
	GroupIDs []string `form:"groupIds"`
}

// HandleUnreadStats GET /api/unread/stats?chatIds=...&groupIds=...
func (h *Handlers) HandleUnreadStats(c *gin.Context) {
	user := midsec.UserID(c)
	var req unreadStatsReq
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}

	chats := make(map[string]int64, len(req.ChatIDs))
	for _, chatID := range req.ChatIDs {
		n, err := h.unread.UnreadCount(c.Request.Context(), user, chatID)
		if err != nil {
			logger.Errorf("[api] unread chat=%s: %v", chatID, err)
			continue
		}
		chats[chatID] = n
	}
	groups := make(map[string]int64, len(req.GroupIDs))
	for _, groupID := range req.GroupIDs {
		n, err := h.unread.GroupUnreadCount(c.Request.Context(), user, groupID)
		if err != nil {
			logger.Errorf("[api] unread group=%s: %v", groupID, err)
			continue
		}
		groups[groupID] = n
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "groups": groups})
}

type markReadReq struct {
	ChatID            string `json:"chatId"`
	GroupID           string `json:"groupId"`
	LastReadMessageID int64  `json:"lastReadMessageId" binding:"required"`
}

// HandleMarkRead POST /api/read —— 单聊清零计数，群聊推进 high-water mark。
func (h *Handlers) HandleMarkRead(c *gin.Context) {
	user := midsec.UserID(c)
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}

	var err error
	switch {
	case req.ChatID != "":
		err = h.unread.MarkRead(c.Request.Context(), user, req.ChatID, req.LastReadMessageID)
	case req.GroupID != "":
		err = h.unread.MarkGroupRead(c.Request.Context(), user, req.GroupID, req.LastReadMessageID)
	default:
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("chatId or groupId required"))
		return
	}
	if err != nil {
		logger.Errorf("[api] mark read user=%s: %v", user, err)
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandleHealthz GET /healthz
func (h *Handlers) HandleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "serving"})
}
