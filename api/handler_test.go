package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mid "IMProject/middleware"
	midsec "IMProject/middleware/security"
	"IMProject/module/chat/model"
	"IMProject/module/chat/store"
	"IMProject/service/chat"
	"IMProject/service/router"
	"IMProject/service/storage"
	"IMProject/tools/security"
)

type apiFixture struct {
	engine  *gin.Engine
	jwtOpts security.Options
	offline storage.OfflineQueue
	unread  *storage.UnreadCounters
	msgs    *store.MemMessages
	groups  *store.MemGroups
}

type nopRelay struct{}

func (nopRelay) Publish(string, []byte) {}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := chat.NewConnManager(chat.ManagerConf{}, "gw-1")
	t.Cleanup(reg.Close)

	msgs := store.NewMemMessages()
	groups := store.NewMemGroups()
	offline := storage.NewMemOffline(100, time.Hour)
	unread := storage.NewUnreadCounters(storage.NewMemCounters(), msgs, time.Minute)
	rt := router.NewRouter("gw-1", reg, chat.NewFanout(2, 64), nopRelay{},
		storage.NewMemPresence(), offline, unread, msgs, groups, nil)
	sender := router.NewSender(storage.NewMemClaims(time.Minute), msgs, rt)

	jwtOpts := security.DefaultOptions([]byte("test-secret"))
	mid.UseAuth(midsec.DefaultOptions(jwtOpts))
	h := NewHandlers(sender, offline, unread)

	r := gin.New()
	mid.POST(r, "/api/messages/send", h.HandleSend, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/offline-messages", h.HandleOfflineMessages, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/unread/stats", h.HandleUnreadStats, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/read", h.HandleMarkRead, mid.RouteOpt{IsAuth: true})
	r.GET("/healthz", h.HandleHealthz)

	return &apiFixture{engine: r, jwtOpts: jwtOpts, offline: offline, unread: unread, msgs: msgs, groups: groups}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		token, _, _, err := security.Generate(f.jwtOpts, user, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/offline-messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendAndPullOffline(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/messages/send", "u1", gin.H{
		"clientMessageId": "c1",
		"targetType":      "private",
		"targetId":        "u2",
		"content":         gin.H{"kind": "text", "text": "hi"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res router.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotZero(t, res.MessageID)
	assert.False(t, res.Duplicate)

	// 路由异步落信箱后，u2 拉取到这条
	require.Eventually(t, func() bool {
		q, _ := f.offline.Drain(context.Background(), "u2")
		return len(q) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/offline-messages", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pull struct {
		Count    int               `json:"count"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pull))
	require.Equal(t, 1, pull.Count)

	var frame chat.DeliverFrame
	require.NoError(t, json.Unmarshal(pull.Messages[0], &frame))
	assert.Equal(t, res.MessageID, frame.MessageID)
	assert.Equal(t, "u1", frame.SenderID)
}

func TestSendDuplicateReplaysID(t *testing.T) {
	f := newAPIFixture(t)
	body := gin.H{
		"clientMessageId": "c1",
		"targetType":      "private",
		"targetId":        "u2",
		"content":         gin.H{"kind": "text", "text": "hi"},
	}

	w := f.do(t, http.MethodPost, "/api/messages/send", "u1", body)
	require.Equal(t, http.StatusOK, w.Code)
	var first router.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = f.do(t, http.MethodPost, "/api/messages/send", "u1", body)
	require.Equal(t, http.StatusOK, w.Code)
	var second router.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)
}

func TestSendValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	// 缺 clientMessageId：binding 挡住
	w := f.do(t, http.MethodPost, "/api/messages/send", "u1", gin.H{
		"targetType": "private", "targetId": "u2",
		"content": gin.H{"kind": "text", "text": "hi"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 非法 content kind：Sender 挡住
	w = f.do(t, http.MethodPost, "/api/messages/send", "u1", gin.H{
		"clientMessageId": "c1", "targetType": "private", "targetId": "u2",
		"content": gin.H{"kind": "video"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnreadStatsAndMarkRead(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	chatID := model.DMKey("u1", "u2")

	require.NoError(t, f.unread.Increment(ctx, "u2", chatID))
	require.NoError(t, f.unread.Increment(ctx, "u2", chatID))

	f.groups.SetMembers("g1", []string{"u1", "u2"})
	_, err := f.msgs.Persist(ctx, &model.Message{
		SenderID: "u1", SessionType: model.SessionGroup, GroupID: "g1",
		Content: model.Content{Kind: model.ContentText, Text: "x"},
	})
	require.NoError(t, err)

	url := fmt.Sprintf("/api/unread/stats?chatIds=%s&groupIds=g1", chatID)
	w := f.do(t, http.MethodGet, url, "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Chats  map[string]int64 `json:"chats"`
		Groups map[string]int64 `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Chats[chatID])
	assert.Equal(t, int64(1), stats.Groups["g1"])

	// 已读上报 → 归零
	w = f.do(t, http.MethodPost, "/api/read", "u2", gin.H{"chatId": chatID, "lastReadMessageId": 1001})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, url, "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats.Chats[chatID])
}

func TestMarkReadRequiresTarget(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/read", "u2", gin.H{"lastReadMessageId": 1001})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
