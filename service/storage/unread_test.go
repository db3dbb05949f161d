package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IMProject/module/chat/model"
	"IMProject/module/chat/store"
)

const chatU1U2 = "dm:u1:u2"

func TestPrivateUnreadLifecycle(t *testing.T) {
	ctx := context.Background()
	u := NewUnreadCounters(NewMemCounters(), store.NewMemMessages(), time.Minute)

	// 5 条离线消息 → 5
	for i := 0; i < 5; i++ {
		require.NoError(t, u.Increment(ctx, "u2", chatU1U2))
	}
	n, err := u.UnreadCount(ctx, "u2", chatU1U2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// 标记已读 → 0
	require.NoError(t, u.MarkRead(ctx, "u2", chatU1U2, 1005))
	n, err = u.UnreadCount(ctx, "u2", chatU1U2)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 再来一条 → 1（不是 6）
	require.NoError(t, u.Increment(ctx, "u2", chatU1U2))
	n, err = u.UnreadCount(ctx, "u2", chatU1U2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMarkReadIdempotent(t *testing.T) {
	ctx := context.Background()
	u := NewUnreadCounters(NewMemCounters(), store.NewMemMessages(), time.Minute)

	require.NoError(t, u.Increment(ctx, "u2", chatU1U2))
	require.NoError(t, u.MarkRead(ctx, "u2", chatU1U2, 1001))
	require.NoError(t, u.MarkRead(ctx, "u2", chatU1U2, 1001))

	n, err := u.UnreadCount(ctx, "u2", chatU1U2)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func seedGroupMessages(t *testing.T, msgs *store.MemMessages, group string, senders ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(senders))
	for _, s := range senders {
		id, err := msgs.Persist(context.Background(), &model.Message{
			SenderID:    s,
			SessionType: model.SessionGroup,
			GroupID:     group,
			Content:     model.Content{Kind: model.ContentText, Text: "x"},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestGroupUnreadDerivedFromHighWater(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemMessages()
	u := NewUnreadCounters(NewMemCounters(), msgs, time.Minute)

	ids := seedGroupMessages(t, msgs, "g1", "u1", "u2", "u1", "u3")

	// u2 还没读过：别人发的 3 条，自己那条不算
	n, err := u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// 只发过消息没读过的人：自己的消息不计未读
	only, err := u.GroupUnreadCount(ctx, "u3", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), only)
	mine, err := u.GroupUnreadCount(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine)

	// 推进 HWM 到第二条
	require.NoError(t, u.MarkGroupRead(ctx, "u2", "g1", ids[1]))
	n, err = u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 读到底
	require.NoError(t, u.MarkGroupRead(ctx, "u2", "g1", ids[3]))
	n, err = u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGroupHighWaterNeverRegresses(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemMessages()
	u := NewUnreadCounters(NewMemCounters(), msgs, time.Minute)

	ids := seedGroupMessages(t, msgs, "g1", "u1", "u1", "u1")

	require.NoError(t, u.MarkGroupRead(ctx, "u2", "g1", ids[2]))
	// 并发 markRead 带着更小的 id 到达：进度不回退
	require.NoError(t, u.MarkGroupRead(ctx, "u2", "g1", ids[0]))

	n, err := u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGroupUnreadCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemMessages()
	u := NewUnreadCounters(NewMemCounters(), msgs, time.Hour)

	seedGroupMessages(t, msgs, "g1", "u1")
	n, err := u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 缓存未失效时新消息不可见
	seedGroupMessages(t, msgs, "g1", "u1")
	n, err = u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// fan-out 路径会调 InvalidateGroup → 下次读到新值
	u.InvalidateGroup("u2", "g1")
	n, err = u.GroupUnreadCount(ctx, "u2", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
