package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IMProject/module/chat/model"
	"IMProject/module/chat/store"
	"IMProject/service/chat"
	"IMProject/service/storage"
)

// ===== 测试替身 =====

type fakeRelay struct {
	mu   sync.Mutex
	sent []string // targetUserID
}

func (r *fakeRelay) Publish(targetUserID string, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, targetUserID)
}

func (r *fakeRelay) targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fakeEvents struct {
	mu   sync.Mutex
	evts []DeliveryEvent
}

func (e *fakeEvents) Emit(evt DeliveryEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evts = append(e.evts, evt)
}

func (e *fakeEvents) outcomes() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.evts))
	for _, evt := range e.evts {
		out[evt.RecipientID] = evt.Outcome
	}
	return out
}

type routerFixture struct {
	reg     *chat.ConnManager
	relay   *fakeRelay
	fleet   storage.PresenceStore
	offline storage.OfflineQueue
	unread  *storage.UnreadCounters
	msgs    *store.MemMessages
	groups  *store.MemGroups
	events  *fakeEvents
	rt      *Router
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		reg:     chat.NewConnManager(chat.ManagerConf{}, "gw-1"),
		relay:   &fakeRelay{},
		fleet:   storage.NewMemPresence(),
		offline: storage.NewMemOffline(100, time.Hour),
		msgs:    store.NewMemMessages(),
		groups:  store.NewMemGroups(),
		events:  &fakeEvents{},
	}
	t.Cleanup(f.reg.Close)
	f.unread = storage.NewUnreadCounters(storage.NewMemCounters(), f.msgs, time.Minute)
	f.rt = NewRouter("gw-1", f.reg, chat.NewFanout(2, 64), f.relay,
		f.fleet, f.offline, f.unread, f.msgs, f.groups, f.events)
	return f
}

func (f *routerFixture) persist(t *testing.T, m *model.Message) *model.Message {
	t.Helper()
	id, err := f.msgs.Persist(context.Background(), m)
	require.NoError(t, err)
	m.ID = id
	return m
}

func privateMsg(sender, peer string) *model.Message {
	return &model.Message{
		SenderID:    sender,
		SessionType: model.SessionPrivate,
		ChatID:      model.DMKey(sender, peer),
		Content:     model.Content{Kind: model.ContentText, Text: "hi"},
		CreatedAt:   time.Now(),
	}
}

func recvPayload(t *testing.T, s *chat.Session) []byte {
	t.Helper()
	select {
	case p := <-s.Send:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no payload delivered")
		return nil
	}
}

// ===== 用例 =====

func TestRouteLocalDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.reg.Register("s1", "u2", nil)
	require.NoError(t, err)

	m := f.persist(t, privateMsg("u1", "u2"))
	f.rt.RouteMessage(ctx, m)

	var frame chat.DeliverFrame
	require.NoError(t, json.Unmarshal(recvPayload(t, sess), &frame))
	assert.Equal(t, m.ID, frame.MessageID)
	assert.Equal(t, "hi", frame.Content.Text)

	assert.Equal(t, OutcomeDelivered, f.events.outcomes()["u2"])
	assert.Empty(t, f.relay.targets())

	queued, err := f.offline.Drain(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, queued)

	// 投递成功推进消息状态
	require.Eventually(t, func() bool {
		rows, err := f.msgs.History(ctx, model.SessionPrivate, m.ChatID, 0, 10)
		return err == nil && len(rows) == 1 && rows[0].Status == model.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouteRelayedToOtherInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// u2 在别的实例上在线
	require.NoError(t, f.fleet.Online(ctx, "u2", "gw-2", time.Minute))

	m := f.persist(t, privateMsg("u1", "u2"))
	f.rt.RouteMessage(ctx, m)

	assert.Equal(t, []string{"u2"}, f.relay.targets())
	assert.Equal(t, OutcomeRelayed, f.events.outcomes()["u2"])

	queued, err := f.offline.Drain(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, queued)

	// relay 不动未读：收端实例自己投，没离线
	n, err := f.unread.UnreadCount(ctx, "u2", m.ChatID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRouteStalePresenceFallsBackToOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// fleet 显示本实例在线，但本地没有会话：不能发给自己，走离线兜底
	require.NoError(t, f.fleet.Online(ctx, "u2", "gw-1", time.Minute))

	m := f.persist(t, privateMsg("u1", "u2"))
	f.rt.RouteMessage(ctx, m)

	assert.Equal(t, OutcomeQueuedOffline, f.events.outcomes()["u2"])
}

func TestRouteQueuedOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.persist(t, privateMsg("u1", "u2"))
	f.rt.RouteMessage(ctx, m)

	queued, err := f.offline.Drain(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var frame chat.DeliverFrame
	require.NoError(t, json.Unmarshal(queued[0], &frame))
	assert.Equal(t, m.ID, frame.MessageID)

	n, err := f.unread.UnreadCount(ctx, "u2", m.ChatID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, OutcomeQueuedOffline, f.events.outcomes()["u2"])
}

func TestGroupRouteExcludesSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.groups.SetMembers("g1", []string{"u1", "u2", "u3"})

	m := f.persist(t, &model.Message{
		SenderID:    "u1",
		SessionType: model.SessionGroup,
		GroupID:     "g1",
		Content:     model.Content{Kind: model.ContentText, Text: "all"},
		CreatedAt:   time.Now(),
	})
	f.rt.RouteMessage(ctx, m)

	// 发送者不收自己的消息
	mine, err := f.offline.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, mine)

	for _, u := range []string{"u2", "u3"} {
		queued, err := f.offline.Drain(ctx, u)
		require.NoError(t, err)
		assert.Len(t, queued, 1, u)

		// 群聊未读走 HWM 推导，不走单聊计数
		n, err := f.unread.GroupUnreadCount(ctx, u, "g1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, u)
	}
}

func TestGroupMixedOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.groups.SetMembers("g1", []string{"u1", "u2", "u3", "u4"})

	// u2 本地在线，u3 在 gw-2，u4 全fleet离线
	sess, err := f.reg.Register("s1", "u2", nil)
	require.NoError(t, err)
	require.NoError(t, f.fleet.Online(ctx, "u3", "gw-2", time.Minute))

	m := f.persist(t, &model.Message{
		SenderID:    "u1",
		SessionType: model.SessionGroup,
		GroupID:     "g1",
		Content:     model.Content{Kind: model.ContentText, Text: "all"},
		CreatedAt:   time.Now(),
	})
	f.rt.RouteMessage(ctx, m)

	recvPayload(t, sess)
	out := f.events.outcomes()
	assert.Equal(t, OutcomeDelivered, out["u2"])
	assert.Equal(t, OutcomeRelayed, out["u3"])
	assert.Equal(t, OutcomeQueuedOffline, out["u4"])
	assert.Equal(t, []string{"u3"}, f.relay.targets())
}

func TestResolveRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.rt.ResolveRecipients(ctx, privateMsg("u1", "u2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got)

	_, err = f.rt.ResolveRecipients(ctx, &model.Message{
		SenderID: "u1", SessionType: model.SessionPrivate, ChatID: "bogus",
	})
	assert.Error(t, err)

	f.groups.SetMembers("g1", []string{"u1", "u2", "u3"})
	got, err = f.rt.ResolveRecipients(ctx, &model.Message{
		SenderID: "u1", SessionType: model.SessionGroup, GroupID: "g1",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2", "u3"}, got)
}

func TestDeliverToUserSkipsUnreadBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rt.DeliverToUser(ctx, "u2", chat.BuildStatusChange("u1", chat.StatusOnline, time.Now()))

	queued, err := f.offline.Drain(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, queued, 1)

	// 状态通知不计未读
	n, err := f.unread.UnreadCount(ctx, "u2", model.DMKey("u1", "u2"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
