package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"IMProject/tools/safe"
)

// ===== 配置 =====

type ManagerConf struct {
	HeartbeatTimeout time.Duration    // 心跳超时（默认 5m），超时由 sweeper 摘除
	SweepEvery       time.Duration    // 清理周期（默认 10s）
	MaxPerUser       int              // 每用户最大连接数（<=0 不限制），超限淘汰最老一条
	Clock            func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Minute
	}
}

// ===== 数据结构 =====

// Session 一条活跃连接。归属接收这条 socket 的进程，纯内存，
// 进程挂了就没了——presence/离线队列把"没有活跃会话"当常态处理，不当错误。
type Session struct {
	SessionID string
	UserID    string

	Conn   *websocket.Conn
	Remote net.Addr
	Send   chan []byte // 每连接独立发送队列，写泵单协程消费

	CreatedAt time.Time
	Heartbeat time.Time // 最近心跳时间
	ExpireAt  time.Time // 到期时间（过期由 sweeper 清理）
}

// ConnManager 本实例的连接登记表。
// 主索引 sessionID -> Session，辅助索引 userID -> (sessionID -> Session)；
// 一个 userID 可以挂多条会话（多端），一个 sessionID 只属于一个 userID。
type ConnManager struct {
	mu        sync.RWMutex
	bySession map[string]*Session
	byUser    map[string]map[string]*Session

	conf     ManagerConf
	gwID     string // 节点ID
	stopOnce sync.Once
	stopCh   chan struct{}

	// 0→1 / 1→0 转换钩子（presence 挂这里）；多端续连不触发
	onFirstSession func(userID string)
	onLastGone     func(userID string)
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySession: make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		conf:      conf,
		gwID:      gwID,
		stopCh:    make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string { return m.gwID }

// SetTransitionHooks 注册上下线转换回调。回调在独立协程里跑，
// 不能拿着 manager 的锁调用。
func (m *ConnManager) SetTransitionHooks(onFirst, onLast func(userID string)) {
	m.onFirstSession = onFirst
	m.onLastGone = onLast
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.bySession {
		closeQuiet(s.Conn)
	}
	m.bySession = map[string]*Session{}
	m.byUser = map[string]map[string]*Session{}
}

// ===== 注册/注销/心跳 =====

// Register 登记一条已鉴权连接。O(1)，无阻塞；返回的 Session 交给写泵。
func (m *ConnManager) Register(sessionID, userID string, conn *websocket.Conn) (*Session, error) {
	if sessionID == "" || userID == "" {
		return nil, errors.New("sessionID/userID empty")
	}
	now := m.conf.Clock()

	m.mu.Lock()
	if _, exists := m.bySession[sessionID]; exists {
		m.mu.Unlock()
		return nil, errors.New("sessionID exists")
	}

	var evicted *Session
	if m.conf.MaxPerUser > 0 {
		evicted = m.evictOldestLocked(userID)
	}

	s := &Session{
		SessionID: sessionID,
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		CreatedAt: now,
		Heartbeat: now,
		ExpireAt:  now.Add(m.conf.HeartbeatTimeout),
	}
	if conn != nil {
		s.Remote = conn.RemoteAddr()
	}
	m.bySession[sessionID] = s
	mm := m.byUser[userID]
	if mm == nil {
		mm = make(map[string]*Session)
		m.byUser[userID] = mm
	}
	mm[sessionID] = s
	first := len(mm) == 1 && evicted == nil
	m.mu.Unlock()

	if evicted != nil {
		closeQuiet(evicted.Conn)
	}
	if first && m.onFirstSession != nil {
		hook := m.onFirstSession
		safe.SafeGo(func() { hook(userID) })
	}
	return s, nil
}

// Unregister 摘除并关闭指定会话；摘掉用户最后一条时触发 onLastGone。
func (m *ConnManager) Unregister(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	s, ok := m.bySession[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.bySession, sessionID)
	last := false
	if mm := m.byUser[s.UserID]; mm != nil {
		delete(mm, sessionID)
		if len(mm) == 0 {
			delete(m.byUser, s.UserID)
			last = true
		}
	}
	m.mu.Unlock()

	closeQuiet(s.Conn)
	if last && m.onLastGone != nil {
		hook := m.onLastGone
		user := s.UserID
		safe.SafeGo(func() { hook(user) })
	}
}

// Touch 心跳续期
func (m *ConnManager) Touch(sessionID string) error {
	if sessionID == "" {
		return errors.New("sessionID empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySession[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	s.Heartbeat = now
	s.ExpireAt = now.Add(m.conf.HeartbeatTimeout)
	return nil
}

// AttachPongHandler 绑定 gorilla 的 PongHandler，pong 即心跳
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, sessionID string) {
	if conn == nil || sessionID == "" {
		return
	}
	conn.SetPongHandler(func(string) error {
		_ = m.Touch(sessionID) // 忽略错误：连接可能刚好被清理
		return nil
	})
}

// ===== 查询/投递 =====

// HandlesFor 某用户当前的全部活跃会话
func (m *ConnManager) HandlesFor(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

func (m *ConnManager) IsLiveLocally(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

func (m *ConnManager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySession[sessionID]
	return s, ok
}

// PushToUser 向该用户所有会话投递，返回实际入队条数。
// 只进发送队列不直接写 socket；慢客户端队列满就丢（靠历史拉取兜底）。
func (m *ConnManager) PushToUser(userID string, payload []byte) int {
	m.mu.RLock()
	mm := m.byUser[userID]
	sessions := make([]*Session, 0, len(mm))
	for _, s := range mm {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range sessions {
		select {
		case s.Send <- payload:
			n++
		default:
			// 慢客户端：跳过，不阻塞路由
		}
	}
	return n
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.SweepOnce(now)
		}
	}
}

// SweepOnce 摘掉所有心跳超时的会话；导出供单测用注入时钟驱动。
func (m *ConnManager) SweepOnce(now time.Time) {
	var expired []*Session
	var lastGone []string

	m.mu.Lock()
	for sid, s := range m.bySession {
		if now.After(s.ExpireAt) {
			// 先收集，解锁后再关 socket
			expired = append(expired, s)
			delete(m.bySession, sid)
			if mm := m.byUser[s.UserID]; mm != nil {
				delete(mm, sid)
				if len(mm) == 0 {
					delete(m.byUser, s.UserID)
					lastGone = append(lastGone, s.UserID)
				}
			}
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		closeQuiet(s.Conn)
	}
	if m.onLastGone != nil {
		for _, user := range lastGone {
			hook := m.onLastGone
			u := user
			safe.SafeGo(func() { hook(u) })
		}
	}
}

// ===== 最大连接数/挤下线 =====

// 持锁调用；返回被挤掉的会话（解锁后由调用方关闭）
func (m *ConnManager) evictOldestLocked(userID string) *Session {
	mm := m.byUser[userID]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	var oldest *Session
	for _, s := range mm {
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return nil
	}
	delete(mm, oldest.SessionID)
	delete(m.bySession, oldest.SessionID)
	return oldest
}

// ===== 工具函数 =====

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
