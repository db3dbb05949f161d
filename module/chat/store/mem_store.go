package store

import (
	"context"
	"sort"
	"sync"

	"IMProject/module/chat/model"
)

// 内存版协作方实现：单测和本地起服务用，不依赖 mongo。

// MemMessages 内存消息库，ID 自增保证会话内单调。
type MemMessages struct {
	mu   sync.Mutex
	next int64
	rows []*model.Message
}

func NewMemMessages() *MemMessages {
	return &MemMessages{next: 1000}
}

func (s *MemMessages) Persist(_ context.Context, m *model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	cp := *m
	cp.ID = s.next
	s.rows = append(s.rows, &cp)
	return cp.ID, nil
}

func (s *MemMessages) MarkDelivered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id && r.Status == model.StatusSent {
			r.Status = model.StatusDelivered
		}
	}
	return nil
}

func (s *MemMessages) MarkRecalled(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			r.IsRecalled = true
		}
	}
	return nil
}

func (s *MemMessages) History(_ context.Context, sessionType int32, targetID string, beforeID int64, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, r := range s.rows {
		if r.SessionType != sessionType || r.TargetID() != targetID {
			continue
		}
		if beforeID > 0 && r.ID >= beforeID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemMessages) CountAfter(_ context.Context, groupID string, afterID int64, excludeSender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.GroupID == groupID && r.ID > afterID && r.SenderID != excludeSender && !r.IsRecalled {
			n++
		}
	}
	return n, nil
}

// MemContacts 静态好友图。
type MemContacts struct {
	mu sync.Mutex
	m  map[string][]string
}

func NewMemContacts() *MemContacts {
	return &MemContacts{m: make(map[string][]string)}
}

func (s *MemContacts) SetContacts(user string, contacts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[user] = contacts
}

func (s *MemContacts) AcceptedContacts(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.m[userID]...), nil
}

// MemGroups 静态群名册。
type MemGroups struct {
	mu sync.Mutex
	m  map[string][]string
}

func NewMemGroups() *MemGroups {
	return &MemGroups{m: make(map[string][]string)}
}

func (s *MemGroups) SetMembers(group string, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[group] = members
}

func (s *MemGroups) Members(_ context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.m[groupID]...), nil
}
