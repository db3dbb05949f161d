package store

import (
	"context"

	"IMProject/module/chat/model"
)

// 外部协作方的窄接口。核心只依赖这些契约，参考实现在同包的
// mongo 文件里，单测用 mem 实现。

// MessageStore 消息库（record of record）。Persist 分配单调递增的
// 消息ID并落库；核心侧拿到ID后只读。
type MessageStore interface {
	Persist(ctx context.Context, m *model.Message) (int64, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkRecalled(ctx context.Context, id int64) error
	History(ctx context.Context, sessionType int32, targetID string, beforeID int64, limit int) ([]*model.Message, error)
	// CountAfter 群聊未读推导：id > afterID 且 sender != excludeSender 的条数
	CountAfter(ctx context.Context, groupID string, afterID int64, excludeSender string) (int64, error)
}

// ContactGraph 好友图，presence 广播范围来自这里。
type ContactGraph interface {
	AcceptedContacts(ctx context.Context, userID string) ([]string, error)
}

// GroupDirectory 群成员名册。
type GroupDirectory interface {
	Members(ctx context.Context, groupID string) ([]string, error)
}
