package model

import "time"

// 好友关系状态
const (
	FriendPending  int32 = 0 // 申请中
	FriendAccepted int32 = 1 // 已通过
	FriendBlocked  int32 = 2 // 已拉黑
)

// Friend 好友关系记录（有向，A->B 与 B->A 各一条）。
// 在线状态广播只发给 Status=Accepted 的对端。
type Friend struct {
	OwnerID   string    `bson:"owner_id"`  // 关系归属人
	FriendID  string    `bson:"friend_id"` // 对端
	Status    int32     `bson:"status"`
	Remark    string    `bson:"remark"` // 备注名
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}
