package model

import "time"

// Group 群基本信息。成员名册单独存 GroupMember。
type Group struct {
	GroupID   string    `bson:"_id"`
	Name      string    `bson:"name"`
	OwnerID   string    `bson:"owner_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// GroupMember 群成员记录，group_id+user_id 唯一。
// 群发 fan-out 时按这张表拉全量名册。
type GroupMember struct {
	GroupID  string    `bson:"group_id"`
	UserID   string    `bson:"user_id"`
	Nickname string    `bson:"nickname"` // 群内昵称
	JoinTime time.Time `bson:"join_time"`
}
