package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"IMProject/module/chat/model"
)

// ===== 好友图 =====

type MongoContacts struct {
	col *mongo.Collection
}

func NewMongoContacts(db *mongo.Database) *MongoContacts {
	return &MongoContacts{col: db.Collection("friends")}
}

func (s *MongoContacts) AcceptedContacts(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.col.Find(ctx, bson.M{
		"owner_id": userID,
		"status":   model.FriendAccepted,
	})
	if err != nil {
		return nil, errors.Wrap(err, "contacts find")
	}
	defer func() { _ = cur.Close(ctx) }()

	var rows []model.Friend
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "contacts decode")
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.FriendID)
	}
	return out, nil
}

// ===== 群成员名册 =====

type MongoGroups struct {
	col *mongo.Collection
}

func NewMongoGroups(db *mongo.Database) *MongoGroups {
	return &MongoGroups{col: db.Collection("group_members")}
}

func (s *MongoGroups) Members(ctx context.Context, groupID string) ([]string, error) {
	cur, err := s.col.Find(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return nil, errors.Wrap(err, "members find")
	}
	defer func() { _ = cur.Close(ctx) }()

	var rows []model.GroupMember
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "members decode")
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.UserID)
	}
	return out, nil
}
