package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"IMProject/module/chat/model"
	"IMProject/tools/ids"
)

const msgCollection = "messages"

// MongoMessages 消息库参考实现。消息ID用雪花ID：
// 单节点内随发送顺序单调，_id 直接当排序游标用。
type MongoMessages struct {
	col *mongo.Collection
}

func NewMongoMessages(db *mongo.Database) *MongoMessages {
	return &MongoMessages{col: db.Collection(msgCollection)}
}

func (s *MongoMessages) Persist(ctx context.Context, m *model.Message) (int64, error) {
	m.ID = ids.Generate()
	if _, err := s.col.InsertOne(ctx, m); err != nil {
		return 0, errors.Wrap(err, "insert message")
	}
	return m.ID, nil
}

func (s *MongoMessages) MarkDelivered(ctx context.Context, id int64) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.StatusSent},
		bson.M{"$set": bson.M{"status": model.StatusDelivered}})
	return errors.Wrap(err, "mark delivered")
}

func (s *MongoMessages) MarkRecalled(ctx context.Context, id int64) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_recalled": true}})
	return errors.Wrap(err, "mark recalled")
}

func (s *MongoMessages) History(ctx context.Context, sessionType int32, targetID string, beforeID int64, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	filter := bson.M{"session_type": sessionType}
	if sessionType == model.SessionGroup {
		filter["group_id"] = targetID
	} else {
		filter["chat_id"] = targetID
	}
	if beforeID > 0 {
		filter["_id"] = bson.M{"$lt": beforeID}
	}
	cur, err := s.col.Find(ctx, filter,
		options.Find().SetSort(bson.M{"_id": -1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, errors.Wrap(err, "history find")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "history decode")
	}
	return out, nil
}

func (s *MongoMessages) CountAfter(ctx context.Context, groupID string, afterID int64, excludeSender string) (int64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{
		"group_id":    groupID,
		"_id":         bson.M{"$gt": afterID},
		"sender_id":   bson.M{"$ne": excludeSender},
		"is_recalled": false,
	})
	return n, errors.Wrap(err, "count after")
}
