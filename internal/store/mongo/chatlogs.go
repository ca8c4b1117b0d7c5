package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

type messageDoc struct {
	Content string `bson:"content"`
	IsUser  bool   `bson:"isUser"`
}

type chatLogDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	User      string             `bson:"user"`
	Title     string             `bson:"title"`
	Messages  []messageDoc       `bson:"messages"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func toMessageDocs(msgs []conversation.Message) []messageDoc {
	out := make([]messageDoc, len(msgs))
	for i, m := range msgs {
		out[i] = messageDoc{Content: m.Content, IsUser: m.IsUser}
	}
	return out
}

func (d chatLogDoc) toChatLog() store.ChatLog {
	msgs := make([]conversation.Message, len(d.Messages))
	for i, m := range d.Messages {
		msgs[i] = conversation.Message{Content: m.Content, IsUser: m.IsUser}
	}
	return store.ChatLog{
		ID:        d.ID.Hex(),
		Owner:     d.User,
		Title:     d.Title,
		Messages:  msgs,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (s *Store) chatLogs() *mongo.Collection { return s.db.Collection(collChatLogs) }

func (s *Store) CreateConversation(ctx context.Context, owner, title string, msgs []conversation.Message) (store.ChatLog, error) {
	now := s.now().UTC()
	doc := chatLogDoc{
		User:      owner,
		Title:     title,
		Messages:  toMessageDocs(msgs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.chatLogs().InsertOne(ctx, doc)
	if err != nil {
		return store.ChatLog{}, fmt.Errorf("insert chat log: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return store.ChatLog{}, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	doc.ID = oid
	return doc.toChatLog(), nil
}

func (s *Store) UpdateConversation(ctx context.Context, owner, id, title string, msgs []conversation.Message) (store.ChatLog, error) {
	oid, err := objectID(id)
	if err != nil {
		return store.ChatLog{}, err
	}
	var doc chatLogDoc
	err = s.chatLogs().FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "user": owner},
		bson.M{"$set": bson.M{
			"title":     title,
			"messages":  toMessageDocs(msgs),
			"updatedAt": s.now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return store.ChatLog{}, notFound(err)
	}
	return doc.toChatLog(), nil
}

func (s *Store) ListConversations(ctx context.Context, owner string) ([]store.ChatLog, error) {
	return s.findChatLogs(ctx, bson.M{"user": owner}, 0)
}

func (s *Store) DeleteConversation(ctx context.Context, owner, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.chatLogs().DeleteOne(ctx, bson.M{"_id": oid, "user": owner})
	if err != nil {
		return fmt.Errorf("delete chat log: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListAllConversations(ctx context.Context, limit int) ([]store.ChatLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.findChatLogs(ctx, bson.M{}, int64(limit))
}

func (s *Store) CountConversations(ctx context.Context) (int64, error) {
	n, err := s.chatLogs().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count chat logs: %w", err)
	}
	return n, nil
}

func (s *Store) findChatLogs(ctx context.Context, filter bson.M, limit int64) ([]store.ChatLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.chatLogs().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find chat logs: %w", err)
	}
	var docs []chatLogDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chat logs: %w", err)
	}
	out := make([]store.ChatLog, len(docs))
	for i, d := range docs {
		out[i] = d.toChatLog()
	}
	return out, nil
}
