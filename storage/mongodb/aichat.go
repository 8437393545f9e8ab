// Package mongorepos stores AI chat transcripts as MongoDB documents.
package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/luxaar/luxaar/core/aichat"
)

const chatsCollection = "ai_chats"

// Connect opens a client and checks the server is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("luxaar"))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging mongodb")
	}
	return client, nil
}

type chatRepository struct {
	coll *mongo.Collection
}

var _ aichat.Repository = (*chatRepository)(nil)

func NewChatRepository(db *mongo.Database) *chatRepository {
	return &chatRepository{coll: db.Collection(chatsCollection)}
}

// EnsureIndexes creates the index backing the per-user session listing.
func (r *chatRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	return errors.Wrap(err, "creating ai_chats index")
}

func (r *chatRepository) SaveSession(ctx context.Context, s aichat.Session) (aichat.Session, error) {
	if s.Messages == nil {
		s.Messages = []aichat.ChatMessage{}
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, options.Replace().SetUpsert(true))
	if err != nil {
		return aichat.Session{}, errors.Wrap(err, "saving chat session")
	}
	return s, nil
}

func (r *chatRepository) GetSession(ctx context.Context, id string) (aichat.Session, error) {
	var s aichat.Session
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return aichat.Session{}, aichat.ErrNotFound
		}
		return aichat.Session{}, errors.Wrap(err, "finding chat session")
	}
	return s, nil
}

func (r *chatRepository) QuerySessions(ctx context.Context, userID string, limit int) ([]aichat.Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"messages": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "querying chat sessions")
	}
	sessions := make([]aichat.Session, 0)
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, errors.Wrap(err, "decoding chat sessions")
	}
	return sessions, nil
}

func (r *chatRepository) DeleteSession(ctx context.Context, userID, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return errors.Wrap(err, "deleting chat session")
	}
	if res.DeletedCount == 0 {
		return aichat.ErrNotFound
	}
	return nil
}
