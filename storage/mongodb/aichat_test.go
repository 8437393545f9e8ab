package mongorepos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/luxaar/luxaar/core/aichat"
)

func TestChatRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := func(mt *mtest.T) string { return mt.DB.Name() + "." + chatsCollection }
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("save", func(mt *mtest.T) {
		repo := NewChatRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		s, err := repo.SaveSession(context.Background(), aichat.Session{ID: "s1", UserID: "u1", Title: "Goroutines"})
		assert.NoError(t, err)
		assert.NotNil(t, s.Messages)
	})

	mt.Run("get", func(mt *mtest.T) {
		repo := NewChatRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "s1"},
			{Key: "user_id", Value: "u1"},
			{Key: "title", Value: "Goroutines"},
			{Key: "status", Value: aichat.StatusComplete},
			{Key: "messages", Value: bson.A{
				bson.D{{Key: "role", Value: aichat.RoleUser}, {Key: "content", Value: "hi"}, {Key: "created_at", Value: now}},
			}},
			{Key: "updated_at", Value: now},
		}))

		s, err := repo.GetSession(context.Background(), "s1")
		assert.NoError(t, err)
		assert.Equal(t, "u1", s.UserID)
		assert.Len(t, s.Messages, 1)
		assert.True(t, now.Equal(s.UpdatedAt))

		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))
		_, err = repo.GetSession(context.Background(), "missing")
		assert.Equal(t, aichat.ErrNotFound, err)
	})

	mt.Run("query", func(mt *mtest.T) {
		repo := NewChatRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "s2"}, {Key: "user_id", Value: "u1"}, {Key: "updated_at", Value: now}},
			bson.D{{Key: "_id", Value: "s1"}, {Key: "user_id", Value: "u1"}, {Key: "updated_at", Value: now.Add(-time.Hour)}},
		))

		sessions, err := repo.QuerySessions(context.Background(), "u1", 50)
		assert.NoError(t, err)
		assert.Len(t, sessions, 2)
		assert.Equal(t, "s2", sessions[0].ID)
	})

	mt.Run("delete", func(mt *mtest.T) {
		repo := NewChatRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		assert.NoError(t, repo.DeleteSession(context.Background(), "u1", "s1"))

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		assert.Equal(t, aichat.ErrNotFound, repo.DeleteSession(context.Background(), "u2", "s1"))
	})

	mt.Run("error", func(mt *mtest.T) {
		repo := NewChatRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11600, Message: "interrupted"}))
		_, err := repo.QuerySessions(context.Background(), "u1", 10)
		assert.Error(t, err)
	})
}
