package pubsub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
)

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://:s3cret@cache.internal:6380/2")
	require.NoError(t, err)
	defer client.Close()

	opts := client.Options()
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "s3cret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	tlsClient, err := NewRedisClient("rediss://cache.internal:6380")
	require.NoError(t, err)
	defer tlsClient.Close()
	require.NotNil(t, tlsClient.Options().TLSConfig)
	assert.Equal(t, "cache.internal", tlsClient.Options().TLSConfig.ServerName)

	_, err = NewRedisClient("http://nope")
	assert.Error(t, err)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "luxaar:notifications:u1", channel("u1"))
}

func TestRedisBroker_relay(t *testing.T) {
	b := NewRedisBroker(nil, core.NopLogger{})

	drained := func(t *testing.T, out <-chan notification.Notification) {
		t.Helper()
		for {
			select {
			case _, ok := <-out:
				if !ok {
					return
				}
			case <-time.After(time.Second):
				t.Fatal("relay did not stop")
			}
		}
	}

	t.Run("context done releases the subscription", func(t *testing.T) {
		ctx, cancelCtx := context.WithCancel(context.Background())
		msgs := make(chan *redis.Message, 2)
		var released int32
		out, cancel := b.relay(ctx, msgs, func() { atomic.AddInt32(&released, 1) })
		defer cancel()

		payload, err := json.Marshal(notification.Notification{ID: "n1", UserID: "u1", Title: "hi"})
		require.NoError(t, err)
		msgs <- &redis.Message{Channel: channel("u1"), Payload: "{not json"}
		msgs <- &redis.Message{Channel: channel("u1"), Payload: string(payload)}

		select {
		case n := <-out:
			assert.Equal(t, "n1", n.ID)
		case <-time.After(time.Second):
			t.Fatal("notification not relayed")
		}

		cancelCtx()
		drained(t, out)
		assert.EqualValues(t, 1, atomic.LoadInt32(&released))
	})

	t.Run("cancel releases once", func(t *testing.T) {
		var released int32
		out, cancel := b.relay(context.Background(), make(chan *redis.Message), func() { atomic.AddInt32(&released, 1) })
		cancel()
		cancel()
		drained(t, out)
		assert.EqualValues(t, 1, atomic.LoadInt32(&released))
	})
}
