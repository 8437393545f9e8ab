package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
)

const channelPrefix = "luxaar:notifications:"

// NewRedisClient parses a redis:// or rediss:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 30 * time.Minute
	return redis.NewClient(opts), nil
}

// RedisBroker delivers across API instances through Redis pub/sub, one channel per user.
type RedisBroker struct {
	client *redis.Client
	logger core.Logger
}

var _ notification.Broker = (*RedisBroker)(nil)

func NewRedisBroker(client *redis.Client, logger core.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func channel(userID string) string {
	return channelPrefix + userID
}

func (b *RedisBroker) Publish(ctx context.Context, n notification.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	if err := b.client.Publish(ctx, channel(n.UserID), payload).Err(); err != nil {
		return errors.Wrap(err, "publishing notification")
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan notification.Notification, func(), error) {
	ps := b.client.Subscribe(ctx, channel(userID))
	// wait for the subscription confirmation so no publish is missed after Subscribe returns
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, errors.Wrap(err, "subscribing to notifications")
	}

	out, cancel := b.relay(ctx, ps.Channel(), func() { _ = ps.Close() })
	return out, cancel, nil
}

// relay decodes msgs into a buffered channel until ctx is done, cancel is called or msgs closes.
// release runs once the relay stops, whichever of those ended it.
func (b *RedisBroker) relay(ctx context.Context, msgs <-chan *redis.Message, release func()) (<-chan notification.Notification, func()) {
	out := make(chan notification.Notification, bufferSize)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer release()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n notification.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.logger.Warn("decoding notification", err, map[string]interface{}{"channel": msg.Channel})
					continue
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return out, cancel
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
