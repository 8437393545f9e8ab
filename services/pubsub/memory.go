// Package pubsub fans notifications out to live subscribers.
package pubsub

import (
	"context"
	"sync"

	"github.com/luxaar/luxaar/core/notification"
)

const bufferSize = 16

type subscriber struct {
	ch   chan notification.Notification
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// MemoryBroker delivers within the process.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

var _ notification.Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish never blocks: a subscriber whose buffer is full misses the notification.
func (b *MemoryBroker) Publish(_ context.Context, n notification.Notification) error {
	b.deliver(n)
	return nil
}

func (b *MemoryBroker) deliver(n notification.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[n.UserID] {
		select {
		case sub.ch <- n:
		default:
		}
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context, userID string) (<-chan notification.Notification, func(), error) {
	sub := &subscriber{ch: make(chan notification.Notification, bufferSize)}

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*subscriber]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], sub)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			sub.close()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.ch, cancel, nil
}

// Subscribers counts the live subscriptions of a user.
func (b *MemoryBroker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
