// ABOUTME: In-memory fan-out of session updates to host subscribers
// ABOUTME: Buffered per-subscriber channels with drop-on-full and ctx cleanup

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/loom/internal/asp"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// updateBroadcaster fans one session's updates out to any number of host
// subscribers. Publishing never blocks: a subscriber that stops draining
// loses updates rather than stalling the dispatch path.
type updateBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan asp.SessionUpdate
	closed      bool
	logger      *slog.Logger
}

func newUpdateBroadcaster(logger *slog.Logger) *updateBroadcaster {
	return &updateBroadcaster{
		subscribers: make(map[string]chan asp.SessionUpdate),
		logger:      logger,
	}
}

// subscribe registers a subscriber. The channel closes when the session
// ends or ctx is cancelled, whichever comes first.
func (b *updateBroadcaster) subscribe(ctx context.Context) <-chan asp.SessionUpdate {
	subID := uuid.New().String()
	ch := make(chan asp.SessionUpdate, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("update subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch
}

// publish sends an update to every subscriber, dropping it for any whose
// buffer is full.
func (b *updateBroadcaster) publish(update asp.SessionUpdate) {
	b.mu.RLock()
	targets := make([]chan asp.SessionUpdate, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber", "kind", update.Kind())
		}
	}
}

func (b *updateBroadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("update subscriber removed", "sub_id", subID)
}

// closeAll closes every subscriber channel. Idempotent.
func (b *updateBroadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
}
