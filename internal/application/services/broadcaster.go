package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// subscriberBuffer is the per-subscriber event buffer; a full buffer
// drops the event, the next Progress/Metrics event supersedes it
const subscriberBuffer = 16

// Broadcaster fans session events out to subscribers. Delivery is best
// effort and at most once; a slow subscriber never blocks the indexer.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan entities.SessionEvent
	nextID      int
	logger      *zap.Logger
}

// NewBroadcaster creates an event broadcaster
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[int]chan entities.SessionEvent),
		logger:      logger,
	}
}

// Subscribe returns a stream of events for one session and a cancel
// function that must be called when the subscriber goes away
func (b *Broadcaster) Subscribe(sessionID string) (<-chan entities.SessionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan entities.SessionEvent, subscriberBuffer)
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[int]chan entities.SessionEvent)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[sessionID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs, ok := b.subscribers[sessionID]
		if !ok {
			return
		}
		if existing, ok := subs[id]; ok {
			delete(subs, id)
			close(existing)
		}
		if len(subs) == 0 {
			delete(b.subscribers, sessionID)
		}
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber of its session,
// dropping it for subscribers whose buffer is full
func (b *Broadcaster) Publish(event entities.SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Dropped event for slow subscriber",
				zap.String("session_id", event.SessionID),
				zap.String("type", string(event.Type)),
			)
		}
	}
}

// SubscriberCount returns the number of subscribers for a session
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}
