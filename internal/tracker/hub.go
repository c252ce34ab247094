package tracker

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the full tracked collection of one user at a point in time.
type Snapshot struct {
	UserID       UserID
	Applications []TrackedApplication
	Counts       StageCounts
	Timestamp    time.Time
}

// SnapshotHub fans full snapshots out to per-user subscribers.
//
// Each subscriber holds at most one pending snapshot. A newer snapshot replaces
// an undelivered one, so a slow reader sees the latest state and never blocks
// publishers or other subscribers.
type SnapshotHub struct {
	mu          sync.RWMutex
	subscribers map[UserID]map[int64]*snapshotSubscriber
	nextID      int64
}

type snapshotSubscriber struct {
	id     int64
	mu     sync.Mutex
	closed bool
	stream chan Snapshot
	done   chan struct{}
	once   sync.Once
}

// NewSnapshotHub constructs an empty hub.
func NewSnapshotHub() *SnapshotHub {
	return &SnapshotHub{
		subscribers: make(map[UserID]map[int64]*snapshotSubscriber),
	}
}

// Subscribe registers a subscriber for the user. The returned stream is closed
// when cancel is called or ctx ends; cancel is idempotent.
func (hub *SnapshotHub) Subscribe(ctx context.Context, userID UserID) (<-chan Snapshot, func()) {
	if userID == "" {
		stream := make(chan Snapshot)
		close(stream)
		return stream, func() {}
	}
	subscriber, cancel := hub.subscribe(ctx, userID)
	return subscriber.stream, cancel
}

func (hub *SnapshotHub) subscribe(ctx context.Context, userID UserID) (*snapshotSubscriber, func()) {
	subscriber := &snapshotSubscriber{
		stream: make(chan Snapshot, 1),
		done:   make(chan struct{}),
	}
	hub.register(userID, subscriber)

	cancel := func() {
		subscriber.once.Do(func() {
			hub.unregister(userID, subscriber.id)
			subscriber.close()
			close(subscriber.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-subscriber.done:
		}
	}()
	return subscriber, cancel
}

// Publish offers the snapshot to every subscriber of its user.
func (hub *SnapshotHub) Publish(snapshot Snapshot) {
	for _, subscriber := range hub.subscribersOf(snapshot.UserID) {
		subscriber.offer(snapshot)
	}
}

// HasSubscribers reports whether anyone is listening for the user.
func (hub *SnapshotHub) HasSubscribers(userID UserID) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscribers[userID]) > 0
}

func (hub *SnapshotHub) subscribersOf(userID UserID) []*snapshotSubscriber {
	if userID == "" {
		return nil
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	registered := hub.subscribers[userID]
	copies := make([]*snapshotSubscriber, 0, len(registered))
	for _, subscriber := range registered {
		copies = append(copies, subscriber)
	}
	return copies
}

func (hub *SnapshotHub) register(userID UserID, subscriber *snapshotSubscriber) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.nextID++
	subscriber.id = hub.nextID
	if _, ok := hub.subscribers[userID]; !ok {
		hub.subscribers[userID] = make(map[int64]*snapshotSubscriber)
	}
	hub.subscribers[userID][subscriber.id] = subscriber
}

func (hub *SnapshotHub) unregister(userID UserID, subscriberID int64) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	registered := hub.subscribers[userID]
	if registered == nil {
		return
	}
	delete(registered, subscriberID)
	if len(registered) == 0 {
		delete(hub.subscribers, userID)
	}
}

func (subscriber *snapshotSubscriber) offer(snapshot Snapshot) {
	subscriber.mu.Lock()
	defer subscriber.mu.Unlock()
	if subscriber.closed {
		return
	}
	select {
	case subscriber.stream <- snapshot:
		return
	default:
	}
	// drop the stale pending snapshot
	select {
	case <-subscriber.stream:
	default:
	}
	select {
	case subscriber.stream <- snapshot:
	default:
	}
}

func (subscriber *snapshotSubscriber) close() {
	subscriber.mu.Lock()
	defer subscriber.mu.Unlock()
	if subscriber.closed {
		return
	}
	subscriber.closed = true
	close(subscriber.stream)
}
