package notify

import "sync"

// Callback receives a snapshot. It is invoked synchronously from the
// publishing goroutine and must not block; subscribers that need I/O should
// hand the snapshot off to their own goroutine.
type Callback func(Snapshot)

type subscriber struct {
	cb   Callback
	once bool
}

// Bus fans out state snapshots to registered subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]subscriber
	next int
}

// NewBus creates an empty notification bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Add registers a subscriber and returns its id.
func (b *Bus) Add(cb Callback) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{cb: cb}
	return id
}

// AddOnce registers a one-shot subscriber: it receives exactly one snapshot
// and is removed before that delivery happens. Used by long-polling clients.
func (b *Bus) AddOnce(cb Callback) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{cb: cb, once: true}
	return id
}

// Remove unregisters a subscriber. Removing an unknown id is a no-op.
func (b *Bus) Remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers the snapshot to every current subscriber. The subscriber
// list is copied under the lock, so callbacks may call Add or Remove without
// invalidating the iteration. One-shot subscribers are dropped before their
// callback runs.
func (b *Bus) Publish(s Snapshot) {
	b.mu.Lock()
	cbs := make([]Callback, 0, len(b.subs))
	for id, sub := range b.subs {
		cbs = append(cbs, sub.cb)
		if sub.once {
			delete(b.subs, id)
		}
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		cb(s)
	}
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
