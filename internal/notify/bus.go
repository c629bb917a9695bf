// Package notify delivers backup status notifications to subscribers over
// channels. Emission happens strictly after the originating state
// transition commits, and multiple notifications from one transition are
// delivered in program order.
package notify

import "sync"

// Kind enumerates the notification types.
type Kind int

const (
	// BackupEnabled reports the backup turning on for a version.
	BackupEnabled Kind = iota
	// BackupDisabled reports the backup turning off.
	BackupDisabled
	// BackupFailed carries the server error code of a failed upload.
	BackupFailed
	// SessionsRemaining carries the pending count after an upload pass.
	SessionsRemaining
)

// Event is one notification.
type Event struct {
	Kind      Kind
	Version   string // BackupEnabled
	Code      string // BackupFailed
	Remaining int    // SessionsRemaining
}

// subscriber channels are buffered; a subscriber that falls this far
// behind loses the oldest events rather than blocking the publisher.
const subscriberBuffer = 64

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel; after cancel the channel is closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers ev to every subscriber in order. Publishers holding a
// service lock may call this; delivery never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest event to keep ordering of what remains.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
