package cache

import (
	"sync"
	"time"
)

// Event is the abstract "data changed" signal.
type Event struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Broadcaster fans events out to subscribers. Each subscriber has a one-slot
// buffer; a slow subscriber sees coalesced events rather than blocking publishers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// drop the stale pending event in favour of the new one
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

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
