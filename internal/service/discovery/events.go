package discovery

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventAnnounce EventKind = "announce"
	EventWithdraw EventKind = "withdraw"
	EventSuspect  EventKind = "suspect"
	EventEvict    EventKind = "evict"
)

type Event struct {
	Kind         EventKind `json:"kind"`
	DeploymentID string    `json:"deployment_id"`
	PeerID       string    `json:"peer_id"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Time         time.Time `json:"time"`
}

// eventBus fans overlay changes out to subscribers. Slow subscribers lose
// events rather than stall gossip.
type eventBus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
