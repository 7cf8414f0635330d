package event

import (
	"context"
	"strings"
	"sync"

	"github.com/scalytics/core-orchestrator/metrics"
)

// DefaultBufferSize is the recommended per-subscription buffer depth from
// spec §4.3.
const DefaultBufferSize = 256

// Message is one delivered bus event: the fully-qualified topic it was
// published on and its payload.
type Message struct {
	Topic    string
	Payload  any
	terminal bool
}

// Bus is a topic-keyed publish/subscribe broker (spec C3). Topics look like
// "<channel>:<key>"; subscribers may subscribe to an exact topic or to a
// wildcard "<channel>:*" pattern, and publishing to a keyed topic also
// fans out to any wildcard subscription on that channel.
//
// Slow subscribers never block a publisher: each subscription holds its own
// bounded buffer, and on overflow the oldest non-terminal event for that
// subscription is dropped (never a terminal one).
type Bus struct {
	mu          sync.RWMutex
	subs        map[uint64]*Subscription
	nextID      uint64
	instruments *metrics.Instruments
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// SetInstruments attaches the OTel instrument set dropped-event counts are
// recorded to (spec §4.3's "per subscription dropped-count counter").
// Optional — a Bus with no instruments set still tracks the per-subscription
// DroppedCount, it just skips the metrics export.
func (b *Bus) SetInstruments(i *metrics.Instruments) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instruments = i
}

// Subscription is a lazy, possibly-infinite sequence of bus events plus a
// Cancel method. Obtain the next event with Next; cancel with Cancel.
type Subscription struct {
	id      uint64
	pattern string
	bus     *Bus
	bufSize int

	mu      sync.Mutex
	queue   []Message
	notify  chan struct{}
	closed  bool
	dropped uint64
}

// Subscribe registers a new subscription for topicPattern, either an exact
// topic ("activation:progress:act-1") or a wildcard channel pattern
// ("activation:progress:*").
func (b *Bus) Subscribe(topicPattern string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: topicPattern,
		bus:     b,
		bufSize: DefaultBufferSize,
		notify:  make(chan struct{}, 1),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish enqueues payload on topic to every matching subscription. It never
// fails observably; terminal marks the event as non-droppable (Complete and
// Error activation events, and any other channel's logically-terminal
// notification).
func (b *Bus) Publish(topic string, payload any, terminal bool) {
	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if topicMatches(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	b.mu.RLock()
	instruments := b.instruments
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload, terminal: terminal}
	for _, s := range matched {
		s.enqueue(msg, instruments)
	}
}

// PublishActivation is a typed convenience wrapper: it derives the channel
// from the concrete ActivationEvent variant and the topic key from its
// activation id, and marks Complete/Error as terminal.
func (b *Bus) PublishActivation(e ActivationEvent) {
	topic := channelFor(e) + ":" + e.ActivationID()
	b.Publish(topic, e, IsTerminal(e))
}

func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return false
}

func (s *Subscription) enqueue(msg Message, instruments *metrics.Instruments) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.bufSize {
		evicted := false
		for i := range s.queue {
			if !s.queue[i].terminal {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				s.dropped++
				evicted = true
				break
			}
		}
		if evicted && instruments != nil {
			instruments.EventsDropped.Add(context.Background(), 1)
		}
		if !evicted {
			// Every buffered event is terminal (pathological); grow rather
			// than drop one, since terminal events must never be dropped.
		}
	}
	s.queue = append(s.queue, msg)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or ctx is cancelled (ok=false).
// On a subscription already cancelled with an empty queue it returns
// ok=false at once; Cancel does not wake a Next that is already blocked.
func (s *Subscription) Next(ctx context.Context) (Message, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Message{}, false
		}

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-s.notify:
		}
	}
}

// DroppedCount returns how many non-terminal events have been evicted from
// this subscription's buffer due to overflow.
func (s *Subscription) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Cancel unregisters the subscription and discards any buffered events.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
