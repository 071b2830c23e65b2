package realtime

import (
	"context"
	"sync"
	"time"
)

// Event type names carried on the wire to stream subscribers.
const (
	EventNewMessage      = "new_message"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventMessagePinned   = "message_pinned"
	EventMessageUnpinned = "message_unpinned"
	EventInviteUpdated   = "invite_updated"
	EventPing            = "ping"
)

// GlobalTopic is the broadcast topic every connected client follows.
const GlobalTopic = "global"

// DMTopic derives the per-user direct-message topic.
func DMTopic(userID string) string {
	return "dm_" + userID
}

// Event is one fan-out notification.
type Event struct {
	Topic     string
	Type      string
	Payload   any
	Timestamp time.Time
}

// Publisher delivers events to whoever is listening. Delivery is best
// effort: publishing never blocks and never fails the write that
// triggered it.
type Publisher interface {
	Publish(event Event)
}

// Dispatcher fans events out to in-process subscribers keyed by topic.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
	done   chan struct{}
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener on a topic. The returned cleanup is
// safe to call more than once; the subscription also ends when ctx is
// cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
		done:   make(chan struct{}),
	}
	d.register(topic, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(topic, sub.id)
			close(sub.done)
		})
	}
	// The watcher exits on cleanup too, so a never-cancelled ctx does
	// not pin it for the process lifetime.
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-sub.done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers an event to every subscriber of its topic. Slow
// subscribers are skipped rather than blocking the writer.
func (d *Dispatcher) Publish(event Event) {
	if event.Topic == "" || event.Type == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(topic string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher) unregister(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
