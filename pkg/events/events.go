package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventRecordSubmitted EventType = "record.submitted"
	EventRecordApplied   EventType = "record.applied"
	EventRecordFailed    EventType = "record.failed"
	EventRecordConflict  EventType = "record.conflict"
	EventRecordDeleted   EventType = "record.deleted"
	EventRecordPurged    EventType = "record.purged"
	EventRecordDrifted   EventType = "record.drifted"
	EventRecordRetried   EventType = "record.retried"
)

// Event is a notification about one record's lifecycle
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	RecordID  string            `json:"record_id,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Key       string            `json:"key,omitempty"`
	Revision  int64             `json:"revision,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and waits for the distribution loop to exit.
// Subscribers are closed.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription. Unsubscribing twice is a no-op.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers. It never blocks the caller:
// when the queue is full or the broker stopped the event is dropped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-b.stopCh:
	case b.eventCh <- event:
	default:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
