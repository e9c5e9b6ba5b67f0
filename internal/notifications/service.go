package notifications

import (
	"sync"
	"time"

	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/session"
)

// EventType represents the type of notification event
type EventType string

const (
	EventConnected       EventType = "connected"
	EventStatusUpdate    EventType = "status-update"
	EventSessionRemoved  EventType = "session-removed"
	EventSessionArchived EventType = "session-archived"
)

// subscriberBuffer is how many events a slow observer may fall behind before
// events to it are dropped.
const subscriberBuffer = 16

// Event is what observers receive. Session is set for status-update and
// session-archived; Name is always set except on connected.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Name      string        `json:"name,omitempty"`
	Session   *session.View `json:"session,omitempty"`
}

// Service fans events out to every subscriber. Delivery is best effort:
// there is no queue and no replay, and a subscriber whose buffer is full
// misses the event. Observers resync by fetching full state on connect.
type Service struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewService creates a new notification service
func NewService() *Service {
	return &Service{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe creates a new subscription channel
// Returns the event channel and an unsubscribe function
func (s *Service) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		close(ch)
	} else {
		s.subscribers[ch] = struct{}{}
	}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only close if the channel is still in subscribers map
		if _, exists := s.subscribers[ch]; exists {
			delete(s.subscribers, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Notify broadcasts an event to all subscribers without blocking.
func (s *Service) Notify(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			log.Debug().Str("type", string(event.Type)).Str("name", event.Name).Msg("observer buffer full, dropping event")
		}
	}
}

// StatusUpdate announces a session's new canonical status.
func (s *Service) StatusUpdate(sess session.Session) {
	v := sess.View()
	s.Notify(Event{Type: EventStatusUpdate, Name: sess.Name, Session: &v})
}

// SessionArchived announces that a session left the active view.
func (s *Service) SessionArchived(sess session.Session) {
	v := sess.View()
	s.Notify(Event{Type: EventSessionArchived, Name: sess.Name, Session: &v})
}

// SessionRemoved announces that a session row was deleted.
func (s *Service) SessionRemoved(name string) {
	s.Notify(Event{Type: EventSessionRemoved, Name: name})
}

// Shutdown closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
}

// SubscriberCount returns the number of active subscribers
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
