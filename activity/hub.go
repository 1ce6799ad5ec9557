package activity

import (
	"sync"
)

// EventType enumerates the server→client message kinds.
type EventType string

const (
	EventStateUpdate   EventType = "state_update"
	EventSubmitSuccess EventType = "submit_success"
	EventError         EventType = "error"
)

// Event is one server→client message on the live channel.
type Event struct {
	Type        EventType `json:"type"`
	State       *State    `json:"state,omitempty"`
	ActivityID  string    `json:"activityId,omitempty"`
	RedirectURL string    `json:"redirectUrl,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// StateUpdateEvent wraps a snapshot for broadcast.
func StateUpdateEvent(st State) Event {
	return Event{Type: EventStateUpdate, State: &st}
}

// SubmitSuccessEvent carries the results-page deep link after a submit.
func SubmitSuccessEvent(activityID, redirectURL string) Event {
	return Event{Type: EventSubmitSuccess, ActivityID: activityID, RedirectURL: redirectURL}
}

// ErrorEvent carries a human-readable failure message.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Message: msg}
}

const subscriberBuffer = 32

// Hub tracks the live subscribers of each activity and fans events out to
// them. Delivery is fire-and-forget: a slow or dead subscriber has its event
// dropped rather than blocking the actor or its siblings; the client resyncs
// with a get_state on reconnect.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// Subscriber is one live connection's event feed.
type Subscriber struct {
	hub        *Hub
	activityID string
	events     chan Event
	once       sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber for the given activity.
func (h *Hub) Subscribe(activityID string) *Subscriber {
	sub := &Subscriber{
		hub:        h,
		activityID: activityID,
		events:     make(chan Event, subscriberBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[activityID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[activityID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Broadcast sends the event to every subscriber of the activity.
func (h *Hub) Broadcast(activityID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[activityID] {
		select {
		case sub.events <- ev:
		default:
			// subscriber buffer full, drop
		}
	}
}

// SubscriberCount reports how many live connections watch the activity.
func (h *Hub) SubscriberCount(activityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[activityID])
}

// Events is the subscriber's feed. It is closed by Close.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscriber and closes its feed. Safe to call more
// than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.activityID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.activityID)
			}
		}
		s.hub.mu.Unlock()
		close(s.events)
	})
}
