package notification

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidUser    = errors.New("invalid_user")
)

// Event is a notification delivered to one user's live stream.
type Event struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	UserID        string         `json:"-"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Hub fans events out to per-user subscribers. Slow subscribers miss events
// rather than block publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan Event
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish reports how many subscribers received the event.
func (h *Hub) Publish(userID string, event Event) int {
	if h == nil {
		return 0
	}
	key := strings.TrimSpace(userID)
	if key == "" {
		return 0
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribe opens a stream for userID and returns the recent backlog.
func (h *Hub) Subscribe(userID string) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key := strings.TrimSpace(userID)
	if key == "" {
		return nil, nil, ErrInvalidUser
	}

	ch := make(chan Event, h.subscriberBuffer)
	id, backlog := h.register(key, ch)
	return &Subscription{hub: h, userID: key, id: id, ch: ch}, backlog, nil
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	stream := h.streams[strings.TrimSpace(userID)]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

// register adds ch to the user's stream while h.mu is held, so unsubscribe
// cannot drop the stream between lookup and registration.
func (h *Hub) register(userID string, ch chan Event) (uint64, []Event) {
	h.mu.RLock()
	if current := h.streams[userID]; current != nil {
		id, backlog := current.add(ch)
		h.mu.RUnlock()
		return id, backlog
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[userID] = current
	}
	return current.add(ch)
}

func (s *stream) add(ch chan Event) (uint64, []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	return id, append([]Event(nil), s.buffer...)
}

func (h *Hub) unsubscribe(userID string, id uint64) {
	h.mu.RLock()
	stream := h.streams[userID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[userID] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
