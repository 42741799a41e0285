// Package events is the row-level change feed. Mutating services publish,
// registries subscribe, and every notification triggers a full refresh on the
// consumer side regardless of which process issued the write.
package events

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	EntityAPIKeys = "api_keys"

	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// ChangeEvent describes a single row-level change scoped to a principal.
type ChangeEvent struct {
	Entity string    `json:"entity"`
	Op     string    `json:"op"`
	RowID  string    `json:"row_id"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// Hub fans change events out to per-principal subscribers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []ChangeEvent
	subs   map[uint64]chan ChangeEvent
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan ChangeEvent
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers the event to every subscriber of the owning principal.
// Slow subscribers are skipped rather than blocked on.
func (h *Hub) Publish(event ChangeEvent) {
	if h == nil {
		return
	}
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[userID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan ChangeEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a subscriber for one principal's change events and
// returns the buffered backlog.
func (h *Hub) Subscribe(userID string) (*Subscription, []ChangeEvent, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, errors.New("invalid_user_id")
	}

	stream := h.ensureStream(userID)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan ChangeEvent)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan ChangeEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]ChangeEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:    h,
		userID: userID,
		id:     id,
		ch:     ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(userID string) *stream {
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan ChangeEvent)}
		h.streams[userID] = current
	}
	return current
}

func (h *Hub) unsubscribe(userID string, id uint64) {
	if h == nil {
		return
	}
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
	current := h.streams[userID]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan ChangeEvent {
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
