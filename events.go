package main

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MatchEvent is the change notification emitted when a match materializes.
// The realtime layer delivers it to both participants; ID lets downstream
// consumers de-duplicate.
type MatchEvent struct {
	ID        string    `json:"id"`
	PairKey   string    `json:"pair_key"`
	UserLo    int       `json:"user_lo"`
	UserHi    int       `json:"user_hi"`
	CreatedAt time.Time `json:"created_at"`
}

func newMatchEvent(m *Match) MatchEvent {
	return MatchEvent{
		ID:        uuid.NewString(),
		PairKey:   m.PairKey,
		UserLo:    m.UserLo,
		UserHi:    m.UserHi,
		CreatedAt: m.CreatedAt,
	}
}

// MatchEventHub fans MatchCreated events out to subscribers: per-user
// subscriptions for targeted delivery plus a firehose for layers that want
// everything (the websocket bridge, test observers).
type MatchEventHub struct {
	mu       sync.RWMutex
	userSubs map[int]map[chan MatchEvent]bool
	firehose map[chan MatchEvent]bool
}

func newMatchEventHub() *MatchEventHub {
	return &MatchEventHub{
		userSubs: make(map[int]map[chan MatchEvent]bool),
		firehose: make(map[chan MatchEvent]bool),
	}
}

// Global event hub instance
var eventHub = newMatchEventHub()

// Subscribe registers for events involving a specific user.
// Returns the channel and a cleanup function.
func (h *MatchEventHub) Subscribe(userID int) (<-chan MatchEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan MatchEvent, 10) // Buffered channel to prevent blocking
	if h.userSubs[userID] == nil {
		h.userSubs[userID] = make(map[chan MatchEvent]bool)
	}
	h.userSubs[userID][ch] = true

	cleanup := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.userSubs[userID]; ok {
			if subs[ch] {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.userSubs, userID)
			}
		}
	}
	return ch, cleanup
}

// SubscribeAll registers a firehose subscriber receiving every event.
func (h *MatchEventHub) SubscribeAll() (<-chan MatchEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan MatchEvent, 32)
	h.firehose[ch] = true

	cleanup := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.firehose[ch] {
			delete(h.firehose, ch)
			close(ch)
		}
	}
	return ch, cleanup
}

// Publish delivers the event to both participants' subscribers and the
// firehose. Never blocks: slow subscribers are skipped.
func (h *MatchEventHub) Publish(evt MatchEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(ch chan MatchEvent) {
		select {
		case ch <- evt:
		default:
			// Subscriber's buffer is full, skip
		}
	}
	for _, userID := range []int{evt.UserLo, evt.UserHi} {
		for ch := range h.userSubs[userID] {
			deliver(ch)
		}
	}
	for ch := range h.firehose {
		deliver(ch)
	}
}

// NotificationDispatcher is the external push-notification collaborator.
// Invoked fire-and-forget after a match is created; it owns its own retries.
type NotificationDispatcher interface {
	NotifyMatch(userID, otherUserID int, matchKey string)
}

// logNotifier is the default dispatcher: it only logs. A real push provider
// slots in behind the same interface; realtime clients get their push from the
// event hub bridge instead.
type logNotifier struct{}

func (logNotifier) NotifyMatch(userID, otherUserID int, matchKey string) {
	log.Printf("notify user %d: matched with %d (%s)", userID, otherUserID, matchKey)
}

// bridgeMatchEvents forwards every published match event to both participants'
// websocket connections. Runs until the firehose subscription is cancelled.
func bridgeMatchEvents(hub *Hub) func() {
	events, cancel := eventHub.SubscribeAll()
	go func() {
		for evt := range events {
			hub.sendToUser(evt.UserLo, ServerEvent{Type: "match_created", From: evt.UserHi, Data: evt})
			hub.sendToUser(evt.UserHi, ServerEvent{Type: "match_created", From: evt.UserLo, Data: evt})
		}
	}()
	return cancel
}

// Global notification dispatcher, swappable in tests.
var notifier NotificationDispatcher = logNotifier{}
