// Package feed fans out live metering updates to subscribers. Delivery is
// best-effort: slow consumers skip messages rather than stall the tick
// loop, and new subscribers are primed with the last known update for each
// recently active session.
package feed

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Event types carried on the feed.
const (
	TypeSessionUpdate = "session_update"
	TypeSettlement    = "settlement"
)

// Update is the per-tick state of one session.
type Update struct {
	SessionID string    `json:"sessionId"`
	Elapsed   string    `json:"elapsed"`
	Cost      string    `json:"cost"`
	CapStatus string    `json:"capStatus"`
	At        time.Time `json:"at"`
}

// SettlementNote announces a settlement record change.
type SettlementNote struct {
	SettlementID string `json:"settlementId"`
	SessionID    string `json:"sessionId"`
	Charged      string `json:"charged"`
	UnitAmount   string `json:"unitAmount"`
	Status       string `json:"status"`
	TxRef        string `json:"txRef,omitempty"`
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type       string          `json:"type"`
	Session    *Update         `json:"session,omitempty"`
	Settlement *SettlementNote `json:"settlement,omitempty"`
}

// Hub distributes events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool

	bufSize int
	replay  *lru.Cache[string, Event]
	logger  zerolog.Logger
}

// NewHub creates a Hub. bufSize is the per-subscriber channel depth;
// replaySize bounds how many sessions keep a replayable last update.
func NewHub(bufSize, replaySize int, logger zerolog.Logger) (*Hub, error) {
	replay, err := lru.New[string, Event](replaySize)
	if err != nil {
		return nil, err
	}
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		bufSize:     bufSize,
		replay:      replay,
		logger:      logger.With().Str("component", "feed").Logger(),
	}, nil
}

// Subscribe registers a new consumer and primes it with the last update of
// each recently active session. The returned channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, h.bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}

	for _, key := range h.replay.Keys() {
		if ev, ok := h.replay.Get(key); ok {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; !ok {
		return
	}
	delete(h.subscribers, ch)
	close(ch)
}

// PublishUpdate broadcasts a session tick and caches it for replay.
func (h *Hub) PublishUpdate(u Update) {
	ev := Event{Type: TypeSessionUpdate, Session: &u}
	h.replay.Add(u.SessionID, ev)
	h.broadcast(ev)
}

// PublishSettlement broadcasts a settlement change. Settlement events are
// not replayed; settlement state is queryable over the API.
func (h *Hub) PublishSettlement(n SettlementNote) {
	h.broadcast(Event{Type: TypeSettlement, Settlement: &n})
}

// Forget drops a session's replay entry, typically after removal.
func (h *Hub) Forget(sessionID string) {
	h.replay.Remove(sessionID)
}

// Subscribers returns the current consumer count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = make(map[chan Event]struct{})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than block the publisher.
			h.logger.Debug().Str("type", ev.Type).Msg("subscriber buffer full, dropping event")
		}
	}
}
