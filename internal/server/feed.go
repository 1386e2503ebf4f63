package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/vigil-video/vigil/pkg/types"
)

// subscriberBuffer bounds the per-subscriber event queue. A subscriber that
// falls this far behind starts losing the oldest events rather than blocking
// the broadcaster.
const subscriberBuffer = 16

// Feed fans stored safety events out to websocket subscribers, so a
// dashboard can show flags as they fire. Safe for concurrent use.
type Feed struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewFeed creates an empty hub.
func NewFeed() *Feed {
	return &Feed{subs: map[chan []byte]struct{}{}}
}

// Broadcast delivers event to every current subscriber. Slow subscribers
// drop their oldest queued event.
func (f *Feed) Broadcast(event types.SafetyEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("feed: marshal event", "err", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- payload:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// Serve upgrades the request to a websocket and streams safety events as
// JSON text messages until the client disconnects.
func (f *Feed) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("feed: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ch := f.subscribe()
	defer f.unsubscribe(ch)

	ctx := r.Context()

	// Drain client frames so pings and the close handshake are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case payload := <-ch:
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
