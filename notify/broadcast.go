package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"car-watchdog/metrics"
	"car-watchdog/models"
	"car-watchdog/utils"
)

const (
	// Topic is the shared broadcast topic every listener receives.
	Topic = "notifications"

	EventNewListing = "new_listing"

	listenerBuffer = 16
	writeTimeout   = 5 * time.Second
)

// Event is the JSON payload published for each new listing.
type Event struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Topic        string        `json:"topic"`
	Source       models.Source `json:"source"`
	Title        string        `json:"title"`
	PriceDisplay string        `json:"price_display,omitempty"`
	IdentityURL  string        `json:"identity_url"`
	ImageURL     string        `json:"image_url,omitempty"`
	Locality     string        `json:"locality,omitempty"`
}

// NewListingEvent builds the broadcast event for l.
func NewListingEvent(l models.Listing) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         EventNewListing,
		Topic:        Topic,
		Source:       l.Source,
		Title:        l.Title,
		PriceDisplay: l.PriceDisplay,
		IdentityURL:  l.URL,
		ImageURL:     l.ImageURL,
		Locality:     l.Locality,
	}
}

// Mirror receives a copy of every published event, keyed by listing URL.
type Mirror interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Listener is a subscription to the hub. Events arrive on C.
type Listener struct {
	C  <-chan []byte
	ch chan []byte
}

// Hub is an in-process pub/sub for the notifications topic. Each event goes
// to the listeners registered at publish time; a listener whose buffer is
// full misses the event instead of blocking the publisher.
type Hub struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	mirror    Mirror
	logger    *utils.Logger
}

// NewHub creates a Hub. mirror may be nil.
func NewHub(mirror Mirror, logger *utils.Logger) *Hub {
	return &Hub{
		listeners: make(map[*Listener]struct{}),
		mirror:    mirror,
		logger:    logger.Named("broadcast"),
	}
}

func (h *Hub) Name() string { return "broadcast" }

// Subscribe registers a listener with the given buffer size.
func (h *Hub) Subscribe(buffer int) *Listener {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)
	l := &Listener{C: ch, ch: ch}

	h.mu.Lock()
	h.listeners[l] = struct{}{}
	n := len(h.listeners)
	h.mu.Unlock()

	metrics.BroadcastListeners.Set(float64(n))
	return l
}

// Unsubscribe removes l and closes its channel.
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	if _, ok := h.listeners[l]; ok {
		delete(h.listeners, l)
		close(l.ch)
	}
	n := len(h.listeners)
	h.mu.Unlock()

	metrics.BroadcastListeners.Set(float64(n))
}

// Listeners returns the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Deliver publishes the new-listing event for l.
func (h *Hub) Deliver(ctx context.Context, l models.Listing) error {
	return h.Publish(ctx, NewListingEvent(l))
}

// Publish sends ev to the current listeners and to the mirror, if any.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: marshal: %w", err)
	}

	h.mu.RLock()
	for l := range h.listeners {
		select {
		case l.ch <- payload:
		default:
			h.logger.Warn("Listener buffer full, dropped event %s", ev.ID)
		}
	}
	h.mu.RUnlock()

	if h.mirror != nil {
		if err := h.mirror.Publish(ctx, ev.IdentityURL, payload); err != nil {
			return fmt.Errorf("broadcast: mirror: %w", err)
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it
// until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	l := h.Subscribe(listenerBuffer)
	defer h.Unsubscribe(l)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		// Client frames are discarded; only a close or a read error matters.
		for {
			hdr, err := ws.ReadHeader(conn)
			if err != nil {
				return
			}
			if _, err := io.CopyN(io.Discard, conn, hdr.Length); err != nil {
				return
			}
			if hdr.OpCode == ws.OpClose {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-l.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wsutil.WriteServerText(conn, msg); err != nil {
				h.logger.Debug("Listener write failed: %v", err)
				return
			}
		}
	}
}
