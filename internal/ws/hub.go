package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans committed events out to live viewers, keyed by site ID. It is a
// pure pass-through: no aggregation, no persistence, and a failed subscriber
// is dropped rather than allowed to stall the rest.
type Hub struct {
	clients   map[string]map[Subscriber]subscription
	register  chan registration
	unreg     chan registration
	broadcast chan message
	log       *slog.Logger
}

type message struct {
	siteID      string
	componentID string
	event       domain.EventType
	payload     []byte
}

// subscription carries a viewer's filters. Empty fields match everything.
type subscription struct {
	componentID string
	eventType   domain.EventType
}

type registration struct {
	siteID string
	client Subscriber
	sub    subscription
}

// streamFrame is the wire shape pushed to subscribers.
type streamFrame struct {
	ID          string         `json:"id"`
	ComponentID string         `json:"componentId"`
	SiteID      string         `json:"siteId"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	DurationMS  *float64       `json:"durationMs,omitempty"`
	PagePath    string         `json:"pagePath,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// NewHub creates a running Hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]subscription),
		register:  make(chan registration),
		unreg:     make(chan registration),
		broadcast: make(chan message),
		log:       logger.With("component", "stream-hub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			if _, ok := h.clients[reg.siteID]; !ok {
				h.clients[reg.siteID] = make(map[Subscriber]subscription)
			}
			h.clients[reg.siteID][reg.client] = reg.sub
		case reg := <-h.unreg:
			if clients, ok := h.clients[reg.siteID]; ok {
				delete(clients, reg.client)
				if len(clients) == 0 {
					delete(h.clients, reg.siteID)
				}
			}
		case msg := <-h.broadcast:
			clients, ok := h.clients[msg.siteID]
			if !ok {
				continue
			}
			for c, sub := range clients {
				if sub.eventType != "" && sub.eventType != msg.event {
					continue
				}
				if sub.componentID != "" && sub.componentID != msg.componentID {
					continue
				}
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			if len(clients) == 0 {
				delete(h.clients, msg.siteID)
			}
		}
	}
}

// Register adds a viewer to a site stream. Empty filter fields match all of
// the site's events.
func (h *Hub) Register(siteID string, client Subscriber, componentID string, eventType domain.EventType) {
	h.register <- registration{
		siteID: siteID,
		client: client,
		sub:    subscription{componentID: componentID, eventType: eventType},
	}
}

// Unregister removes a viewer.
func (h *Hub) Unregister(siteID string, client Subscriber) {
	h.unreg <- registration{siteID: siteID, client: client}
}

// PublishEvent pushes one committed event to the site's viewers. Encoding
// failures are logged and the event skipped; the stream is best effort.
func (h *Hub) PublishEvent(event domain.Event) {
	frame := streamFrame{
		ID:          event.ID,
		ComponentID: event.ComponentID,
		SiteID:      event.SiteID,
		Type:        string(event.Type),
		Name:        event.Name,
		DurationMS:  event.DurationMS,
		PagePath:    event.PagePath,
		Payload:     event.Payload,
		CreatedAt:   event.CreatedAt,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Warn("stream frame encode failed", "event_id", event.ID, "error", err)
		return
	}
	h.broadcast <- message{
		siteID:      event.SiteID,
		componentID: event.ComponentID,
		event:       event.Type,
		payload:     payload,
	}
}
