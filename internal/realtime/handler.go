package realtime

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler bridges bus subscriptions into hub rooms. Each room maps to one
// bus channel; the subscription is opened when the room is first needed and
// revoked when the hub reports the room empty.
type Handler struct {
	hub *Hub
	bus *Bus
	log zerolog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewHandler(hub *Hub, bus *Bus, log zerolog.Logger) *Handler {
	h := &Handler{
		hub:  hub,
		bus:  bus,
		log:  log,
		subs: make(map[string]*Subscription),
	}
	go h.reapEmptyRooms()
	return h
}

// EnsureRoom opens the bus subscription backing roomID on channel, once.
func (h *Handler) EnsureRoom(ctx context.Context, roomID, channel string) error {
	h.mu.Lock()
	if _, exists := h.subs[roomID]; exists {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	sub, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if _, exists := h.subs[roomID]; exists {
		h.mu.Unlock()
		sub.Close()
		return nil
	}
	h.subs[roomID] = sub
	h.mu.Unlock()

	go func() {
		for event := range sub.Events() {
			h.hub.Broadcast <- &RoomEvent{RoomID: roomID, Event: event}
		}
		h.log.Debug().Str("room", roomID).Msg("bus subscription drained")
	}()

	return nil
}

func (h *Handler) reapEmptyRooms() {
	for roomID := range h.hub.Emptied {
		h.mu.Lock()
		sub, ok := h.subs[roomID]
		if ok {
			delete(h.subs, roomID)
		}
		h.mu.Unlock()

		if ok {
			sub.Close()
			h.log.Debug().Str("room", roomID).Msg("closed bus subscription for empty room")
		}
	}
}

// JoinConversation upgrades the request and attaches the client to the
// per-conversation message stream.
func (h *Handler) JoinConversation(w http.ResponseWriter, r *http.Request, conversationID, agentID string) {
	h.join(w, r, conversationID, ConversationChannel(conversationID), agentID)
}

// JoinInbox attaches the client to the unfiltered conversation stream for a
// page.
func (h *Handler) JoinInbox(w http.ResponseWriter, r *http.Request, pageID, agentID string) {
	h.join(w, r, "inbox/"+pageID, InboxChannel(pageID), agentID)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request, roomID, channel, clientID string) {
	if err := h.EnsureRoom(r.Context(), roomID, channel); err != nil {
		h.log.Error().Err(err).Str("room", roomID).Msg("bus subscription failed")
		http.Error(w, "subscription unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cl := newWSClient(conn, clientID, roomID, h.log)
	h.hub.Register <- cl

	go cl.keepAlive()
	go cl.writeEvents()
	go cl.readLoop(h.hub)
}
