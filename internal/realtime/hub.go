package realtime

// Room groups the live connections subscribed to one stream. Clients is
// keyed by connection, not by agent, so one agent can watch the same room
// from several tabs.
type Room struct {
	ID      string
	Clients map[string]*WSClient
}

// Hub fans change events out to every websocket client joined to a room.
// Rooms are created on first register and torn down when the last client
// leaves; Emptied notifies the owner so it can revoke the matching bus
// subscription.
type Hub struct {
	Rooms      map[string]*Room
	Register   chan *WSClient
	Unregister chan *WSClient
	Broadcast  chan *RoomEvent
	Emptied    chan string
}

type RoomEvent struct {
	RoomID string
	Event  ChangeEvent
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		Broadcast:  make(chan *RoomEvent),
		Emptied:    make(chan string, 16),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			room, ok := h.Rooms[client.RoomID]
			if !ok {
				room = &Room{ID: client.RoomID, Clients: make(map[string]*WSClient)}
				h.Rooms[client.RoomID] = room
				setRooms(len(h.Rooms))
			}
			room.Clients[client.Key] = client
			incConnections()

		case client := <-h.Unregister:
			room, ok := h.Rooms[client.RoomID]
			if !ok {
				continue
			}
			if _, ok := room.Clients[client.Key]; ok {
				delete(room.Clients, client.Key)
				close(client.Events)
				decConnections()
			}
			if len(room.Clients) == 0 {
				delete(h.Rooms, client.RoomID)
				setRooms(len(h.Rooms))
				h.notifyEmptied(client.RoomID)
			}

		case re := <-h.Broadcast:
			room, ok := h.Rooms[re.RoomID]
			if !ok {
				continue
			}
			delivered := 0
			for _, client := range room.Clients {
				select {
				case client.Events <- re.Event:
					delivered++
				default:
					// Slow consumer: evict rather than stall the room.
					close(client.Events)
					delete(room.Clients, client.Key)
					decConnections()
				}
			}
			if delivered > 0 {
				addDelivered(delivered)
			}
			if len(room.Clients) == 0 {
				delete(h.Rooms, re.RoomID)
				setRooms(len(h.Rooms))
				h.notifyEmptied(re.RoomID)
			}
		}
	}
}

func (h *Hub) notifyEmptied(roomID string) {
	select {
	case h.Emptied <- roomID:
	default:
	}
}
