package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSClient is one connected agent browser session joined to a room. Key is
// unique per connection; ID is the agent, who may hold several connections
// (multiple tabs) in the same room at once.
type WSClient struct {
	Conn     *websocket.Conn
	Events   chan ChangeEvent
	Key      string
	ID       string
	RoomID   string
	done     chan struct{}
	mu       sync.Mutex
	isClosed bool
	log      zerolog.Logger
}

func newWSClient(conn *websocket.Conn, id, roomID string, log zerolog.Logger) *WSClient {
	key := uuid.NewString()
	return &WSClient{
		Conn:   conn,
		Events: make(chan ChangeEvent, 16),
		Key:    key,
		ID:     id,
		RoomID: roomID,
		done:   make(chan struct{}),
		log:    log.With().Str("client", id).Str("connection", key).Str("room", roomID).Logger(),
	}
}

func (cl *WSClient) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()

			if err != nil {
				cl.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (cl *WSClient) writeEvents() {
	defer func() {
		cl.mu.Lock()
		cl.isClosed = true
		cl.Conn.Close()
		cl.mu.Unlock()
	}()

	for {
		select {
		case <-cl.done:
			return
		case event, ok := <-cl.Events:
			if !ok {
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteJSON(event)
			cl.mu.Unlock()

			if err != nil {
				cl.log.Debug().Err(err).Msg("write failed")
				return
			}
		}
	}
}

// readLoop drains the connection so close frames and pongs are processed.
// Agents do not send data over the socket; sends go through the HTTP API.
func (cl *WSClient) readLoop(hub *Hub) {
	defer func() {
		if r := recover(); r != nil {
			cl.log.Error().Interface("panic", r).Msg("recovered in read loop")
		}

		if cl.done != nil {
			close(cl.done)
		}

		hub.Unregister <- cl
		cl.log.Debug().Msg("client disconnected")
	}()

	cl.Conn.SetReadLimit(64 * 1024)

	for {
		if _, _, err := cl.Conn.ReadMessage(); err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == websocket.CloseNormalClosure ||
					closeErr.Code == websocket.CloseGoingAway ||
					closeErr.Code == websocket.CloseNoStatusReceived {
					break
				}
			}
			cl.log.Debug().Err(err).Msg("read failed")
			break
		}
	}
}
