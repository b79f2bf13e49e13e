package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 8192                // Maximum frame size allowed from peer.
)

// connState is the per-connection protocol state. Transitions are linear and
// one-way: unauthenticated -> authenticating -> joined -> closed.
type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticating
	stateJoined
	stateClosed
)

// frameDispatcher is implemented by the gateway handler; the client hands it
// every parsed frame while joined.
type frameDispatcher interface {
	dispatchFrame(c *Client, frame clientFrame)
	teardown(c *Client)
}

// Client is the middleman between one websocket connection and the hub.
// All client-initiated work (persisting, status updates) runs on the
// readPump goroutine, so per-connection handling is serialized without
// locks; the hub only ever touches the send channel and the joined set.
type Client struct {
	UserID   int64
	Username string

	hub  *Hub
	gw   frameDispatcher
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	// presenceHandle identifies this connection in the presence tracker.
	presenceHandle string

	state connState

	joinedMu sync.RWMutex
	joined   map[int64]bool

	// sendMu guards the closed flag so the hub can retire the connection
	// while the readPump goroutine is still answering frames.
	sendMu     sync.Mutex
	sendClosed bool
}

func newClient(hub *Hub, gw frameDispatcher, conn *websocket.Conn, log zerolog.Logger) *Client {
	return &Client{
		hub:    hub,
		gw:     gw,
		conn:   conn,
		send:   make(chan []byte, 256),
		log:    log,
		state:  stateUnauthenticated,
		joined: make(map[int64]bool),
	}
}

func (c *Client) joinConversation(id int64) {
	c.joinedMu.Lock()
	c.joined[id] = true
	c.joinedMu.Unlock()
}

func (c *Client) isJoined(id int64) bool {
	c.joinedMu.RLock()
	defer c.joinedMu.RUnlock()
	return c.joined[id]
}

func (c *Client) conversationIDs() []int64 {
	c.joinedMu.RLock()
	defer c.joinedMu.RUnlock()
	ids := make([]int64, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

// enqueue pushes an already-marshaled event onto the connection's outbound
// buffer. Returns false when the buffer is full or the connection has been
// retired.
func (c *Client) enqueue(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend retires the outbound channel exactly once. Only the hub calls
// this.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) sendEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error().Err(err).Str("type", ev.Type).Msg("marshal event")
		return
	}
	c.enqueue(payload)
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(Event{Type: EventError, Data: ErrorData{Code: code, Message: message}})
}

// readPump pumps frames from the websocket to the gateway dispatcher. One
// per connection; tears the connection down on exit.
func (c *Client) readPump() {
	defer func() {
		c.state = stateClosed
		c.gw.teardown(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// A malformed frame only answers the offender; the connection
			// stays up.
			c.sendError("invalid_argument", "malformed frame")
			continue
		}

		c.gw.dispatchFrame(c, frame)
	}
}

// writePump pumps events from the hub to the websocket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			// Drain whatever queued up behind this event into the same
			// websocket frame write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
