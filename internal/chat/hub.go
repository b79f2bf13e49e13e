package chat

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-messenger/internal/metrics"
)

// redisChannel is the shared pub/sub channel every gateway instance listens
// on. Events published by any instance come back through it, so local and
// remote sockets are fed by the same path.
const redisChannel = "chat-events"

// Hub routes events to the sockets connected to this instance. Rooms are
// broadcast groups keyed by conversation id; all membership state is owned
// by the run loop, so there are no locks here.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	deliver    chan envelope

	clients map[*Client]bool
	rooms   map[int64]map[*Client]bool
	byUser  map[int64]map[*Client]bool

	// rdb is nil in single-node mode; events then loop back locally instead
	// of round-tripping through redis.
	rdb *redis.Client
	log zerolog.Logger
}

func NewHub(rdb *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan envelope, 256),
		clients:    make(map[*Client]bool),
		rooms:      make(map[int64]map[*Client]bool),
		byUser:     make(map[int64]map[*Client]bool),
		rdb:        rdb,
		log:        log.With().Str("component", "chat.hub").Logger(),
	}
}

// Run owns all hub state. Everything else talks to it through channels.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case env := <-h.deliver:
			h.fanOut(env)
		}
	}
}

// SubscribeToRedis bridges the shared channel into the run loop. Runs in its
// own goroutine next to Run.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.log.Warn().Err(err).Msg("bad envelope on redis channel")
			continue
		}
		h.deliver <- env
	}
}

func (h *Hub) Register(c *Client) {
	h.register <- c
}

func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Broadcast publishes an event to a conversation's room on every instance.
// conversationID 0 addresses all connected clients; skipUserID suppresses
// the sender's own sockets (typing indicators).
func (h *Hub) Broadcast(ctx context.Context, conversationID, skipUserID int64, ev Event) {
	env := envelope{ConversationID: conversationID, SkipUserID: skipUserID, Event: ev}

	if h.rdb == nil {
		h.deliver <- env
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("type", ev.Type).Msg("marshal envelope")
		return
	}
	if err := h.rdb.Publish(ctx, redisChannel, payload).Err(); err != nil {
		h.log.Error().Err(err).Str("type", ev.Type).Msg("redis publish")
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = true

	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]bool)
	}
	h.byUser[c.UserID][c] = true

	for _, convID := range c.conversationIDs() {
		h.joinRoom(c, convID)
	}
}

func (h *Hub) removeClient(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)

	delete(h.byUser[c.UserID], c)
	if len(h.byUser[c.UserID]) == 0 {
		delete(h.byUser, c.UserID)
	}

	for _, convID := range c.conversationIDs() {
		if room := h.rooms[convID]; room != nil {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}

	c.closeSend()
}

func (h *Hub) joinRoom(c *Client, convID int64) {
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*Client]bool)
	}
	h.rooms[convID][c] = true
	c.joinConversation(convID)
}

func (h *Hub) fanOut(env envelope) {
	metrics.EventsBroadcast.WithLabelValues(env.Event.Type).Inc()

	// A conversation created after its participants connected: pull their
	// sockets into the new room before delivering the event.
	if env.Event.Type == EventConversationCreated {
		var data ConversationCreatedData
		if err := decodeEventData(env.Event.Data, &data); err == nil {
			for _, uid := range data.ParticipantIDs {
				for c := range h.byUser[uid] {
					h.joinRoom(c, env.ConversationID)
				}
			}
		}
	}

	payload, err := json.Marshal(env.Event)
	if err != nil {
		h.log.Error().Err(err).Str("type", env.Event.Type).Msg("marshal event")
		return
	}

	targets := h.clients
	if env.ConversationID != 0 {
		targets = h.rooms[env.ConversationID]
	}

	for c := range targets {
		if env.SkipUserID != 0 && c.UserID == env.SkipUserID {
			continue
		}
		if !c.enqueue(payload) {
			// Slow client: drop it rather than stall the loop.
			metrics.SlowClientDrops.Inc()
			h.log.Warn().Int64("user_id", c.UserID).Msg("dropping slow client")
			h.removeClient(c)
		}
	}
}

// decodeEventData recovers a typed payload from an event that went through
// a JSON round trip (redis) or was built locally.
func decodeEventData(data any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
