package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-messenger/internal/apperr"
	"go-messenger/internal/delivery"
	"go-messenger/internal/metrics"
	"go-messenger/internal/middleware"
	"go-messenger/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (dev mode)
	},
}

// OnlineSetter updates the cached is_online flag on the user row.
type OnlineSetter interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
}

// Handler is the realtime gateway plus the REST surface for history queries.
type Handler struct {
	hub      *Hub
	svc      *Service
	presence presence.Tracker
	delivery *delivery.Tracker
	users    OnlineSetter
	tokens   middleware.TokenValidator
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(hub *Hub, svc *Service, pres presence.Tracker, del *delivery.Tracker, users OnlineSetter, tokens middleware.TokenValidator, log zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		svc:      svc,
		presence: pres,
		delivery: del,
		users:    users,
		tokens:   tokens,
		validate: validator.New(),
		log:      log.With().Str("component", "chat.gateway").Logger(),
	}
}

// ServeWs runs the connection through the protocol states: the upgrade
// request is the handshake, its bearer credential is validated, and only a
// joined connection gets pumps. An invalid credential is answered with an
// error event on the socket before teardown.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newClient(h.hub, h, conn, h.log)
	c.state = stateAuthenticating

	ident, err := h.tokens.ValidateToken(middleware.BearerToken(r))
	if err != nil {
		h.closeWithError(conn, apperr.ErrAuthentication, "authentication failed")
		c.state = stateClosed
		return
	}
	c.UserID = ident.UserID
	c.Username = ident.Username
	c.log = h.log.With().Int64("user_id", ident.UserID).Logger()

	ctx := r.Context()

	convIDs, err := h.svc.ConversationIDsForUser(ctx, c.UserID)
	if err != nil {
		h.closeWithError(conn, err, "failed to load conversations")
		c.state = stateClosed
		return
	}
	for _, id := range convIDs {
		c.joinConversation(id)
	}

	handle, first, err := h.presence.Connect(ctx, c.UserID)
	if err != nil {
		h.closeWithError(conn, err, "presence registration failed")
		c.state = stateClosed
		return
	}
	c.presenceHandle = handle

	if first {
		h.cameOnline(ctx, c.UserID)
	}

	c.state = stateJoined
	h.hub.Register(c)
	metrics.ActiveConnections.Inc()
	c.log.Info().Bool("first_connection", first).Msg("client joined")

	go c.writePump()
	go c.readPump()
}

// cameOnline handles the offline->online edge: refresh the cached flag,
// catch up pending deliveries, tell everyone.
func (h *Handler) cameOnline(ctx context.Context, userID int64) {
	if err := h.users.SetOnline(ctx, userID, true); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("persist online flag")
	}
	if err := h.delivery.RecomputeOnReconnect(ctx, userID); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("recompute deliveries")
	}
	h.hub.Broadcast(ctx, 0, 0, Event{Type: EventUserOnline, Data: PresenceData{UserID: userID}})
}

// teardown is the closed-state cleanup, invoked exactly once per joined
// connection when its readPump exits.
func (h *Handler) teardown(c *Client) {
	h.hub.Unregister(c)
	metrics.ActiveConnections.Dec()

	// Deliberately not the request context: cleanup must finish even though
	// the socket is gone.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, err := h.presence.Disconnect(ctx, c.UserID, c.presenceHandle)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", c.UserID).Msg("presence disconnect")
		return
	}
	if last {
		if err := h.users.SetOnline(ctx, c.UserID, false); err != nil {
			h.log.Error().Err(err).Int64("user_id", c.UserID).Msg("persist offline flag")
		}
		h.hub.Broadcast(ctx, 0, 0, Event{Type: EventUserOffline, Data: PresenceData{UserID: c.UserID}})
	}
	c.log.Info().Bool("last_connection", last).Msg("client left")
}

// dispatchFrame handles one client frame on the connection's own goroutine.
// Failures answer only this client; nothing here can take the connection
// down or touch other participants.
func (h *Handler) dispatchFrame(c *Client, frame clientFrame) {
	if c.state != stateJoined {
		c.sendError("access_denied", "connection not joined")
		return
	}

	// Operations finish even if the client disconnects mid-flight, so the
	// context is not tied to the connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Type {
	case FrameSendMessage:
		h.handleSendMessage(ctx, c, frame.Data)
	case FrameMarkRead:
		h.handleMarkRead(ctx, c, frame.Data)
	case FrameTypingStart:
		h.handleTyping(ctx, c, frame.Data, EventUserTyping)
	case FrameTypingStop:
		h.handleTyping(ctx, c, frame.Data, EventUserStopTyping)
	default:
		c.sendError("invalid_argument", "unknown frame type "+frame.Type)
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("invalid_argument", "malformed send_message payload")
		return
	}
	if err := h.validate.Struct(&p); err != nil {
		c.sendError("invalid_argument", err.Error())
		return
	}

	msg, recipients, err := h.svc.PostMessage(ctx, p.ConversationID, c.UserID, p.Content, p.MessageType, p.FileURL, p.ReplyToMessageID)
	if err != nil {
		c.sendError(apperr.Code(err), scrubbed(err))
		return
	}
	metrics.MessagesPersisted.Inc()

	h.hub.Broadcast(ctx, msg.ConversationID, 0, Event{
		Type: EventNewMessage,
		Data: NewMessageData{ConversationID: msg.ConversationID, Message: msg},
	})

	if err := h.delivery.MarkDelivered(ctx, msg.ID, recipients); err != nil {
		h.log.Error().Err(err).Int64("message_id", msg.ID).Msg("mark delivered")
	}
}

func (h *Handler) handleMarkRead(ctx context.Context, c *Client, raw json.RawMessage) {
	var p MarkReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("invalid_argument", "malformed mark_read payload")
		return
	}
	if err := h.validate.Struct(&p); err != nil {
		c.sendError("invalid_argument", err.Error())
		return
	}

	msg, err := h.svc.MarkRead(ctx, p.MessageID, c.UserID)
	if err != nil {
		c.sendError(apperr.Code(err), scrubbed(err))
		return
	}

	// The message's own conversation is authoritative, not the payload's.
	h.hub.Broadcast(ctx, msg.ConversationID, 0, Event{
		Type: EventMessageRead,
		Data: MessageReadData{MessageID: msg.ID, UserID: c.UserID},
	})
}

// handleTyping relays the indicator to everyone else in the room.
// Fire-and-forget: never persisted, no ordering guarantee, may drop.
func (h *Handler) handleTyping(ctx context.Context, c *Client, raw json.RawMessage, eventType string) {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("invalid_argument", "malformed typing payload")
		return
	}
	if !c.isJoined(p.ConversationID) {
		c.sendError("access_denied", "not a participant of this conversation")
		return
	}

	h.hub.Broadcast(ctx, p.ConversationID, c.UserID, Event{
		Type: eventType,
		Data: TypingData{ConversationID: p.ConversationID, UserID: c.UserID, Username: c.Username},
	})
}

// closeWithError surfaces a scoped error on a connection that never joined,
// then tears the socket down.
func (h *Handler) closeWithError(conn *websocket.Conn, err error, msg string) {
	payload, merr := json.Marshal(Event{Type: EventError, Data: ErrorData{Code: apperr.Code(err), Message: msg}})
	if merr == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, payload)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
	conn.Close()
}

// ---------------------------------------------
// REST surface (history and setup queries)
// ---------------------------------------------

type createConversationRequest struct {
	Type           string  `json:"type" validate:"omitempty,oneof=private group"`
	ParticipantIDs []int64 `json:"participant_ids" validate:"required,min=1"`
	Name           string  `json:"name" validate:"max=100"`
	Description    string  `json:"description" validate:"max=1000"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = ConversationPrivate
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, created, err := h.svc.CreateConversation(r.Context(), ident.UserID, req.Type, req.ParticipantIDs, req.Name, req.Description)
	if err != nil {
		http.Error(w, scrubbed(err), apperr.HTTPStatus(err))
		return
	}

	if created {
		participantIDs, perr := h.svc.ListParticipantIDs(r.Context(), conv.ID)
		if perr == nil {
			h.hub.Broadcast(r.Context(), conv.ID, 0, Event{
				Type: EventConversationCreated,
				Data: ConversationCreatedData{Conversation: conv, ParticipantIDs: participantIDs},
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), ident.UserID)
	if err != nil {
		http.Error(w, scrubbed(err), apperr.HTTPStatus(err))
		return
	}
	if convs == nil {
		convs = []ConversationSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"conversations": convs})
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.svc.ListMessages(r.Context(), convID, ident.UserID, page, limit)
	if err != nil {
		http.Error(w, scrubbed(err), apperr.HTTPStatus(err))
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

// PostMessage is the REST twin of the send_message frame, for clients that
// have no socket open. Same persistence, same broadcast.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	var p SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.ConversationID = convID
	if err := h.validate.Struct(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Same contract as the socket path: once the payload is accepted, the
	// write and its fan-out finish even if the HTTP client goes away.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, recipients, err := h.svc.PostMessage(ctx, convID, ident.UserID, p.Content, p.MessageType, p.FileURL, p.ReplyToMessageID)
	if err != nil {
		http.Error(w, scrubbed(err), apperr.HTTPStatus(err))
		return
	}
	metrics.MessagesPersisted.Inc()

	h.hub.Broadcast(ctx, msg.ConversationID, 0, Event{
		Type: EventNewMessage,
		Data: NewMessageData{ConversationID: msg.ConversationID, Message: msg},
	})
	if err := h.delivery.MarkDelivered(ctx, msg.ID, recipients); err != nil {
		h.log.Error().Err(err).Int64("message_id", msg.ID).Msg("mark delivered")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"message": msg})
}

// scrubbed keeps storage internals out of client-facing error text.
func scrubbed(err error) string {
	if apperr.IsStorage(err) || errors.Is(err, context.DeadlineExceeded) {
		return "internal error"
	}
	return err.Error()
}
