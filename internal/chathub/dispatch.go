package chathub

import (
	"encoding/json"

	"chatlink/backend/internal/metrics"
	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// EventHandler processes one inbound event for a connection.
type EventHandler func(c Client, data json.RawMessage) error

// Dispatcher routes inbound frames to their handlers. Any handler failure is
// converted into an error event on the originating connection only; it never
// reaches other connections and never terminates the connection.
type Dispatcher struct {
	sessions *SessionService
	friends  *FriendService
	router   *RouterService
	typing   *TypingTracker
	storage  storage.Storage

	handlers map[string]EventHandler
}

func NewDispatcher(sessions *SessionService, friends *FriendService, router *RouterService, typing *TypingTracker, s storage.Storage) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		friends:  friends,
		router:   router,
		typing:   typing,
		storage:  s,
	}
	d.handlers = map[string]EventHandler{
		models.EventJoin:                d.handleJoin,
		models.EventSendMessage:         d.handleSendMessage,
		models.EventSendFriendRequest:   d.handleSendFriendRequest,
		models.EventAcceptFriendRequest: d.handleAcceptFriendRequest,
		models.EventAddReaction:         d.handleAddReaction,
		models.EventMarkRead:            d.handleMarkRead,
		models.EventTyping:              d.handleTyping,
		models.EventStopTyping:          d.handleStopTyping,
	}
	return d
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Dispatch parses one raw frame and runs its handler.
func (d *Dispatcher) Dispatch(c Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.fail(c, "", ErrMalformedPayload)
		return
	}

	handler, ok := d.handlers[frame.Event]
	if !ok {
		d.fail(c, frame.Event, ErrUnknownEvent)
		return
	}

	// Everything except join requires a bound identity.
	if frame.Event != models.EventJoin && c.GetUserID() == "" {
		d.fail(c, frame.Event, ErrNotJoined)
		return
	}

	if err := handler(c, frame.Data); err != nil {
		d.fail(c, frame.Event, err)
	}
}

// HandleDisconnect runs the unbind path for a closed connection.
func (d *Dispatcher) HandleDisconnect(c Client) {
	d.sessions.Unbind(c)
}

// fail reports a handler error back to the caller. Delivery is best effort:
// if the connection's buffer is full the notification is dropped rather than
// blocking the dispatcher.
func (d *Dispatcher) fail(c Client, event string, err error) {
	metrics.HandlerErrors.WithLabelValues(event).Inc()
	log.Debug().
		Str("conn_id", c.GetConnID()).
		Str("event", event).
		Err(err).
		Msg("event rejected")

	select {
	case c.GetSendChannel() <- models.Event{
		Event: models.EventError,
		Data:  models.ErrorPayload{Message: err.Error()},
	}:
	default:
	}
}

func (d *Dispatcher) handleJoin(c Client, data json.RawMessage) error {
	var p models.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrMalformedPayload
	}
	return d.sessions.Bind(c, p.Username)
}

func (d *Dispatcher) handleSendMessage(c Client, data json.RawMessage) error {
	var p models.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrMalformedPayload
	}
	_, err := d.router.Send(c.GetUserID(), p.ChatID, p.Content, p.Type)
	return err
}

func (d *Dispatcher) handleSendFriendRequest(c Client, data json.RawMessage) error {
	var p models.FriendRequestPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Username == "" {
		return ErrMalformedPayload
	}
	return d.friends.SendRequest(c.GetUserID(), p.Username)
}

func (d *Dispatcher) handleAcceptFriendRequest(c Client, data json.RawMessage) error {
	var p models.FriendRequestPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Username == "" {
		return ErrMalformedPayload
	}
	return d.friends.AcceptRequest(c.GetUserID(), p.Username)
}

func (d *Dispatcher) handleAddReaction(c Client, data json.RawMessage) error {
	var p models.AddReactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrMalformedPayload
	}
	_, err := d.router.AddReaction(c.GetUserID(), p.MessageID, p.Emoji)
	return err
}

func (d *Dispatcher) handleMarkRead(c Client, data json.RawMessage) error {
	var p models.MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrMalformedPayload
	}
	return d.router.MarkRead(c.GetUserID(), p.MessageID)
}

func (d *Dispatcher) handleTyping(c Client, data json.RawMessage) error {
	chatID, err := d.typingChat(c, data)
	if err != nil {
		return err
	}
	d.typing.Start(c.GetUserID(), chatID, c.GetConnID())
	return nil
}

func (d *Dispatcher) handleStopTyping(c Client, data json.RawMessage) error {
	chatID, err := d.typingChat(c, data)
	if err != nil {
		return err
	}
	d.typing.Stop(c.GetUserID(), chatID, c.GetConnID())
	return nil
}

// typingChat validates a typing payload and the sender's chat membership.
func (d *Dispatcher) typingChat(c Client, data json.RawMessage) (string, error) {
	var p models.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		return "", ErrMalformedPayload
	}
	chat, err := d.storage.GetChatByID(p.ChatID)
	if err != nil {
		return "", err
	}
	if chat == nil {
		return "", ErrChatNotFound
	}
	if !chat.HasParticipant(c.GetUserID()) {
		return "", ErrForbidden
	}
	return p.ChatID, nil
}
