package models

// Event names understood on the inbound side of the socket.
const (
	EventJoin                = "join"
	EventSendMessage         = "sendMessage"
	EventSendFriendRequest   = "sendFriendRequest"
	EventAcceptFriendRequest = "acceptFriendRequest"
	EventAddReaction         = "addReaction"
	EventMarkRead            = "markRead"
	EventTyping              = "typing"
	EventStopTyping          = "stopTyping"
)

// Event names emitted to clients.
const (
	EventInitialize            = "initialize"
	EventUserStatus            = "userStatus"
	EventNewMessage            = "newMessage"
	EventFriendRequest         = "friendRequest"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventNewChat               = "newChat"
	EventMessageReaction       = "messageReaction"
	EventMessageRead           = "messageRead"
	EventUserTyping            = "userTyping"
	EventUserStoppedTyping     = "userStoppedTyping"
	EventError                 = "error"
)

// Event is a single frame on the wire, in either direction.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Fan-out scopes for cross-instance relay.
const (
	ScopeAll  = "all"
	ScopeChat = "chat"
	ScopeUser = "user"
)

// Envelope wraps an outbound event for Redis relay between instances.
// Origin identifies the publishing instance so it can skip its own echoes.
type Envelope struct {
	Origin   string `json:"origin"`
	Scope    string `json:"scope"`
	TargetID string `json:"targetId,omitempty"`
	Event    Event  `json:"event"`
}

// Inbound payloads.

type JoinPayload struct {
	Username string `json:"username"`
}

type SendMessagePayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

type FriendRequestPayload struct {
	Username string `json:"username"`
}

type AddReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
}

// Outbound payloads.

type InitializePayload struct {
	User  User       `json:"user"`
	Chats []ChatView `json:"chats"`
}

type UserStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type FriendRequestNotice struct {
	From string `json:"from"`
}

type FriendRequestAcceptedPayload struct {
	Username string   `json:"username"`
	Chat     ChatView `json:"chat"`
}

type NewChatPayload struct {
	Chat ChatView `json:"chat"`
}

type MessageReactionPayload struct {
	MessageID string   `json:"messageId"`
	Reaction  Reaction `json:"reaction"`
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type TypingNotice struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
