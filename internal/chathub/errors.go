package chathub

import "errors"

// Handler-level errors. All of them are recoverable: the dispatcher converts
// them into an error event on the originating connection and the connection
// stays usable.
var (
	ErrNotJoined     = errors.New("join first")
	ErrAlreadyJoined = errors.New("connection already joined")

	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")

	ErrForbidden = errors.New("not a participant of this chat")

	ErrAlreadyRequested = errors.New("friend request already sent")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrNoSuchRequest    = errors.New("no pending request from this user")
	ErrSelfRequest      = errors.New("cannot send a friend request to yourself")

	ErrEmptyContent       = errors.New("message content is empty")
	ErrInvalidMessageType = errors.New("unsupported message type")
	ErrMalformedPayload   = errors.New("malformed event payload")
	ErrUnknownEvent       = errors.New("unknown event")
)
