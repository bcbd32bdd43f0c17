package chathub

import "chatlink/backend/internal/models"

// Client is the interface for one active connection. It abstracts the
// underlying transport so the hub can manage connections uniformly and tests
// can substitute in-memory doubles.
type Client interface {
	// GetConnID returns the connection's unique identifier. Stable for the
	// lifetime of the connection, assigned before the upgrade.
	GetConnID() string
	// GetUserID returns the bound user id, or "" before a successful join.
	GetUserID() string
	// SetUserID binds a resolved user identity to the connection.
	SetUserID(string)

	// GetSendChannel returns the channel the hub writes outbound events to.
	GetSendChannel() chan<- models.Event

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the outbound side. Safe to call more than once.
	Close()
}
