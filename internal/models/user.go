package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User represents a registered identity. A user is created lazily on the first
// join with an unseen username and is never deleted.
type User struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`

	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`

	// Friends holds the ids of confirmed friends. The relation is symmetric:
	// both sides are updated in the same transaction.
	Friends pq.StringArray `gorm:"type:text[]" json:"friends"`
	// PendingRequests holds the ids of users who have requested friendship
	// with this user. Inbound direction only.
	PendingRequests pq.StringArray `gorm:"type:text[]" json:"pendingRequests"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

// BeforeCreate is a GORM hook that assigns a fresh UUID when no ID is set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// HasFriend reports whether otherID is in the user's friends set.
func (u *User) HasFriend(otherID string) bool {
	for _, id := range u.Friends {
		if id == otherID {
			return true
		}
	}
	return false
}

// HasPendingFrom reports whether fromID has an unresolved request to this user.
func (u *User) HasPendingFrom(fromID string) bool {
	for _, id := range u.PendingRequests {
		if id == fromID {
			return true
		}
	}
	return false
}
