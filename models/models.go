package models

import "time"

type UserStatus int

const (
	StatusBanned UserStatus = 0
	StatusActive UserStatus = 1
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Salt         string
	Status       UserStatus
	IsAdmin      bool
	AuthToken    string // empty when logged out
	CreatedAt    time.Time
}

func (u *User) Banned() bool {
	return u.Status == StatusBanned
}

type FriendStatus int

const (
	FriendPending  FriendStatus = 0
	FriendAccepted FriendStatus = 1
)

// FriendEdge is the single relationship record for an unordered pair of users.
// UserLow < UserHigh; RequesterID is one of the two and never changes.
type FriendEdge struct {
	ID          int64
	UserLow     int64
	UserHigh    int64
	RequesterID int64
	Status      FriendStatus
	CreatedAt   time.Time
}

// OrderedPair normalizes two user ids the way friend edges are keyed.
func OrderedPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// OfflineMessage holds a fully encoded frame waiting for its recipient's next login.
type OfflineMessage struct {
	ID          int64
	RecipientID int64
	Frame       []byte
	CreatedAt   time.Time
}
