// Package db defines the durable store the chat core depends on. Implementations live in
// subpackages.
package db

import (
	"context"
	"errors"

	"chatd/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Store is the repository surface used while processing one request.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// GetUserByToken returns ErrNotFound for an empty token.
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
	// InsertUser returns ErrDuplicate if the username is taken.
	InsertUser(ctx context.Context, u *models.User) (int64, error)
	SetUserToken(ctx context.Context, userID int64, token string) error
	ClearUserToken(ctx context.Context, userID int64) error
	SetUserStatus(ctx context.Context, userID int64, status models.UserStatus) error
	SetUserAdmin(ctx context.Context, userID int64, admin bool) error

	// GetFriendEdge finds the edge between a and b in either direction.
	GetFriendEdge(ctx context.Context, a, b int64) (*models.FriendEdge, error)
	// InsertFriendRequest returns ErrDuplicate if the pair already has an edge.
	InsertFriendRequest(ctx context.Context, requesterID, targetID int64) error
	// AcceptFriendEdge flips a pending edge to accepted and reports whether it did.
	AcceptFriendEdge(ctx context.Context, edgeID int64) (bool, error)
	ListAcceptedFriends(ctx context.Context, userID int64) ([]models.User, error)

	InsertOfflineMessage(ctx context.Context, recipientID int64, frame []byte) error
	// ListOfflineMessages returns the recipient's queue oldest first.
	ListOfflineMessages(ctx context.Context, recipientID int64) ([]models.OfflineMessage, error)
	DeleteOfflineMessage(ctx context.Context, id int64) error

	InsertLoginAudit(ctx context.Context, userID int64, username, sourceAddr string) error

	// InTx runs fn against a transactional view of the store, committing if fn returns nil.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Handle is a Store scoped to one request. Release must be called exactly once.
type Handle interface {
	Store
	Release()
}

// Pool hands out request-scoped handles.
type Pool interface {
	Acquire(ctx context.Context) (Handle, error)
}
