package service

import (
	"context"
	"errors"
	"fmt"

	"codeberg.org/gruf/go-mutexes"
	"github.com/rs/zerolog/log"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
	"chatd/registry"
)

// Friends manages the friend graph. Mutations on one pair are serialized so the check and the
// write cannot interleave with a concurrent request for the same two users.
type Friends struct {
	registry *registry.Registry
	locks    mutexes.MutexMap
}

func NewFriends(reg *registry.Registry) *Friends {
	return &Friends{registry: reg}
}

func (f *Friends) lockPair(a, b int64) func() {
	low, high := models.OrderedPair(a, b)
	return f.locks.Lock(fmt.Sprintf("%d:%d", low, high))
}

func lookupTarget(ctx context.Context, st db.Store, username string) (*models.User, *Outcome, error) {
	u, err := st.GetUserByUsername(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		o := fail("User '%s' does not exist.", username)
		return nil, &o, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("looking up %q: %w", username, err)
	}
	return u, nil, nil
}

// AddFriend records a pending request from requester to the named user.
func (f *Friends) AddFriend(ctx context.Context, st db.Store, requester *models.User, username string) (Outcome, error) {
	if username == "" {
		return fail("A username is required."), nil
	}
	target, rejected, err := lookupTarget(ctx, st, username)
	if err != nil || rejected != nil {
		return deref(rejected), err
	}
	if target.ID == requester.ID {
		return fail("You cannot add yourself as a friend."), nil
	}

	outcome, err := func() (Outcome, error) {
		unlock := f.lockPair(requester.ID, target.ID)
		defer unlock()

		edge, err := st.GetFriendEdge(ctx, requester.ID, target.ID)
		switch {
		case err == nil:
			return describeExisting(edge, requester.ID, target.Username), nil
		case !errors.Is(err, db.ErrNotFound):
			return Outcome{}, fmt.Errorf("reading friend edge: %w", err)
		}

		if err := st.InsertFriendRequest(ctx, requester.ID, target.ID); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return fail("A friend request between you and '%s' already exists.", target.Username), nil
			}
			return Outcome{}, fmt.Errorf("inserting friend request: %w", err)
		}
		return succeed("Friend request sent to '%s'.", target.Username), nil
	}()
	if err != nil || !outcome.OK {
		return outcome, err
	}

	log.Info().Int64("from", requester.ID).Int64("to", target.ID).Msg("friend request created")
	f.registry.SendTo(target.ID, protocol.SysNotify(fmt.Sprintf(
		"User '%s' wants to add you as a friend. Use 'accept_friend %s' to accept.",
		requester.Username, requester.Username)))
	return outcome, nil
}

func describeExisting(edge *models.FriendEdge, callerID int64, other string) Outcome {
	switch {
	case edge.Status == models.FriendAccepted:
		return fail("'%s' is already your friend.", other)
	case edge.RequesterID == callerID:
		return fail("Friend request already sent, waiting for '%s' to accept.", other)
	default:
		return fail("'%s' has already sent you a friend request. Use 'accept_friend %s' to accept.", other, other)
	}
}

// AcceptFriend accepts the pending request the named user sent to accepter.
func (f *Friends) AcceptFriend(ctx context.Context, st db.Store, accepter *models.User, username string) (Outcome, error) {
	if username == "" {
		return fail("A username is required."), nil
	}
	requester, rejected, err := lookupTarget(ctx, st, username)
	if err != nil || rejected != nil {
		return deref(rejected), err
	}

	outcome, err := func() (Outcome, error) {
		unlock := f.lockPair(accepter.ID, requester.ID)
		defer unlock()

		edge, err := st.GetFriendEdge(ctx, accepter.ID, requester.ID)
		if errors.Is(err, db.ErrNotFound) {
			return fail("No pending friend request from '%s'.", requester.Username), nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("reading friend edge: %w", err)
		}
		if edge.Status == models.FriendAccepted {
			return fail("'%s' is already your friend.", requester.Username), nil
		}
		if edge.RequesterID == accepter.ID {
			return fail("You cannot accept your own friend request."), nil
		}

		flipped, err := st.AcceptFriendEdge(ctx, edge.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("accepting friend edge: %w", err)
		}
		if !flipped {
			return fail("No pending friend request from '%s'.", requester.Username), nil
		}
		return succeed("You and '%s' are now friends.", requester.Username), nil
	}()
	if err != nil || !outcome.OK {
		return outcome, err
	}

	log.Info().Int64("user", accepter.ID).Int64("friend", requester.ID).Msg("friend request accepted")
	f.registry.SendTo(requester.ID, protocol.SysNotify(fmt.Sprintf(
		"User '%s' accepted your friend request.", accepter.Username)))
	return outcome, nil
}

// ListFriends returns the user's accepted friends with their presence.
func (f *Friends) ListFriends(ctx context.Context, st db.Store, user *models.User) (Outcome, error) {
	friends, err := st.ListAcceptedFriends(ctx, user.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("listing friends: %w", err)
	}

	entries := make([]protocol.Payload, 0, len(friends))
	online := 0
	for _, fr := range friends {
		on := f.registry.IsOnline(fr.ID)
		if on {
			online++
		}
		entries = append(entries, protocol.Payload{
			protocol.KeyUsername: fr.Username,
			"online":             on,
		})
	}

	out := succeed("You have %d friends, %d online.", len(friends), online)
	if len(friends) == 0 {
		out.Message = "Your friend list is empty."
	}
	out.Data = protocol.Payload{"friends": entries}
	return out, nil
}

func deref(o *Outcome) Outcome {
	if o == nil {
		return Outcome{}
	}
	return *o
}
