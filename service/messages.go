package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
	"chatd/registry"
)

// Messages routes private messages between friends.
type Messages struct {
	registry *registry.Registry
	sessions *Sessions
}

// NewMessages routes through reg, ordering deliveries against the login flushes run by sessions.
func NewMessages(reg *registry.Registry, sessions *Sessions) *Messages {
	return &Messages{registry: reg, sessions: sessions}
}

// SendPrivate pushes text to the named friend, or queues it when they cannot be reached now.
func (m *Messages) SendPrivate(ctx context.Context, st db.Store, sender *models.User, username, text string) (Outcome, error) {
	if username == "" || text == "" {
		return fail("A recipient and a message are required."), nil
	}
	target, rejected, err := lookupTarget(ctx, st, username)
	if err != nil || rejected != nil {
		return deref(rejected), err
	}

	edge, err := st.GetFriendEdge(ctx, sender.ID, target.ID)
	if errors.Is(err, db.ErrNotFound) {
		return fail("'%s' is not your friend. Use 'add_friend %s' first.", target.Username, target.Username), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("reading friend edge: %w", err)
	}
	if edge.Status != models.FriendAccepted {
		return fail("Your friendship with '%s' is not confirmed yet.", target.Username), nil
	}

	frame := protocol.UserSend(sender.Username, text)
	live := false
	err = m.sessions.WithRecipient(target.ID, func() error {
		if m.registry.SendTo(target.ID, frame) {
			live = true
			return nil
		}
		return st.InsertOfflineMessage(ctx, target.ID, frame)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("queueing offline message: %w", err)
	}
	if live {
		log.Debug().Int64("from", sender.ID).Int64("to", target.ID).Msg("message delivered")
		return succeed("Message sent to '%s'.", target.Username), nil
	}
	log.Debug().Int64("from", sender.ID).Int64("to", target.ID).Msg("message queued offline")

	out := succeed("'%s' is offline. The message will be delivered when they log in.", target.Username)
	out.Data = protocol.Payload{"queued": true}
	return out, nil
}
