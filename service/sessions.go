package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"codeberg.org/gruf/go-mutexes"
	"github.com/rs/zerolog/log"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
	"chatd/registry"
)

const maxUsernameLen = 32

// Sessions handles registration, login and logout.
type Sessions struct {
	registry *registry.Registry
	creds    Credentials
	// inboxes serializes delivery per recipient: a login's flush and any send to the same user.
	inboxes mutexes.MutexMap
}

func NewSessions(reg *registry.Registry, creds Credentials) *Sessions {
	return &Sessions{registry: reg, creds: creds}
}

func validUsername(username string) bool {
	if username == "" || len(username) > maxUsernameLen {
		return false
	}
	return strings.IndexFunc(username, unicode.IsSpace) < 0
}

func (s *Sessions) Register(ctx context.Context, st db.Store, username, password string) (Outcome, error) {
	if username == "" || password == "" {
		return fail("Username and password are required."), nil
	}
	if !validUsername(username) {
		return fail("Usernames are 1 to %d characters without spaces.", maxUsernameLen), nil
	}

	_, err := st.GetUserByUsername(ctx, username)
	if err == nil {
		return fail("Username already exists."), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return Outcome{}, fmt.Errorf("looking up %q: %w", username, err)
	}

	salt, hash, err := s.creds.HashAndSalt(password)
	if err != nil {
		return Outcome{}, err
	}

	u := &models.User{
		Username:     username,
		PasswordHash: hash,
		Salt:         salt,
		Status:       models.StatusActive,
	}
	if _, err := st.InsertUser(ctx, u); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return fail("Username already exists."), nil
		}
		return Outcome{}, fmt.Errorf("inserting user %q: %w", username, err)
	}

	log.Info().Int64("user_id", u.ID).Str("username", username).Msg("user registered")
	return succeed("User '%s' registered successfully.", username), nil
}

// Login authenticates, binds h to the user in the registry, and flushes the user's offline queue
// through it. A previous connection for the same user is notified and closed.
func (s *Sessions) Login(ctx context.Context, st db.Store, h registry.Handle, username, password, addr string) (Outcome, error) {
	if username == "" || password == "" {
		return fail("Username and password are required."), nil
	}

	user, err := st.GetUserByUsername(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return fail("Invalid username or password."), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("looking up %q: %w", username, err)
	}

	if !s.creds.Verify(user.PasswordHash, user.Salt, password) {
		return fail("Invalid username or password."), nil
	}
	if user.Banned() {
		return fail("This account is banned."), nil
	}

	token, err := s.creds.NewToken()
	if err != nil {
		return Outcome{}, err
	}

	err = st.InTx(ctx, func(tx db.Store) error {
		if err := tx.SetUserToken(ctx, user.ID, token); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		return tx.InsertLoginAudit(ctx, user.ID, user.Username, addr)
	})
	if err != nil {
		return Outcome{}, err
	}
	user.AuthToken = token

	_ = s.WithRecipient(user.ID, func() error {
		if prev := s.registry.Add(user.ID, h); prev != nil {
			log.Info().Int64("user_id", user.ID).Msg("closing previous connection after new login")
			_ = prev.Send(protocol.SysNotify("Your account logged in from another location. This connection will be closed."))
			_ = prev.Close()
		}
		log.Info().Int64("user_id", user.ID).Str("username", user.Username).Str("remote", addr).Msg("user logged in")
		s.flushOffline(ctx, st, user.ID)
		return nil
	})

	return Outcome{
		OK:      true,
		Message: fmt.Sprintf("Welcome, %s!", user.Username),
		Type:    protocol.TypeLoginSuccess,
		Data: protocol.Payload{
			protocol.KeyToken:   token,
			protocol.KeyIsAdmin: user.IsAdmin,
			protocol.KeyUserID:  user.ID,
		},
		User: user,
	}, nil
}

// WithRecipient runs fn while no login flush or other send for userID is in progress. The user
// becomes reachable in the registry and has their queue drained under the same lock, so anything
// fn delivers or queues lands after every older queued message.
func (s *Sessions) WithRecipient(userID int64, fn func() error) error {
	unlock := s.inboxes.Lock(strconv.FormatInt(userID, 10))
	defer unlock()
	return fn()
}

// flushOffline delivers the user's queue oldest first, deleting each message once it has been
// handed to the transport. It stops at the first undelivered message, leaving it queued. The
// caller holds the user's inbox lock.
func (s *Sessions) flushOffline(ctx context.Context, st db.Store, userID int64) {
	msgs, err := st.ListOfflineMessages(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("listing offline messages")
		return
	}

	delivered := 0
	for _, m := range msgs {
		if !s.registry.SendTo(userID, m.Frame) {
			log.Warn().Int64("user_id", userID).Int("remaining", len(msgs)-delivered).Msg("offline flush interrupted")
			break
		}
		delivered++
		if err := st.DeleteOfflineMessage(ctx, m.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
			log.Error().Err(err).Int64("message_id", m.ID).Msg("deleting delivered offline message")
		}
	}
	if delivered > 0 {
		log.Debug().Int64("user_id", userID).Int("delivered", delivered).Msg("offline messages flushed")
	}
}

// Logout clears the user's token and registry entry. Repeating it is harmless.
func (s *Sessions) Logout(ctx context.Context, st db.Store, user *models.User) (Outcome, error) {
	if err := st.ClearUserToken(ctx, user.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return Outcome{}, fmt.Errorf("clearing token: %w", err)
	}
	s.registry.Remove(user.ID)

	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user logged out")
	return succeed("You have been logged out."), nil
}
