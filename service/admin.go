package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
	"chatd/registry"
)

const permissionDenied = "Permission denied."

// Admin holds the operations reserved for administrators.
type Admin struct {
	registry *registry.Registry
}

func NewAdmin(reg *registry.Registry) *Admin {
	return &Admin{registry: reg}
}

// Broadcast sends text to every connected user, the caller included.
func (a *Admin) Broadcast(caller *models.User, text string) Outcome {
	if !caller.IsAdmin {
		return fail(permissionDenied)
	}
	if text == "" {
		return fail("A message is required.")
	}
	n := a.registry.Broadcast(protocol.UserBroadcast(caller.Username, text))
	log.Info().Int64("admin", caller.ID).Int("recipients", n).Msg("broadcast sent")
	return succeed("Broadcast delivered to %d users.", n)
}

// Ban marks the named user as banned and drops their connection if they are online.
func (a *Admin) Ban(ctx context.Context, st db.Store, caller *models.User, username string) (Outcome, error) {
	if !caller.IsAdmin {
		return fail(permissionDenied), nil
	}
	if username == "" {
		return fail("A username is required."), nil
	}
	target, rejected, err := lookupTarget(ctx, st, username)
	if err != nil || rejected != nil {
		return deref(rejected), err
	}
	if target.IsAdmin {
		return fail("Administrators cannot be banned."), nil
	}
	if err := st.SetUserStatus(ctx, target.ID, models.StatusBanned); err != nil {
		return Outcome{}, fmt.Errorf("banning %q: %w", username, err)
	}

	if h, ok := a.registry.Lookup(target.ID); ok {
		_ = h.Send(protocol.SysNotify("Your account has been banned by an administrator."))
		a.registry.RemoveHandle(target.ID, h)
		_ = h.Close()
	}
	log.Info().Int64("admin", caller.ID).Int64("user_id", target.ID).Msg("user banned")
	return succeed("User '%s' has been banned.", target.Username), nil
}

// Permit lifts a ban.
func (a *Admin) Permit(ctx context.Context, st db.Store, caller *models.User, username string) (Outcome, error) {
	if !caller.IsAdmin {
		return fail(permissionDenied), nil
	}
	if username == "" {
		return fail("A username is required."), nil
	}
	target, rejected, err := lookupTarget(ctx, st, username)
	if err != nil || rejected != nil {
		return deref(rejected), err
	}
	if err := st.SetUserStatus(ctx, target.ID, models.StatusActive); err != nil {
		return Outcome{}, fmt.Errorf("permitting %q: %w", username, err)
	}
	log.Info().Int64("admin", caller.ID).Int64("user_id", target.ID).Msg("user permitted")
	return succeed("User '%s' is permitted again.", target.Username), nil
}

// Promote grants administrator rights. It is only reachable from the local control socket.
func (a *Admin) Promote(ctx context.Context, st db.Store, username string) error {
	u, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := st.SetUserAdmin(ctx, u.ID, true); err != nil {
		return fmt.Errorf("promoting %q: %w", username, err)
	}
	log.Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("user promoted to admin")
	return nil
}
