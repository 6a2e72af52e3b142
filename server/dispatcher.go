package server

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
	"chatd/service"
)

const (
	msgUnknownCommand = "Unknown command."
	msgAuthRequired   = "Authentication required."
	msgAccountBanned  = "Your account is banned."
	msgInternalError  = "Internal error."
)

type request struct {
	client *Client
	store  db.Store
	msg    *protocol.Message
	// user is nil for public routes.
	user *models.User
}

type handlerFunc func(ctx context.Context, req *request) (service.Outcome, error)

type route struct {
	handle handlerFunc
	public bool
}

// Reply is the dispatcher's answer to one frame. LoggedIn and LoggedOut name the user whose session
// the frame opened or closed, so the connection task can update its binding.
type Reply struct {
	Frame     []byte
	LoggedIn  *models.User
	LoggedOut *models.User
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		protocol.TypeRegister:     {handle: s.handleRegister, public: true},
		protocol.TypeLogin:        {handle: s.handleLogin, public: true},
		protocol.TypePing:         {handle: s.handlePing, public: true},
		protocol.TypeHelp:         {handle: s.handleHelp, public: true},
		protocol.TypeLogout:       {handle: s.handleLogout},
		protocol.TypeAddFriend:    {handle: s.handleAddFriend},
		protocol.TypeAcceptFriend: {handle: s.handleAcceptFriend},
		protocol.TypeMyFriends:    {handle: s.handleMyFriends},
		protocol.TypeSend:         {handle: s.handleSend},
		protocol.TypeBroadcast:    {handle: s.handleBroadcast},
		protocol.TypeBanUser:      {handle: s.handleBanUser},
		protocol.TypePermitUser:   {handle: s.handlePermitUser},
	}
}

// Dispatch runs one inbound frame to completion. It never fails: every error becomes a response.
func (s *Server) Dispatch(ctx context.Context, c *Client, msg *protocol.Message) (reply Reply) {
	logger := log.With().Str("conn_id", c.ID).Str("type", msg.Type).Logger()

	r, ok := s.handlers[msg.Type]
	if !ok {
		logger.Debug().Msg("unknown command")
		return Reply{Frame: protocol.NormalMessage(msgUnknownCommand, false)}
	}

	h, err := s.pool.Acquire(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("acquiring store")
		return Reply{Frame: protocol.NormalMessage(msgInternalError, false)}
	}
	defer h.Release()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("handler panicked")
			reply = Reply{Frame: protocol.NormalMessage(msgInternalError, false)}
		}
	}()

	req := &request{client: c, store: h, msg: msg}
	if !r.public {
		user, denial, err := authenticate(ctx, h, msg.Str(protocol.KeyToken))
		if err != nil {
			logger.Error().Err(err).Msg("resolving token")
			return Reply{Frame: protocol.NormalMessage(msgInternalError, false)}
		}
		if denial != "" {
			return Reply{Frame: protocol.NormalMessage(denial, false)}
		}
		req.user = user
		logger = logger.With().Int64("user_id", user.ID).Logger()
	}

	out, err := r.handle(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		return Reply{Frame: protocol.NormalMessage(msgInternalError, false)}
	}

	reply = Reply{Frame: out.Frame()}
	switch msg.Type {
	case protocol.TypeLogin:
		if out.OK {
			reply.LoggedIn = out.User
		}
	case protocol.TypeLogout:
		if out.OK {
			reply.LoggedOut = req.user
		}
	}
	return reply
}

// authenticate resolves a token to an active identity. A non-empty denial is the reason to refuse.
func authenticate(ctx context.Context, st db.Store, token string) (*models.User, string, error) {
	if token == "" {
		return nil, msgAuthRequired, nil
	}
	user, err := st.GetUserByToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return nil, msgAuthRequired, nil
	}
	if err != nil {
		return nil, "", err
	}
	if user.Banned() {
		return nil, msgAccountBanned, nil
	}
	return user, "", nil
}

func (s *Server) handleRegister(ctx context.Context, req *request) (service.Outcome, error) {
	return s.sessions.Register(ctx, req.store,
		req.msg.Str(protocol.KeyUsername), req.msg.Str(protocol.KeyPassword))
}

func (s *Server) handleLogin(ctx context.Context, req *request) (service.Outcome, error) {
	return s.sessions.Login(ctx, req.store, req.client,
		req.msg.Str(protocol.KeyUsername), req.msg.Str(protocol.KeyPassword), req.client.RemoteAddr())
}

func (s *Server) handleLogout(ctx context.Context, req *request) (service.Outcome, error) {
	return s.sessions.Logout(ctx, req.store, req.user)
}

func (s *Server) handleAddFriend(ctx context.Context, req *request) (service.Outcome, error) {
	return s.friends.AddFriend(ctx, req.store, req.user, req.msg.Str(protocol.KeyUsername))
}

func (s *Server) handleAcceptFriend(ctx context.Context, req *request) (service.Outcome, error) {
	return s.friends.AcceptFriend(ctx, req.store, req.user, req.msg.Str(protocol.KeyUsername))
}

func (s *Server) handleMyFriends(ctx context.Context, req *request) (service.Outcome, error) {
	return s.friends.ListFriends(ctx, req.store, req.user)
}

func (s *Server) handleSend(ctx context.Context, req *request) (service.Outcome, error) {
	return s.messages.SendPrivate(ctx, req.store, req.user,
		req.msg.Str(protocol.KeyUsername), req.msg.Str(protocol.KeyMessage))
}

func (s *Server) handleBroadcast(_ context.Context, req *request) (service.Outcome, error) {
	return s.admin.Broadcast(req.user, req.msg.Str(protocol.KeyMessage)), nil
}

func (s *Server) handleBanUser(ctx context.Context, req *request) (service.Outcome, error) {
	return s.admin.Ban(ctx, req.store, req.user, req.msg.Str(protocol.KeyUsername))
}

func (s *Server) handlePermitUser(ctx context.Context, req *request) (service.Outcome, error) {
	return s.admin.Permit(ctx, req.store, req.user, req.msg.Str(protocol.KeyUsername))
}

func (s *Server) handlePing(context.Context, *request) (service.Outcome, error) {
	return service.Outcome{OK: true, Type: protocol.TypePong, Message: "pong"}, nil
}

func (s *Server) handleHelp(context.Context, *request) (service.Outcome, error) {
	commands := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		commands = append(commands, name)
	}
	sort.Strings(commands)
	return service.Outcome{OK: true, Message: "Commands: " + strings.Join(commands, ", ")}, nil
}
