package protocol

// Request operation types.
const (
	TypeRegister     = "reg"
	TypeLogin        = "login"
	TypeLogout       = "logout"
	TypeAddFriend    = "add_friend"
	TypeAcceptFriend = "accept_friend"
	TypeMyFriends    = "myfriends"
	TypeSend         = "send"
	TypeBroadcast    = "broadcast"
	TypeBanUser      = "ban_user"
	TypePermitUser   = "permit_user"
	TypePing         = "ping"
	TypeHelp         = "help"
)

// Response and push types.
const (
	TypeLoginSuccess  = "login_success"
	TypeNormal        = "normalmsg"
	TypeSystem        = "sysmsg"
	TypeUserSend      = "usersend"
	TypeUserBroadcast = "userbroadcast"
	TypePong          = "pong"
)

// Payload keys shared by client and server.
const (
	KeyToken        = "auth_token"
	KeyUsername     = "username"
	KeyPassword     = "password"
	KeyMessage      = "message"
	KeyFromUsername = "fromusername"
	KeySuccess      = "success"
	KeyIsAdmin      = "is_admin"
	KeyUserID       = "user_id"
)

// NormalMessage is the generic human-readable outcome of a request.
func NormalMessage(text string, ok bool) []byte {
	return Encode(TypeNormal, Payload{KeyMessage: text, KeySuccess: ok})
}

// SysNotify is a server-originated notification.
func SysNotify(text string) []byte {
	return Encode(TypeSystem, Payload{KeyMessage: text})
}

// UserSend relays a private message attributed to from.
func UserSend(from, text string) []byte {
	return Encode(TypeUserSend, Payload{KeyFromUsername: from, KeyMessage: text})
}

// UserBroadcast relays a broadcast attributed to from.
func UserBroadcast(from, text string) []byte {
	return Encode(TypeUserBroadcast, Payload{KeyFromUsername: from, KeyMessage: text})
}
