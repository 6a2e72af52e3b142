// Package service holds the session, friendship, messaging and admin operations. Every operation
// takes the request's store explicitly and returns an Outcome for the caller plus an error that,
// when non-nil, is always an internal failure.
package service

import (
	"fmt"

	"chatd/models"
	"chatd/protocol"
)

// Outcome is what the caller of an operation is told.
type Outcome struct {
	OK      bool
	Message string
	// Type is the response frame type; empty means protocol.TypeNormal.
	Type string
	// Data carries extra payload fields for the response frame.
	Data protocol.Payload
	// User is set by a successful login.
	User *models.User
}

func fail(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...)}
}

func succeed(format string, args ...any) Outcome {
	return Outcome{OK: true, Message: fmt.Sprintf(format, args...)}
}

// Frame encodes the outcome as a response frame.
func (o Outcome) Frame() []byte {
	msgType := o.Type
	if msgType == "" {
		msgType = protocol.TypeNormal
	}
	payload := protocol.Payload{
		protocol.KeyMessage: o.Message,
		protocol.KeySuccess: o.OK,
	}
	for k, v := range o.Data {
		payload[k] = v
	}
	return protocol.Encode(msgType, payload)
}

// Credentials is the password and token gateway.
type Credentials interface {
	HashAndSalt(password string) (salt, hash string, err error)
	Verify(hash, salt, candidate string) bool
	NewToken() (string, error)
}
