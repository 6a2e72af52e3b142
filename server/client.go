package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatd/models"
)

// Client is one accepted connection. It is the handle the registry writes through, so Send is safe
// for concurrent use.
type Client struct {
	ID   string
	conn net.Conn

	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once

	mu       sync.Mutex
	userID   int64
	username string
}

func newClient(conn net.Conn, writeTimeout time.Duration) *Client {
	return &Client{
		ID:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *Client) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *Client) Close() error {
	err := net.ErrClosed
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// bind records the identity this connection logged in as and returns the one it replaced.
func (c *Client) bind(u *models.User) (prevID int64, rebound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevID, rebound = c.userID, c.userID != 0 && c.userID != u.ID
	c.userID, c.username = u.ID, u.Username
	return prevID, rebound
}

// unbind drops the binding only if it is still userID. A token may log out a session that lives on
// another connection.
func (c *Client) unbind(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == userID {
		c.userID, c.username = 0, ""
	}
}

// User returns the bound identity, if any.
func (c *Client) User() (id int64, username string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username, c.userID != 0
}
