// Package client provides a shared Go client for the Betterfly TCP
// protocol. Used by the terminal client and the server tests; replaces
// per-caller socket and framing boilerplate.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/Voltline/Betterfly-Server-Go/internal/codec"
	"github.com/Voltline/Betterfly-Server-Go/internal/message"
)

// DefaultAddr is where a locally run server listens.
const DefaultAddr = "127.0.0.1:54342"

const (
	dialTimeout = 5 * time.Second
	recvBufSize = 40960
)

// Client is one authenticated-or-staging connection to the server.
type Client struct {
	conn   net.Conn
	codec  *codec.Codec
	userID int64
	name   string

	timeout time.Duration

	wmu sync.Mutex

	// rbuf and pending belong to the single reader; Recv is not safe
	// for concurrent use.
	rbuf    []byte
	pending [][]byte
}

// Option adjusts client construction.
type Option func(*Client)

// WithCipher installs the symmetric frame cipher shared with the server.
func WithCipher(ci codec.Cipher) Option {
	return func(c *Client) { c.codec = codec.New(ci) }
}

// WithTimeout bounds each Recv; zero blocks indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to a server. The connection stays staged until Login.
func Dial(addr string, userID int64, name string, opts ...Option) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		codec:  codec.New(nil),
		userID: userID,
		name:   name,
		rbuf:   make([]byte, recvBufSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UserID returns the id this client authenticates as.
func (c *Client) UserID() int64 { return c.userID }

// Name returns the display name this client authenticates as.
func (c *Client) Name() string { return c.name }

// Close closes the connection without an Exit handshake.
func (c *Client) Close() error { return c.conn.Close() }

// --- Session ---

// Login authenticates the connection. lastLogin is the previous login
// time and bounds offline sync; token optionally registers the device
// for push on the way in.
func (c *Client) Login(lastLogin time.Time, token string) error {
	return c.send(message.Login{
		From:      c.userID,
		Name:      c.name,
		LastLogin: lastLogin,
		APNsToken: token,
	})
}

// Exit asks the server for an orderly goodbye.
func (c *Client) Exit() error {
	return c.send(message.Exit{From: c.userID})
}

// --- Messaging ---

// Post sends one chat message. to is a user id, a group id when isGroup
// is set, or -1 with isGroup for an online broadcast.
func (c *Client) Post(to int64, text, msgType string, isGroup bool) error {
	return c.send(message.Post{
		From:      c.userID,
		To:        to,
		Name:      c.name,
		Text:      text,
		MsgType:   msgType,
		IsGroup:   isGroup,
		Timestamp: time.Now(),
	})
}

// --- Directory ---

// QueryUser asks for a user's profile; the answer arrives via Recv.
func (c *Client) QueryUser(id int64) error {
	return c.send(message.QueryUser{From: c.userID, To: id})
}

// AddContact records a contact pair; both ends receive a hello post.
func (c *Client) AddContact(id int64) error {
	return c.send(message.InsertContact{From: c.userID, To: id})
}

// QueryGroup asks for a group's profile. duringAdd marks the probe
// issued while joining; the answer then carries from = -1.
func (c *Client) QueryGroup(id int64, duringAdd bool) error {
	return c.send(message.QueryGroup{From: c.userID, To: id, DuringAdd: duringAdd})
}

// CreateGroup creates a group with the caller as first member.
func (c *Client) CreateGroup(id int64, name string) error {
	return c.send(message.InsertGroup{From: c.userID, To: id, Name: name})
}

// JoinGroup adds the caller to an existing group.
func (c *Client) JoinGroup(id int64) error {
	return c.send(message.InsertGroupUser{From: c.userID, To: id})
}

// UpdateAvatar replaces the caller's avatar reference.
func (c *Client) UpdateAvatar(avatar string) error {
	return c.send(message.UpdateAvatar{From: c.userID, IsGroup: false, Avatar: avatar})
}

// UpdateGroupAvatar replaces a group's avatar reference.
func (c *Client) UpdateGroupAvatar(groupID int64, avatar string) error {
	return c.send(message.UpdateAvatar{From: c.userID, To: groupID, IsGroup: true, Avatar: avatar})
}

// --- Files and push ---

// Upload probes the file store for hash.suffix and requests a presigned
// PUT URL when the content is new.
func (c *Client) Upload(hash, suffix string) error {
	return c.send(message.File{From: c.userID, Hash: hash, Suffix: suffix, Op: message.FileOpUpload})
}

// Download requests a presigned GET URL for hash.suffix.
func (c *Client) Download(hash, suffix string) error {
	return c.send(message.File{From: c.userID, Hash: hash, Suffix: suffix, Op: message.FileOpDownload})
}

// RegisterToken registers a device push token for the caller.
func (c *Client) RegisterToken(token string) error {
	return c.send(message.APNsToken{From: c.userID, Token: token})
}

// --- Receiving ---

// Recv returns the next server frame, reading from the socket as
// needed. One read may carry several frames; extras queue for later
// calls. Not safe for concurrent use.
func (c *Client) Recv() (*message.Response, error) {
	for len(c.pending) == 0 {
		if c.timeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		}
		n, err := c.conn.Read(c.rbuf)
		if err != nil {
			return nil, err
		}
		frames, err := c.codec.Decode(c.rbuf[:n])
		if err != nil {
			return nil, err
		}
		for _, f := range frames {
			// Decode aliases rbuf, which the next read overwrites.
			cp := make([]byte, len(f))
			copy(cp, f)
			c.pending = append(c.pending, cp)
		}
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return message.ParseResponse(f)
}

// --- Internal helpers ---

func (c *Client) send(r message.Request) error {
	raw, err := message.Encode(r)
	if err != nil {
		return err
	}
	frame, err := c.codec.Encode(raw)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}
