// Package message defines the typed request and response records of the
// Betterfly wire protocol. Client frames parse into one variant per
// request kind; server frames are built by constructors that track which
// optional fields are set.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the wire timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// ErrMalformed reports a frame that does not parse into a request.
var ErrMalformed = errors.New("message: malformed request")

// Kind is the wire "type" of a client frame.
type Kind int

const (
	KindLogin Kind = iota
	KindExit
	KindPost
	KindKey
	KindQueryUser
	KindInsertContact
	KindQueryGroup
	KindInsertGroup
	KindInsertGroupUser
	KindFile
	KindAPNsToken
	KindUpdateAvatar
)

var kindNames = [...]string{
	"Login", "Exit", "Post", "Key", "QueryUser", "InsertContact",
	"QueryGroup", "InsertGroup", "InsertGroupUser", "File", "APNsToken",
	"UpdateAvatar",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Request is one parsed client frame.
type Request interface {
	Kind() Kind
	// Sender returns the from-id, 0 when absent.
	Sender() int64
}

// Login authenticates a staged connection.
type Login struct {
	From int64
	Name string

	// LastLogin is the client-reported previous login time, the lower
	// bound for offline sync.
	LastLogin time.Time

	// APNsToken is the optional device token carried on login.
	APNsToken string
}

// Exit asks for an orderly disconnect.
type Exit struct {
	From int64
}

// Post carries one chat message to a user, a group, or everyone.
type Post struct {
	From    int64
	To      int64
	Name    string
	Text    string
	MsgType string
	IsGroup bool

	// Timestamp is client-supplied and replaced with the server clock
	// before routing or persistence.
	Timestamp time.Time
}

// Key is reserved for a future key exchange; accepted and ignored.
type Key struct {
	From int64
}

// QueryUser asks for a user's display name and avatar.
type QueryUser struct {
	From int64
	To   int64
}

// InsertContact records a contact relation and materialises it as a
// hello message to both ends.
type InsertContact struct {
	From int64
	To   int64
}

// QueryGroup asks for a group's display name and avatar.
type QueryGroup struct {
	From int64
	To   int64

	// DuringAdd marks the probe a client issues while joining; the
	// response flags it with from = -1.
	DuringAdd bool
}

// InsertGroup creates a group owned by the sender.
type InsertGroup struct {
	From int64
	To   int64
	Name string
}

// InsertGroupUser adds the sender to a group.
type InsertGroupUser struct {
	From int64
	To   int64
}

// File probes the file store and requests a presigned transfer URL.
type File struct {
	From   int64
	Hash   string
	Suffix string
	Op     string
}

// File operations.
const (
	FileOpUpload   = "upload"
	FileOpDownload = "download"
)

// APNsToken registers a device push token for the sender.
type APNsToken struct {
	From  int64
	Token string
}

// UpdateAvatar replaces a user's or group's avatar reference.
type UpdateAvatar struct {
	From    int64
	To      int64
	IsGroup bool
	Avatar  string
}

// Unknown is a frame whose type is outside the request enum; it is
// logged and ignored by the dispatcher.
type Unknown struct {
	Type int
	From int64
}

func (r Login) Kind() Kind           { return KindLogin }
func (r Exit) Kind() Kind            { return KindExit }
func (r Post) Kind() Kind            { return KindPost }
func (r Key) Kind() Kind             { return KindKey }
func (r QueryUser) Kind() Kind       { return KindQueryUser }
func (r InsertContact) Kind() Kind   { return KindInsertContact }
func (r QueryGroup) Kind() Kind      { return KindQueryGroup }
func (r InsertGroup) Kind() Kind     { return KindInsertGroup }
func (r InsertGroupUser) Kind() Kind { return KindInsertGroupUser }
func (r File) Kind() Kind            { return KindFile }
func (r APNsToken) Kind() Kind       { return KindAPNsToken }
func (r UpdateAvatar) Kind() Kind    { return KindUpdateAvatar }
func (r Unknown) Kind() Kind         { return Kind(r.Type) }

func (r Login) Sender() int64           { return r.From }
func (r Exit) Sender() int64            { return r.From }
func (r Post) Sender() int64            { return r.From }
func (r Key) Sender() int64             { return r.From }
func (r QueryUser) Sender() int64       { return r.From }
func (r InsertContact) Sender() int64   { return r.From }
func (r QueryGroup) Sender() int64      { return r.From }
func (r InsertGroup) Sender() int64     { return r.From }
func (r InsertGroupUser) Sender() int64 { return r.From }
func (r File) Sender() int64            { return r.From }
func (r APNsToken) Sender() int64       { return r.From }
func (r UpdateAvatar) Sender() int64    { return r.From }
func (r Unknown) Sender() int64         { return r.From }

// wireRequest is the JSON shape of a client frame, shared by Parse and
// Encode. Fields whose presence matters are pointers; omitempty keeps
// encoded frames down to the fields each kind actually carries.
type wireRequest struct {
	Type         *int    `json:"type"`
	From         int64   `json:"from"`
	To           int64   `json:"to"`
	Name         *string `json:"name,omitempty"`
	Msg          *string `json:"msg,omitempty"`
	MsgType      *string `json:"msg_type,omitempty"`
	IsGroup      *bool   `json:"is_group,omitempty"`
	Timestamp    string  `json:"timestamp,omitempty"`
	FileHash     *string `json:"file_hash,omitempty"`
	FileSuffix   *string `json:"file_suffix,omitempty"`
	Operation    *string `json:"operation,omitempty"`
	APNsToken    *string `json:"apns_token,omitempty"`
	UserAPNToken string  `json:"user_apn_token,omitempty"`
}

// Parse decodes one frame into its request variant. Unknown kinds parse
// into Unknown rather than failing, so the dispatcher can skip them.
func Parse(frame []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch Kind(*w.Type) {
	case KindLogin:
		if w.Name == nil {
			return nil, fmt.Errorf("%w: login without name", ErrMalformed)
		}
		return Login{
			From:      w.From,
			Name:      *w.Name,
			LastLogin: ParseTime(w.Timestamp),
			APNsToken: w.UserAPNToken,
		}, nil

	case KindExit:
		return Exit{From: w.From}, nil

	case KindPost:
		if w.Name == nil || w.Msg == nil || w.MsgType == nil || w.IsGroup == nil {
			return nil, fmt.Errorf("%w: post missing required fields", ErrMalformed)
		}
		return Post{
			From:      w.From,
			To:        w.To,
			Name:      *w.Name,
			Text:      *w.Msg,
			MsgType:   *w.MsgType,
			IsGroup:   *w.IsGroup,
			Timestamp: ParseTime(w.Timestamp),
		}, nil

	case KindKey:
		return Key{From: w.From}, nil

	case KindQueryUser:
		return QueryUser{From: w.From, To: w.To}, nil

	case KindInsertContact:
		return InsertContact{From: w.From, To: w.To}, nil

	case KindQueryGroup:
		return QueryGroup{From: w.From, To: w.To, DuringAdd: optStr(w.Msg) != ""}, nil

	case KindInsertGroup:
		return InsertGroup{From: w.From, To: w.To, Name: optStr(w.Msg)}, nil

	case KindInsertGroupUser:
		return InsertGroupUser{From: w.From, To: w.To}, nil

	case KindFile:
		if w.FileHash == nil || w.FileSuffix == nil || w.Operation == nil {
			return nil, fmt.Errorf("%w: file request missing required fields", ErrMalformed)
		}
		return File{From: w.From, Hash: *w.FileHash, Suffix: *w.FileSuffix, Op: *w.Operation}, nil

	case KindAPNsToken:
		if w.APNsToken == nil {
			return nil, fmt.Errorf("%w: apns request without token", ErrMalformed)
		}
		return APNsToken{From: w.From, Token: *w.APNsToken}, nil

	case KindUpdateAvatar:
		if w.IsGroup == nil || w.Msg == nil {
			return nil, fmt.Errorf("%w: avatar update missing required fields", ErrMalformed)
		}
		return UpdateAvatar{From: w.From, To: w.To, IsGroup: *w.IsGroup, Avatar: *w.Msg}, nil
	}

	return Unknown{Type: *w.Type, From: w.From}, nil
}

// ParseTime reads a wire timestamp, falling back to the current time
// when the value is absent or unparseable.
func ParseTime(s string) time.Time {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Now()
	}
	return t
}

// FormatTime renders t in the wire timestamp format.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

func optStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
