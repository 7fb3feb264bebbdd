package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResponseKind is the wire "type" of a server frame.
type ResponseKind int

const (
	RespRefused ResponseKind = iota
	RespServer
	RespPost
	RespFile
	RespWarn
	RespPubKey
	RespUserInfo
	RespGroupInfo
)

var respNames = [...]string{
	"Refused", "Server", "Post", "File", "Warn", "PubKey", "UserInfo",
	"GroupInfo",
}

func (k ResponseKind) String() string {
	if k < 0 || int(k) >= len(respNames) {
		return fmt.Sprintf("ResponseKind(%d)", int(k))
	}
	return respNames[k]
}

// Response is one server frame. Optional wire fields are pointers so
// serialisation emits exactly the fields the constructor set; type and
// timestamp are always present.
type Response struct {
	Type      ResponseKind `json:"type"`
	Timestamp string       `json:"timestamp"`
	Msg       *string      `json:"msg,omitempty"`
	From      *int64       `json:"from,omitempty"`
	To        *int64       `json:"to,omitempty"`
	IsGroup   *bool        `json:"is_group,omitempty"`
	Name      *string      `json:"name,omitempty"`
	Content   *string      `json:"content,omitempty"`
	MsgType   *string      `json:"msg_type,omitempty"`
	FileOp    *string      `json:"file_op,omitempty"`
}

// Bytes serialises the frame for the wire.
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// ServerText builds a Server notice such as the welcome and goodbye
// frames.
func ServerText(msg string) *Response {
	return &Response{Type: RespServer, Timestamp: nowWire(), Msg: strp(msg)}
}

// Refused builds the bare rejection frame; it carries no msg.
func Refused() *Response {
	return &Response{Type: RespRefused, Timestamp: nowWire()}
}

// Warn builds a warning notice.
func Warn(msg string) *Response {
	return &Response{Type: RespWarn, Timestamp: nowWire(), Msg: strp(msg)}
}

// UserInfo answers a user query. info is the stored "name.avatar" pair,
// dot-joined; consumers split on the first dot.
func UserInfo(id int64, info string) *Response {
	return &Response{Type: RespUserInfo, Timestamp: nowWire(), To: i64p(id), Msg: strp(info)}
}

// GroupInfo answers a group query. duringAdd marks the probe issued
// while joining a group, distinguished on the wire by from = -1.
func GroupInfo(id int64, info string, duringAdd bool) *Response {
	r := &Response{Type: RespGroupInfo, Timestamp: nowWire(), To: i64p(id), Msg: strp(info)}
	if duringAdd {
		r.From = i64p(-1)
	}
	return r
}

// Upload answers a file upload probe: msg is the object name, content
// the presigned URL or the "Existed" notice.
func Upload(fileName, content string) *Response {
	return &Response{
		Type:      RespFile,
		Timestamp: nowWire(),
		Msg:       strp(fileName),
		Content:   strp(content),
		FileOp:    strp(FileOpUpload),
	}
}

// Download answers a file download probe: msg is the object name,
// content the presigned URL or the "Not Exist" notice.
func Download(fileName, content string) *Response {
	return &Response{
		Type:      RespFile,
		Timestamp: nowWire(),
		Msg:       strp(fileName),
		Content:   strp(content),
		FileOp:    strp(FileOpDownload),
	}
}

// Hello builds the Post-kind frame that materialises a new contact or
// group relation. Contact hellos say "Hello", group joins "Hi", and a
// group creation carries the group name with from = 0.
func Hello(from, to int64, name string, isGroup bool, msg string) *Response {
	return &Response{
		Type:      RespPost,
		Timestamp: nowWire(),
		From:      i64p(from),
		To:        i64p(to),
		Name:      strp(name),
		IsGroup:   boolp(isGroup),
		Msg:       strp(msg),
	}
}

// NewPost builds the relayed form of a client post, stamped with the
// server clock.
func NewPost(from, to int64, name, text, msgType string, isGroup bool, ts time.Time) *Response {
	return &Response{
		Type:      RespPost,
		Timestamp: FormatTime(ts),
		From:      i64p(from),
		To:        i64p(to),
		Name:      strp(name),
		Msg:       strp(text),
		MsgType:   strp(msgType),
		IsGroup:   boolp(isGroup),
	}
}

// SyncPost rebuilds a persisted message row for offline replay; ts is
// the stored wire-format timestamp. Stored rows carry no display name.
func SyncPost(from, to int64, ts, text, msgType string, isGroup bool) *Response {
	return &Response{
		Type:      RespPost,
		Timestamp: ts,
		From:      i64p(from),
		To:        i64p(to),
		Msg:       strp(text),
		MsgType:   strp(msgType),
		IsGroup:   boolp(isGroup),
	}
}

func nowWire() string { return FormatTime(time.Now()) }

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }
func boolp(b bool) *bool    { return &b }
