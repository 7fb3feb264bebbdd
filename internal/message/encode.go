package message

import (
	"encoding/json"
	"fmt"
)

// Encode renders a request in wire form. It is the client-side inverse
// of Parse.
func Encode(r Request) ([]byte, error) {
	k := int(r.Kind())
	w := wireRequest{Type: &k, From: r.Sender()}

	switch v := r.(type) {
	case Login:
		w.Name = &v.Name
		w.Timestamp = FormatTime(v.LastLogin)
		w.UserAPNToken = v.APNsToken
	case Exit, Key:
	case Post:
		w.To = v.To
		w.Name = &v.Name
		w.Msg = &v.Text
		w.MsgType = &v.MsgType
		w.IsGroup = &v.IsGroup
		w.Timestamp = FormatTime(v.Timestamp)
	case QueryUser:
		w.To = v.To
	case InsertContact:
		w.To = v.To
	case QueryGroup:
		w.To = v.To
		if v.DuringAdd {
			w.Msg = strp("add")
		}
	case InsertGroup:
		w.To = v.To
		w.Msg = &v.Name
	case InsertGroupUser:
		w.To = v.To
	case File:
		w.FileHash = &v.Hash
		w.FileSuffix = &v.Suffix
		w.Operation = &v.Op
	case APNsToken:
		w.APNsToken = &v.Token
	case UpdateAvatar:
		w.To = v.To
		w.IsGroup = &v.IsGroup
		w.Msg = &v.Avatar
	default:
		return nil, fmt.Errorf("message: cannot encode %T", r)
	}
	return json.Marshal(w)
}

// ParseResponse decodes one server frame on the client side.
func ParseResponse(frame []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &r, nil
}

// Client-side accessors that flatten the optional wire fields.

// FromID returns the sender id, 0 when absent.
func (r *Response) FromID() int64 {
	if r.From == nil {
		return 0
	}
	return *r.From
}

// ToID returns the destination id, 0 when absent.
func (r *Response) ToID() int64 {
	if r.To == nil {
		return 0
	}
	return *r.To
}

// Text returns the msg field, empty when absent.
func (r *Response) Text() string { return optStr(r.Msg) }

// SenderName returns the display name, empty when absent.
func (r *Response) SenderName() string { return optStr(r.Name) }

// Body returns the content field, empty when absent.
func (r *Response) Body() string { return optStr(r.Content) }

// Group reports whether the frame is group-addressed.
func (r *Response) Group() bool { return r.IsGroup != nil && *r.IsGroup }
