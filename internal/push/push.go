// Package push delivers APNs notifications to offline recipients and
// derives the short preview bodies shown on the device.
package push

import (
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Result classifies one send attempt.
type Result int

const (
	// OK means the provider accepted the notification.
	OK Result = iota
	// InvalidToken means the device token is dead and must be purged.
	InvalidToken
	// Transient covers transport failures and provider throttling; the
	// notification is dropped.
	Transient
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case InvalidToken:
		return "invalid-token"
	default:
		return "transient"
	}
}

// Task is one queued notification: body titled with the sender's
// display name, addressed to a device token. UserID is the recipient,
// kept so rejected tokens can be purged.
type Task struct {
	Token  string
	Title  string
	Body   string
	UserID int64
}

// Gateway sends one notification per call.
type Gateway interface {
	Send(task Task) Result
}

// Client is the APNs gateway: HTTP/2 with token-based (ES256 JWT)
// authentication.
type Client struct {
	client *apns2.Client
	topic  string
	log    zerolog.Logger
}

// New loads the .p8 signing key and builds the provider client against
// the sandbox or production host.
func New(keyFile, keyID, teamID, topic string, sandbox bool, logger zerolog.Logger) (*Client, error) {
	authKey, err := token.AuthKeyFromFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("push: load signing key: %w", err)
	}
	tok := &token.Token{AuthKey: authKey, KeyID: keyID, TeamID: teamID}
	client := apns2.NewTokenClient(tok)
	if sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return &Client{client: client, topic: topic, log: logger}, nil
}

// Send pushes one notification and classifies the outcome.
func (c *Client) Send(task Task) Result {
	n := &apns2.Notification{
		DeviceToken: task.Token,
		Topic:       c.topic,
		Payload:     buildPayload(task),
	}
	res, err := c.client.Push(n)
	if err != nil {
		c.log.Warn().Err(err).Int64("user", task.UserID).Msg("push transport failure")
		return Transient
	}
	r := classify(res)
	switch r {
	case InvalidToken:
		c.log.Info().Str("reason", res.Reason).Int64("user", task.UserID).Msg("push token rejected")
	case Transient:
		c.log.Warn().Int("status", res.StatusCode).Str("reason", res.Reason).Int64("user", task.UserID).Msg("push not delivered")
	}
	return r
}

func buildPayload(task Task) *payload.Payload {
	return payload.NewPayload().
		AlertTitle(task.Title).
		AlertBody(task.Body).
		Sound("default").
		Badge(1)
}

func classify(res *apns2.Response) Result {
	if res.Sent() {
		return OK
	}
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return InvalidToken
	}
	return Transient
}

// Preview derives the notification body from a routed message: fixed
// literals for media kinds, a generic notice for long text, otherwise
// the text itself.
func Preview(msgType, text string) string {
	switch msgType {
	case "file":
		return "[文件]"
	case "gif":
		return "[表情符号]"
	case "image":
		return "[图片]"
	}
	if utf8.RuneCountInString(text) > 30 {
		return "您有一条新消息"
	}
	return text
}
