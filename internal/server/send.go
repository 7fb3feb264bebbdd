package server

import (
	"context"

	"github.com/Voltline/Betterfly-Server-Go/internal/message"
	"github.com/Voltline/Betterfly-Server-Go/internal/push"
	"github.com/Voltline/Betterfly-Server-Go/internal/session"
)

// sendOptions steers routing and notification for one response.
type sendOptions struct {
	// IsGroup resolves the destination through the member list; the
	// special destination -1 broadcasts to every online user instead.
	IsGroup bool
	// WithPush enqueues an APNs notification per recipient token.
	WithPush bool
	// Sender is excluded from fan-out and never pushed to.
	Sender int64
	// Title and Preview fill the notification when WithPush is set.
	Title   string
	Preview string
}

// send routes one response frame. Direct sends target a single user;
// group sends fan out to the stored member list minus the sender.
// Pushes go to every eligible recipient whether or not they are online;
// socket writes only to the live ones.
func (s *Server) send(to int64, resp *message.Response, opts sendOptions) error {
	raw, err := resp.Bytes()
	if err != nil {
		return err
	}
	frame, err := s.codec.Encode(raw)
	if err != nil {
		return err
	}

	switch {
	case opts.IsGroup && to == -1:
		// Broadcast reaches only who is online right now, no pushes.
		for _, e := range s.sessions.SnapshotAuthenticated() {
			if e.UserID == opts.Sender {
				continue
			}
			s.writeLive(e, frame)
		}
		return nil
	case opts.IsGroup:
		members, err := s.db.GroupMembers(context.Background(), to)
		if err != nil {
			return err
		}
		for _, uid := range members {
			if uid == opts.Sender {
				continue
			}
			s.deliver(uid, frame, opts)
		}
		return nil
	default:
		s.deliver(to, frame, opts)
		return nil
	}
}

// deliver notifies one recipient. The push fires regardless of presence
// so backgrounded devices still hear about the message; the socket
// write happens only for a live session.
func (s *Server) deliver(userID int64, frame []byte, opts sendOptions) {
	if opts.WithPush && userID != opts.Sender {
		s.enqueuePush(userID, opts.Title, opts.Preview)
	}
	if e := s.sessions.LookupByUser(userID); e != nil {
		s.writeLive(e, frame)
	}
}

// writeLive writes a pre-encoded frame; a failed write tears the
// recipient's connection down as abnormal.
func (s *Server) writeLive(e *session.Entry, frame []byte) {
	if err := e.Write(frame); err != nil {
		s.log.Warn().Err(err).Int64("user", e.UserID).Int("fd", e.FD).Msg("session write failed")
		s.enqueueClose(e.FD, true)
		return
	}
	metricFramesWritten.Inc()
}

// enqueuePush queues one notification per registered device token. A
// full queue drops the notification rather than stalling dispatch.
func (s *Server) enqueuePush(userID int64, title, body string) {
	tokens, err := s.db.APNsTokens(context.Background(), userID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user", userID).Msg("token lookup failed")
		return
	}
	for _, tok := range tokens {
		task := push.Task{Token: tok, Title: title, Body: body, UserID: userID}
		select {
		case s.pushQ <- task:
			metricPushEnqueued.Inc()
		default:
			metricPushDropped.Inc()
			s.log.Warn().Int64("user", userID).Msg("push queue full, notification dropped")
		}
	}
}
