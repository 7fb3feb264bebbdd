package server

import (
	"context"
	"errors"
	"time"

	"github.com/Voltline/Betterfly-Server-Go/internal/message"
	"github.com/Voltline/Betterfly-Server-Go/internal/objstore"
	"github.com/Voltline/Betterfly-Server-Go/internal/push"
	"github.com/Voltline/Betterfly-Server-Go/internal/store"
)

// dispatchBatch decodes one authenticated batch and runs its frames in
// order. A malformed frame or a fatal handler error disconnects the
// client; a transient store error drops only the current operation.
func (s *Server) dispatchBatch(batch frameBatch) {
	userID, ok := s.sessions.LookupByFd(batch.fd)
	if !ok {
		return
	}
	frames, err := s.codec.Decode(batch.data)
	if err != nil {
		s.log.Warn().Int("fd", batch.fd).Int64("user", userID).Err(err).Msg("undecodable batch")
		s.enqueueClose(batch.fd, true)
		return
	}
	for _, f := range frames {
		req, err := message.Parse(f)
		if err != nil {
			s.log.Warn().Int64("user", userID).Err(err).Msg("malformed frame")
			s.enqueueClose(batch.fd, true)
			return
		}
		metricFramesDispatched.Inc()
		if stop := s.handle(batch.fd, userID, req); stop {
			return
		}
	}
}

func (s *Server) handle(fd int, userID int64, req message.Request) (stop bool) {
	var err error
	switch r := req.(type) {
	case message.Exit:
		s.enqueueClose(fd, false)
		return true
	case message.Post:
		err = s.handlePost(r)
	case message.QueryUser:
		err = s.handleQueryUser(r)
	case message.InsertContact:
		err = s.handleInsertContact(r)
	case message.QueryGroup:
		err = s.handleQueryGroup(r)
	case message.InsertGroup:
		err = s.handleInsertGroup(r)
	case message.InsertGroupUser:
		err = s.handleInsertGroupUser(r)
	case message.File:
		err = s.handleFile(r)
	case message.APNsToken:
		err = s.db.InsertAPNsToken(context.Background(), r.From, r.Token)
	case message.UpdateAvatar:
		err = s.handleUpdateAvatar(r)
	case message.Key:
		// Reserved for the key exchange handshake.
	case message.Login:
		s.log.Warn().Int64("user", userID).Msg("login on authenticated session ignored")
	case message.Unknown:
		s.log.Warn().Int64("user", userID).Int("type", r.Type).Msg("unknown request kind ignored")
	}

	if err != nil {
		if errors.Is(err, store.ErrTransient) {
			metricOpsDropped.Inc()
			s.log.Warn().Err(err).Int64("user", userID).Str("kind", req.Kind().String()).Msg("operation dropped")
			return false
		}
		s.log.Error().Err(err).Int64("user", userID).Str("kind", req.Kind().String()).Msg("handler failed")
		s.enqueueClose(fd, true)
		return true
	}
	return false
}

// handlePost re-stamps the message with server receipt time, persists
// it, then echoes to the sender and routes to the destination. Group
// posts fan out to the member list; to = -1 broadcasts to every online
// user except the sender.
func (s *Server) handlePost(r message.Post) error {
	now := time.Now()
	ts := message.FormatTime(now)
	if err := s.db.InsertMessage(context.Background(), r.From, r.To, ts, r.Text, r.MsgType, r.IsGroup); err != nil {
		return err
	}
	metricMessagesRouted.Inc()

	resp := message.NewPost(r.From, r.To, r.Name, r.Text, r.MsgType, r.IsGroup, now)
	opts := sendOptions{
		WithPush: true,
		Sender:   r.From,
		Title:    r.Name,
		Preview:  push.Preview(r.MsgType, r.Text),
	}
	if r.IsGroup {
		opts.IsGroup = true
		return s.send(r.To, resp, opts)
	}
	if err := s.send(r.From, resp, opts); err != nil {
		return err
	}
	if r.To != r.From {
		return s.send(r.To, resp, opts)
	}
	return nil
}

func (s *Server) handleQueryUser(r message.QueryUser) error {
	info, err := s.db.QueryUser(context.Background(), r.To)
	if err != nil {
		return err
	}
	return s.send(r.From, message.UserInfo(r.To, info), sendOptions{})
}

func (s *Server) handleQueryGroup(r message.QueryGroup) error {
	info, err := s.db.QueryGroup(context.Background(), r.To)
	if err != nil {
		return err
	}
	return s.send(r.From, message.GroupInfo(r.To, info, r.DuringAdd), sendOptions{})
}

// handleInsertContact records the contact pair and greets both ends
// with a hello post carrying the requester's display name.
func (s *Server) handleInsertContact(r message.InsertContact) error {
	ctx := context.Background()
	if err := s.db.InsertContact(ctx, r.From, r.To); err != nil {
		return err
	}
	name, err := s.db.QueryUserName(ctx, r.From)
	if err != nil {
		return err
	}
	hello := message.Hello(r.From, r.To, name, false, "Hello")
	if err := s.persistHello(hello); err != nil {
		return err
	}
	if err := s.send(r.From, hello, sendOptions{}); err != nil {
		return err
	}
	if r.To != r.From {
		return s.send(r.To, hello, sendOptions{})
	}
	return nil
}

// handleInsertGroup creates the group, enrols the creator, and
// announces the group to its members with a hello from user 0.
func (s *Server) handleInsertGroup(r message.InsertGroup) error {
	ctx := context.Background()
	if err := s.db.InsertGroup(ctx, r.To, r.Name); err != nil {
		return err
	}
	if err := s.db.InsertGroupUser(ctx, r.To, r.From); err != nil {
		return err
	}
	hello := message.Hello(0, r.To, r.Name, true, r.Name)
	if err := s.persistHello(hello); err != nil {
		return err
	}
	return s.send(r.To, hello, sendOptions{IsGroup: true})
}

// handleInsertGroupUser enrols the joiner and announces the join to the
// existing members.
func (s *Server) handleInsertGroupUser(r message.InsertGroupUser) error {
	ctx := context.Background()
	if err := s.db.InsertGroupUser(ctx, r.To, r.From); err != nil {
		return err
	}
	hello := message.Hello(r.From, r.To, "", true, "Hi")
	if err := s.persistHello(hello); err != nil {
		return err
	}
	return s.send(r.To, hello, sendOptions{IsGroup: true, Sender: r.From})
}

// persistHello stores a hello post so offline members still receive it
// through sync on their next login.
func (s *Server) persistHello(h *message.Response) error {
	return s.db.InsertMessage(context.Background(), *h.From, *h.To, h.Timestamp, *h.Msg, "text", *h.IsGroup)
}

// handleFile answers upload requests with a presigned PUT for unseen
// content and a dedup marker otherwise, and download requests with a
// presigned GET when the object is known.
func (s *Server) handleFile(r message.File) error {
	ctx := context.Background()
	exists, err := s.db.QueryFile(ctx, r.Hash, r.Suffix)
	if err != nil {
		return err
	}
	name := objstore.ObjectKey(r.Hash, r.Suffix)

	var resp *message.Response
	switch r.Op {
	case message.FileOpUpload:
		if exists {
			resp = message.Upload(name, "Existed")
		} else {
			if err := s.db.InsertFile(ctx, r.Hash, r.Suffix); err != nil {
				return err
			}
			url, err := s.objects.PresignUpload(ctx, name)
			if err != nil {
				return err
			}
			resp = message.Upload(name, url)
		}
	case message.FileOpDownload:
		if !exists {
			resp = message.Download(name, "Not Exist")
		} else {
			url, err := s.objects.PresignDownload(ctx, name)
			if err != nil {
				return err
			}
			resp = message.Download(name, url)
		}
	default:
		s.log.Warn().Int64("user", r.From).Str("op", r.Op).Msg("unknown file operation ignored")
		return nil
	}
	return s.send(r.From, resp, sendOptions{})
}

// handleUpdateAvatar stores the new avatar and pushes the refreshed
// profile: back to the user for a personal avatar, to every member for
// a group one.
func (s *Server) handleUpdateAvatar(r message.UpdateAvatar) error {
	ctx := context.Background()
	if r.IsGroup {
		if err := s.db.UpdateGroupAvatar(ctx, r.To, r.Avatar); err != nil {
			return err
		}
		info, err := s.db.QueryGroup(ctx, r.To)
		if err != nil {
			return err
		}
		return s.send(r.To, message.GroupInfo(r.To, info, false), sendOptions{IsGroup: true})
	}
	if err := s.db.UpdateUserAvatar(ctx, r.From, r.Avatar); err != nil {
		return err
	}
	info, err := s.db.QueryUser(ctx, r.From)
	if err != nil {
		return err
	}
	return s.send(r.From, message.UserInfo(r.From, info), sendOptions{})
}
