package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/Voltline/Betterfly-Server-Go/internal/message"
	"github.com/Voltline/Betterfly-Server-Go/internal/push"
	"github.com/Voltline/Betterfly-Server-Go/internal/session"
)

// initWorker serialises every staged-connection batch through one
// goroutine, so two logins for the same user cannot race each other.
func (s *Server) initWorker() {
	defer s.frontWG.Done()
	for batch := range s.initQ {
		s.initialize(batch)
		close(batch.done)
	}
}

// initialize authenticates a staged connection from its first batch.
// The first Login frame wins; anything else tears the connection down
// without a welcome.
func (s *Server) initialize(batch frameBatch) {
	frames, err := s.codec.Decode(batch.data)
	if err != nil {
		s.log.Warn().Int("fd", batch.fd).Err(err).Msg("undecodable staging batch")
		s.enqueueClose(batch.fd, false)
		return
	}

	var login *message.Login
	for _, f := range frames {
		req, err := message.Parse(f)
		if err != nil {
			continue
		}
		if l, ok := req.(message.Login); ok {
			login = &l
			break
		}
	}
	if login == nil || login.From == 0 {
		s.log.Info().Int("fd", batch.fd).Msg("staged connection sent no usable login")
		s.enqueueClose(batch.fd, false)
		return
	}

	entry, err := s.sessions.Promote(batch.fd, login.From, login.Name)
	if errors.Is(err, session.ErrDuplicateUser) {
		s.log.Warn().Int64("user", login.From).Int("fd", batch.fd).Msg("user already online, refusing login")
		metricLoginsRejected.Inc()
		if e := s.sessions.LookupStaged(batch.fd); e != nil {
			s.writeTo(e, message.Refused())
		}
		s.enqueueClose(batch.fd, false)
		return
	}
	if err != nil {
		s.log.Warn().Int("fd", batch.fd).Err(err).Msg("promote failed")
		return
	}
	metricLogins.Inc()
	s.updateSessionGauges()
	s.log.Info().Int64("user", login.From).Str("name", login.Name).Int("fd", batch.fd).Msg("user authenticated")

	welcome := message.ServerText(fmt.Sprintf("Welcome to Betterfly, %s!", login.Name))
	if err := s.writeTo(entry, welcome); err != nil {
		s.enqueueClose(batch.fd, true)
		return
	}

	// Persistence failures must not cost the client its session; the
	// login upsert and token insert are recorded and skipped.
	ctx := context.Background()
	lastLogin := message.FormatTime(login.LastLogin)
	if err := s.db.Login(ctx, login.From, login.Name, lastLogin); err != nil {
		s.log.Warn().Err(err).Int64("user", login.From).Msg("login upsert failed")
	}
	if login.APNsToken != "" {
		if err := s.db.InsertAPNsToken(ctx, login.From, login.APNsToken); err != nil {
			s.log.Warn().Err(err).Int64("user", login.From).Msg("login token insert failed")
		}
	}

	s.syncOffline(entry, lastLogin)
}

// syncOffline replays rows persisted since the client's previous login,
// oldest first, on the freshly authenticated connection. Replayed posts
// never trigger pushes.
func (s *Server) syncOffline(e *session.Entry, lastLogin string) {
	rows, err := s.db.SyncMessages(context.Background(), e.UserID, lastLogin)
	if err != nil {
		s.log.Warn().Err(err).Int64("user", e.UserID).Msg("offline sync failed")
		return
	}
	for _, row := range rows {
		resp := message.SyncPost(row.From, row.To, row.Timestamp, row.Text, row.MsgType, row.IsGroup)
		if err := s.writeTo(e, resp); err != nil {
			s.enqueueClose(e.FD, true)
			return
		}
		metricSyncReplayed.Inc()
	}
	if len(rows) > 0 {
		s.log.Info().Int("count", len(rows)).Int64("user", e.UserID).Msg("offline messages replayed")
	}
}

// dispatchWorker services authenticated batches from the shared pool.
func (s *Server) dispatchWorker() {
	defer s.frontWG.Done()
	for batch := range s.dispatchQ {
		s.dispatchBatch(batch)
		close(batch.done)
	}
}

// closeWorker serialises teardown so a double disconnect is harmless.
func (s *Server) closeWorker() {
	defer s.backWG.Done()
	for task := range s.closeQ {
		s.closeConn(task.fd, task.abnormal)
	}
}

func (s *Server) closeConn(fd int, abnormal bool) {
	entry, wasAuthenticated := s.sessions.DropByFd(fd)
	if entry == nil {
		return
	}
	if !abnormal {
		// Best effort; the peer may already be gone.
		s.writeTo(entry, message.ServerText("Goodbye!"))
	}
	entry.Close()
	s.updateSessionGauges()
	if wasAuthenticated {
		s.log.Info().Int("fd", fd).Int64("user", entry.UserID).Bool("abnormal", abnormal).Msg("session closed")
	} else {
		s.log.Info().Int("fd", fd).Bool("abnormal", abnormal).Msg("staged connection closed")
	}
}

// pushWorker drains the notification queue. Tokens Apple reports as
// dead are purged so they are never tried again.
func (s *Server) pushWorker() {
	defer s.backWG.Done()
	for task := range s.pushQ {
		switch s.pusher.Send(task) {
		case push.OK:
			metricPushSent.Inc()
		case push.InvalidToken:
			metricPushInvalidToken.Inc()
			if err := s.db.DeleteAPNsToken(context.Background(), task.UserID, task.Token); err != nil {
				s.log.Warn().Err(err).Int64("user", task.UserID).Msg("dead token purge failed")
			}
		case push.Transient:
			metricPushFailed.Inc()
		}
	}
}

// writeTo marshals, encodes, and writes one response frame to a session.
func (s *Server) writeTo(e *session.Entry, resp *message.Response) error {
	raw, err := resp.Bytes()
	if err != nil {
		return err
	}
	frame, err := s.codec.Encode(raw)
	if err != nil {
		return err
	}
	return e.Write(frame)
}
