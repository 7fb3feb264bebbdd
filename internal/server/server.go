// Package server is the connection and dispatch core: it accepts TCP
// clients, walks each connection through the staged-then-authenticated
// lifecycle, dispatches typed requests, routes messages to direct peers
// and group members, and feeds the push queue for absent recipients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Voltline/Betterfly-Server-Go/internal/codec"
	"github.com/Voltline/Betterfly-Server-Go/internal/config"
	"github.com/Voltline/Betterfly-Server-Go/internal/push"
	"github.com/Voltline/Betterfly-Server-Go/internal/session"
	"github.com/Voltline/Betterfly-Server-Go/internal/store"
)

const (
	// recvBufSize bounds one read from a client socket; a batch may
	// hold several concatenated frames.
	recvBufSize = 40960

	// dispatchWorkers is the size of the pool servicing authenticated
	// traffic.
	dispatchWorkers = 16

	initQueueCap     = 256
	dispatchQueueCap = 256
	closeQueueCap    = 512
	pushQueueCap     = 4096
)

// Store is the persistence surface the dispatcher consumes. The
// production implementation calls MySQL stored procedures; tests
// substitute fakes.
type Store interface {
	Login(ctx context.Context, userID int64, name, lastLogin string) error
	QueryUser(ctx context.Context, userID int64) (string, error)
	QueryUserName(ctx context.Context, userID int64) (string, error)
	InsertContact(ctx context.Context, userID, contactID int64) error
	QueryGroup(ctx context.Context, groupID int64) (string, error)
	InsertGroup(ctx context.Context, groupID int64, name string) error
	InsertGroupUser(ctx context.Context, groupID, userID int64) error
	GroupMembers(ctx context.Context, groupID int64) ([]int64, error)
	InsertMessage(ctx context.Context, from, to int64, ts, text, msgType string, isGroup bool) error
	SyncMessages(ctx context.Context, userID int64, lastLogin string) ([]store.MessageRow, error)
	QueryFile(ctx context.Context, hash, suffix string) (bool, error)
	InsertFile(ctx context.Context, hash, suffix string) error
	InsertAPNsToken(ctx context.Context, userID int64, token string) error
	APNsTokens(ctx context.Context, userID int64) ([]string, error)
	DeleteAPNsToken(ctx context.Context, userID int64, token string) error
	UpdateUserAvatar(ctx context.Context, userID int64, avatar string) error
	UpdateGroupAvatar(ctx context.Context, groupID int64, avatar string) error
}

// ObjectStore issues presigned transfer URLs for file requests.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// frameBatch is one read from a client socket, routed to the initialize
// queue or the dispatch pool. The producer pump blocks on done so a
// descriptor is never handled by two workers at once.
type frameBatch struct {
	fd   int
	data []byte
	done chan struct{}
}

// closeTask asks the disconnect worker to tear a descriptor down;
// abnormal suppresses the goodbye frame.
type closeTask struct {
	fd       int
	abnormal bool
}

// Server owns the listener, the session registry, and the worker set.
type Server struct {
	addr        string
	metricsAddr string
	log         zerolog.Logger

	db      Store
	objects ObjectStore
	pusher  push.Gateway

	codec    *codec.Codec
	sessions *session.Registry

	ln         net.Listener
	metricsSrv *http.Server
	nextFD     atomic.Int64

	initQ     chan frameBatch
	dispatchQ chan frameBatch
	closeQ    chan closeTask
	pushQ     chan push.Task

	// pumps covers the accept loop and per-connection read pumps;
	// frontWG the initialize and dispatch workers; backWG the
	// disconnect and push workers. Shutdown drains them in that order
	// so queue closes never race their producers.
	pumps   sync.WaitGroup
	frontWG sync.WaitGroup
	backWG  sync.WaitGroup

	quit     chan struct{}
	stopOnce sync.Once
}

// Option adjusts server construction.
type Option func(*Server)

// WithCipher installs a symmetric frame cipher shared with the clients.
func WithCipher(c codec.Cipher) Option {
	return func(s *Server) { s.codec = codec.New(c) }
}

// New assembles a server around its collaborators.
func New(cfg config.ServerConfig, db Store, objects ObjectStore, pusher push.Gateway, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:        cfg.Addr(),
		metricsAddr: cfg.MetricsAddr,
		log:         logger,
		db:          db,
		objects:     objects,
		pusher:      pusher,
		codec:       codec.New(nil),
		sessions:    session.NewRegistry(),
		initQ:       make(chan frameBatch, initQueueCap),
		dispatchQ:   make(chan frameBatch, dispatchQueueCap),
		closeQ:      make(chan closeTask, closeQueueCap),
		pushQ:       make(chan push.Task, pushQueueCap),
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and launches the worker set. It returns once
// the server is accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln

	s.frontWG.Add(1 + dispatchWorkers)
	go s.initWorker()
	for i := 0; i < dispatchWorkers; i++ {
		go s.dispatchWorker()
	}
	s.backWG.Add(2)
	go s.closeWorker()
	go s.pushWorker()

	s.pumps.Add(1)
	go s.acceptLoop()

	if s.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsSrv = &http.Server{Addr: s.metricsAddr, Handler: mux}
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	s.log.Info().Str("addr", ln.Addr().String()).Msg("betterfly server listening")
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown closes every session with a goodbye, drains the queues, and
// joins the workers. Order matters: pumps stop producing before the
// front queues close, and the front workers stop before the close and
// push queues do.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		s.ln.Close()

		for _, e := range s.sessions.SnapshotStaged() {
			s.closeQ <- closeTask{fd: e.FD}
		}
		for _, e := range s.sessions.SnapshotAuthenticated() {
			s.closeQ <- closeTask{fd: e.FD}
		}

		if err = waitCtx(ctx, &s.pumps); err != nil {
			return
		}
		close(s.initQ)
		close(s.dispatchQ)
		if err = waitCtx(ctx, &s.frontWG); err != nil {
			return
		}
		close(s.closeQ)
		close(s.pushQ)
		if err = waitCtx(ctx, &s.backWG); err != nil {
			return
		}
		if s.metricsSrv != nil {
			err = s.metricsSrv.Shutdown(ctx)
		}
		s.log.Info().Msg("betterfly server stopped")
	})
	return err
}

// acceptLoop assigns descriptor ids, stages connections, and hands each
// one to its read pump. It performs no client I/O itself.
func (s *Server) acceptLoop() {
	defer s.pumps.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		fd := int(s.nextFD.Add(1))
		sid := uuid.NewString()
		s.sessions.Stage(fd, sid, conn)
		metricConnsAccepted.Inc()
		s.updateSessionGauges()
		s.log.Info().Int("fd", fd).Str("sid", sid).Str("peer", conn.RemoteAddr().String()).Msg("connection accepted")

		s.pumps.Add(1)
		go s.readPump(fd, conn)
	}
}

// readPump owns all reads for one descriptor. Each batch is routed by
// the current lifecycle stage and the pump waits for its completion, so
// frames from one connection are processed strictly in arrival order.
func (s *Server) readPump(fd int, conn net.Conn) {
	defer s.pumps.Done()
	buf := make([]byte, recvBufSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.enqueueClose(fd, true)
			return
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		batch := frameBatch{fd: fd, data: data, done: make(chan struct{})}
		switch {
		case s.sessions.IsStaged(fd):
			s.initQ <- batch
		default:
			if _, ok := s.sessions.LookupByFd(fd); !ok {
				s.log.Warn().Int("fd", fd).Msg("read from unregistered descriptor")
				return
			}
			s.dispatchQ <- batch
		}
		<-batch.done
	}
}

func (s *Server) enqueueClose(fd int, abnormal bool) {
	s.closeQ <- closeTask{fd: fd, abnormal: abnormal}
}

func (s *Server) updateSessionGauges() {
	staged, authenticated := s.sessions.Counts()
	metricSessionsStaged.Set(float64(staged))
	metricSessionsAuthenticated.Set(float64(authenticated))
}

// waitCtx joins a WaitGroup unless the context gives up first.
func waitCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
