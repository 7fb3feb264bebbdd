// Package session tracks live client connections through their
// two-stage lifecycle: staged on accept, authenticated after Login.
package session

import (
	"errors"
	"net"
	"sync"
	"time"
)

// writeTimeout bounds a single frame write so one wedged peer cannot
// stall a dispatch worker.
const writeTimeout = 10 * time.Second

// ErrDuplicateUser reports a Login for a user id that already has a
// live session.
var ErrDuplicateUser = errors.New("session: user already connected")

// ErrNotStaged reports a promotion for a descriptor that is not in the
// staging table, usually because a disconnect won the race.
var ErrNotStaged = errors.New("session: descriptor not staged")

// Entry is one live connection. FD is the synthetic descriptor id
// assigned on accept; SID correlates log lines across the workers.
type Entry struct {
	FD       int
	SID      string
	UserID   int64
	Name     string
	Addr     net.Addr
	LastSeen time.Time

	conn net.Conn
	wmu  sync.Mutex
}

// Write sends raw bytes on the connection. Writes are serialised per
// entry because dispatch workers share recipient sockets, and bounded
// by a deadline.
func (e *Entry) Write(p []byte) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := e.conn.Write(p)
	e.conn.SetWriteDeadline(time.Time{})
	return err
}

// Close closes the underlying connection.
func (e *Entry) Close() error {
	return e.conn.Close()
}

// Registry is the two-stage session table. Its three indices (staged
// by fd, authenticated by user id, fd to user id) evolve together
// under one lock. A descriptor lives in exactly one of the two stages.
type Registry struct {
	mu       sync.RWMutex
	staged   map[int]*Entry
	users    map[int64]*Entry
	fdToUser map[int]int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		staged:   make(map[int]*Entry),
		users:    make(map[int64]*Entry),
		fdToUser: make(map[int]int64),
	}
}

// Stage records a freshly accepted connection awaiting Login.
func (r *Registry) Stage(fd int, sid string, conn net.Conn) *Entry {
	e := &Entry{
		FD:       fd,
		SID:      sid,
		Addr:     conn.RemoteAddr(),
		LastSeen: time.Now(),
		conn:     conn,
	}
	r.mu.Lock()
	r.staged[fd] = e
	r.mu.Unlock()
	return e
}

// Promote moves a staged descriptor into the authenticated table. The
// entry stays staged when the user id is already connected, so the
// caller can reject the newcomer without touching the existing session.
func (r *Registry) Promote(fd int, userID int64, name string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.staged[fd]
	if !ok {
		return nil, ErrNotStaged
	}
	if _, exists := r.users[userID]; exists {
		return nil, ErrDuplicateUser
	}

	delete(r.staged, fd)
	e.UserID = userID
	e.Name = name
	e.LastSeen = time.Now()
	r.users[userID] = e
	r.fdToUser[fd] = userID
	return e, nil
}

// LookupByUser returns the authenticated entry for a user id, nil when
// the user has no live session.
func (r *Registry) LookupByUser(id int64) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[id]
}

// LookupByFd returns the authenticated user id behind a descriptor.
func (r *Registry) LookupByFd(fd int) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.fdToUser[fd]
	return id, ok
}

// IsStaged reports whether the descriptor still awaits Login.
func (r *Registry) IsStaged(fd int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.staged[fd]
	return ok
}

// LookupStaged returns the staged entry for a descriptor, nil when the
// descriptor is absent or already authenticated.
func (r *Registry) LookupStaged(fd int) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staged[fd]
}

// DropByFd removes the descriptor from whichever stage holds it and
// returns the abandoned entry, nil when already gone. The second value
// reports whether the entry was authenticated.
func (r *Registry) DropByFd(fd int) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.staged[fd]; ok {
		delete(r.staged, fd)
		return e, false
	}
	id, ok := r.fdToUser[fd]
	if !ok {
		return nil, false
	}
	e := r.users[id]
	delete(r.users, id)
	delete(r.fdToUser, fd)
	return e, true
}

// SnapshotAuthenticated copies the authenticated entries so fan-out can
// iterate without holding the lock.
func (r *Registry) SnapshotAuthenticated() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.users))
	for _, e := range r.users {
		out = append(out, e)
	}
	return out
}

// SnapshotStaged copies the staged entries.
func (r *Registry) SnapshotStaged() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.staged))
	for _, e := range r.staged {
		out = append(out, e)
	}
	return out
}

// Counts returns the staged and authenticated session counts.
func (r *Registry) Counts() (staged, authenticated int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.staged), len(r.users)
}
