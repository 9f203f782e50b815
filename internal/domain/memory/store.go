package memory

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionRequired is returned when a session id is empty.
var ErrSessionRequired = errors.New("session id is required")

type session struct {
	// lock holds one token while a request of this session is in flight.
	lock   chan struct{}
	window *Window

	// Guarded by Store.mu. A session with holders is never pruned.
	holders  int
	lastUsed time.Time
}

// Store owns one Window per session. Requests of the same session are
// serialized through Acquire; different sessions never share a lock.
// Sessions idle for longer than the idle timeout are dropped on the next
// Acquire, so abandoned conversations need no explicit End.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	capacity int
	idle     time.Duration
	now      func() time.Time
}

// NewStore creates a store whose windows hold capacity turns.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &Store{
		sessions: make(map[string]*session),
		capacity: capacity,
		now:      time.Now,
	}
}

// WithIdleTimeout sets how long an unused session window is kept.
// Zero keeps windows until End.
func (s *Store) WithIdleTimeout(d time.Duration) *Store {
	s.idle = d
	return s
}

// WithClock replaces the time source (for tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Acquire waits until the caller is the only writer of the session's window
// and returns it along with a release func. The window is created on first use.
func (s *Store) Acquire(ctx context.Context, sessionID string) (*Window, func(), error) {
	if sessionID == "" {
		return nil, nil, ErrSessionRequired
	}

	s.mu.Lock()
	now := s.now()
	s.prune(now)
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{
			lock:   make(chan struct{}, 1),
			window: NewWindow(s.capacity),
		}
		s.sessions[sessionID] = sess
	}
	sess.holders++
	sess.lastUsed = now
	s.mu.Unlock()

	select {
	case sess.lock <- struct{}{}:
	case <-ctx.Done():
		s.done(sess)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-sess.lock
			s.done(sess)
		})
	}
	return sess.window, release, nil
}

func (s *Store) done(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.holders--
	sess.lastUsed = s.now()
}

// prune drops idle sessions. Caller holds s.mu.
func (s *Store) prune(now time.Time) {
	if s.idle <= 0 {
		return
	}
	for id, sess := range s.sessions {
		if sess.holders == 0 && now.Sub(sess.lastUsed) > s.idle {
			delete(s.sessions, id)
		}
	}
}

// Snapshot returns a copy of the session's turns without creating a window.
func (s *Store) Snapshot(ctx context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	window, release, err := s.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return window.Snapshot(), nil
}

// End discards the session's window. A request still holding the old
// window finishes against it; the next request starts empty.
func (s *Store) End(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok
}

// Sessions returns the number of live session windows.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Capacity returns the per-session window capacity.
func (s *Store) Capacity() int { return s.capacity }
