// Package confirmation implements the two-phase protocol that guards
// privileged writes: a pending request is created, then confirmed or
// cancelled exactly once.
package confirmation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlgate/internal/domain/query"
)

// Status of a confirmation request. Every status but Pending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) Terminal() bool { return s != StatusPending }

var (
	ErrNotFound        = errors.New("confirmation request not found")
	ErrNotPending      = errors.New("confirmation request is no longer pending")
	ErrExpired         = errors.New("confirmation request expired")
	ErrSessionMismatch = errors.New("confirmation request belongs to another session")
)

// DefaultRetention is how long terminal requests are kept so that late
// replies observe the terminal state instead of ErrNotFound.
const DefaultRetention = 15 * time.Minute

// Request is a pending privileged operation awaiting an explicit reply.
type Request struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Statement   query.Statement `json:"-"`
	Question    string          `json:"question"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	// ExpiresAt is nil when no timeout is configured.
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Status     Status     `json:"status"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Gate stores confirmation requests and serializes their transitions.
// Expiry is evaluated whenever a request is accessed; there is no sweeper.
type Gate struct {
	mu        sync.Mutex
	requests  map[string]*Request
	timeout   time.Duration
	retention time.Duration
	clock     func() time.Time
	newID     func() string
}

// NewGate creates a gate. A zero timeout disables expiry.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{
		requests:  make(map[string]*Request),
		timeout:   timeout,
		retention: DefaultRetention,
		clock:     time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// WithRetention overrides how long terminal requests are remembered.
func (g *Gate) WithRetention(d time.Duration) *Gate {
	g.retention = d
	return g
}

// Open creates a new pending request. Each call yields an independent
// request; nothing is carried over from earlier, cancelled ones.
func (g *Gate) Open(sessionID string, stmt query.Statement, question string) Request {
	now := g.clock()
	req := &Request{
		ID:          g.newID(),
		SessionID:   sessionID,
		Statement:   stmt,
		Question:    question,
		Description: describe(stmt),
		CreatedAt:   now,
		Status:      StatusPending,
	}
	if g.timeout > 0 {
		req.ExpiresAt = stamp(now.Add(g.timeout))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(now)
	g.requests[req.ID] = req
	return *req
}

// Get returns the current state of a request, expiring it if its deadline passed.
func (g *Gate) Get(id, sessionID string) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := g.lookup(id, sessionID)
	if err != nil {
		return Request{}, err
	}
	g.expire(req, g.clock())
	return *req, nil
}

// Confirm moves a pending request to Confirmed. Only one caller can succeed.
func (g *Gate) Confirm(id, sessionID string) (Request, error) {
	return g.transition(id, sessionID, StatusConfirmed)
}

// Cancel moves a pending request to Cancelled.
func (g *Gate) Cancel(id, sessionID string) (Request, error) {
	return g.transition(id, sessionID, StatusCancelled)
}

// Resolve confirms on an affirmative reply and cancels on anything else.
func (g *Gate) Resolve(id, sessionID, reply string) (Request, error) {
	if IsAffirmative(reply) {
		return g.Confirm(id, sessionID)
	}
	return g.Cancel(id, sessionID)
}

func (g *Gate) transition(id, sessionID string, to Status) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := g.lookup(id, sessionID)
	if err != nil {
		return Request{}, err
	}

	now := g.clock()
	if g.expire(req, now) {
		return *req, ErrExpired
	}
	if req.Status.Terminal() {
		return *req, fmt.Errorf("%w (status=%s)", ErrNotPending, req.Status)
	}

	req.Status = to
	req.ResolvedAt = stamp(now)
	return *req, nil
}

func (g *Gate) lookup(id, sessionID string) (*Request, error) {
	req, ok := g.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return req, nil
}

// expire reports whether the request just transitioned to Expired.
func (g *Gate) expire(req *Request, now time.Time) bool {
	if req.Status != StatusPending || req.ExpiresAt == nil || !now.After(*req.ExpiresAt) {
		return false
	}
	req.Status = StatusExpired
	req.ResolvedAt = stamp(now)
	return true
}

func (g *Gate) prune(now time.Time) {
	for id, req := range g.requests {
		g.expire(req, now)
		if req.Status.Terminal() && req.ResolvedAt != nil && now.Sub(*req.ResolvedAt) > g.retention {
			delete(g.requests, id)
		}
	}
}

// Len returns the number of remembered requests.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

var affirmative = map[string]bool{
	"yes": true, "y": true, "confirm": true, "confirmed": true, "proceed": true,
}

// IsAffirmative reports whether a free-text reply is an explicit yes.
func IsAffirmative(reply string) bool {
	return affirmative[strings.ToLower(strings.Trim(strings.TrimSpace(reply), ".!"))]
}

// stamp returns a fresh pointer so copies handed to callers never alias gate state.
func stamp(t time.Time) *time.Time {
	return &t
}

func describe(stmt query.Statement) string {
	return "Pending operation: " + stmt.Describe()
}
