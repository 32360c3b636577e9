// Package session resolves inbound requests to authenticated sessions and
// manages their lifecycle.
//
// A request either resolves to a complete Session or to nothing; there is no
// partially valid session. Session secrets are stored only as SHA-256
// digests and compared in constant time.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/gatehouse/pkg/agent"
)

// ErrNotFound is returned by a Store when no live session has the given id.
var ErrNotFound = errors.New("session not found")

// Perspective is the coarse role context a session was opened under.
type Perspective int

// Record is the persisted form of a session.
type Record struct {
	SessionID      string
	AgentID        string
	Perspective    Perspective
	SessionKeyHash string
	APIKeyHash     string
	Created        time.Time
	LastUtilised   time.Time
}

// Store persists session records. Retrieve must apply the expiry window
// itself: a record whose LastUtilised is ttl or more in the past is
// reported as ErrNotFound.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Retrieve(ctx context.Context, sessionID string, ttl time.Duration) (*Record, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Delete(ctx context.Context, sessionID string) error
}

// Session is an authenticated session bound to one agent. It is immutable.
type Session struct {
	id           string
	agent        agent.Agent
	perspective  Perspective
	created      time.Time
	lastUtilised time.Time
}

func fromRecord(rec *Record) *Session {
	return &Session{
		id:           rec.SessionID,
		agent:        agent.New(rec.AgentID),
		perspective:  rec.Perspective,
		created:      rec.Created,
		lastUtilised: rec.LastUtilised,
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Agent() agent.Agent { return s.agent }
func (s *Session) Perspective() Perspective { return s.perspective }
func (s *Session) Created() time.Time { return s.created }
func (s *Session) LastUtilised() time.Time { return s.lastUtilised }

// Issued is a freshly created session together with its plaintext secrets.
// The secrets exist only here; the store keeps digests.
type Issued struct {
	*Session
	SessionKey string
	APIKey     string
}

type sessionContextKey struct{}

// WithContext stores the resolved session on ctx.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session stored by WithContext, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}
