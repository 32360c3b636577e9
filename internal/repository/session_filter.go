package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-bexpr"

	"github.com/terraconstructs/gatehouse/pkg/session"
)

// SessionFilter selects listed sessions with a boolean expression over
// these fields:
//
//	session_id        string
//	agent_id          string
//	perspective       int
//	perspective_name  string
//	status            "active" or "expired"
//	expired           bool
//
// For example: agent_id == "alice" and perspective == 2
type SessionFilter struct {
	evaluator    *bexpr.Evaluator
	ttl          time.Duration
	perspectives map[session.Perspective]string
}

// NewSessionFilter compiles expr. An empty expression matches every session.
// ttl decides which sessions count as expired and perspectives supplies
// perspective_name.
func NewSessionFilter(expr string, ttl time.Duration, perspectives map[session.Perspective]string) (*SessionFilter, error) {
	f := &SessionFilter{ttl: ttl, perspectives: perspectives}
	if strings.TrimSpace(expr) == "" {
		return f, nil
	}
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	f.evaluator = evaluator
	return f, nil
}

// Apply returns the records matching the filter as of now, in their
// original order.
func (f *SessionFilter) Apply(records []session.Record, now time.Time) ([]session.Record, error) {
	if f.evaluator == nil {
		return records, nil
	}
	var out []session.Record
	for _, rec := range records {
		ok, err := f.evaluator.Evaluate(f.fields(rec, now))
		if err != nil {
			return nil, fmt.Errorf("evaluate filter: %w", err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Expired reports whether rec has been idle for the filter's ttl or longer.
func (f *SessionFilter) Expired(rec session.Record, now time.Time) bool {
	return now.Sub(rec.LastUtilised) >= f.ttl
}

func (f *SessionFilter) fields(rec session.Record, now time.Time) map[string]any {
	expired := f.Expired(rec, now)
	status := "active"
	if expired {
		status = "expired"
	}
	return map[string]any{
		"session_id":       rec.SessionID,
		"agent_id":         rec.AgentID,
		"perspective":      int(rec.Perspective),
		"perspective_name": f.perspectives[rec.Perspective],
		"status":           status,
		"expired":          expired,
	}
}
