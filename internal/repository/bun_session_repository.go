package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/gatehouse/internal/db/models"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

// BunSessionRepository implements SessionRepository using Bun ORM
type BunSessionRepository struct {
	db         *bun.DB
	now        func() time.Time
	pruneAfter time.Duration
}

// BunSessionOption configures a BunSessionRepository.
type BunSessionOption func(*BunSessionRepository)

// WithPruneOnInsert makes Insert also delete the agent's sessions that have
// been idle for ttl or longer, in the same transaction.
func WithPruneOnInsert(ttl time.Duration) BunSessionOption {
	return func(r *BunSessionRepository) { r.pruneAfter = ttl }
}

// WithSessionClock replaces time.Now when computing expiry cutoffs.
func WithSessionClock(now func() time.Time) BunSessionOption {
	return func(r *BunSessionRepository) { r.now = now }
}

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB, opts ...BunSessionOption) *BunSessionRepository {
	r := &BunSessionRepository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ SessionRepository = (*BunSessionRepository)(nil)

func toModel(rec session.Record) *models.Session {
	return &models.Session{
		SessionID:      rec.SessionID,
		AgentID:        rec.AgentID,
		Perspective:    int(rec.Perspective),
		SessionKeyHash: rec.SessionKeyHash,
		APIKeyHash:     rec.APIKeyHash,
		Created:        rec.Created.UTC(),
		LastUtilised:   rec.LastUtilised.UTC(),
	}
}

func toRecord(m *models.Session) session.Record {
	return session.Record{
		SessionID:      m.SessionID,
		AgentID:        m.AgentID,
		Perspective:    session.Perspective(m.Perspective),
		SessionKeyHash: m.SessionKeyHash,
		APIKeyHash:     m.APIKeyHash,
		Created:        m.Created,
		LastUtilised:   m.LastUtilised,
	}
}

// Insert persists a new session inside a transaction.
func (r *BunSessionRepository) Insert(ctx context.Context, rec session.Record) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if r.pruneAfter > 0 {
			if _, err := tx.NewDelete().
				Model((*models.Session)(nil)).
				Where("agent_id = ?", rec.AgentID).
				Where("last_utilised <= ?", r.now().Add(-r.pruneAfter).UTC()).
				Exec(ctx); err != nil {
				return fmt.Errorf("prune agent sessions: %w", err)
			}
		}
		if _, err := tx.NewInsert().Model(toModel(rec)).Exec(ctx); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

// Retrieve returns the session if it was used within ttl.
func (r *BunSessionRepository) Retrieve(ctx context.Context, sessionID string, ttl time.Duration) (*session.Record, error) {
	m := new(models.Session)
	err := r.db.NewSelect().
		Model(m).
		Where("session_id = ?", sessionID).
		Where("last_utilised > ?", r.now().Add(-ttl).UTC()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	rec := toRecord(m)
	return &rec, nil
}

// Touch advances last_utilised.
func (r *BunSessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("last_utilised = ?", at.UTC()).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (r *BunSessionRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns sessions, most recently used first.
func (r *BunSessionRepository) List(ctx context.Context, agentID string) ([]session.Record, error) {
	var rows []models.Session
	q := r.db.NewSelect().Model(&rows).Order("last_utilised DESC")
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]session.Record, len(rows))
	for i := range rows {
		out[i] = toRecord(&rows[i])
	}
	return out, nil
}

// DeleteExpired deletes all sessions idle for ttl or longer.
// Should be run periodically by a cleanup job
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, ttl time.Duration) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("last_utilised <= ?", r.now().Add(-ttl).UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(n), nil
}
