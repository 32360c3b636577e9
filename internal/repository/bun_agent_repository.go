package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/gatehouse/internal/db/bunx"
	"github.com/terraconstructs/gatehouse/internal/db/models"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

// BunAgentRepository implements AgentRepository using Bun ORM
type BunAgentRepository struct {
	db *bun.DB
}

// NewBunAgentRepository creates a new Bun-based agent repository
func NewBunAgentRepository(db *bun.DB) *BunAgentRepository {
	return &BunAgentRepository{db: db}
}

var _ AgentRepository = (*BunAgentRepository)(nil)

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new agent. An empty ID is filled with a UUIDv7 and the
// email is stored in lower case.
func (r *BunAgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = bunx.NewUUIDv7()
	}
	agent.Email = normaliseEmail(agent.Email)

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Agent)(nil)).
			Where("email = ?", agent.Email).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if exists {
			return ErrEmailTaken
		}
		if _, err := tx.NewInsert().Model(agent).Exec(ctx); err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		return nil
	})
}

// GetByID retrieves an agent by ID
func (r *BunAgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	agent := new(models.Agent)
	err := r.db.NewSelect().
		Model(agent).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// GetByEmail retrieves an agent by email, ignoring case.
func (r *BunAgentRepository) GetByEmail(ctx context.Context, email string) (*models.Agent, error) {
	agent := new(models.Agent)
	err := r.db.NewSelect().
		Model(agent).
		Where("email = ?", normaliseEmail(email)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent by email: %w", err)
	}
	return agent, nil
}

// SecretForEmail serves session.Manager's passphrase checks.
func (r *BunAgentRepository) SecretForEmail(ctx context.Context, email string) (*session.Secret, error) {
	agent, err := r.GetByEmail(ctx, email)
	if errors.Is(err, ErrAgentNotFound) {
		return nil, session.ErrUnknownEmail
	}
	if err != nil {
		return nil, err
	}
	return &session.Secret{AgentID: agent.ID, PassphraseHash: agent.PassphraseHash}, nil
}
