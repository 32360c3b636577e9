package repository

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/gatehouse/internal/db/models"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

// ErrAgentNotFound is returned when no agent matches a lookup.
var ErrAgentNotFound = errors.New("agent not found")

// ErrEmailTaken is returned when creating an agent whose email is in use.
var ErrEmailTaken = errors.New("email already registered")

// SessionRepository is a session.Store with the administrative operations
// the CLI needs.
type SessionRepository interface {
	session.Store

	// List returns every stored session, most recently used first. An empty
	// agentID lists all agents.
	List(ctx context.Context, agentID string) ([]session.Record, error)

	// DeleteExpired removes sessions idle for ttl or longer and reports how
	// many were removed.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// AgentRepository persists agents and serves their passphrase hashes to
// session.Manager.
type AgentRepository interface {
	session.SecretStore

	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	GetByEmail(ctx context.Context, email string) (*models.Agent, error)
}
