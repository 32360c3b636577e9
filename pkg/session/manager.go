package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
	"go.uber.org/zap"
)

// ErrUnknownEmail is returned by a SecretStore with no secret for an email.
var ErrUnknownEmail = errors.New("no secret for email")

// Secret is an agent's stored passphrase hash.
type Secret struct {
	AgentID        string
	PassphraseHash string
}

// SecretStore looks up passphrase hashes by email address. Emails are
// compared in lower case.
type SecretStore interface {
	SecretForEmail(ctx context.Context, email string) (*Secret, error)
}

// Manager creates and deletes sessions.
type Manager struct {
	store   Store
	secrets SecretStore
	logger  *zap.Logger
	now     func() time.Time
	params  credential.PassphraseParams

	dummyOnce sync.Once
	dummyHash string
	dummyErr  error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithPassphraseParams sets the parameters of the hash verified when an
// email is unknown, so that path costs the same as a real verification.
// They should match the parameters stored secrets were hashed with.
func WithPassphraseParams(p credential.PassphraseParams) ManagerOption {
	return func(m *Manager) { m.params = p }
}

// NewManager returns a Manager persisting to store and verifying
// passphrases against secrets.
func NewManager(store Store, secrets SecretStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		secrets: secrets,
		logger:  zap.NewNop(),
		now:     time.Now,
		params:  credential.DefaultPassphraseParams(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// unknownEmailHash returns the hash verified against when an email has no
// secret. It is computed on first use.
func (m *Manager) unknownEmailHash() (string, error) {
	m.dummyOnce.Do(func() {
		m.dummyHash, m.dummyErr = credential.HashPassphrase("", m.params)
	})
	return m.dummyHash, m.dummyErr
}

// Create verifies the passphrase for email and opens a session under
// perspective. Unknown emails and wrong passphrases both fail with
// NotAuthenticated.
func (m *Manager) Create(ctx context.Context, email, passphrase string, perspective Perspective) (*Issued, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	secret, err := m.secrets.SecretForEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUnknownEmail) {
		return nil, fmt.Errorf("retrieve secret: %w", err)
	}

	var hash string
	if secret != nil {
		hash = secret.PassphraseHash
	} else if hash, err = m.unknownEmailHash(); err != nil {
		return nil, fmt.Errorf("hash passphrase: %w", err)
	}
	ok, verr := credential.VerifyPassphrase(passphrase, hash)
	if verr != nil {
		return nil, fmt.Errorf("verify passphrase: %w", verr)
	}
	if secret == nil || !ok {
		m.logger.Info("sign-in rejected", zap.Bool("known_email", secret != nil))
		return nil, httperr.NotAuthenticated("email or passphrase incorrect")
	}

	return m.Open(ctx, agent.New(secret.AgentID), perspective)
}

// Open mints a session for a without checking a passphrase. It is the
// building block for Create and for trusted callers such as the CLI.
func (m *Manager) Open(ctx context.Context, a agent.Agent, perspective Perspective) (*Issued, error) {
	if !a.HasID() {
		return nil, fmt.Errorf("open session: agent has no id")
	}

	sessionID, err := credential.RandomToken(credential.SessionIDBytes)
	if err != nil {
		return nil, err
	}
	sessionKey, err := credential.RandomToken(credential.SecretBytes)
	if err != nil {
		return nil, err
	}
	apiKey, err := credential.RandomToken(credential.SecretBytes)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	rec := Record{
		SessionID:      sessionID,
		AgentID:        a.ID(),
		Perspective:    perspective,
		SessionKeyHash: credential.HashToken(sessionKey),
		APIKeyHash:     credential.HashToken(apiKey),
		Created:        now,
		LastUtilised:   now,
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.logger.Info("session created",
		zap.String("session_id", credential.Mask(sessionID)),
		zap.String("agent_id", a.ID()),
		zap.Int("perspective", int(perspective)),
	)
	return &Issued{
		Session:    fromRecord(&rec),
		SessionKey: sessionKey,
		APIKey:     apiKey,
	}, nil
}

// Delete removes the session. Later lookups of its id find nothing.
func (m *Manager) Delete(ctx context.Context, s *Session) error {
	if err := m.store.Delete(ctx, s.ID()); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.Info("session deleted", zap.String("session_id", credential.Mask(s.ID())))
	return nil
}
