package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Agent is a principal that can sign in with an email and passphrase.
type Agent struct {
	bun.BaseModel `bun:"table:agents,alias:a"`

	ID             string    `bun:"id,pk,type:varchar(36)"`
	Email          string    `bun:"email,notnull,unique"`
	PassphraseHash string    `bun:"passphrase_hash,notnull"` // argon2id encoded hash
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Session is a signed-in session. Secrets are stored as SHA-256 digests so a
// database read does not yield usable credentials.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	SessionID      string    `bun:"session_id,pk,type:varchar(32)"`
	AgentID        string    `bun:"agent_id,notnull,type:varchar(36)"` // FK to agents(id)
	Perspective    int       `bun:"perspective,notnull"`
	SessionKeyHash string    `bun:"session_key_hash,notnull"`
	APIKeyHash     string    `bun:"api_key_hash,notnull"`
	Created        time.Time `bun:"created,notnull"`
	LastUtilised   time.Time `bun:"last_utilised,notnull"`
}
