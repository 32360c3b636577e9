package sdk

import "time"

type signinInput struct {
	Email       string `json:"email"`
	Passphrase  string `json:"passphrase"`
	Perspective *int   `json:"perspective,omitempty"`
}

// Credentials are the header-mode secrets of a session.
type Credentials struct {
	SessionID   string `json:"session_id"`
	APIKey      string `json:"api_key"`
	AgentID     string `json:"agent_id"`
	Perspective int    `json:"perspective"`
}

// Profile is an agent as the server presents it to the caller. Email is
// empty unless the caller may see it.
type Profile struct {
	AgentID string    `json:"agent_id"`
	Email   string    `json:"email,omitempty"`
	Created time.Time `json:"created"`
}
