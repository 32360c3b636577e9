// Package credential extracts and produces the transport-level secrets that
// identify a caller: session headers, session cookies, the internal
// pre-shared key and forwarded agent claims.
package credential

// Names are the header and cookie names carrying session credentials.
// Header lookups go through http.Header and are case-insensitive.
type Names struct {
	// SessionID names both the session id header and the session id cookie.
	SessionID string
	// SessionKey names the cookie carrying the session key.
	SessionKey string
	// APIKey names the header carrying the api key.
	APIKey string
	// LoggedIn names the script-readable cookie flagging a signed-in browser.
	LoggedIn string
}

// DefaultNames returns the names used when none are configured.
func DefaultNames() Names {
	return Names{
		SessionID:  "session_id",
		SessionKey: "session_key",
		APIKey:     "x-api-key",
		LoggedIn:   "logged_in",
	}
}
