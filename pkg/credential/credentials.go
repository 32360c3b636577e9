package credential

import (
	"net/http"
	"strings"
)

// Mode identifies the transport a credential pair arrived on.
type Mode int

const (
	// ModeHeader credentials pair a session id with the api key, both sent as
	// custom request headers. Usable on any request.
	ModeHeader Mode = iota
	// ModeCookie credentials pair a session id with the session key, both sent
	// as cookies. Only usable on requests that cannot change state.
	ModeCookie
)

func (m Mode) String() string {
	if m == ModeCookie {
		return "cookie"
	}
	return "header"
}

// Credentials is a session id and the secret presented alongside it. It is
// either fully populated or absent, never partial.
type Credentials struct {
	SessionID string
	Secret    string
	Mode      Mode
}

// FromHeaders extracts header-mode credentials. It returns nil when either
// the session id or the api key header is missing or empty.
func FromHeaders(h http.Header, names Names) *Credentials {
	sessionID := strings.TrimSpace(h.Get(names.SessionID))
	apiKey := strings.TrimSpace(h.Get(names.APIKey))
	if sessionID == "" || apiKey == "" {
		return nil
	}
	return &Credentials{SessionID: sessionID, Secret: apiKey, Mode: ModeHeader}
}
