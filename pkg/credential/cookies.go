package credential

import (
	"errors"
	"net/http"
	"strings"

	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

// ErrCookieModeForbidden is returned when cookie credentials are requested
// for a request that may change state. Ambient cookies are open to
// cross-site request forgery, so such requests must use header credentials.
var ErrCookieModeForbidden = errors.New("cookie credentials cannot authenticate a request that may change state")

// Cookies is a parsed Cookie request header.
type Cookies map[string]string

// ParseCookies parses a raw Cookie header value. Every semicolon-separated
// piece must be a single key=value pair; any malformed piece rejects the
// whole header.
func ParseCookies(raw string) (Cookies, error) {
	cookies := Cookies{}
	if strings.TrimSpace(raw) == "" {
		return cookies, nil
	}
	for _, piece := range strings.Split(raw, ";") {
		parts := strings.Split(piece, "=")
		if len(parts) != 2 {
			return nil, httperr.BadRequest("malformed cookie header")
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, httperr.BadRequest("malformed cookie header")
		}
		cookies[key] = strings.TrimSpace(parts[1])
	}
	return cookies, nil
}

// CookiesFromHeaders parses every Cookie header on h into one jar.
func CookiesFromHeaders(h http.Header) (Cookies, error) {
	jar := Cookies{}
	for _, raw := range h.Values("Cookie") {
		parsed, err := ParseCookies(raw)
		if err != nil {
			return nil, err
		}
		for k, v := range parsed {
			jar[k] = v
		}
	}
	return jar, nil
}

// Value returns the named cookie, or "" if it is absent.
func (c Cookies) Value(name string) string {
	return c[name]
}

// CookieCredentialsFromHeaders extracts cookie-mode credentials. It refuses
// with ErrCookieModeForbidden when mayChangeState is true, fails on malformed
// cookie syntax, and returns nil when either cookie is absent.
func CookieCredentialsFromHeaders(h http.Header, names Names, mayChangeState bool) (*Credentials, error) {
	if mayChangeState {
		return nil, ErrCookieModeForbidden
	}
	jar, err := CookiesFromHeaders(h)
	if err != nil {
		return nil, err
	}
	sessionID := jar.Value(names.SessionID)
	sessionKey := jar.Value(names.SessionKey)
	if sessionID == "" || sessionKey == "" {
		return nil, nil
	}
	return &Credentials{SessionID: sessionID, Secret: sessionKey, Mode: ModeCookie}, nil
}
