package credential

import (
	"net/http"
	"strings"
	"time"
)

// CookieHeaders produces the Set-Cookie values that hand a session to a
// browser, and the values that take it away again.
type CookieHeaders struct {
	names Names
	debug bool
}

// NewCookieHeaders returns a CookieHeaders. In debug mode cookies omit the
// Secure attribute so they survive plain-HTTP local development.
func NewCookieHeaders(names Names, debug bool) CookieHeaders {
	return CookieHeaders{names: names, debug: debug}
}

func (c CookieHeaders) secretCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !c.debug,
		SameSite: http.SameSiteStrictMode,
	}
}

// loggedIn is readable by scripts so client UI can tell a session exists
// without seeing its secret.
func (c CookieHeaders) loggedIn(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.names.LoggedIn,
		Value:    value,
		Path:     "/",
		Secure:   !c.debug,
		SameSite: http.SameSiteStrictMode,
	}
}

// Session returns the session id, session key and logged-in flag cookies.
func (c CookieHeaders) Session(sessionID, sessionKey string) []*http.Cookie {
	return []*http.Cookie{
		c.secretCookie(c.names.SessionID, sessionID),
		c.secretCookie(c.names.SessionKey, sessionKey),
		c.loggedIn("1"),
	}
}

// Expire returns cookies that clear the session and lower the logged-in flag.
func (c CookieHeaders) Expire() []*http.Cookie {
	cookies := []*http.Cookie{
		c.secretCookie(c.names.SessionID, ""),
		c.secretCookie(c.names.SessionKey, ""),
	}
	for _, cookie := range cookies {
		cookie.Expires = time.Unix(0, 0)
		cookie.MaxAge = -1
	}
	return append(cookies, c.loggedIn("0"))
}

// Set adds the session cookies to w.
func (c CookieHeaders) Set(w http.ResponseWriter, sessionID, sessionKey string) {
	for _, cookie := range c.Session(sessionID, sessionKey) {
		http.SetCookie(w, cookie)
	}
}

// Clear adds the expiring cookies to w.
func (c CookieHeaders) Clear(w http.ResponseWriter) {
	for _, cookie := range c.Expire() {
		http.SetCookie(w, cookie)
	}
}

// SimulateCookie builds the Cookie request header a browser holding the
// session would send.
func (c CookieHeaders) SimulateCookie(sessionID, sessionKey string) string {
	return strings.Join([]string{
		c.names.SessionID + "=" + sessionID,
		c.names.SessionKey + "=" + sessionKey,
	}, "; ")
}

// SimulateCookieHeaders wraps SimulateCookie in a header set.
func (c CookieHeaders) SimulateCookieHeaders(sessionID, sessionKey string) http.Header {
	h := http.Header{}
	h.Add("Cookie", c.SimulateCookie(sessionID, sessionKey))
	return h
}
