package credential

import (
	"net/http"

	"github.com/terraconstructs/gatehouse/pkg/agent"
)

// RequestCredentials are outbound headers authenticating a request this
// process makes to another service.
type RequestCredentials struct {
	Header     http.Header
	OnBehalfOf bool
}

// FromSession authenticates an outbound request as the session itself.
func FromSession(names Names, sessionID, apiKey string) RequestCredentials {
	h := http.Header{}
	h.Set(names.SessionID, sessionID)
	h.Set(names.APIKey, apiKey)
	return RequestCredentials{Header: h}
}

// OnBehalfOf authenticates an outbound request with the internal key,
// forwarding a as the acting agent.
func OnBehalfOf(k InternalKey, forwardedHeader string, a agent.Agent) RequestCredentials {
	h := http.Header{}
	h.Set(k.header, k.key)
	h.Set(forwardedHeader, a.ID())
	return RequestCredentials{Header: h, OnBehalfOf: true}
}

// Apply copies the credentials onto req.
func (c RequestCredentials) Apply(req *http.Request) {
	for name, values := range c.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}
