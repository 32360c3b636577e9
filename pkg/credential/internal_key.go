package credential

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

// InternalKey is the pre-shared key trusted service-to-service callers
// present in a request header.
type InternalKey struct {
	header string
	key    string
}

// NewInternalKey returns an InternalKey read from header. An empty key never
// matches anything.
func NewInternalKey(header, key string) InternalKey {
	return InternalKey{header: header, key: key}
}

// Header returns the name of the header carrying the key.
func (k InternalKey) Header() string {
	return k.header
}

// Configured reports whether a key is set.
func (k InternalKey) Configured() bool {
	return k.key != ""
}

// MatchesHeaders reports whether h carries the key. An absent header is a
// plain false.
func (k InternalKey) MatchesHeaders(h http.Header) bool {
	if !k.Configured() {
		return false
	}
	presented := h.Get(k.header)
	if presented == "" {
		return false
	}
	return Equal(presented, k.key)
}

// ForwardedAgentFromHeaders trusts the agent named in the forwarded agent
// header because the caller proved possession of the internal key. No
// session is consulted. It fails with NotAuthorised when the key does not
// match or the header is absent.
func ForwardedAgentFromHeaders(k InternalKey, h http.Header, forwardedHeader string) (agent.Agent, error) {
	if !k.MatchesHeaders(h) {
		return agent.Agent{}, httperr.NotAuthorised("internal key mismatch")
	}
	id := strings.TrimSpace(h.Get(forwardedHeader))
	if id == "" {
		return agent.Agent{}, httperr.NotAuthorised(fmt.Sprintf("missing %s header", forwardedHeader))
	}
	return agent.New(id), nil
}

// OptionalForwardedAgent is ForwardedAgentFromHeaders for callers that fall
// through to anonymous handling: a key mismatch yields (zero, false, nil).
// A matching key without a forwarded agent is still an error.
func OptionalForwardedAgent(k InternalKey, h http.Header, forwardedHeader string) (agent.Agent, bool, error) {
	if !k.MatchesHeaders(h) {
		return agent.Agent{}, false, nil
	}
	a, err := ForwardedAgentFromHeaders(k, h, forwardedHeader)
	if err != nil {
		return agent.Agent{}, false, err
	}
	return a, true, nil
}
