package credential

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

// IPAddressSource reads the client address written by the network boundary.
type IPAddressSource struct {
	BoundaryHeader string
	Debug          bool
	DebugAddress   string
}

// FromHeaders returns the client address. The boundary proxy must have set
// exactly one header value holding exactly one address; anything else means
// the proxy is misconfigured and is an internal error. In debug mode the
// configured debug address is returned unconditionally.
func (s IPAddressSource) FromHeaders(h http.Header) (string, error) {
	if s.Debug {
		return s.DebugAddress, nil
	}
	addresses := h.Values(s.BoundaryHeader)
	if len(addresses) != 1 {
		return "", httperr.Internal(fmt.Errorf("expected one %s header, found %d", s.BoundaryHeader, len(addresses)))
	}
	if strings.Contains(addresses[0], ",") {
		return "", httperr.Internal(fmt.Errorf("%s header carries more than one address", s.BoundaryHeader))
	}
	address := strings.TrimSpace(addresses[0])
	if address == "" {
		return "", httperr.Internal(fmt.Errorf("%s header is empty", s.BoundaryHeader))
	}
	return address, nil
}
