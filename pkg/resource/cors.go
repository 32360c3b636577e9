package resource

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/terraconstructs/gatehouse/pkg/credential"
)

const allOrigins = "*"

// CORSPolicy decides which browser origin may call the API.
type CORSPolicy struct {
	RestrictedOrigin    string
	LocalOrigin         string
	DisableRestrictions bool
	Debug               bool
	Names               credential.Names
}

// AllowedOrigin is "*" when restrictions are disabled, the local origin in
// debug mode, and the restricted origin otherwise.
func (p CORSPolicy) AllowedOrigin() string {
	if p.DisableRestrictions {
		return allOrigins
	}
	if p.Debug {
		return p.LocalOrigin
	}
	return p.RestrictedOrigin
}

// AllowedMethods are the methods browsers may use.
func (p CORSPolicy) AllowedMethods() []string {
	return []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions, http.MethodDelete}
}

// AllowedHeaders are the request headers browsers may send, including the
// session credential names.
func (p CORSPolicy) AllowedHeaders() []string {
	return []string{
		"cookie",
		"accept",
		"content-type",
		p.Names.SessionID,
		p.Names.SessionKey,
		p.Names.APIKey,
	}
}

// Options converts the policy for the chi CORS middleware.
func (p CORSPolicy) Options() cors.Options {
	return cors.Options{
		AllowedOrigins:   []string{p.AllowedOrigin()},
		AllowedMethods:   p.AllowedMethods(),
		AllowedHeaders:   p.AllowedHeaders(),
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// Handler returns the CORS middleware for the policy.
func (p CORSPolicy) Handler() func(http.Handler) http.Handler {
	return cors.Handler(p.Options())
}
