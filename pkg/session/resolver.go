package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "gatehouse/session"

// Outcome classifies a resolution attempt for diagnostics. Callers of the
// resolver only ever see a session or nil; the outcome is for logs and
// metrics.
type Outcome string

const (
	OutcomeResolved       Outcome = "resolved"
	OutcomeAbsent         Outcome = "absent"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeSecretMismatch Outcome = "secret_mismatch"
)

// Recorder observes resolution outcomes.
type Recorder interface {
	RecordResolution(mode credential.Mode, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordResolution(credential.Mode, Outcome) {}

// Settings are the process-wide session parameters.
type Settings struct {
	Names      credential.Names
	TTL        time.Duration
	SigninPath string
}

// Resolver turns request headers into sessions.
type Resolver struct {
	store    Store
	settings Settings
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(rec Recorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver returns a Resolver reading sessions from store.
func NewResolver(store Store, settings Settings, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		settings: settings,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings returns the resolver's settings.
func (r *Resolver) Settings() Settings {
	return r.settings
}

// FromHeaders resolves the session presented on h, or returns nil when none
// is presented or it does not check out. When mayChangeState is false the
// cookies are tried first; header credentials are always accepted.
// Errors are reserved for malformed input and storage failures.
func (r *Resolver) FromHeaders(ctx context.Context, h http.Header, mayChangeState bool) (*Session, error) {
	if !mayChangeState {
		creds, err := credential.CookieCredentialsFromHeaders(h, r.settings.Names, false)
		if err != nil {
			return nil, err
		}
		if creds != nil {
			if s, err := r.resolve(ctx, creds); err != nil || s != nil {
				return s, err
			}
		}
	}

	creds := credential.FromHeaders(h, r.settings.Names)
	if creds == nil {
		// One absent outcome per request, whichever modes were tried.
		r.recorder.RecordResolution(credential.ModeHeader, OutcomeAbsent)
		return nil, nil
	}
	return r.resolve(ctx, creds)
}

// FromCookies resolves a cookie-mode session. It refuses with
// credential.ErrCookieModeForbidden when mayChangeState is true.
func (r *Resolver) FromCookies(ctx context.Context, h http.Header, mayChangeState bool) (*Session, error) {
	creds, err := credential.CookieCredentialsFromHeaders(h, r.settings.Names, mayChangeState)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		r.recorder.RecordResolution(credential.ModeCookie, OutcomeAbsent)
		return nil, nil
	}
	return r.resolve(ctx, creds)
}

// RequireFromHeaders is FromHeaders for callers that cannot proceed without
// a session: nil becomes NotAuthenticated.
func (r *Resolver) RequireFromHeaders(ctx context.Context, h http.Header, mayChangeState bool) (*Session, error) {
	s, err := r.FromHeaders(ctx, h, mayChangeState)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, httperr.NotAuthenticated("no valid session presented")
	}
	return s, nil
}

// RequireOrRedirect is RequireFromHeaders for page-rendering requests: a
// missing session becomes a redirect to the sign-in path that carries the
// original path in the "then" parameter.
func (r *Resolver) RequireOrRedirect(req *http.Request, mayChangeState bool) (*Session, error) {
	s, err := r.FromHeaders(req.Context(), req.Header, mayChangeState)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, SigninRedirect(r.settings.SigninPath, req)
	}
	return s, nil
}

// SigninRedirect builds the redirect to signinPath for req. The original
// query arguments are preserved and the original path is passed as "then".
func SigninRedirect(signinPath string, req *http.Request) *httperr.Redirect {
	query := req.URL.Query()
	query.Set("then", req.URL.Path)
	return &httperr.Redirect{
		Location: signinPath + "?" + query.Encode(),
		Status:   http.StatusSeeOther,
	}
}

func (r *Resolver) resolve(ctx context.Context, creds *credential.Credentials) (*Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("session.mode", creds.Mode.String()))

	logger := r.logger.With(
		zap.String("session_id", credential.Mask(creds.SessionID)),
		zap.Stringer("mode", creds.Mode),
	)

	rec, err := r.store.Retrieve(ctx, creds.SessionID, r.settings.TTL)
	if errors.Is(err, ErrNotFound) {
		logger.Debug("session not found or expired")
		r.recorder.RecordResolution(creds.Mode, OutcomeNotFound)
		span.SetAttributes(attribute.String("session.outcome", string(OutcomeNotFound)))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieve session: %w", err)
	}

	stored := rec.APIKeyHash
	if creds.Mode == credential.ModeCookie {
		stored = rec.SessionKeyHash
	}
	if !credential.MatchesHash(creds.Secret, stored) {
		logger.Debug("session secret mismatch")
		r.recorder.RecordResolution(creds.Mode, OutcomeSecretMismatch)
		span.SetAttributes(attribute.String("session.outcome", string(OutcomeSecretMismatch)))
		return nil, nil
	}

	now := r.now()
	if err := r.store.Touch(ctx, rec.SessionID, now); err != nil {
		logger.Warn("failed to touch session", zap.Error(err))
	} else {
		rec.LastUtilised = now
	}

	r.recorder.RecordResolution(creds.Mode, OutcomeResolved)
	span.SetAttributes(
		attribute.String("session.outcome", string(OutcomeResolved)),
		attribute.String("agent.id", rec.AgentID),
	)
	return fromRecord(rec), nil
}
