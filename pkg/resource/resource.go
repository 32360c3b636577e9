// Package resource dispatches HTTP requests to handlers under one of three
// authorisation postures and broadcasts their responses.
//
//   - Secure: a session (with an allowed perspective) or a trusted forwarded
//     agent is required. For sessions, the handler must name the session's
//     agent as the one it authorised.
//   - Open: any resolved identity is passed along; anonymous callers proceed
//     with the zero agent.
//   - Internal: only callers holding the internal key may call, acting as the
//     forwarded agent.
//
// Every response is read-gated for the agent it is broadcast to before it
// is encoded.
package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
	"github.com/terraconstructs/gatehouse/pkg/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "gatehouse/resource"

// Request is an inbound request together with the identity it resolved to.
type Request struct {
	*http.Request
	// Session is nil unless the caller authenticated with a session.
	Session *session.Session
	// Agent is the acting agent; the zero value for anonymous callers.
	Agent agent.Agent
}

// SecureFunc handles a secure request. It returns the response body and the
// agent on whose authority it produced it; the body is broadcast to that
// agent. For session requests it must be the session's agent. Forwarded
// requests may name another agent, such as the machine agent.
type SecureFunc func(r *Request) (body any, authorised agent.Agent, err error)

// HandlerFunc handles an open or internal request.
type HandlerFunc func(r *Request) (body any, err error)

// MayChangeState reports whether a request with method may mutate state.
// Only such requests are barred from cookie authentication.
func MayChangeState(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// Dispatcher wraps handlers in the authorisation postures.
type Dispatcher struct {
	resolver        *session.Resolver
	internalKey     credential.InternalKey
	forwardedHeader string
	machine         agent.Agent
	logger          *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInternalKey enables forwarded agents authenticated by key.
func WithInternalKey(key credential.InternalKey, forwardedHeader string) Option {
	return func(d *Dispatcher) {
		d.internalKey = key
		d.forwardedHeader = forwardedHeader
	}
}

// WithMachineAgent makes forwarded requests naming m's id act as m, so
// trusted services can use the machine agent's rights.
func WithMachineAgent(m agent.Agent) Option {
	return func(d *Dispatcher) { d.machine = m }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher returns a Dispatcher resolving sessions with resolver.
func NewDispatcher(resolver *session.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{resolver: resolver, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Secure wraps fn in the secure posture. policy must allow the session's
// perspective; forwarded agents carry no perspective and are not checked.
func (d *Dispatcher) Secure(policy PerspectivePolicy, fn SecureFunc) http.Handler {
	if policy == nil || fn == nil {
		panic("resource: Secure requires a perspective policy and a handler")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(tracerName).Start(r.Context(), "resource.Secure")
		defer span.End()
		r = r.WithContext(ctx)

		req, err := d.secureIdentity(ctx, r, policy)
		if err != nil {
			d.fail(w, r, span, err)
			return
		}

		body, authorised, err := fn(req)
		if err != nil {
			d.fail(w, r, span, err)
			return
		}
		if req.Session != nil && !authorised.Is(req.Agent) {
			d.fail(w, r, span, httperr.NotAuthorised(
				fmt.Sprintf("handler authorised %s but session belongs to %s", authorised, req.Agent)))
			return
		}
		d.broadcast(w, r, span, authorised, body)
	})
}

func (d *Dispatcher) secureIdentity(ctx context.Context, r *http.Request, policy PerspectivePolicy) (*Request, error) {
	s, err := d.resolver.FromHeaders(ctx, r.Header, MayChangeState(r.Method))
	if err != nil {
		return nil, err
	}

	if s != nil {
		allowed, err := policy.Allows(s.Perspective(), r)
		if err != nil {
			return nil, fmt.Errorf("evaluate perspective: %w", err)
		}
		if !allowed {
			return nil, httperr.NotAuthorised(fmt.Sprintf("perspective %d not allowed", s.Perspective()))
		}
		return d.bind(r, s, s.Agent()), nil
	}

	if !d.internalKey.MatchesHeaders(r.Header) {
		return nil, httperr.NotAuthorised("no session or internal key presented")
	}
	a, err := credential.ForwardedAgentFromHeaders(d.internalKey, r.Header, d.forwardedHeader)
	if err != nil {
		return nil, err
	}
	return d.bind(r, nil, d.forwarded(a)), nil
}

// Open wraps fn in the open posture.
func (d *Dispatcher) Open(fn HandlerFunc) http.Handler {
	if fn == nil {
		panic("resource: Open requires a handler")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(tracerName).Start(r.Context(), "resource.Open")
		defer span.End()
		r = r.WithContext(ctx)

		req, err := d.openIdentity(ctx, r)
		if err != nil {
			d.fail(w, r, span, err)
			return
		}
		body, err := fn(req)
		if err != nil {
			d.fail(w, r, span, err)
			return
		}
		d.broadcast(w, r, span, req.Agent, body)
	})
}

func (d *Dispatcher) openIdentity(ctx context.Context, r *http.Request) (*Request, error) {
	s, err := d.resolver.FromHeaders(ctx, r.Header, MayChangeState(r.Method))
	if err != nil {
		return nil, err
	}
	if s != nil {
		return d.bind(r, s, s.Agent()), nil
	}
	if d.internalKey.Configured() {
		a, ok, err := credential.OptionalForwardedAgent(d.internalKey, r.Header, d.forwardedHeader)
		if err != nil {
			return nil, err
		}
		if ok {
			return d.bind(r, nil, d.forwarded(a)), nil
		}
	}
	return d.bind(r, nil, agent.Agent{}), nil
}

// Internal wraps fn in the internal posture.
func (d *Dispatcher) Internal(fn HandlerFunc) http.Handler {
	if fn == nil {
		panic("resource: Internal requires a handler")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(tracerName).Start(r.Context(), "resource.Internal")
		defer span.End()
		r = r.WithContext(ctx)

		a, err := credential.ForwardedAgentFromHeaders(d.internalKey, r.Header, d.forwardedHeader)
		if err != nil {
			d.fail(w, r, span, err)
			return
		}
		req := d.bind(r, nil, d.forwarded(a))
		body, err := fn(req)
		if err != nil {
			d.fail(w, r, span, err)
			return
		}
		d.broadcast(w, r, span, req.Agent, body)
	})
}

func (d *Dispatcher) forwarded(a agent.Agent) agent.Agent {
	if d.machine.HasID() && a.ID() == d.machine.ID() {
		return d.machine
	}
	return a
}

func (d *Dispatcher) bind(r *http.Request, s *session.Session, a agent.Agent) *Request {
	ctx := agent.WithContext(r.Context(), a)
	if s != nil {
		ctx = session.WithContext(ctx, s)
	}
	return &Request{Request: r.WithContext(ctx), Session: s, Agent: a}
}

func (d *Dispatcher) broadcast(w http.ResponseWriter, r *http.Request, span trace.Span, a agent.Agent, body any) {
	span.SetAttributes(attribute.String("agent.id", a.ID()))
	if err := Broadcast(w, a, body); err != nil {
		d.fail(w, r, span, err)
	}
}

func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	var redirect *httperr.Redirect
	if errors.As(err, &redirect) {
		httperr.Write(w, r, redirect)
		return
	}
	e := httperr.As(err)
	span.SetAttributes(attribute.Int("http.status_code", e.Status))
	if e.Status >= http.StatusInternalServerError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		d.logger.Debug("request refused", zap.String("path", r.URL.Path), zap.Int("status", e.Status), zap.Error(err))
	}
	httperr.Write(w, r, err)
}
