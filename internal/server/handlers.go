package server

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/gatehouse/internal/db/models"
	"github.com/terraconstructs/gatehouse/internal/repository"
	"github.com/terraconstructs/gatehouse/internal/telemetry"
	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
	"github.com/terraconstructs/gatehouse/pkg/permission"
	"github.com/terraconstructs/gatehouse/pkg/resource"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

const (
	tracerName    = "gatehouse/server"
	maxSigninBody = 1 << 16
)

type handlers struct {
	sessions      *session.Manager
	agents        repository.AgentRepository
	perspectives  []session.Perspective
	cookies       credential.CookieHeaders
	limiter       *credential.AttemptLimiter
	clientAddress credential.IPAddressSource
	metrics       *telemetry.AuthMetrics
	logger        *zap.Logger
}

// SigninRequest is the body of POST /sessions.
type SigninRequest struct {
	Email       string `json:"email"`
	Passphrase  string `json:"passphrase"`
	Perspective *int   `json:"perspective,omitempty"`
}

// SigninResponse carries the header-mode credentials. The session key only
// travels in its HttpOnly cookie.
type SigninResponse struct {
	SessionID   string `json:"session_id"`
	APIKey      string `json:"api_key"`
	AgentID     string `json:"agent_id"`
	Perspective int    `json:"perspective"`
}

// Profile is an agent's account as seen through the API. Only the owner
// sees the email address.
type Profile struct {
	permission.Record
	ID      string
	Email   string
	Created time.Time
}

type profileView struct {
	ID      string    `json:"agent_id"`
	Email   string    `json:"email,omitempty"`
	Created time.Time `json:"created"`
}

func newProfile(m *models.Agent) Profile {
	return Profile{
		Record:  permission.NewRecord(m.ID, permission.Grants{}),
		ID:      m.ID,
		Email:   m.Email,
		Created: m.CreatedAt,
	}
}

func (p Profile) BroadcastTo(a agent.Agent) any {
	view := profileView{ID: p.ID, Created: p.Created}
	if p.IsOwnedBy(a) || a.IsMachine() {
		view.Email = p.Email
	}
	return view
}

func (h *handlers) record(result string) {
	if h.metrics != nil {
		h.metrics.RecordSignin(result)
	}
}

func (h *handlers) signin(r *resource.Request) (any, error) {
	ctx, span := telemetry.StartSpan(r.Context(), tracerName, "server.Signin")
	defer span.End()

	addr, err := h.clientAddress.FromHeaders(r.Header)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrClientAddress, addr))

	if err := h.limiter.Allow(addr); err != nil {
		h.record(telemetry.SigninThrottled)
		telemetry.AddEvent(span, "signin.throttled")
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSigninBody))
	if err != nil {
		return nil, httperr.BadRequestf("read sign-in document: %w", err)
	}
	req, err := decodeSigninRequest(raw)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if len(h.perspectives) == 0 {
		return nil, httperr.Internal(errors.New("no sign-in perspectives configured"))
	}
	perspective := h.perspectives[0]
	if req.Perspective != nil {
		perspective = session.Perspective(*req.Perspective)
		if !slices.Contains(h.perspectives, perspective) {
			return nil, httperr.BadRequestf("unknown perspective %d", *req.Perspective)
		}
	}

	issued, err := h.sessions.Create(ctx, req.Email, req.Passphrase, perspective)
	if errors.Is(err, httperr.ErrNotAuthenticated) {
		h.limiter.Fail(addr)
		h.record(telemetry.SigninRejected)
		span.SetAttributes(attribute.String(telemetry.AttrSigninResult, telemetry.SigninRejected))
		return nil, err
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	h.limiter.Reset(addr)
	h.record(telemetry.SigninSucceeded)
	span.SetAttributes(
		attribute.String(telemetry.AttrSigninResult, telemetry.SigninSucceeded),
		attribute.String(telemetry.AttrAgentID, issued.Agent().ID()),
	)

	return &resource.Response{
		Status: http.StatusCreated,
		Body: SigninResponse{
			SessionID:   issued.ID(),
			APIKey:      issued.APIKey,
			AgentID:     issued.Agent().ID(),
			Perspective: int(issued.Perspective()),
		},
		Cookies: h.cookies.Session(issued.ID(), issued.SessionKey),
	}, nil
}

func (h *handlers) signout(r *resource.Request) (any, agent.Agent, error) {
	if r.Session == nil {
		return nil, r.Agent, httperr.BadRequest("sign-out requires a session")
	}
	if err := h.sessions.Delete(r.Context(), r.Session); err != nil {
		return nil, r.Agent, err
	}
	return &resource.Response{Body: resource.Acknowledged, Cookies: h.cookies.Expire()}, r.Session.Agent(), nil
}

func (h *handlers) me(r *resource.Request) (any, agent.Agent, error) {
	m, err := h.agents.GetByID(r.Context(), r.Agent.ID())
	if errors.Is(err, repository.ErrAgentNotFound) {
		return nil, r.Agent, httperr.NotFound("agent no longer exists")
	}
	if err != nil {
		return nil, r.Agent, err
	}
	return newProfile(m), agent.New(m.ID), nil
}

func (h *handlers) agentByID(r *resource.Request) (any, error) {
	m, err := h.agents.GetByID(r.Context(), chi.URLParam(r.Request, "id"))
	if errors.Is(err, repository.ErrAgentNotFound) {
		return nil, httperr.NotFound("no such agent")
	}
	if err != nil {
		return nil, err
	}
	h.logger.Debug("internal agent lookup",
		zap.String("forwarded_agent", r.Agent.ID()),
		zap.String("agent_id", m.ID),
	)
	return newProfile(m), nil
}
