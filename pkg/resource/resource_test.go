package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/permission"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

const (
	internalHeader  = "X-Internal-Psk"
	internalSecret  = "0123456789abcdef0123456789abcdef"
	forwardedHeader = "X-Forwarded-Agent"
)

type note struct {
	permission.Record
	Title string `json:"title"`
}

type harness struct {
	dispatcher *Dispatcher
	manager    *session.Manager
	names      credential.Names
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := session.NewMemoryStore()
	names := credential.DefaultNames()
	resolver := session.NewResolver(store, session.Settings{Names: names, TTL: time.Hour, SigninPath: "/signin"})
	params := credential.PassphraseParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 8}
	return &harness{
		dispatcher: NewDispatcher(resolver,
			WithInternalKey(credential.NewInternalKey(internalHeader, internalSecret), forwardedHeader)),
		manager: session.NewManager(store, nil, session.WithPassphraseParams(params)),
		names:   names,
	}
}

func (h *harness) open(t *testing.T, agentID string, p session.Perspective) *session.Issued {
	t.Helper()
	issued, err := h.manager.Open(context.Background(), agent.New(agentID), p)
	require.NoError(t, err)
	return issued
}

func (h *harness) withSessionHeaders(req *http.Request, issued *session.Issued) *http.Request {
	credential.FromSession(h.names, issued.ID(), issued.APIKey).Apply(req)
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSecureOwnedObjectIsBroadcast(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 1)

	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		return note{Record: permission.NewRecord(r.Agent.ID(), permission.Grants{}), Title: "mine"}, r.Agent, nil
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodPost, "/notes", nil), issued))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"title":"mine"}`, rec.Body.String())
}

func TestSecureUnreadableObjectIsRefused(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 1)

	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		return note{Record: permission.NewRecord("bob", permission.Grants{}), Title: "secret plans"}, r.Agent, nil
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodPost, "/notes", nil), issued))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret plans")
	assert.Equal(t, float64(http.StatusForbidden), decodeError(t, rec)["response-code"])
}

func TestSecureListWithOneDeniedElementIsRefused(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 1)

	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		return []note{
			{Record: permission.NewRecord("alice", permission.Grants{}), Title: "mine"},
			{Record: permission.NewRecord("bob", permission.Grants{}), Title: "theirs"},
		}, r.Agent, nil
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodGet, "/notes", nil), issued))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "mine")
}

func TestSecureAgentMismatchIsRefused(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 1)

	called := false
	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		called = true
		return Acknowledged, agent.New("mallory"), nil
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodPut, "/notes/1", nil), issued))

	assert.True(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"result"`)
}

func TestSecurePerspectiveIsChecked(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 2)

	called := false
	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		called = true
		return Acknowledged, r.Agent, nil
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodGet, "/notes", nil), issued))

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecureWithoutIdentityIsRefused(t *testing.T) {
	h := newHarness(t)
	called := false
	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		called = true
		return Acknowledged, r.Agent, nil
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes", nil))
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set(internalHeader, internalSecret)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.False(t, called, "internal key without forwarded agent")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecureAcceptsForwardedAgent(t *testing.T) {
	h := newHarness(t)
	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		assert.Nil(t, r.Session)
		return Acknowledged, r.Agent, nil
	})

	req := httptest.NewRequest(http.MethodDelete, "/notes/1", nil)
	credential.OnBehalfOf(credential.NewInternalKey(internalHeader, internalSecret), forwardedHeader, agent.New("carol")).Apply(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"ok"}`, rec.Body.String())
}

func TestSecureForwardedMayAuthoriseMachine(t *testing.T) {
	h := newHarness(t)
	machine := agent.Machine(agent.SystemID)
	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		return note{Record: permission.NewRecord("alice", permission.Grants{}), Title: "audited"}, machine, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/notes/1", nil)
	credential.OnBehalfOf(credential.NewInternalKey(internalHeader, internalSecret), forwardedHeader, agent.New("auditor")).Apply(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"title":"audited"}`, rec.Body.String())
}

func TestForwardedMachineAgent(t *testing.T) {
	store := session.NewMemoryStore()
	resolver := session.NewResolver(store, session.Settings{Names: credential.DefaultNames(), TTL: time.Hour})
	machine := agent.Machine(agent.SystemID)
	d := NewDispatcher(resolver,
		WithInternalKey(credential.NewInternalKey(internalHeader, internalSecret), forwardedHeader),
		WithMachineAgent(machine))

	var seen agent.Agent
	handler := d.Internal(func(r *Request) (any, error) {
		seen = r.Agent
		return note{Record: permission.NewRecord("alice", permission.Grants{}), Title: "any"}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/notes/1", nil)
	credential.OnBehalfOf(credential.NewInternalKey(internalHeader, internalSecret), forwardedHeader, machine).Apply(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen.IsMachine())

	req = httptest.NewRequest(http.MethodGet, "/internal/notes/1", nil)
	credential.OnBehalfOf(credential.NewInternalKey(internalHeader, internalSecret), forwardedHeader, agent.New("bob")).Apply(req)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecureCookieOnlyForReadOnlyMethods(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 1)
	cookies := credential.NewCookieHeaders(h.names, true)

	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		return Acknowledged, r.Agent, nil
	})

	get := httptest.NewRequest(http.MethodGet, "/notes", nil)
	get.Header.Set("Cookie", cookies.SimulateCookie(issued.ID(), issued.SessionKey))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	assert.Equal(t, http.StatusOK, rec.Code)

	post := httptest.NewRequest(http.MethodPost, "/notes", nil)
	post.Header.Set("Cookie", cookies.SimulateCookie(issued.ID(), issued.SessionKey))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, post)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecureMalformedCookieIsBadRequest(t *testing.T) {
	h := newHarness(t)
	handler := h.dispatcher.Secure(AllowPerspectives(1), func(r *Request) (any, agent.Agent, error) {
		return Acknowledged, r.Agent, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Cookie", "foo")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpen(t *testing.T) {
	h := newHarness(t)
	issued := h.open(t, "alice", 1)

	var seen agent.Agent
	handler := h.dispatcher.Open(func(r *Request) (any, error) {
		seen = r.Agent
		return &Response{Status: http.StatusCreated, Body: map[string]string{"agent": r.Agent.String()}}, nil
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.False(t, seen.HasID())
		assert.JSONEq(t, `{"agent":"anonymous"}`, rec.Body.String())
	})

	t.Run("session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodPost, "/things", nil), issued))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "alice", seen.ID())
	})

	t.Run("forwarded agent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/things", nil)
		req.Header.Set(internalHeader, internalSecret)
		req.Header.Set(forwardedHeader, "carol")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "carol", seen.ID())
	})

	t.Run("wrong internal key falls through to anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/things", nil)
		req.Header.Set(internalHeader, "guess")
		req.Header.Set(forwardedHeader, "carol")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.False(t, seen.HasID())
	})

	t.Run("protected body is refused to anonymous callers", func(t *testing.T) {
		protected := h.dispatcher.Open(func(r *Request) (any, error) {
			return note{Record: permission.NewRecord("alice", permission.Grants{}), Title: "x"}, nil
		})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/1", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestInternal(t *testing.T) {
	h := newHarness(t)
	handler := h.dispatcher.Internal(func(r *Request) (any, error) {
		return note{Record: permission.NewRecord(r.Agent.ID(), permission.Grants{}), Title: "forwarded"}, nil
	})

	t.Run("key and forwarded agent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/internal/notes", nil)
		req.Header.Set(internalHeader, internalSecret)
		req.Header.Set(forwardedHeader, "carol")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"title":"forwarded"}`, rec.Body.String())
	})

	t.Run("missing forwarded agent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/internal/notes", nil)
		req.Header.Set(internalHeader, internalSecret)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("session is not enough", func(t *testing.T) {
		issued := h.open(t, "alice", 1)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, h.withSessionHeaders(httptest.NewRequest(http.MethodGet, "/internal/notes", nil), issued))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

type profile struct {
	permission.Record
	Email string
}

func (p profile) BroadcastTo(a agent.Agent) any {
	view := map[string]string{"owner": p.OwnedBy()}
	if p.IsOwnedBy(a) {
		view["email"] = p.Email
	}
	return view
}

func TestBroadcasterChoosesView(t *testing.T) {
	p := profile{
		Record: permission.NewRecord("alice", permission.Grants{ReadableBy: []string{"bob"}}),
		Email:  "alice@example.com",
	}

	rec := httptest.NewRecorder()
	require.NoError(t, Broadcast(rec, agent.New("alice"), p))
	assert.JSONEq(t, `{"owner":"alice","email":"alice@example.com"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, Broadcast(rec, agent.New("bob"), p))
	assert.JSONEq(t, `{"owner":"alice"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	assert.Error(t, Broadcast(rec, agent.New("eve"), p))
	assert.Empty(t, rec.Body.String())
}

func TestBroadcasterViewAppliesToListElements(t *testing.T) {
	profiles := []profile{
		{Record: permission.NewRecord("alice", permission.Grants{ReadableBy: []string{"bob"}}), Email: "alice@example.com"},
		{Record: permission.NewRecord("bob", permission.Grants{}), Email: "bob@example.com"},
	}

	rec := httptest.NewRecorder()
	require.NoError(t, Broadcast(rec, agent.New("bob"), profiles))
	assert.JSONEq(t, `[{"owner":"alice"},{"owner":"bob","email":"bob@example.com"}]`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "alice@example.com")

	rec = httptest.NewRecorder()
	require.NoError(t, Broadcast(rec, agent.New("bob"), &Response{Body: []*profile{&profiles[0]}}))
	assert.JSONEq(t, `[{"owner":"alice"}]`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, Broadcast(rec, agent.New("bob"), map[string]profile{"first": profiles[0]}))
	assert.JSONEq(t, `{"first":{"owner":"alice"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, Broadcast(rec, agent.New("bob"), []profile(nil)))
	assert.Equal(t, "null", rec.Body.String())
}

func TestBroadcastRefusesProtectedValueInsideMap(t *testing.T) {
	hidden := note{Record: permission.NewRecord("alice", permission.Grants{}), Title: "secret plans"}

	rec := httptest.NewRecorder()
	err := Broadcast(rec, agent.New("eve"), map[string]any{"note": hidden})
	assert.Error(t, err)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	err = Broadcast(rec, agent.New("eve"), struct {
		Notes []note `json:"notes"`
	}{Notes: []note{hidden}})
	assert.Error(t, err)
	assert.Empty(t, rec.Body.String())
}

func TestBroadcastSetsCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	cookies := credential.NewCookieHeaders(credential.DefaultNames(), false).Session("id", "key")
	require.NoError(t, Broadcast(rec, agent.Agent{}, &Response{Body: Acknowledged, Cookies: cookies}))
	assert.Len(t, rec.Header().Values("Set-Cookie"), 3)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMayChangeState(t *testing.T) {
	assert.False(t, MayChangeState(http.MethodGet))
	assert.False(t, MayChangeState(http.MethodHead))
	assert.False(t, MayChangeState(http.MethodOptions))
	assert.True(t, MayChangeState(http.MethodPost))
	assert.True(t, MayChangeState(http.MethodPut))
	assert.True(t, MayChangeState(http.MethodPatch))
	assert.True(t, MayChangeState(http.MethodDelete))
}
