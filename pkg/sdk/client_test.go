package sdk_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
	"github.com/terraconstructs/gatehouse/pkg/sdk"
)

const (
	internalHeader  = "X-Internal-Psk"
	internalSecret  = "0123456789abcdef0123456789abcdef"
	forwardedHeader = "X-Forwarded-Agent"
	agentID         = "0190f1a2-0000-7000-8000-000000000001"
)

// mockServer answers like a gatehouse server holding one session.
func mockServer(t *testing.T) *httptest.Server {
	t.Helper()
	names := credential.DefaultNames()
	key := credential.NewInternalKey(internalHeader, internalSecret)

	authed := func(r *http.Request) bool {
		return r.Header.Get(names.SessionID) == "sid" && r.Header.Get(names.APIKey) == "api"
	}

	r := chi.NewRouter()
	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httperr.Write(w, r, httperr.BadRequest("bad body"))
			return
		}
		if in["passphrase"] != "secret" {
			httperr.Write(w, r, httperr.NotAuthenticated("email or passphrase incorrect"))
			return
		}
		_, hasPerspective := in["perspective"]
		perspective := 1
		if hasPerspective {
			perspective = int(in["perspective"].(float64))
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "sid", "api_key": "api", "agent_id": agentID, "perspective": perspective,
		})
	})
	r.Delete("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			httperr.Write(w, r, httperr.NotAuthorised("no session"))
			return
		}
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	})
	r.Get("/agents/me", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			httperr.Write(w, r, httperr.NotAuthorised("no session"))
			return
		}
		_, _ = w.Write([]byte(`{"agent_id":"` + agentID + `","email":"a@example.com","created":"2026-01-02T03:04:05Z"}`))
	})
	r.Get("/internal/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !key.MatchesHeaders(r.Header) || r.Header.Get(forwardedHeader) != agent.SystemID {
			httperr.Write(w, r, httperr.NotAuthorised("internal key mismatch"))
			return
		}
		_, _ = w.Write([]byte(`{"agent_id":"` + chi.URLParam(r, "id") + `","created":"2026-01-02T03:04:05Z"}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSessionLifecycle(t *testing.T) {
	srv := mockServer(t)
	client := sdk.NewClient(srv.URL+"/", sdk.WithHTTPClient(srv.Client()))
	ctx := context.Background()

	creds, err := client.Signin(ctx, "a@example.com", "secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "sid", creds.SessionID)
	assert.Equal(t, "api", creds.APIKey)
	assert.Equal(t, agentID, creds.AgentID)
	assert.Equal(t, 1, creds.Perspective)

	profile, err := client.Me(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, agentID, profile.AgentID)
	assert.Equal(t, "a@example.com", profile.Email)
	assert.Equal(t, 2026, profile.Created.Year())

	require.NoError(t, client.Signout(ctx, creds))
}

func TestClientSigninWithPerspective(t *testing.T) {
	srv := mockServer(t)
	client := sdk.NewClient(srv.URL)

	perspective := 2
	creds, err := client.Signin(context.Background(), "a@example.com", "secret", &perspective)
	require.NoError(t, err)
	assert.Equal(t, 2, creds.Perspective)
}

func TestClientErrorsCarryInformation(t *testing.T) {
	srv := mockServer(t)
	client := sdk.NewClient(srv.URL)
	ctx := context.Background()

	_, err := client.Signin(ctx, "a@example.com", "wrong", nil)
	var apiErr *sdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Not authenticated", apiErr.Description)

	_, err = client.Me(ctx, &sdk.Credentials{SessionID: "sid", APIKey: "stolen"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestInternalClient(t *testing.T) {
	srv := mockServer(t)
	key := credential.NewInternalKey(internalHeader, internalSecret)
	client := sdk.NewInternalClient(sdk.NewClient(srv.URL), key, forwardedHeader)
	ctx := context.Background()

	profile, err := client.Agent(ctx, agent.Machine(agent.SystemID), agentID)
	require.NoError(t, err)
	assert.Equal(t, agentID, profile.AgentID)
	assert.Empty(t, profile.Email)

	_, err = client.Agent(ctx, agent.New(agentID), agentID)
	var apiErr *sdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}
