// Package sdk is a Go client for the gatehouse HTTP API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

// Client talks to a gatehouse server at baseURL.
type Client struct {
	http    *http.Client
	baseURL string
	names   credential.Names
}

// ClientOptions configures SDK client construction.
type ClientOptions struct {
	HTTPClient *http.Client
	Names      credential.Names
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(opts *ClientOptions) {
		opts.HTTPClient = client
	}
}

// WithNames overrides the credential header names. They must match the
// server's configuration.
func WithNames(names credential.Names) ClientOption {
	return func(opts *ClientOptions) {
		opts.Names = names
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, optFns ...ClientOption) *Client {
	opts := ClientOptions{Names: credential.DefaultNames()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{
		http:    opts.HTTPClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		names:   opts.Names,
	}
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gatehouse: %d %s", e.Status, e.Description)
}

func (c *Client) do(ctx context.Context, method, path string, body any, creds *credential.RequestCredentials, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds != nil {
		creds.Apply(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Description: resp.Status}
		var info httperr.Information
		if json.NewDecoder(resp.Body).Decode(&info) == nil && info.Description != "" {
			apiErr.Description = info.Description
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Signin exchanges an email and passphrase for header-mode session
// credentials. A nil perspective lets the server pick its default.
func (c *Client) Signin(ctx context.Context, email, passphrase string, perspective *int) (*Credentials, error) {
	in := signinInput{Email: email, Passphrase: passphrase, Perspective: perspective}
	var out Credentials
	if err := c.do(ctx, http.MethodPost, "/sessions", in, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signout deletes the session behind creds.
func (c *Client) Signout(ctx context.Context, creds *Credentials) error {
	rc := c.sessionCredentials(creds)
	return c.do(ctx, http.MethodDelete, "/sessions", nil, &rc, nil)
}

// Me returns the profile of the agent behind creds.
func (c *Client) Me(ctx context.Context, creds *Credentials) (*Profile, error) {
	rc := c.sessionCredentials(creds)
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/agents/me", nil, &rc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) sessionCredentials(creds *Credentials) credential.RequestCredentials {
	return credential.FromSession(c.names, creds.SessionID, creds.APIKey)
}

// InternalClient calls internal endpoints with the shared internal key,
// acting on behalf of a forwarded agent.
type InternalClient struct {
	*Client
	key             credential.InternalKey
	forwardedHeader string
}

// NewInternalClient wraps c with the internal key and forwarded agent header.
func NewInternalClient(c *Client, key credential.InternalKey, forwardedHeader string) *InternalClient {
	return &InternalClient{Client: c, key: key, forwardedHeader: forwardedHeader}
}

// Agent looks up agent id acting as onBehalfOf.
func (c *InternalClient) Agent(ctx context.Context, onBehalfOf agent.Agent, id string) (*Profile, error) {
	rc := credential.OnBehalfOf(c.key, c.forwardedHeader, onBehalfOf)
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/internal/agents/"+url.PathEscape(id), nil, &rc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
