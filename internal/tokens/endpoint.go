// Package tokens maintains delegated-session token bundles and mints access
// tokens through the identity provider's token endpoint. Access tokens are
// never persisted; they are refreshed on demand and handed to callers
// transiently.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gatekit/pkg/problems"
)

func init() {
	problems.Register(ErrRefreshFailed, http.StatusBadGateway, "refresh-failed", "session refresh failed, try again")
	problems.Register(ErrRefreshChainExpired, http.StatusUnauthorized, "session-expired", "session expired, sign in again")
}

var (
	// ErrRefreshFailed marks a transient refresh failure (network, 5xx).
	// The coordinator never retries; backoff policy belongs to the caller.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshChainExpired is terminal: the refresh token itself is dead
	// and the user must re-authenticate. Never retried silently.
	ErrRefreshChainExpired = errors.New("refresh chain expired")
)

// Grant is a successful token-endpoint response.
type Grant struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// EndpointClient speaks the form-encoded token endpoint protocol.
type EndpointClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	hc           *http.Client
}

func NewEndpointClient(tokenURL, clientID, clientSecret string) *EndpointClient {
	return &EndpointClient{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		hc: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Refresh exchanges a refresh token for a fresh grant.
func (e *EndpointClient) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return e.post(ctx, form)
}

// Password performs the resource-owner password grant. Used only for the
// service's own admin credential bootstrap, never for end users.
func (e *EndpointClient) Password(ctx context.Context, username, password string) (*Grant, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}
	return e.post(ctx, form)
}

func (e *EndpointClient) post(ctx context.Context, form url.Values) (*Grant, error) {
	form.Set("client_id", e.clientID)
	if e.clientSecret != "" {
		form.Set("client_secret", e.clientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var oerr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &oerr)
		switch oerr.Error {
		case "invalid_grant", "invalid_token":
			return nil, fmt.Errorf("%w: %s", ErrRefreshChainExpired, oerr.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var g Grant
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRefreshFailed, err)
	}
	if g.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access_token", ErrRefreshFailed)
	}
	return &g, nil
}
