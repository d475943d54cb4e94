// pkg/directory/http.go
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// TokenSource mints a currently valid admin access token for directory
// calls. Satisfied by the token refresh coordinator.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// HTTPClient talks to the directory's admin REST API.
type HTTPClient struct {
	base   string
	realm  string
	tokens TokenSource
	hc     *http.Client
	log    *zap.SugaredLogger
}

func NewHTTPClient(baseURL, realm string, tokens TokenSource, log *zap.SugaredLogger) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		realm:  realm,
		tokens: tokens,
		hc: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.EnsureValid(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: admin token: %v", ErrUnavailable, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		c.log.Warnw("directory 5xx", "method", method, "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("directory request failed: status %d", resp.StatusCode)
	}
	return data, nil
}

func (c *HTTPClient) ListUserGroups(ctx context.Context, userID string) ([]GroupRecord, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/realms/%s/users/%s/groups", c.realm, url.PathEscape(userID)), nil)
	if err != nil {
		return nil, err
	}
	groups, skipped := decodeGroups(data)
	for _, serr := range skipped {
		c.log.Warnw("skipping directory group", "user", userID, "err", serr)
	}
	return groups, nil
}

func (c *HTTPClient) ListGroupRoleMappings(ctx context.Context, groupID string) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/realms/%s/groups/%s/role-mappings", c.realm, url.PathEscape(groupID)), nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("role mappings decode: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.Name) != "" {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

func (c *HTTPClient) CreateGroup(ctx context.Context, g GroupRecord) (string, error) {
	body := map[string]any{
		"name": g.Name,
		"path": g.Path,
		"attributes": map[string][]string{
			"type":         {string(g.Kind)},
			"parent_id":    {g.ParentID},
			"display_name": {g.DisplayName},
		},
	}
	data, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/realms/%s/groups", c.realm), body)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("create group decode: %w", err)
	}
	return out.ID, nil
}

func (c *HTTPClient) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	_, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/realms/%s/groups/%s/members/%s", c.realm, url.PathEscape(groupID), url.PathEscape(userID)), nil)
	return err
}
