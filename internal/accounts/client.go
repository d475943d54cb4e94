// Package accounts hands validated external account payloads to the backend
// business-record API. This system never stores business records itself.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"gatekit/pkg/problems"
)

// ErrPersistenceFailed is surfaced when the backend rejects or cannot store
// the linked account. The handshake flow returns to a retryable state.
var ErrPersistenceFailed = errors.New("linked account persistence failed")

func init() {
	problems.Register(ErrPersistenceFailed, http.StatusBadGateway, "persistence-failed", "saving the linked account failed")
}

// FieldMap extracts linked-account fields from the provider's payload with
// jmespath expressions, so differently shaped provider payloads map onto the
// backend's schema without code changes.
type FieldMap map[string]string

// DefaultFieldMap covers the common OIDC-ish payload shape.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		"external_id":  "sub || account_id",
		"display_name": "name || account_name",
		"email":        "email",
	}
}

// Client posts linked accounts to the backend API.
type Client struct {
	base   string
	fields FieldMap
	hc     *http.Client
	log    *zap.SugaredLogger
}

func NewClient(baseURL string, fields FieldMap, log *zap.SugaredLogger) *Client {
	if fields == nil {
		fields = DefaultFieldMap()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		fields: fields,
		hc: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// MapPayload applies the field expressions to a provider payload. Fields
// whose expression finds nothing are omitted; external_id is mandatory.
func (c *Client) MapPayload(payload map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for field, expr := range c.fields {
		v, err := jmes.Search(expr, map[string]any(payload))
		if err != nil {
			c.log.Warnw("field mapping failed", "field", field, "err", err)
			continue
		}
		if v != nil {
			out[field] = v
		}
	}
	if out["external_id"] == nil {
		return nil, fmt.Errorf("%w: payload has no external id", ErrPersistenceFailed)
	}
	return out, nil
}

// CreateLinked maps the payload and posts it, with the decrypted provider
// credential, to the backend. Non-2xx responses fail with
// ErrPersistenceFailed; the credential never appears in logs.
func (c *Client) CreateLinked(ctx context.Context, payload map[string]any, credential string) error {
	mapped, err := c.MapPayload(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"account":    mapped,
		"credential": json.RawMessage(credentialJSON(credential)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/internal/linked-accounts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warnw("backend rejected linked account", "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrPersistenceFailed, resp.StatusCode)
	}
	return nil
}

// credentialJSON passes a JSON credential through unchanged and wraps a bare
// token string as a JSON string.
func credentialJSON(credential string) []byte {
	if json.Valid([]byte(credential)) {
		return []byte(credential)
	}
	quoted, _ := json.Marshal(credential)
	return quoted
}
